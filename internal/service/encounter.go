package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/metrics"
)

// RecordSaver persists saved encounters.
type RecordSaver interface {
	Save(ctx context.Context, record domain.PatientRecord) error
}

// EncounterRequest is the content of the triage form at save time.
type EncounterRequest struct {
	Vitals              domain.Vitals `json:"vitals"`
	Notes               string        `json:"notes"`
	GestationalAgeWeeks *int          `json:"gestational_age_weeks,omitempty"`
}

// EncounterService turns an explicit save of the triage form into an
// immutable patient record.
type EncounterService struct {
	records RecordSaver
	audit   domain.AuditRecorder
	ids     domain.IDGenerator
	clock   domain.Clock
	logger  *logrus.Logger
}

// NewEncounterService creates a new encounter service
func NewEncounterService(records RecordSaver, audit domain.AuditRecorder, ids domain.IDGenerator, clock domain.Clock, logger *logrus.Logger) *EncounterService {
	return &EncounterService{records: records, audit: audit, ids: ids, clock: clock, logger: logger}
}

// Save classifies the snapshot afresh and stores the record. It refuses to
// save when no classification is available.
func (s *EncounterService) Save(ctx context.Context, req EncounterRequest) (domain.PatientRecord, error) {
	if err := ValidateVitals(req.Vitals); err != nil {
		return domain.PatientRecord{}, err
	}
	color, ok := ClassifyTriage(req.Vitals)
	if !ok {
		return domain.PatientRecord{}, domain.ErrNoClassification
	}

	vitals := req.Vitals
	vitals.Consciousness = vitals.Consciousness.Normalized()

	record := domain.PatientRecord{
		ID:                  s.ids.NewID(),
		Timestamp:           s.clock.Now(),
		Vitals:              vitals,
		TriageResult:        color,
		Notes:               strings.TrimSpace(req.Notes),
		Synced:              false,
		GestationalAgeWeeks: req.GestationalAgeWeeks,
	}

	if err := s.records.Save(ctx, record); err != nil {
		return domain.PatientRecord{}, fmt.Errorf("saving encounter: %w", err)
	}
	metrics.IncTriage(string(color))

	ga := "N/A"
	if req.GestationalAgeWeeks != nil {
		ga = fmt.Sprintf("%d", *req.GestationalAgeWeeks)
	}
	s.audit.Record(ctx, domain.AuditTriageSaved,
		fmt.Sprintf("Saved %s encounter. BP:%s/%s, GA:%s",
			color, optionalNumber(vitals.SystolicBP), optionalNumber(vitals.DiastolicBP), ga),
		record.ID)

	s.logger.WithFields(logrus.Fields{
		"record_id": record.ID,
		"triage":    color,
	}).Info("Encounter saved")

	return record, nil
}

// Clear records that the triage form was reset.
func (s *EncounterService) Clear(ctx context.Context) {
	s.audit.Record(ctx, domain.AuditClinicalAction, "User cleared Triage form inputs", "")
}

func optionalNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return formatNumber(*v)
}
