package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/domain"
)

// MissingMarker replaces any vital sign that was not recorded.
const MissingMarker = "MISSING"

// ReferralTimeLayout formats the encounter time in the note.
const ReferralTimeLayout = "2006-01-02 15:04"

// Referral is a structured SBAR handoff note for one encounter.
type Referral struct {
	RecordID       string             `json:"record_id"`
	TriageResult   domain.TriageColor `json:"triage_result"`
	Time           string             `json:"time"`
	BP             string             `json:"bp"`
	HR             string             `json:"hr"`
	RR             string             `json:"rr"`
	Temp           string             `json:"temp"`
	AVPU           string             `json:"avpu"`
	Assessment     string             `json:"assessment"`
	Recommendation string             `json:"recommendation"`
	HasMissingData bool               `json:"has_missing_data"`
	Text           string             `json:"text"`
}

// ComposeReferral renders the SBAR note for a record. It is deterministic
// and has no side effects; the timestamp is shown in loc (UTC when nil).
func ComposeReferral(record domain.PatientRecord, loc *time.Location) Referral {
	if loc == nil {
		loc = time.UTC
	}
	v := record.Vitals

	bp := MissingMarker
	if v.SystolicBP != nil && v.DiastolicBP != nil {
		bp = fmt.Sprintf("%s/%s mmHg", formatNumber(*v.SystolicBP), formatNumber(*v.DiastolicBP))
	}
	hr := withUnit(v.HeartRate, "bpm")
	rr := withUnit(v.RespiratoryRate, "/min")
	temp := withUnit(v.Temperature, "°C")
	avpu := string(v.Consciousness.Normalized())

	assessment := "Routine referral."
	switch record.TriageResult {
	case domain.TriageRed:
		assessment = "CRITICAL: Patient exhibits signs of hemodynamic instability or severe distress."
	case domain.TriageYellow:
		assessment = "URGENT: Abnormal vitals detected requiring medical review."
	}

	recommendation := "Review at District Hospital."
	if record.TriageResult == domain.TriageRed {
		recommendation = "URGENT AMBULANCE TRANSFER REQUIRED. Please accept patient for stabilization."
	}

	severity := "Observation"
	if record.TriageResult == domain.TriageRed {
		severity = "CRITICAL"
	}

	ts := record.Timestamp.In(loc).Format(ReferralTimeLayout)

	text := fmt.Sprintf(`**URGENT REFERRAL NOTE**
Time: %s

SITUATION:
Classification: %s (%s)

VITALS:
BP: %s
HR: %s
RR: %s
Temp: %s
Consciousness: %s

ASSESSMENT:
%s

RECOMMENDATION:
%s`, ts, record.TriageResult, severity, bp, hr, rr, temp, avpu, assessment, recommendation)

	return Referral{
		RecordID:       record.ID,
		TriageResult:   record.TriageResult,
		Time:           ts,
		BP:             bp,
		HR:             hr,
		RR:             rr,
		Temp:           temp,
		AVPU:           avpu,
		Assessment:     assessment,
		Recommendation: recommendation,
		HasMissingData: bp == MissingMarker || hr == MissingMarker,
		Text:           text,
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func withUnit(v *float64, unit string) string {
	if v == nil {
		return MissingMarker
	}
	return formatNumber(*v) + " " + unit
}

// RecordFinder looks up saved encounters.
type RecordFinder interface {
	Get(ctx context.Context, id string) (domain.PatientRecord, error)
}

// ReferralService composes referrals for saved records and audits each one.
type ReferralService struct {
	records RecordFinder
	audit   domain.AuditRecorder
	loc     *time.Location
	logger  *logrus.Logger
}

// NewReferralService creates a new referral service
func NewReferralService(records RecordFinder, audit domain.AuditRecorder, loc *time.Location, logger *logrus.Logger) *ReferralService {
	return &ReferralService{records: records, audit: audit, loc: loc, logger: logger}
}

// Generate composes the referral for a saved record and emits a
// GENERATE_REFERRAL audit event.
func (s *ReferralService) Generate(ctx context.Context, recordID string) (Referral, error) {
	record, err := s.records.Get(ctx, recordID)
	if err != nil {
		return Referral{}, fmt.Errorf("loading record %s: %w", recordID, err)
	}

	ref := ComposeReferral(record, s.loc)

	s.audit.Record(ctx, domain.AuditGenerateReferral,
		fmt.Sprintf("Referral generated for Patient %s. Triage: %s", record.ID, record.TriageResult),
		record.ID)

	s.logger.WithFields(logrus.Fields{
		"record_id":    record.ID,
		"triage":       record.TriageResult,
		"missing_data": ref.HasMissingData,
	}).Info("Referral generated")

	return ref, nil
}

// ShareMethod is how a referral note left the device.
type ShareMethod string

const (
	ShareNative ShareMethod = "share"
	ShareCopy   ShareMethod = "copy"
)

// RecordShare audits that the referral for a record was handed off.
func (s *ReferralService) RecordShare(ctx context.Context, recordID string, method ShareMethod) error {
	if _, err := s.records.Get(ctx, recordID); err != nil {
		return fmt.Errorf("loading record %s: %w", recordID, err)
	}
	verb := "Shared"
	if method == ShareCopy {
		verb = "Copied"
	}
	s.audit.Record(ctx, domain.AuditClinicalAction,
		fmt.Sprintf("%s referral note for Patient %s", verb, recordID), recordID)
	return nil
}
