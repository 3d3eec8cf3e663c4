package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/metrics"
)

// PatientRepository owns the newest-first list of saved encounters.
type PatientRepository struct {
	mu  sync.Mutex
	doc document[[]domain.PatientRecord]
	log *logrus.Logger
}

// NewPatientRepository creates a repository over store.
func NewPatientRepository(store domain.KVStore, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		doc: document[[]domain.PatientRecord]{store: store, key: PatientsKey},
		log: logger,
	}
}

// Save prepends the record so the list stays newest-first.
func (r *PatientRepository) Save(ctx context.Context, record domain.PatientRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.load(ctx)
	updated := make([]domain.PatientRecord, 0, len(records)+1)
	updated = append(updated, record)
	updated = append(updated, records...)

	if err := r.doc.write(ctx, updated); err != nil {
		metrics.IncPersistenceFailure("patients", "write")
		r.log.WithFields(logrus.Fields{
			"record_id": record.ID,
			"error":     err,
		}).Error("Failed to save patient record")
		return err
	}

	r.log.WithFields(logrus.Fields{
		"record_id": record.ID,
		"triage":    record.TriageResult,
		"total":     len(updated),
	}).Info("Patient record saved")
	return nil
}

// All returns every record, newest first. Unreadable or corrupt state
// yields an empty list.
func (r *PatientRepository) All(ctx context.Context) []domain.PatientRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

// Recent returns at most n records, newest first.
func (r *PatientRepository) Recent(ctx context.Context, n int) []domain.PatientRecord {
	records := r.All(ctx)
	if n >= 0 && len(records) > n {
		records = records[:n]
	}
	return records
}

// Get returns the record with the given ID or domain.ErrNotFound.
func (r *PatientRepository) Get(ctx context.Context, id string) (domain.PatientRecord, error) {
	for _, rec := range r.All(ctx) {
		if rec.ID == id {
			return rec, nil
		}
	}
	return domain.PatientRecord{}, domain.ErrNotFound
}

// Stats tallies RED and YELLOW as high risk and GREEN as low risk.
func (r *PatientRepository) Stats(ctx context.Context) domain.PatientStats {
	var stats domain.PatientStats
	for _, rec := range r.All(ctx) {
		stats.Total++
		switch {
		case rec.TriageResult.IsHighRisk():
			stats.HighRisk++
		case rec.TriageResult == domain.TriageGreen:
			stats.LowRisk++
		}
	}
	return stats
}

func (r *PatientRepository) load(ctx context.Context) []domain.PatientRecord {
	records, err := r.doc.read(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			metrics.IncPersistenceFailure("patients", "read")
			r.log.WithError(err).Warn("Patient records unreadable, starting from an empty list")
		}
		return []domain.PatientRecord{}
	}
	return records
}
