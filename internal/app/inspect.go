package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/audit"
	"github.com/impcg-clinical-engine/internal/config"
	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/repository"
	"github.com/impcg-clinical-engine/internal/storage"
)

// Inspector is a read-only view of a data directory for operator tooling.
// Opening it runs none of the startup protocols and never appends to the
// audit trail.
type Inspector struct {
	Config   *domain.Config
	Location *time.Location
	Store    domain.KVStore
	Audit    *audit.Trail
	Patients *repository.PatientRepository

	pph   *repository.PPHStateRepository
	clock domain.Clock
}

// PPHSnapshot is the persisted PPH session as found on disk.
type PPHSnapshot struct {
	Saved      bool              `json:"saved"`
	Session    domain.PPHSession `json:"session"`
	AgeSeconds int64             `json:"age_seconds"`
	Stale      bool              `json:"stale"`
}

// Inspect opens the store and the audit trail of cfg for reading.
func Inspect(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, opts ...Option) (*Inspector, error) {
	o := options{clock: domain.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = NewLogger(cfg.Logging)
	}
	if cfg.Storage.DataDir == "" {
		return nil, errors.New("data directory is not configured")
	}

	loc, err := config.LoadLocation(cfg.Engine.TimeZone)
	if err != nil {
		return nil, err
	}

	trail, err := audit.OpenReadOnly(config.AuditDBPath(cfg.Storage.DataDir),
		audit.WithSigningKey(cfg.Audit.SigningKey),
		audit.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}

	store := o.store
	if store == nil {
		store, err = storage.Open(cfg.Storage, cfg.Redis)
		if err != nil {
			trail.Close()
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
	}

	return &Inspector{
		Config:   cfg,
		Location: loc,
		Store:    store,
		Audit:    trail,
		Patients: repository.NewPatientRepository(store, logger),
		pph:      repository.NewPPHStateRepository(store),
		clock:    o.clock,
	}, nil
}

// PPH reports the persisted session without resuming, discarding or
// clearing it. Stale uses the configured ceiling.
func (i *Inspector) PPH(ctx context.Context) (PPHSnapshot, error) {
	s, err := i.pph.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return PPHSnapshot{}, nil
	}
	if err != nil {
		return PPHSnapshot{}, err
	}

	snap := PPHSnapshot{Saved: true, Session: s}
	if s.IsActive && s.StartTime != nil {
		age := i.clock.Now().Sub(*s.StartTime)
		snap.AgeSeconds = int64(age / time.Second)
		snap.Stale = age >= i.Config.Engine.StaleSessionAge
	}
	return snap, nil
}

// Close releases the store and the audit trail.
func (i *Inspector) Close() error {
	var errs []error
	if err := i.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing state store: %w", err))
	}
	if err := i.Audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing audit trail: %w", err))
	}
	return errors.Join(errs...)
}
