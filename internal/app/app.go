// Package app assembles the clinical engine from configuration: the state
// store, audit trail, repositories, clinical services and reference content.
// Every entry point (HTTP server, MCP server, admin CLI) builds one App.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/audit"
	"github.com/impcg-clinical-engine/internal/config"
	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/guidelines"
	"github.com/impcg-clinical-engine/internal/repository"
	"github.com/impcg-clinical-engine/internal/service"
	"github.com/impcg-clinical-engine/internal/storage"
	"github.com/impcg-clinical-engine/pkg/external"
)

// App holds the wired engine components.
type App struct {
	Config   *domain.Config
	Logger   *logrus.Logger
	Location *time.Location
	Resume   service.ResumeResult

	Store    domain.KVStore
	Audit    *audit.Trail
	Patients *repository.PatientRepository

	Encounters *service.EncounterService
	Risk       *service.RiskService
	Partogram  *service.PartogramTracker
	PPH        *service.PPHSessionManager
	Referrals  *service.ReferralService
	MomConnect *service.MomConnectService

	Guidelines *guidelines.Index
	Drugs      *guidelines.DrugReference
	Assistant  external.Assistant
}

type options struct {
	store     domain.KVStore
	clock     domain.Clock
	ids       domain.IDGenerator
	assistant external.Assistant
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

// WithStore uses store instead of opening the configured backend.
func WithStore(store domain.KVStore) Option {
	return func(o *options) { o.store = store }
}

// WithClock sets the time source for every component.
func WithClock(c domain.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator sets the record and audit ID source.
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithAssistant replaces the HTTP assistant client.
func WithAssistant(a external.Assistant) Option {
	return func(o *options) { o.assistant = a }
}

// NewLogger builds a logger from the logging configuration.
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	default:
		logger.SetOutput(os.Stderr)
	}
	return logger
}

// New wires the engine and runs the startup protocols: the partogram is
// rehydrated and the PPH resume gate is evaluated (see Resume).
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, opts ...Option) (*App, error) {
	o := options{clock: domain.SystemClock{}, ids: domain.UUIDGenerator{}}
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

	store := o.store
	if store == nil {
		store, err = storage.Open(cfg.Storage, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
	}

	trail, err := audit.NewSQLiteTrail(config.AuditDBPath(cfg.Storage.DataDir),
		audit.WithUserID(cfg.Audit.UserID),
		audit.WithSigningKey(cfg.Audit.SigningKey),
		audit.WithClock(o.clock),
		audit.WithIDGenerator(o.ids),
		audit.WithLogger(logger),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}

	dataset, err := guidelines.LoadDataset()
	if err != nil {
		store.Close()
		trail.Close()
		return nil, err
	}
	index, err := guidelines.NewIndex(dataset.Chunks, cfg.Engine.SearchCacheSize, trail, logger)
	if err != nil {
		store.Close()
		trail.Close()
		return nil, err
	}

	assistant := o.assistant
	if assistant == nil {
		assistant = external.NewAssistantClient(cfg.Assistant, logger)
	}

	patients := repository.NewPatientRepository(store, logger)
	a := &App{
		Config:     cfg,
		Logger:     logger,
		Location:   loc,
		Store:      store,
		Audit:      trail,
		Patients:   patients,
		Encounters: service.NewEncounterService(patients, trail, o.ids, o.clock, logger),
		Risk:       service.NewRiskService(trail, logger),
		Partogram:  service.NewPartogramTracker(repository.NewPartogramRepository(store), trail, o.clock, loc, logger),
		PPH:        service.NewPPHSessionManager(repository.NewPPHStateRepository(store), trail, o.clock, cfg.Engine, logger),
		Referrals:  service.NewReferralService(patients, trail, loc, logger),
		MomConnect: service.NewMomConnectService(trail, logger),
		Guidelines: index,
		Drugs:      guidelines.NewDrugReference(dataset.Protocols, cfg.Engine.DrugsPerPage),
		Assistant:  assistant,
	}

	a.Partogram.Load(ctx)
	a.Resume = a.PPH.Initialize(ctx)

	logger.WithFields(logrus.Fields{
		"backend":       cfg.Storage.Backend,
		"data_dir":      cfg.Storage.DataDir,
		"pph_resume":    a.Resume.Outcome,
		"guideline_set": index.Len(),
	}).Info("Clinical engine initialized")
	return a, nil
}

// Close stops the PPH ticker and releases the store and audit trail.
func (a *App) Close() error {
	a.PPH.Close()
	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing state store: %w", err))
	}
	if err := a.Audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing audit trail: %w", err))
	}
	return errors.Join(errs...)
}
