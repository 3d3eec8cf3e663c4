package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/metrics"
)

// PPHStore persists the PPH emergency session.
type PPHStore interface {
	Load(ctx context.Context) (domain.PPHSession, error)
	Save(ctx context.Context, s domain.PPHSession) error
	Clear(ctx context.Context) error
}

// PPHAction is one step of the E-MOTIVE bundle that can be marked done.
type PPHAction struct {
	Tag   string `json:"tag"`
	Label string `json:"label"`
}

// PPHActions is the action catalogue in display order.
var PPHActions = []PPHAction{
	{Tag: "Massage", Label: "Uterine Massage"},
	{Tag: "Oxytocin", Label: "Oxytocin 10 IU IM/IV"},
	{Tag: "TXA", Label: "Tranexamic Acid (TXA) 1g"},
	{Tag: "EmptyBladder", Label: "Empty Bladder"},
	{Tag: "IV", Label: "IV Access (2x 16G)"},
	{Tag: "Ergo", Label: "Carbetocin / Ergometrine"},
}

func isKnownAction(tag string) bool {
	for _, a := range PPHActions {
		if a.Tag == tag {
			return true
		}
	}
	return false
}

// ResumeOutcome is the result of the resume-on-load protocol.
type ResumeOutcome string

const (
	// ResumeFresh: nothing to resume, an empty session is ready.
	ResumeFresh ResumeOutcome = "FRESH"
	// ResumeCandidate: a recent active session awaits Resume or Discard.
	ResumeCandidate ResumeOutcome = "RESUME_CANDIDATE"
	// ResumeStale: an active session older than the ceiling was discarded.
	ResumeStale ResumeOutcome = "STALE"
)

// ResumePrompt describes the saved session offered for resumption.
type ResumePrompt struct {
	StartTime    time.Time `json:"start_time"`
	MinutesAgo   int       `json:"minutes_ago"`
	ActionsTaken []string  `json:"actions_taken"`
	IsRefractory bool      `json:"is_refractory"`
}

// ResumeResult is returned by Initialize.
type ResumeResult struct {
	Outcome ResumeOutcome `json:"outcome"`
	Prompt  *ResumePrompt `json:"prompt,omitempty"`
}

// PPHStatus is a snapshot of the session for display.
type PPHStatus struct {
	Initialized    bool          `json:"initialized"`
	IsActive       bool          `json:"is_active"`
	StartTime      *time.Time    `json:"start_time,omitempty"`
	ActionsTaken   []string      `json:"actions_taken"`
	IsRefractory   bool          `json:"is_refractory"`
	ElapsedSeconds int64         `json:"elapsed_seconds"`
	Clock          string        `json:"clock"`
	Pending        *ResumePrompt `json:"pending,omitempty"`
}

// FormatClock renders elapsed seconds as mm:ss.
func FormatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// formatCeiling renders a duration in its largest whole unit: 12h, 90m.
func formatCeiling(d time.Duration) string {
	switch {
	case d > 0 && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d > 0 && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}

// PPHSessionManager runs the resumable PPH emergency timer.
//
// No mutation is accepted, and no ticker runs, until Initialize has been
// called and any resume candidate has been resumed or discarded. Every
// mutation of an active session is written through to the store; the
// cleared session deletes the persisted copy.
type PPHSessionManager struct {
	mu     sync.Mutex
	store  PPHStore
	audit  domain.AuditRecorder
	clock  domain.Clock
	logger *logrus.Logger

	refractoryAfter time.Duration
	staleAfter      time.Duration
	tickInterval    time.Duration

	initialized bool
	pending     *domain.PPHSession
	session     domain.PPHSession
	elapsed     int64

	baseCtx    context.Context
	cancelBase context.CancelFunc
	stopTicker context.CancelFunc

	subscribers map[int]chan PPHStatus
	nextSubID   int
}

// NewPPHSessionManager creates a manager with the timing constants from cfg.
// Zero durations fall back to the clinical defaults.
func NewPPHSessionManager(store PPHStore, audit domain.AuditRecorder, clock domain.Clock, cfg domain.EngineConfig, logger *logrus.Logger) *PPHSessionManager {
	defaults := domain.DefaultEngineConfig()
	if cfg.RefractoryAfter <= 0 {
		cfg.RefractoryAfter = defaults.RefractoryAfter
	}
	if cfg.StaleSessionAge <= 0 {
		cfg.StaleSessionAge = defaults.StaleSessionAge
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaults.TickInterval
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &PPHSessionManager{
		store:           store,
		audit:           audit,
		clock:           clock,
		logger:          logger,
		refractoryAfter: cfg.RefractoryAfter,
		staleAfter:      cfg.StaleSessionAge,
		tickInterval:    cfg.TickInterval,
		baseCtx:         baseCtx,
		cancelBase:      cancel,
		subscribers:     make(map[int]chan PPHStatus),
	}
}

// Initialize runs the resume-on-load protocol. It is meant to run once at
// startup; later calls report the current gate without reloading.
func (m *PPHSessionManager) Initialize(ctx context.Context) ResumeResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		return ResumeResult{Outcome: ResumeCandidate, Prompt: m.promptLocked()}
	}
	if m.initialized {
		return ResumeResult{Outcome: ResumeFresh}
	}

	saved, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.WithError(err).Warn("PPH state unreadable, starting a fresh session")
			metrics.IncPersistenceFailure("pph", "read")
		}
		m.initialized = true
		return ResumeResult{Outcome: ResumeFresh}
	}

	if !saved.IsActive || saved.StartTime == nil {
		m.initialized = true
		return ResumeResult{Outcome: ResumeFresh}
	}

	age := m.clock.Now().Sub(*saved.StartTime)
	if age >= m.staleAfter {
		if err := m.store.Clear(ctx); err != nil {
			m.logger.WithError(err).Error("Failed to delete stale PPH state")
			metrics.IncPersistenceFailure("pph", "delete")
		}
		m.logger.WithFields(logrus.Fields{
			"start_time": saved.StartTime,
			"age":        age.String(),
		}).Warn("Stale PPH session discarded")
		m.audit.Record(ctx, domain.AuditClinicalAction,
			fmt.Sprintf("Stale PPH Session (>%s) detected and cleared.", formatCeiling(m.staleAfter)), "")
		m.initialized = true
		return ResumeResult{Outcome: ResumeStale}
	}

	s := saved.Clone()
	m.pending = &s
	m.logger.WithFields(logrus.Fields{
		"start_time": saved.StartTime,
		"age":        age.String(),
	}).Info("PPH session awaiting resume decision")
	return ResumeResult{Outcome: ResumeCandidate, Prompt: m.promptLocked()}
}

// Resume adopts the pending session verbatim and starts the ticker.
func (m *PPHSessionManager) Resume(ctx context.Context) (PPHStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		return m.statusLocked(), domain.ErrNoPendingSession
	}

	m.session = *m.pending
	m.pending = nil
	m.initialized = true
	m.elapsed = m.elapsedLocked()

	m.audit.Record(ctx, domain.AuditClinicalAction,
		fmt.Sprintf("PPH Timer RESUMED from storage by user. Elapsed: %ds", m.elapsed), "")
	m.logger.WithField("elapsed_seconds", m.elapsed).Info("PPH session resumed")

	metrics.SetPPHActive(true)
	m.startTickerLocked()
	// Re-evaluate the latch immediately for sessions that crossed the
	// threshold while the process was down.
	m.evaluateRefractoryLocked(ctx)
	m.publishLocked()
	return m.statusLocked(), nil
}

// Discard deletes the pending session and leaves an empty one.
func (m *PPHSessionManager) Discard(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		return domain.ErrNoPendingSession
	}

	m.pending = nil
	m.initialized = true
	m.session = domain.PPHSession{}
	m.elapsed = 0

	if err := m.store.Clear(ctx); err != nil {
		m.logger.WithError(err).Error("Failed to delete discarded PPH state")
		metrics.IncPersistenceFailure("pph", "delete")
	}

	m.audit.Record(ctx, domain.AuditClinicalAction, "User DISCARDED previous PPH session.", "")
	m.logger.Info("PPH session discarded")
	m.publishLocked()
	return nil
}

// Start begins a new session at the current time.
func (m *PPHSessionManager) Start(ctx context.Context) (PPHStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gateLocked(); err != nil {
		return m.statusLocked(), err
	}
	if m.session.IsActive {
		return m.statusLocked(), domain.ErrSessionAlreadyActive
	}

	now := m.clock.Now()
	m.session = domain.PPHSession{
		IsActive:     true,
		StartTime:    &now,
		ActionsTaken: []string{},
		IsRefractory: false,
	}
	m.elapsed = 0

	m.audit.Record(ctx, domain.AuditClinicalAction, "PPH Emergency Protocol STARTED", "")
	m.logger.WithField("start_time", now).Info("PPH session started")

	m.persistLocked(ctx)
	metrics.SetPPHActive(true)
	m.startTickerLocked()
	m.publishLocked()
	return m.statusLocked(), nil
}

// Tick recomputes elapsed time and latches the refractory flag once the
// threshold is exceeded. It is a no-op while gated or inactive.
func (m *PPHSessionManager) Tick(ctx context.Context) PPHStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gateLocked() != nil || !m.session.IsActive {
		return m.statusLocked()
	}

	m.elapsed = m.elapsedLocked()
	m.evaluateRefractoryLocked(ctx)
	m.publishLocked()
	return m.statusLocked()
}

// ToggleAction marks tag done, or un-marks it if already done. Only the
// transition to done is audited.
func (m *PPHSessionManager) ToggleAction(ctx context.Context, tag string) (PPHStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gateLocked(); err != nil {
		return m.statusLocked(), err
	}
	if !m.session.IsActive {
		return m.statusLocked(), domain.ErrNoActiveSession
	}
	if !isKnownAction(tag) {
		return m.statusLocked(), fmt.Errorf("%w: %s", domain.ErrUnknownAction, tag)
	}

	if m.session.HasAction(tag) {
		kept := make([]string, 0, len(m.session.ActionsTaken))
		for _, a := range m.session.ActionsTaken {
			if a != tag {
				kept = append(kept, a)
			}
		}
		m.session.ActionsTaken = kept
		m.logger.WithField("action", tag).Info("PPH action unmarked")
	} else {
		m.session.ActionsTaken = append(m.session.ActionsTaken, tag)
		m.audit.Record(ctx, domain.AuditClinicalAction,
			fmt.Sprintf("Action Completed: %s administered/done.", tag), "")
		m.logger.WithField("action", tag).Info("PPH action completed")
	}

	m.persistLocked(ctx)
	m.publishLocked()
	return m.statusLocked(), nil
}

// End terminates the active session. It is irreversible and requires
// explicit confirmation.
func (m *PPHSessionManager) End(ctx context.Context, confirmed bool) (PPHStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gateLocked(); err != nil {
		return m.statusLocked(), err
	}
	if !m.session.IsActive {
		return m.statusLocked(), domain.ErrNoActiveSession
	}
	if !confirmed {
		return m.statusLocked(), domain.ErrConfirmationRequired
	}

	duration := m.elapsedLocked()
	actions := strings.Join(m.session.ActionsTaken, ", ")

	m.stopTickerLocked()
	m.session = domain.PPHSession{}
	m.elapsed = 0

	if err := m.store.Clear(ctx); err != nil {
		m.logger.WithError(err).Error("Failed to delete ended PPH state")
		metrics.IncPersistenceFailure("pph", "delete")
	}

	m.audit.Record(ctx, domain.AuditClinicalAction,
		fmt.Sprintf("PPH Protocol ENDED. Duration: %ds. Meds given: %s", duration, actions), "")
	m.logger.WithFields(logrus.Fields{
		"duration_seconds": duration,
		"actions":          actions,
	}).Info("PPH session ended")

	metrics.SetPPHActive(false)
	m.publishLocked()
	return m.statusLocked(), nil
}

// Status returns the current session snapshot.
func (m *PPHSessionManager) Status() PPHStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// TickerRunning reports whether the periodic ticker is scheduled.
func (m *PPHSessionManager) TickerRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopTicker != nil
}

// Subscribe returns a channel that receives the latest status after every
// tick and mutation. Slow readers only ever see the newest status.
func (m *PPHSessionManager) Subscribe() (<-chan PPHStatus, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan PPHStatus, 1)
	m.subscribers[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(c)
		}
	}
}

// Close stops the ticker.
func (m *PPHSessionManager) Close() {
	m.mu.Lock()
	m.stopTickerLocked()
	m.mu.Unlock()
	m.cancelBase()
}

func (m *PPHSessionManager) gateLocked() error {
	if !m.initialized || m.pending != nil {
		return domain.ErrSessionGated
	}
	return nil
}

func (m *PPHSessionManager) elapsedLocked() int64 {
	if m.session.StartTime == nil {
		return 0
	}
	secs := int64(m.clock.Now().Sub(*m.session.StartTime) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

func (m *PPHSessionManager) evaluateRefractoryLocked(ctx context.Context) {
	if m.session.IsRefractory || m.elapsed <= int64(m.refractoryAfter/time.Second) {
		return
	}

	m.session.IsRefractory = true
	m.persistLocked(ctx)
	metrics.IncPPHEscalation()

	m.logger.WithField("elapsed_seconds", m.elapsed).Warn("PPH session escalated to refractory")
	m.audit.Record(ctx, domain.AuditClinicalAction,
		"PPH designated as REFRACTORY (Time > 15mins). Escalation required.", "")
}

func (m *PPHSessionManager) persistLocked(ctx context.Context) {
	if err := m.store.Save(ctx, m.session.Clone()); err != nil {
		m.logger.WithError(err).Error("Failed to persist PPH state")
		metrics.IncPersistenceFailure("pph", "write")
	}
}

func (m *PPHSessionManager) startTickerLocked() {
	if m.stopTicker != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.stopTicker = cancel
	go m.runTicker(ctx)
}

func (m *PPHSessionManager) stopTickerLocked() {
	if m.stopTicker != nil {
		m.stopTicker()
		m.stopTicker = nil
	}
}

func (m *PPHSessionManager) runTicker(ctx context.Context) {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

func (m *PPHSessionManager) promptLocked() *ResumePrompt {
	if m.pending == nil || m.pending.StartTime == nil {
		return nil
	}
	return &ResumePrompt{
		StartTime:    *m.pending.StartTime,
		MinutesAgo:   int(m.clock.Now().Sub(*m.pending.StartTime) / time.Minute),
		ActionsTaken: append([]string{}, m.pending.ActionsTaken...),
		IsRefractory: m.pending.IsRefractory,
	}
}

func (m *PPHSessionManager) statusLocked() PPHStatus {
	s := m.session.Clone()
	if s.ActionsTaken == nil {
		s.ActionsTaken = []string{}
	}
	return PPHStatus{
		Initialized:    m.initialized && m.pending == nil,
		IsActive:       s.IsActive,
		StartTime:      s.StartTime,
		ActionsTaken:   s.ActionsTaken,
		IsRefractory:   s.IsRefractory,
		ElapsedSeconds: m.elapsed,
		Clock:          FormatClock(m.elapsed),
		Pending:        m.promptLocked(),
	}
}

func (m *PPHSessionManager) publishLocked() {
	status := m.statusLocked()
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- status:
		default:
		}
	}
}
