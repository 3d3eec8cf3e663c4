package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/metrics"
)

// PartogramStore persists the labour-progress series.
type PartogramStore interface {
	Load(ctx context.Context) (domain.PartogramState, error)
	Save(ctx context.Context, s domain.PartogramState) error
	Clear(ctx context.Context) error
}

// LinePoint is a vertex of a partogram reference line.
type LinePoint struct {
	Hours      float64 `json:"hours"`
	DilationCm int     `json:"dilation_cm"`
}

// Reference lines of the WHO partogram, relative to the active-phase origin.
var (
	AlertLine  = []LinePoint{{Hours: 0, DilationCm: 4}, {Hours: 6, DilationCm: 10}}
	ActionLine = []LinePoint{{Hours: 2, DilationCm: 4}, {Hours: 8, DilationCm: 10}}
)

const (
	activePhaseDilationCm = 4
	actionLineOffsetHours = 2
	maxDilationCm         = 10
)

// PartogramView is a read-only copy of the tracker state.
type PartogramView struct {
	ActivePhaseStart *time.Time              `json:"active_phase_start,omitempty"`
	Points           []domain.LaborDataPoint `json:"points"`
	Breached         bool                    `json:"breached"`
	AlertLine        []LinePoint             `json:"alert_line"`
	ActionLine       []LinePoint             `json:"action_line"`
}

// ActionLineHours is the latest hour, relative to the origin, at which the
// given dilation may be reached without crossing the action line.
func ActionLineHours(dilationCm int) float64 {
	return float64(dilationCm-activePhaseDilationCm) + actionLineOffsetHours
}

// DetectBreach reports whether any active-phase point (>= 4 cm) lies to the
// right of the action line. Latent-phase points never breach.
func DetectBreach(points []domain.LaborDataPoint) bool {
	for _, p := range points {
		if p.DilationCm < activePhaseDilationCm {
			continue
		}
		if p.HoursFromStart > ActionLineHours(p.DilationCm) {
			return true
		}
	}
	return false
}

// PartogramTracker maintains the dilation series and its breach status.
// Every mutation is written through to the store.
type PartogramTracker struct {
	mu       sync.Mutex
	store    PartogramStore
	audit    domain.AuditRecorder
	clock    domain.Clock
	loc      *time.Location
	logger   *logrus.Logger
	state    domain.PartogramState
	breached bool
}

// NewPartogramTracker creates an empty tracker. Times of day are resolved in
// loc; a nil loc means time.Local.
func NewPartogramTracker(store PartogramStore, audit domain.AuditRecorder, clock domain.Clock, loc *time.Location, logger *logrus.Logger) *PartogramTracker {
	if loc == nil {
		loc = time.Local
	}
	return &PartogramTracker{
		store:  store,
		audit:  audit,
		clock:  clock,
		loc:    loc,
		logger: logger,
	}
}

// Load rehydrates the series from the store and recomputes the breach
// status. Missing or corrupt state leaves the tracker empty.
func (t *PartogramTracker) Load(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.store.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		state = domain.PartogramState{}
	case err != nil:
		t.logger.WithError(err).Warn("Partogram state unreadable, starting empty")
		metrics.IncPersistenceFailure("partogram", "read")
		state = domain.PartogramState{}
	}

	if state.ActivePhaseStart == nil {
		state = domain.PartogramState{}
	}

	t.state = state
	t.breached = DetectBreach(state.Points)

	t.logger.WithFields(logrus.Fields{
		"points":   len(state.Points),
		"breached": t.breached,
	}).Info("Partogram state loaded")
}

// TimeOfDayLayout is the observation time entry format.
const TimeOfDayLayout = "15:04"

// ParseTimeOfDay parses a 24-hour "HH:MM" string.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse(TimeOfDayLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", domain.ErrInvalidTimeOfDay, s)
	}
	return t.Hour(), t.Minute(), nil
}

// AddObservation plots a dilation observed at timeOfDay ("HH:MM") on the
// current date.
func (t *PartogramTracker) AddObservation(ctx context.Context, dilationCm int, timeOfDay string) (PartogramView, error) {
	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return PartogramView{}, err
	}
	now := t.clock.Now().In(t.loc)
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, t.loc)
	return t.AddObservationAt(ctx, dilationCm, at)
}

// AddObservationAt plots a dilation observed at an absolute instant. If the
// series is empty or the instant precedes the current origin, the origin
// moves to the instant and every existing point is re-timed against it.
func (t *PartogramTracker) AddObservationAt(ctx context.Context, dilationCm int, at time.Time) (PartogramView, error) {
	if dilationCm < 0 || dilationCm > maxDilationCm {
		return PartogramView{}, fmt.Errorf("%w: %d", domain.ErrInvalidDilation, dilationCm)
	}
	at = at.UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	points := append([]domain.LaborDataPoint(nil), t.state.Points...)
	origin := t.state.ActivePhaseStart

	if len(points) == 0 || origin == nil || at.Before(*origin) {
		o := at
		origin = &o
		for i := range points {
			points[i].HoursFromStart = points[i].ObservedAt.Sub(o).Hours()
		}
	}

	hours := at.Sub(*origin).Hours()
	points = append(points, domain.LaborDataPoint{
		DilationCm:     dilationCm,
		ObservedAt:     at,
		HoursFromStart: hours,
	})
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].HoursFromStart < points[j].HoursFromStart
	})

	wasBreached := t.breached
	t.state = domain.PartogramState{ActivePhaseStart: origin, Points: points}
	t.breached = DetectBreach(points)
	if t.breached && !wasBreached {
		metrics.IncPartogramBreach()
	}

	t.persist(ctx)

	t.logger.WithFields(logrus.Fields{
		"dilation_cm": dilationCm,
		"hours":       hours,
		"breached":    t.breached,
	}).Info("Partogram observation plotted")

	t.audit.Record(ctx, domain.AuditClinicalAction,
		fmt.Sprintf("Partogram Plot: %dcm at %.2fhrs", dilationCm, hours), "")

	return t.viewLocked(), nil
}

// Reset clears the origin and every point. It is destructive and requires
// explicit confirmation.
func (t *PartogramTracker) Reset(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return domain.ErrConfirmationRequired
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = domain.PartogramState{}
	t.breached = false

	if err := t.store.Clear(ctx); err != nil {
		t.logger.WithError(err).Error("Failed to clear persisted partogram")
		metrics.IncPersistenceFailure("partogram", "delete")
	}

	t.logger.Info("Partogram reset")
	return nil
}

// View returns a copy of the current series and breach status.
func (t *PartogramTracker) View() PartogramView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

// Breached reports the current breach status.
func (t *PartogramTracker) Breached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.breached
}

func (t *PartogramTracker) viewLocked() PartogramView {
	v := PartogramView{
		Points:     append([]domain.LaborDataPoint{}, t.state.Points...),
		Breached:   t.breached,
		AlertLine:  AlertLine,
		ActionLine: ActionLine,
	}
	if t.state.ActivePhaseStart != nil {
		o := *t.state.ActivePhaseStart
		v.ActivePhaseStart = &o
	}
	return v
}

// persist writes the state through; failures are logged and the in-memory
// state stays authoritative.
func (t *PartogramTracker) persist(ctx context.Context) {
	if err := t.store.Save(ctx, t.state); err != nil {
		t.logger.WithError(err).Error("Failed to persist partogram state")
		metrics.IncPersistenceFailure("partogram", "write")
	}
}
