package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/metrics"
)

var (
	metricsOnce     sync.Once
	metricsRegistry *prometheus.Registry
)

// testMetrics registers the engine metrics once per test binary.
func testMetrics() *prometheus.Registry {
	metricsOnce.Do(func() {
		metricsRegistry = prometheus.NewRegistry()
		metrics.Init(metricsRegistry)
	})
	return metricsRegistry
}

// counterValue reads a counter series by metric name and one label pair.
func counterValue(reg prometheus.Gatherer, name, label, value string) float64 {
	families, err := reg.Gather()
	if err != nil {
		return -1
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == label && l.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// MockAuditRecorder is a mock implementation of domain.AuditRecorder
type MockAuditRecorder struct {
	mock.Mock
}

func (m *MockAuditRecorder) Record(ctx context.Context, kind domain.AuditKind, details string, subjectID string) {
	m.Called(ctx, kind, details, subjectID)
}

// auditEvent is one call captured by recordingAudit.
type auditEvent struct {
	Kind      domain.AuditKind
	Details   string
	SubjectID string
}

// recordingAudit captures every event in order.
type recordingAudit struct {
	mu     sync.Mutex
	events []auditEvent
}

func (r *recordingAudit) Record(_ context.Context, kind domain.AuditKind, details string, subjectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, auditEvent{Kind: kind, Details: details, SubjectID: subjectID})
}

func (r *recordingAudit) Details() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Details
	}
	return out
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequenceIDs yields rec-1, rec-2, ...
type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("rec-%d", s.n)
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

// normalVitals is a complete, unremarkable snapshot.
func normalVitals() domain.Vitals {
	return domain.Vitals{
		SystolicBP:      fptr(118),
		DiastolicBP:     fptr(76),
		HeartRate:       fptr(82),
		RespiratoryRate: fptr(16),
		Temperature:     fptr(36.6),
		Consciousness:   domain.ConsciousnessAlert,
	}
}
