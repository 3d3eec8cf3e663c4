package service

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/repository"
	"github.com/impcg-clinical-engine/internal/storage"
)

var labourDay = time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return labourDay.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func newTestTracker(t *testing.T, store domain.KVStore) (*PartogramTracker, *recordingAudit, *fakeClock) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	audit := &recordingAudit{}
	clock := newFakeClock(at(14, 0))
	tracker := NewPartogramTracker(repository.NewPartogramRepository(store), audit, clock, time.UTC, logger)
	return tracker, audit, clock
}

func TestDetectBreach(t *testing.T) {
	tests := []struct {
		name   string
		points []domain.LaborDataPoint
		want   bool
	}{
		{"Empty", nil, false},
		{"Ten cm at five hours", []domain.LaborDataPoint{{DilationCm: 4, HoursFromStart: 0}, {DilationCm: 10, HoursFromStart: 5}}, false},
		{"Six cm at five hours", []domain.LaborDataPoint{{DilationCm: 4, HoursFromStart: 0}, {DilationCm: 6, HoursFromStart: 5}}, true},
		{"Exactly on the action line", []domain.LaborDataPoint{{DilationCm: 6, HoursFromStart: 4}}, false},
		{"Latent phase never breaches", []domain.LaborDataPoint{{DilationCm: 3, HoursFromStart: 20}}, false},
		{"Four cm past two hours", []domain.LaborDataPoint{{DilationCm: 4, HoursFromStart: 2.01}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectBreach(tt.points))
		})
	}
}

func TestActionLineHours(t *testing.T) {
	assert.Equal(t, 2.0, ActionLineHours(4))
	assert.Equal(t, 4.0, ActionLineHours(6))
	assert.Equal(t, 8.0, ActionLineHours(10))
}

func TestPartogramTracker_AddObservation(t *testing.T) {
	ctx := context.Background()

	t.Run("Progress within the action line", func(t *testing.T) {
		tracker, audit, _ := newTestTracker(t, storage.NewMemoryStore())

		_, err := tracker.AddObservationAt(ctx, 4, at(6, 0))
		require.NoError(t, err)
		view, err := tracker.AddObservationAt(ctx, 10, at(11, 0))
		require.NoError(t, err)

		assert.False(t, view.Breached)
		assert.Equal(t, 5.0, view.Points[1].HoursFromStart)
		assert.Equal(t, []string{"Partogram Plot: 4cm at 0.00hrs", "Partogram Plot: 10cm at 5.00hrs"}, audit.Details())
	})

	t.Run("Slow progress breaches", func(t *testing.T) {
		tracker, _, _ := newTestTracker(t, storage.NewMemoryStore())

		_, err := tracker.AddObservationAt(ctx, 4, at(6, 0))
		require.NoError(t, err)
		view, err := tracker.AddObservationAt(ctx, 6, at(11, 0))
		require.NoError(t, err)

		assert.True(t, view.Breached)
		assert.True(t, tracker.Breached())
	})

	t.Run("Single point defines the origin", func(t *testing.T) {
		tracker, _, _ := newTestTracker(t, storage.NewMemoryStore())

		view, err := tracker.AddObservationAt(ctx, 5, at(9, 30))
		require.NoError(t, err)

		require.NotNil(t, view.ActivePhaseStart)
		assert.True(t, view.ActivePhaseStart.Equal(at(9, 30)))
		require.Len(t, view.Points, 1)
		assert.Equal(t, 0.0, view.Points[0].HoursFromStart)
		assert.False(t, view.Breached)
	})

	t.Run("Retrospective entry shifts the origin", func(t *testing.T) {
		tracker, _, _ := newTestTracker(t, storage.NewMemoryStore())

		_, err := tracker.AddObservationAt(ctx, 6, at(8, 0))
		require.NoError(t, err)
		view, err := tracker.AddObservationAt(ctx, 4, at(6, 0))
		require.NoError(t, err)

		assert.True(t, view.ActivePhaseStart.Equal(at(6, 0)))
		require.Len(t, view.Points, 2)
		assert.Equal(t, 4, view.Points[0].DilationCm)
		assert.Equal(t, 0.0, view.Points[0].HoursFromStart)
		assert.Equal(t, 6, view.Points[1].DilationCm)
		assert.Equal(t, 2.0, view.Points[1].HoursFromStart)
	})

	t.Run("Retrospective entry can create a breach in an older point", func(t *testing.T) {
		tracker, _, _ := newTestTracker(t, storage.NewMemoryStore())

		view, err := tracker.AddObservationAt(ctx, 5, at(10, 0))
		require.NoError(t, err)
		assert.False(t, view.Breached)

		// 5cm now sits 4h after the new origin; allowed is 3h
		view, err = tracker.AddObservationAt(ctx, 3, at(6, 0))
		require.NoError(t, err)
		assert.True(t, view.Breached)
	})

	t.Run("Breach is recomputed, not sticky", func(t *testing.T) {
		tracker, _, _ := newTestTracker(t, storage.NewMemoryStore())

		_, err := tracker.AddObservationAt(ctx, 4, at(9, 0))
		require.NoError(t, err)
		view, err := tracker.AddObservationAt(ctx, 5, at(13, 0))
		require.NoError(t, err)
		assert.True(t, view.Breached)

		require.NoError(t, tracker.Reset(ctx, true))
		view, err = tracker.AddObservationAt(ctx, 8, at(12, 0))
		require.NoError(t, err)
		assert.False(t, view.Breached)
	})

	t.Run("Equal offsets keep insertion order", func(t *testing.T) {
		tracker, _, _ := newTestTracker(t, storage.NewMemoryStore())

		_, err := tracker.AddObservationAt(ctx, 4, at(6, 0))
		require.NoError(t, err)
		_, err = tracker.AddObservationAt(ctx, 5, at(7, 0))
		require.NoError(t, err)
		view, err := tracker.AddObservationAt(ctx, 6, at(7, 0))
		require.NoError(t, err)

		require.Len(t, view.Points, 3)
		assert.Equal(t, []int{4, 5, 6}, []int{view.Points[0].DilationCm, view.Points[1].DilationCm, view.Points[2].DilationCm})
	})

	t.Run("Invalid dilation", func(t *testing.T) {
		tracker, audit, _ := newTestTracker(t, storage.NewMemoryStore())

		_, err := tracker.AddObservationAt(ctx, 11, at(6, 0))
		assert.ErrorIs(t, err, domain.ErrInvalidDilation)
		_, err = tracker.AddObservationAt(ctx, -1, at(6, 0))
		assert.ErrorIs(t, err, domain.ErrInvalidDilation)
		assert.Empty(t, audit.Details())
	})
}

func TestPartogramTracker_TimeOfDay(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTestTracker(t, storage.NewMemoryStore())

	view, err := tracker.AddObservation(ctx, 4, "07:45")
	require.NoError(t, err)
	assert.True(t, view.Points[0].ObservedAt.Equal(at(7, 45)))

	for _, bad := range []string{"", "7", "24:00", "12:60", "ab:cd", "12:30:00"} {
		_, err := tracker.AddObservation(ctx, 4, bad)
		assert.ErrorIs(t, err, domain.ErrInvalidTimeOfDay, bad)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in           string
		hour, minute int
		wantErr      bool
	}{
		{in: "00:00", hour: 0, minute: 0},
		{in: " 23:59 ", hour: 23, minute: 59},
		{in: "7:05", hour: 7, minute: 5},
		{in: "12:5", wantErr: true},
		{in: "-1:00", wantErr: true},
		{in: "12h30", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			hour, minute, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidTimeOfDay)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hour, hour)
			assert.Equal(t, tt.minute, minute)
		})
	}
}

func TestPartogramTracker_ResolvesInLocation(t *testing.T) {
	loc := time.FixedZone("SAST", 2*60*60)
	logger, _ := test.NewNullLogger()
	clock := newFakeClock(time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC))
	tracker := NewPartogramTracker(repository.NewPartogramRepository(storage.NewMemoryStore()), domain.NopAuditRecorder{}, clock, loc, logger)

	view, err := tracker.AddObservation(context.Background(), 4, "08:00")
	require.NoError(t, err)

	// 08:00 SAST is 06:00 UTC
	assert.True(t, view.Points[0].ObservedAt.Equal(time.Date(2026, 10, 15, 6, 0, 0, 0, time.UTC)))
}

func TestPartogramTracker_PersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	tracker, _, _ := newTestTracker(t, store)
	_, err := tracker.AddObservationAt(ctx, 4, at(6, 0))
	require.NoError(t, err)
	_, err = tracker.AddObservationAt(ctx, 6, at(11, 0))
	require.NoError(t, err)

	reloaded, _, _ := newTestTracker(t, store)
	reloaded.Load(ctx)

	view := reloaded.View()
	require.Len(t, view.Points, 2)
	assert.True(t, view.Breached)
	assert.Equal(t, AlertLine, view.AlertLine)
	assert.Equal(t, ActionLine, view.ActionLine)
}

func TestPartogramTracker_CorruptStateLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(ctx, repository.PartogramKey, []byte("not json")))

	tracker, _, _ := newTestTracker(t, store)
	tracker.Load(ctx)

	view := tracker.View()
	assert.Nil(t, view.ActivePhaseStart)
	assert.Empty(t, view.Points)
	assert.False(t, view.Breached)
}

func TestPartogramTracker_Reset(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	tracker, _, _ := newTestTracker(t, store)

	_, err := tracker.AddObservationAt(ctx, 4, at(6, 0))
	require.NoError(t, err)

	assert.ErrorIs(t, tracker.Reset(ctx, false), domain.ErrConfirmationRequired)
	assert.Len(t, tracker.View().Points, 1)

	require.NoError(t, tracker.Reset(ctx, true))
	assert.Empty(t, tracker.View().Points)
	assert.Nil(t, tracker.View().ActivePhaseStart)

	_, err = store.Get(ctx, repository.PartogramKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
