package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-pulse/internal/generator"
	"github.com/miradorstack/mirador-pulse/internal/models"
	"github.com/miradorstack/mirador-pulse/internal/poller"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newFeed(t *testing.T, publish Publisher) *Feed {
	t.Helper()
	clock := func() time.Time { return epoch }
	gen := generator.New(generator.Options{Seed: 3, Now: clock})
	return NewFeed(gen, Options{Now: clock}, publish, nil)
}

func TestNewFeedIsPrimed(t *testing.T) {
	f := newFeed(t, nil)
	snap := f.Snapshot()

	assert.Len(t, snap.Services, len(generator.Services()))
	require.Len(t, snap.Performance, 12)
	assert.Len(t, snap.Traces, 5)
	assert.LessOrEqual(t, len(snap.Anomalies), 5)
	assert.Equal(t, epoch, snap.Performance[11].Time)
	assert.Equal(t, epoch.Add(-33*time.Second), snap.Performance[0].Time)
}

func TestPerformanceRingDropsOldest(t *testing.T) {
	f := newFeed(t, nil)
	first := f.Snapshot().Performance[1]

	require.NoError(t, f.RefreshPerformance(context.Background()))
	perf := f.Snapshot().Performance
	require.Len(t, perf, 12)
	assert.Equal(t, first, perf[0])
}

func TestTracesNewestFirst(t *testing.T) {
	f := newFeed(t, nil)
	before := f.Snapshot().Traces

	require.NoError(t, f.RefreshTraces(context.Background()))
	after := f.Snapshot().Traces
	require.Len(t, after, 5)
	assert.NotEqual(t, before[0].TraceID, after[0].TraceID)
	assert.Equal(t, before[:4], after[1:])
}

func TestAnomalyRingBounded(t *testing.T) {
	f := newFeed(t, nil)
	for i := 0; i < 200; i++ {
		require.NoError(t, f.RefreshAnomalies(context.Background()))
	}
	assert.Len(t, f.Snapshot().Anomalies, 5)
}

func TestSnapshotIsACopy(t *testing.T) {
	f := newFeed(t, nil)
	snap := f.Snapshot()
	snap.Traces[0].TraceID = "mutated"
	assert.NotEqual(t, "mutated", f.Snapshot().Traces[0].TraceID)
}

func TestCancelledRefreshDoesNotCommit(t *testing.T) {
	published := 0
	f := newFeed(t, func(models.DashboardSnapshot) { published++ })
	before := f.Snapshot().Traces

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.RefreshTraces(ctx), context.Canceled)
	assert.Equal(t, before, f.Snapshot().Traces)
	assert.Zero(t, published)
}

func TestFeedRunsOnScheduler(t *testing.T) {
	var mu sync.Mutex
	var snaps []models.DashboardSnapshot
	clock := func() time.Time { return epoch }
	gen := generator.New(generator.Options{Seed: 4, Now: clock})
	f := NewFeed(gen, Options{
		OverviewInterval:    time.Millisecond,
		PerformanceInterval: time.Millisecond,
		TraceInterval:       time.Millisecond,
		AnomalyInterval:     time.Millisecond,
		Now:                 clock,
	}, func(s models.DashboardSnapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	}, nil)

	s := poller.NewScheduler(nil)
	for _, task := range f.Tasks() {
		require.NoError(t, s.Add(task))
	}
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) >= 10
	}, time.Second, time.Millisecond)
}
