// Package dashboard keeps the rolling state behind the live dashboard view and
// refreshes it on the poller's schedule.
package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-pulse/internal/models"
	"github.com/miradorstack/mirador-pulse/internal/poller"
)

// Task names, also used as metric labels.
const (
	TaskOverview    = "overview"
	TaskPerformance = "performance"
	TaskTraces      = "traces"
	TaskAnomalies   = "anomalies"
)

// Source produces the records the feed rolls forward.
type Source interface {
	ServiceMetrics() []models.ServiceMetrics
	PerformanceSample() models.PerformanceSample
	Trace() models.Trace
	Anomaly() (models.Anomaly, bool)
	Anomalies(attempts int) []models.Anomaly
}

// Publisher receives a snapshot after every refresh.
type Publisher func(models.DashboardSnapshot)

// Options sets cadence and history depth. Zero values take the defaults.
type Options struct {
	OverviewInterval    time.Duration
	PerformanceInterval time.Duration
	TraceInterval       time.Duration
	AnomalyInterval     time.Duration
	PerformanceHistory  int
	TraceHistory        int
	AnomalyHistory      int
	Now                 func() time.Time
}

func (o *Options) normalise() {
	if o.OverviewInterval <= 0 {
		o.OverviewInterval = 5 * time.Second
	}
	if o.PerformanceInterval <= 0 {
		o.PerformanceInterval = 3 * time.Second
	}
	if o.TraceInterval <= 0 {
		o.TraceInterval = 4 * time.Second
	}
	if o.AnomalyInterval <= 0 {
		o.AnomalyInterval = 10 * time.Second
	}
	if o.PerformanceHistory <= 0 {
		o.PerformanceHistory = 12
	}
	if o.TraceHistory <= 0 {
		o.TraceHistory = 5
	}
	if o.AnomalyHistory <= 0 {
		o.AnomalyHistory = 5
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Feed is the rolling dashboard state. Performance samples are kept oldest
// first; traces and anomalies newest first.
type Feed struct {
	src     Source
	opts    Options
	publish Publisher
	logger  *slog.Logger

	mu          sync.RWMutex
	generatedAt time.Time
	services    []models.ServiceMetrics
	performance []models.PerformanceSample
	traces      []models.Trace
	anomalies   []models.Anomaly
}

// NewFeed builds a feed and primes it so the first snapshot is fully populated.
func NewFeed(src Source, opts Options, publish Publisher, logger *slog.Logger) *Feed {
	opts.normalise()
	if logger == nil {
		logger = slog.Default()
	}
	f := &Feed{src: src, opts: opts, publish: publish, logger: logger}
	f.prime()
	return f
}

func (f *Feed) prime() {
	now := f.opts.Now()
	perf := make([]models.PerformanceSample, 0, f.opts.PerformanceHistory)
	for i := f.opts.PerformanceHistory - 1; i >= 0; i-- {
		s := f.src.PerformanceSample()
		s.Time = now.Add(-time.Duration(i) * f.opts.PerformanceInterval)
		perf = append(perf, s)
	}
	traces := make([]models.Trace, 0, f.opts.TraceHistory)
	for i := 0; i < f.opts.TraceHistory; i++ {
		traces = append(traces, f.src.Trace())
	}

	f.mu.Lock()
	f.generatedAt = now
	f.services = f.src.ServiceMetrics()
	f.performance = perf
	f.traces = traces
	f.anomalies = f.src.Anomalies(f.opts.AnomalyHistory)
	f.mu.Unlock()
}

// Tasks returns the refresh jobs to register with a scheduler.
func (f *Feed) Tasks() []poller.Task {
	return []poller.Task{
		{Name: TaskOverview, Interval: f.opts.OverviewInterval, Run: f.RefreshOverview},
		{Name: TaskPerformance, Interval: f.opts.PerformanceInterval, Run: f.RefreshPerformance},
		{Name: TaskTraces, Interval: f.opts.TraceInterval, Run: f.RefreshTraces},
		{Name: TaskAnomalies, Interval: f.opts.AnomalyInterval, Run: f.RefreshAnomalies},
	}
}

// RefreshOverview replaces the service list.
func (f *Feed) RefreshOverview(ctx context.Context) error {
	services := f.src.ServiceMetrics()
	return f.commit(ctx, func() { f.services = services })
}

// RefreshPerformance appends a sample, dropping the oldest past the history size.
func (f *Feed) RefreshPerformance(ctx context.Context) error {
	sample := f.src.PerformanceSample()
	return f.commit(ctx, func() {
		f.performance = pushBack(f.performance, sample, f.opts.PerformanceHistory)
	})
}

// RefreshTraces prepends a trace, dropping the oldest past the history size.
func (f *Feed) RefreshTraces(ctx context.Context) error {
	trace := f.src.Trace()
	return f.commit(ctx, func() {
		f.traces = pushFront(f.traces, trace, f.opts.TraceHistory)
	})
}

// RefreshAnomalies makes one detection attempt. Nothing changes when no anomaly fires.
func (f *Feed) RefreshAnomalies(ctx context.Context) error {
	a, ok := f.src.Anomaly()
	if !ok {
		return ctx.Err()
	}
	return f.commit(ctx, func() {
		f.anomalies = pushFront(f.anomalies, a, f.opts.AnomalyHistory)
	})
}

// Snapshot returns a copy of the current state.
func (f *Feed) Snapshot() models.DashboardSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() models.DashboardSnapshot {
	return models.DashboardSnapshot{
		GeneratedAt: f.generatedAt,
		Services:    append([]models.ServiceMetrics(nil), f.services...),
		Performance: append([]models.PerformanceSample(nil), f.performance...),
		Traces:      append([]models.Trace(nil), f.traces...),
		Anomalies:   append([]models.Anomaly(nil), f.anomalies...),
	}
}

// commit applies mutate unless ctx was cancelled while the data was produced,
// then publishes the new state.
func (f *Feed) commit(ctx context.Context, mutate func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	mutate()
	f.generatedAt = f.opts.Now()
	snap := f.snapshotLocked()
	f.mu.Unlock()

	if f.publish != nil {
		f.publish(snap)
	}
	return nil
}

func pushBack[T any](ring []T, v T, limit int) []T {
	ring = append(ring, v)
	if len(ring) > limit {
		ring = append([]T(nil), ring[len(ring)-limit:]...)
	}
	return ring
}

func pushFront[T any](ring []T, v T, limit int) []T {
	out := make([]T, 0, limit)
	out = append(out, v)
	for _, existing := range ring {
		if len(out) == limit {
			break
		}
		out = append(out, existing)
	}
	return out
}
