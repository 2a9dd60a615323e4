package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddValidates(t *testing.T) {
	s := NewScheduler(nil)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Task{Interval: time.Second, Run: noop}))
	assert.Error(t, s.Add(Task{Name: "a", Run: noop}))
	assert.Error(t, s.Add(Task{Name: "a", Interval: time.Second}))
	require.NoError(t, s.Add(Task{Name: "a", Interval: time.Second, Run: noop}))
	assert.Error(t, s.Add(Task{Name: "a", Interval: time.Second, Run: noop}))
}

func TestTasksFireAndStop(t *testing.T) {
	s := NewScheduler(nil)
	var fast, immediate atomic.Int32

	require.NoError(t, s.Add(Task{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		fast.Add(1)
		return nil
	}}))
	require.NoError(t, s.Add(Task{Name: "slow", Interval: time.Hour, Immediate: true, Run: func(context.Context) error {
		immediate.Add(1)
		return nil
	}}))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrRunning)
	assert.ErrorIs(t, s.Add(Task{Name: "late", Interval: time.Second, Run: func(context.Context) error { return nil }}), ErrRunning)

	assert.Eventually(t, func() bool { return fast.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return immediate.Load() == 1 }, time.Second, time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	after := fast.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, fast.Load(), "no firings after Stop")
	s.Stop()
}

func TestStaleFiringIsCancelled(t *testing.T) {
	s := NewScheduler(nil)
	cancelled := make(chan error, 1)

	require.NoError(t, s.Add(Task{Name: "stuck", Interval: 10 * time.Millisecond, Immediate: true, Run: func(ctx context.Context) error {
		<-ctx.Done()
		select {
		case cancelled <- ctx.Err():
		default:
		}
		return ctx.Err()
	}}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("stale firing was never cancelled")
	}
}

func TestFiringsDoNotOverlap(t *testing.T) {
	s := NewScheduler(nil)
	var active, maxActive atomic.Int32

	require.NoError(t, s.Add(Task{Name: "busy", Interval: 2 * time.Millisecond, Run: func(ctx context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}}))
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestOnFireReportsErrorsAndPanics(t *testing.T) {
	s := NewScheduler(nil)
	var mu sync.Mutex
	seen := map[string]error{}
	s.OnFire(func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := seen[name]; !ok {
			seen[name] = err
		}
	})

	boom := errors.New("boom")
	require.NoError(t, s.Add(Task{Name: "fails", Interval: time.Hour, Immediate: true, Run: func(context.Context) error { return boom }}))
	require.NoError(t, s.Add(Task{Name: "panics", Interval: time.Hour, Immediate: true, Run: func(context.Context) error { panic("bad") }}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, seen["fails"], boom)
	assert.ErrorContains(t, seen["panics"], "panicked")
}

func TestParentContextStopsTasks(t *testing.T) {
	s := NewScheduler(nil)
	var fired atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, s.Add(Task{Name: "tick", Interval: 2 * time.Millisecond, Run: func(context.Context) error {
		fired.Add(1)
		return nil
	}}))
	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool { return fired.Load() > 0 }, time.Second, time.Millisecond)
	cancel()
	s.Stop()
}
