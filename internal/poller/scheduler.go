// Package poller runs named tasks on fixed intervals with an explicit start/stop lifecycle.
//
// Firings of one task never overlap. Each firing gets its own context, bounded
// by the task interval, so a firing still running when the next tick is due is
// cancelled rather than stacked.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrRunning is returned when tasks are added to, or Start is called on, a running scheduler.
var ErrRunning = errors.New("scheduler is already running")

// Task is one periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate fires once at Start before waiting for the first tick.
	Immediate bool
	Run       func(ctx context.Context) error
}

// Scheduler owns a set of tasks and the goroutines running them.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	tasks   []Task
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	onFire  func(name string, err error)
}

// NewScheduler creates an idle scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Add registers a task. Tasks cannot be added while running.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" {
		return errors.New("task name is required")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}
	if t.Run == nil {
		return fmt.Errorf("task %s: run func is required", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	for _, existing := range s.tasks {
		if existing.Name == t.Name {
			return fmt.Errorf("task %s already registered", t.Name)
		}
	}
	s.tasks = append(s.tasks, t)
	return nil
}

// OnFire installs a hook called after every firing, mainly for metrics and tests.
func (s *Scheduler) OnFire(fn func(name string, err error)) {
	s.mu.Lock()
	s.onFire = fn
	s.mu.Unlock()
}

// Start launches one goroutine per task. Tasks stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(runCtx, t)
	}
	s.logger.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop cancels every task and waits for in-flight firings to return. Safe to call twice.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	if t.Immediate {
		s.fire(ctx, t)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, t)
		}
	}
}

func (s *Scheduler) fire(parent context.Context, t Task) {
	ctx, cancel := context.WithTimeout(parent, t.Interval)
	defer cancel()

	err := s.run(ctx, t)
	if err != nil && parent.Err() == nil {
		s.logger.Warn("scheduled task failed", slog.String("task", t.Name), slog.Any("error", err))
	}

	s.mu.Lock()
	hook := s.onFire
	s.mu.Unlock()
	if hook != nil {
		hook(t.Name, err)
	}
}

func (s *Scheduler) run(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
	}()
	return t.Run(ctx)
}
