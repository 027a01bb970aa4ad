// Package scheduler runs registered callbacks on fixed intervals.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lounge_task_runs_total",
	Help: "Number of scheduled task runs by outcome",
}, []string{"task", "outcome"})

type task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
}

// Scheduler fires each task once per interval. A run that is still going when
// the next tick arrives makes that tick be skipped, never doubled up.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []task
	running bool
	clock   clockwork.Clock
	logger  *zap.SugaredLogger
}

func New(clock clockwork.Clock, logger *zap.SugaredLogger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{clock: clock, logger: logger}
}

// Register adds a task. Tasks registered after Run has started are rejected.
func (s *Scheduler) Register(name string, interval time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warnw("task registered after start, ignoring", "task", name)
		return
	}
	if interval <= 0 {
		s.logger.Warnw("task has no interval, ignoring", "task", name)
		return
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, fn: fn})
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	tasks := append([]task(nil), s.tasks...)
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}
	s.logger.Infow("scheduler started", "tasks", len(tasks))
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	ticker := s.clock.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t task) {
	defer func() {
		if p := recover(); p != nil {
			taskRuns.WithLabelValues(t.name, "panic").Inc()
			s.logger.Errorw("scheduled task panicked", "task", t.name, "panic", fmt.Sprint(p))
		}
	}()
	start := s.clock.Now()
	t.fn(ctx)
	taskRuns.WithLabelValues(t.name, "ok").Inc()
	s.logger.Debugw("scheduled task ran", "task", t.name, "duration", s.clock.Since(start))
}
