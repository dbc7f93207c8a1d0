// Package worker runs the engine's periodic jobs: scheduled settlement,
// the stale purchase sweep and the audit spool drain.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is a job run on a fixed interval.
type Task struct {
	Name     string
	Interval time.Duration
	Fn       func(context.Context) error
}

// Scheduler runs tasks on their intervals until stopped. Each task runs once
// at start; runs of the same task never overlap.
type Scheduler struct {
	tasks   []*Task
	running bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     zerolog.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// AddTask registers a task. Tasks with a non-positive interval are ignored.
func (s *Scheduler) AddTask(name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		s.log.Warn().Str("task", name).Msg("scheduler: task disabled, interval must be positive")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &Task{Name: name, Interval: interval, Fn: fn})
}

// Start launches every task. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(ctx, task)
	}

	s.log.Info().Int("tasks", len(s.tasks)).Msg("scheduler started")
}

// Stop cancels all tasks and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runTask(ctx context.Context, task *Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	s.run(ctx, task)
	for {
		select {
		case <-ticker.C:
			s.run(ctx, task)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, task *Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("task", task.Name).Msg("scheduler: task panicked")
		}
	}()

	if err := task.Fn(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error().Err(err).Str("task", task.Name).Msg("scheduler: task failed")
		return
	}
	s.log.Debug().Str("task", task.Name).Dur("took", time.Since(start)).Msg("scheduler: task done")
}
