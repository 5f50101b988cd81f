package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Task is one periodic housekeeping step.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs its tasks every interval until the context ends. A failing
// task is logged and retried on the next tick.
type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	tasks    []Task
	log      *zerolog.Logger
}

// NewScheduler defaults interval to 5s. Each run of a task gets at most one
// interval to complete.
func NewScheduler(interval time.Duration, logger *zerolog.Logger, tasks ...Task) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	l := logger.With().Str("component", "Scheduler").Logger()
	return &Scheduler{
		interval: interval,
		timeout:  interval,
		tasks:    tasks,
		log:      &l,
	}
}

// Run blocks until ctx is cancelled. It always returns nil so it can sit in
// an errgroup next to the servers without tearing them down.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Int("tasks", len(s.tasks)).Msg("scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, t := range s.tasks {
		if ctx.Err() != nil {
			return
		}
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := t.Run(runCtx)
		cancel()
		if err != nil {
			s.log.Error().Err(err).Str("task", t.Name).Msg("scheduled task failed")
		}
	}
}
