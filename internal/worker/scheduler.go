// Package worker runs the periodic synchronization loop.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	syncsvc "github.com/eduboard/leaderboard-api/internal/sync"
)

// Runner is the subset of the sync service the scheduler drives.
type Runner interface {
	Run(ctx context.Context, initiatedBy string) (syncsvc.Result, error)
}

// Scheduler triggers a sync run on a fixed interval. A tick that lands
// while a manual run holds the lock is skipped, not queued.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	nextRun time.Time
}

func NewScheduler(runner Runner, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start blocks until the context is cancelled, firing one run per tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextRun(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.setNextRun(time.Now().Add(s.interval))
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	result, err := s.runner.Run(ctx, "scheduler")
	if err != nil {
		if errors.Is(err, syncsvc.ErrSyncRunning) {
			s.logger.Info().Msg("run already in progress, skipping tick")
			return
		}
		s.logger.Error().Err(err).Str("run_id", result.RunID).Msg("scheduled run failed")
		return
	}
	s.logger.Info().
		Str("run_id", result.RunID).
		Int("updated", result.RecordsUpdated).
		Msg("scheduled run completed")
}

// NextRun reports when the next tick fires. Valid only after Start.
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextRun.IsZero() {
		return time.Time{}, false
	}
	return s.nextRun, true
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}
