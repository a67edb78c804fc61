package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncsvc "github.com/eduboard/leaderboard-api/internal/sync"
)

type countingRunner struct {
	runs atomic.Int32
	err  error
}

func (c *countingRunner) Run(ctx context.Context, initiatedBy string) (syncsvc.Result, error) {
	c.runs.Add(1)
	return syncsvc.Result{RunID: "test"}, c.err
}

func TestSchedulerFiresOnInterval(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return runner.runs.Load() >= 2
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestSchedulerSkipsWhenRunInProgress(t *testing.T) {
	runner := &countingRunner{err: syncsvc.ErrSyncRunning}
	s := NewScheduler(runner, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Start(ctx)
	}()

	// Busy ticks are skipped without escalating; the loop keeps going.
	require.Eventually(t, func() bool {
		return runner.runs.Load() >= 3
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestNextRun(t *testing.T) {
	s := NewScheduler(&countingRunner{}, time.Hour, zerolog.Nop())

	_, ok := s.NextRun()
	assert.False(t, ok, "next run is unknown before Start")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		next, ok := s.NextRun()
		return ok && next.After(time.Now())
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
