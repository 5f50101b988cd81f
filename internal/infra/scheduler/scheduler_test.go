//go:build !integration

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsTasksUntilCancelled(t *testing.T) {
	var ok, failing atomic.Int32
	log := zerolog.Nop()
	s := NewScheduler(5*time.Millisecond, &log,
		Task{Name: "failing", Run: func(context.Context) error {
			failing.Add(1)
			return errors.New("broker unavailable")
		}},
		Task{Name: "ok", Run: func(ctx context.Context) error {
			_, has := ctx.Deadline()
			assert.True(t, has, "every run is bounded")
			ok.Add(1)
			return nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return ok.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, failing.Load(), ok.Load()-1, "a failing task does not stop the others")
}
