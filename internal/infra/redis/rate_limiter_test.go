package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	incrErr error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeCounter) Ping(context.Context) error { return nil }
func (f *fakeCounter) SetNX(context.Context, string, interface{}, time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeCounter) Incr(_ context.Context, key string) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}
func (f *fakeCounter) Expire(_ context.Context, key string, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = d
	return nil
}
func (f *fakeCounter) Del(context.Context, ...string) error { return nil }
func (f *fakeCounter) Close() error                         { return nil }

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	fc := newFakeCounter()
	rl := NewRateLimiter(fc)
	key := UserRequestKey("pipeline", "u1")

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, fc.expires[key])
	assert.Equal(t, "pipeline:rate:u1", key)
}

func TestRateLimiter_PropagatesErrors(t *testing.T) {
	fc := newFakeCounter()
	fc.incrErr = errors.New("connection refused")
	ok, err := NewRateLimiter(fc).Allow(context.Background(), "k", 1, time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}
