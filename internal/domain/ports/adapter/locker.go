package adapter

import (
	"context"
	"time"
)

// Locker hands out short-lived exclusive tokens keyed by name.
// TryLock returns ok=false without error when the key is already held.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
