package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"practice-pipeline/internal/domain/ports/adapter"
)

var (
	_ adapter.Locker      = (*Locker)(nil)
	_ adapter.RateLimiter = (*RateLimiter)(nil)
)

type lease struct {
	token   string
	expires time.Time
}

// Locker mirrors the Redis SETNX locker inside one process.
type Locker struct {
	mu   sync.Mutex
	held map[string]lease
	now  func() time.Time
}

func NewLocker() *Locker { return &Locker{held: map[string]lease{}, now: time.Now} }

func (l *Locker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[key]; ok && cur.expires.After(now) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = lease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *Locker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && cur.token == token {
		delete(l.held, key)
	}
	return nil
}

type window struct {
	count   int
	resetAt time.Time
}

type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: map[string]*window{}, now: time.Now}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, d time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	w, ok := r.windows[key]
	if !ok || !w.resetAt.After(now) {
		w = &window{resetAt: now.Add(d)}
		r.windows[key] = w
	}
	w.count++
	return w.count <= limit, nil
}
