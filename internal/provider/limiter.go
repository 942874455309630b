package provider

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds concurrent calls per provider key. Each key gets its own
// weighted semaphore, created on first use with the limit supplied by the
// caller; later calls with a different limit reuse the existing semaphore.
type Limiter struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewLimiter creates an empty Limiter.
func NewLimiter() *Limiter {
	return &Limiter{sems: make(map[string]*semaphore.Weighted)}
}

// Acquire blocks until a slot for key is available or ctx is done. On
// success it returns a release function; the caller must invoke it exactly
// once. A limit below 1 is treated as 1.
func (l *Limiter) Acquire(ctx context.Context, key string, limit int) (func(), error) {
	if limit < 1 {
		limit = 1
	}

	l.mu.Lock()
	sem, ok := l.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(int64(limit))
		l.sems[key] = sem
	}
	l.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
