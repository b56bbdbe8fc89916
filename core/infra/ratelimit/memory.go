package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a process-local fixed-window counter. It serves
// single-instance deployments and tests, and acts as the fail-open
// secondary behind distributed backends.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]*windowCounter
}

type windowCounter struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

// Option tweaks limiter construction.
type Option func(*MemoryLimiter)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(l *MemoryLimiter) { l.now = now }
}

// NewMemoryLimiter constructs an isolated in-memory limiter. The counters
// map is constructor-scoped so concurrent tests never share state.
func NewMemoryLimiter(limit int, window time.Duration, opts ...Option) *MemoryLimiter {
	l := &MemoryLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string]*windowCounter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Hit counts one request for key inside the current window. The window
// starts at the first hit and resets once it has fully elapsed.
func (l *MemoryLimiter) Hit(_ context.Context, key string) (Result, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if ok && now.Before(c.blockedUntil) {
		return deny(c.blockedUntil), nil
	}
	if !ok || now.Sub(c.windowStart) >= l.window {
		// No counter, or an already-expired one: first hit of a new window.
		c = &windowCounter{windowStart: now}
		l.counters[key] = c
	}
	c.count++
	resetAt := c.windowStart.Add(l.window)
	if c.count > l.limit {
		return deny(resetAt), nil
	}
	return Result{Allowed: true, Remaining: clampRemaining(l.limit, c.count), ResetAt: resetAt}, nil
}

// Block force-denies key until d elapses.
func (l *MemoryLimiter) Block(_ context.Context, key string, d time.Duration) error {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[key]
	if !ok {
		c = &windowCounter{windowStart: now}
		l.counters[key] = c
	}
	c.blockedUntil = now.Add(d)
	return nil
}

// Reset clears all state for key.
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counters, key)
	return nil
}
