package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Result reports the outcome of a single fixed-window hit.
// Remaining is always zero when Allowed is false.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// ErrUnavailable signals that a backing store could not answer. Callers
// decide whether that fails open or closed; the Guard fails open.
var ErrUnavailable = errors.New("rate_limit_unavailable")

// Limiter is the admission primitive: atomically count a hit for a key
// within the current window and report allow/deny plus remaining quota.
//
// Keys are opaque; callers compose them (org:user:scope, ip:scope) so quota
// is scoped per caller-intent rather than global.
type Limiter interface {
	Hit(ctx context.Context, key string) (Result, error)
	// Block force-denies a key for the given duration, independent of
	// normal window accounting. Used for abuse response.
	Block(ctx context.Context, key string, d time.Duration) error
	// Reset clears all state for a key. Best-effort on distributed backends.
	Reset(ctx context.Context, key string) error
}

func deny(resetAt time.Time) Result {
	return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
}

func clampRemaining(limit, count int) int {
	remaining := limit - count
	if remaining < 0 {
		return 0
	}
	return remaining
}
