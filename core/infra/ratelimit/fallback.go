package ratelimit

import (
	"context"
	"time"

	"github.com/lexgate/lexgate/core/infra/logging"
)

// FallbackLimiter wraps a primary limiter with a secondary used when the
// primary errors. The distributed counter degrading to a process-local one
// fails open across instances; that is the chosen availability tradeoff for
// interactive traffic, not a bug.
type FallbackLimiter struct {
	primary   Limiter
	secondary Limiter
}

func NewFallbackLimiter(primary, secondary Limiter) *FallbackLimiter {
	return &FallbackLimiter{primary: primary, secondary: secondary}
}

func (l *FallbackLimiter) Hit(ctx context.Context, key string) (Result, error) {
	res, err := l.primary.Hit(ctx, key)
	if err == nil {
		return res, nil
	}
	logging.Warn("ratelimit", "primary limiter failed, using fallback", "key", key, "error", err)
	return l.secondary.Hit(ctx, key)
}

// Block applies to both limiters so an abuse block survives the primary
// coming back.
func (l *FallbackLimiter) Block(ctx context.Context, key string, d time.Duration) error {
	err := l.primary.Block(ctx, key, d)
	if secErr := l.secondary.Block(ctx, key, d); err == nil {
		err = secErr
	}
	return err
}

func (l *FallbackLimiter) Reset(ctx context.Context, key string) error {
	err := l.primary.Reset(ctx, key)
	if secErr := l.secondary.Reset(ctx, key); err == nil {
		err = secErr
	}
	return err
}
