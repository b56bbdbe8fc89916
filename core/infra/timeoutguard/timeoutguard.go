package timeoutguard

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is raised when the guarded operation loses the race against
// the deadline. The caller maps it to HTTP 504.
var ErrTimeout = errors.New("timeout_guard")

// Guard races an operation against a deadline. Instances are per-run and
// never reused. Cancellation is cooperative: the operation receives a
// context that is cancelled on expiry, but the guard does not wait for it
// to observe the cancellation. Callers must assume a timed-out operation
// may still be running remotely with its side effects intact.
type Guard struct {
	timeout time.Duration
}

// New constructs a guard. A zero timeout is an explicit opt-out: Run
// executes the operation inline with no timer.
func New(timeout time.Duration) *Guard {
	if timeout < 0 {
		timeout = 0
	}
	return &Guard{timeout: timeout}
}

type outcome[T any] struct {
	value T
	err   error
}

// Run executes op, abandoning it if the deadline expires first.
func Run[T any](g *Guard, ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if g == nil || g.timeout == 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithCancel(ctx)
	timer := time.NewTimer(g.timeout)
	// Both branches stop the timer so it never leaks a goroutine.
	defer timer.Stop()
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		value, err := op(opCtx)
		done <- outcome[T]{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
