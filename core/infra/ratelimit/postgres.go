package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgConn is the slice of pgxpool.Pool the limiter needs; narrowed so tests
// can substitute a fake.
type PgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLimiter counts hits through a server-side stored procedure, which
// makes it the strongest-consistency (and slowest) backend. Unlike the Redis
// backend it does not fall back on error: it surfaces ErrUnavailable and
// lets the caller choose a policy.
type PostgresLimiter struct {
	conn   PgConn
	limit  int
	window time.Duration
}

func NewPostgresLimiter(conn PgConn, limit int, window time.Duration) *PostgresLimiter {
	return &PostgresLimiter{conn: conn, limit: limit, window: window}
}

func (l *PostgresLimiter) Hit(ctx context.Context, key string) (Result, error) {
	var (
		allowed   bool
		remaining int
		resetAt   time.Time
	)
	row := l.conn.QueryRow(ctx,
		`SELECT allowed, remaining, reset_at FROM rate_limit_hit($1, $2, $3)`,
		key, l.limit, l.window.Milliseconds())
	if err := row.Scan(&allowed, &remaining, &resetAt); err != nil {
		return Result{}, fmt.Errorf("%w: postgres hit: %v", ErrUnavailable, err)
	}
	if !allowed {
		return deny(resetAt), nil
	}
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *PostgresLimiter) Block(ctx context.Context, key string, d time.Duration) error {
	if _, err := l.conn.Exec(ctx, `SELECT rate_limit_block($1, $2)`, key, d.Milliseconds()); err != nil {
		return fmt.Errorf("%w: postgres block: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *PostgresLimiter) Reset(ctx context.Context, key string) error {
	if _, err := l.conn.Exec(ctx, `SELECT rate_limit_reset($1)`, key); err != nil {
		return fmt.Errorf("%w: postgres reset: %v", ErrUnavailable, err)
	}
	return nil
}
