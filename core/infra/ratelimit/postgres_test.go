package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePg struct {
	row     fakeRow
	execErr error
	lastSQL string
}

func (f *fakePg) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.lastSQL = sql
	return f.row
}

func (f *fakePg) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.lastSQL = sql
	return pgconn.CommandTag{}, f.execErr
}

func TestPostgresLimiterHit(t *testing.T) {
	resetAt := time.Now().Add(time.Minute)
	conn := &fakePg{row: fakeRow{scan: func(dest ...any) error {
		*dest[0].(*bool) = true
		*dest[1].(*int) = 4
		*dest[2].(*time.Time) = resetAt
		return nil
	}}}
	l := NewPostgresLimiter(conn, 5, time.Minute)

	res, err := l.Hit(context.Background(), "org:user:runs")
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if !res.Allowed || res.Remaining != 4 || !res.ResetAt.Equal(resetAt) {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPostgresLimiterDenied(t *testing.T) {
	conn := &fakePg{row: fakeRow{scan: func(dest ...any) error {
		*dest[0].(*bool) = false
		*dest[1].(*int) = 0
		*dest[2].(*time.Time) = time.Now().Add(30 * time.Second)
		return nil
	}}}
	l := NewPostgresLimiter(conn, 5, time.Minute)

	res, err := l.Hit(context.Background(), "k")
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("denied hit must report zero remaining: %+v", res)
	}
}

func TestPostgresLimiterUnavailable(t *testing.T) {
	conn := &fakePg{row: fakeRow{scan: func(...any) error {
		return errors.New("connection refused")
	}}}
	l := NewPostgresLimiter(conn, 5, time.Minute)

	_, err := l.Hit(context.Background(), "k")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestPostgresLimiterBlockAndReset(t *testing.T) {
	conn := &fakePg{}
	l := NewPostgresLimiter(conn, 5, time.Minute)
	ctx := context.Background()

	if err := l.Block(ctx, "k", time.Minute); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	conn.execErr = errors.New("down")
	if err := l.Block(ctx, "k", time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
