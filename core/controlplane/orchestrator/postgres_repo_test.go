package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if i >= len(r.values) {
			break
		}
		switch target := d.(type) {
		case *string:
			*target = r.values[i].(string)
		case *int:
			*target = r.values[i].(int)
		case *bool:
			*target = r.values[i].(bool)
		case *time.Time:
			*target = r.values[i].(time.Time)
		case **time.Time:
			if v, ok := r.values[i].(*time.Time); ok {
				*target = v
			}
		case *[]byte:
			if v, ok := r.values[i].([]byte); ok {
				*target = v
			}
		}
	}
	return nil
}

type fakePg struct {
	row      fakeRow
	lastSQL  string
	lastArgs []any
}

func (f *fakePg) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.lastSQL = sql
	f.lastArgs = args
	return f.row
}

func (f *fakePg) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePg) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func TestPostgresEnqueueCarriesDomainAgent(t *testing.T) {
	now := time.Now()
	db := &fakePg{row: fakeRow{values: []any{"dispatched", "pending", now}}}
	repo := NewPostgresRepository(db)

	cmd := &Command{ID: "cmd-1", OrgID: "org-1", CommandType: "finance.transfer",
		Payload: []byte(`{}`), Worker: "finance-pool", IssuedBy: "user-1"}
	job := &Job{ID: "job-1", OrgID: "org-1", CommandID: "cmd-1",
		Worker: "finance-pool", DomainAgent: "treasury-agent"}

	if err := repo.EnqueueDirectorCommand(context.Background(), cmd, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(db.lastArgs) != 12 {
		t.Fatalf("args = %d, want 12", len(db.lastArgs))
	}
	if db.lastArgs[10] != "treasury-agent" {
		t.Fatalf("domain agent arg = %v", db.lastArgs[10])
	}
	if cmd.Status != CommandDispatched || job.Status != JobPending {
		t.Fatalf("cmd = %s, job = %s", cmd.Status, job.Status)
	}
}

func TestPostgresClaimMapsNoRows(t *testing.T) {
	repo := NewPostgresRepository(&fakePg{row: fakeRow{err: pgx.ErrNoRows}})
	_, err := repo.ClaimJob(context.Background(), "org-1", "finance-pool", "worker-1")
	if !errors.Is(err, ErrNoJob) {
		t.Fatalf("err = %v, want ErrNoJob", err)
	}
}

func TestPostgresClaimScansJob(t *testing.T) {
	started := time.Now()
	db := &fakePg{row: fakeRow{values: []any{
		"job-1", "org-1", "cmd-1", "finance-pool", "", "claimed", 1,
		started, &started, (*time.Time)(nil), (*time.Time)(nil), "", []byte(`{"claimed_by":"worker-1"}`),
	}}}
	repo := NewPostgresRepository(db)

	job, err := repo.ClaimJob(context.Background(), "org-1", "finance-pool", "worker-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.Status != JobClaimed || job.Attempts != 1 {
		t.Fatalf("job = %+v", job)
	}
	if job.Metadata["claimed_by"] != "worker-1" {
		t.Fatalf("metadata = %v", job.Metadata)
	}
}

func TestPostgresGetCommandNotFound(t *testing.T) {
	repo := NewPostgresRepository(&fakePg{row: fakeRow{err: pgx.ErrNoRows}})
	_, err := repo.GetCommand(context.Background(), "org-1", "ghost")
	if !errors.Is(err, errCommandNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestPostgresUpdateStatusesMapNotFound(t *testing.T) {
	repo := NewPostgresRepository(&fakePg{row: fakeRow{values: []any{false}}})
	if err := repo.UpdateJobStatus(context.Background(), "org-1", "ghost", JobCompleted, ""); !errors.Is(err, errJobNotFound) {
		t.Fatalf("err = %v", err)
	}
	if err := repo.UpdateCommandStatus(context.Background(), "org-1", "ghost", CommandCompleted); !errors.Is(err, errCommandNotFound) {
		t.Fatalf("err = %v", err)
	}
}
