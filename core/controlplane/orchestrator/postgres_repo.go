package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgDB is the slice of pgxpool.Pool the repository uses.
type pgDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository persists commands and jobs in Postgres. Claim and
// enqueue atomicity live in server-side procedures (see db/schema.sql), not
// in this code.
type PostgresRepository struct {
	db pgDB
}

func NewPostgresRepository(db pgDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) EnqueueDirectorCommand(ctx context.Context, cmd *Command, job *Job) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("encode job metadata: %w", err)
	}
	row := r.db.QueryRow(ctx,
		`SELECT command_status, job_status, scheduled_at
		   FROM orchestrator_enqueue_command($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		cmd.ID, cmd.OrgID, nullable(cmd.SessionID), cmd.CommandType, []byte(cmd.Payload),
		cmd.Priority, cmd.ScheduledFor, cmd.Worker, cmd.IssuedBy, job.ID, job.DomainAgent, metadata,
	)
	var cmdStatus, jobStatus string
	var scheduledAt time.Time
	if err := row.Scan(&cmdStatus, &jobStatus, &scheduledAt); err != nil {
		return fmt.Errorf("enqueue command: %w", err)
	}
	cmd.Status = CommandStatus(cmdStatus)
	job.Status = JobStatus(jobStatus)
	job.ScheduledAt = scheduledAt
	return nil
}

func (r *PostgresRepository) GetCommand(ctx context.Context, orgID, commandID string) (*Command, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, org_id, COALESCE(session_id, ''), command_type, payload, priority,
		        scheduled_for, worker, issued_by, status, created_at, updated_at
		   FROM orchestrator_commands WHERE org_id = $1 AND id = $2`,
		orgID, commandID,
	)
	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get command: %w", err)
	}
	return cmd, nil
}

func (r *PostgresRepository) ListSessionCommands(ctx context.Context, orgID, sessionID string, limit int) ([]*Command, error) {
	if limit <= 0 {
		limit = defaultSessionListLimit
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, org_id, COALESCE(session_id, ''), command_type, payload, priority,
		        scheduled_for, worker, issued_by, status, created_at, updated_at
		   FROM orchestrator_commands
		  WHERE org_id = $1 AND session_id = $2
		  ORDER BY created_at
		  LIMIT $3`,
		orgID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list session commands: %w", err)
	}
	defer rows.Close()

	var out []*Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("list session commands: %w", err)
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetJob(ctx context.Context, orgID, jobID string) (*Job, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, org_id, command_id, worker, COALESCE(domain_agent, ''), status, attempts,
		        scheduled_at, started_at, completed_at, failed_at, COALESCE(last_error, ''), metadata
		   FROM orchestrator_jobs WHERE org_id = $1 AND id = $2`,
		orgID, jobID,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimJob delegates to the orchestrator_claim_job procedure, which selects
// the oldest pending job FOR UPDATE SKIP LOCKED and marks it claimed in one
// transaction. Zero rows means no work is available.
func (r *PostgresRepository) ClaimJob(ctx context.Context, orgID, worker, userID string) (*Job, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, org_id, command_id, worker, COALESCE(domain_agent, ''), status, attempts,
		        scheduled_at, started_at, completed_at, failed_at, COALESCE(last_error, ''), metadata
		   FROM orchestrator_claim_job($1, $2, $3)`,
		orgID, worker, userID,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) UpdateJobStatus(ctx context.Context, orgID, jobID string, status JobStatus, jobErr string) error {
	var ok bool
	row := r.db.QueryRow(ctx,
		`SELECT orchestrator_update_job_status($1, $2, $3, $4)`,
		orgID, jobID, string(status), nullable(jobErr),
	)
	if err := row.Scan(&ok); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if !ok {
		return errJobNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateCommandStatus(ctx context.Context, orgID, commandID string, status CommandStatus) error {
	var ok bool
	row := r.db.QueryRow(ctx,
		`SELECT orchestrator_update_command_status($1, $2, $3)`,
		orgID, commandID, string(status),
	)
	if err := row.Scan(&ok); err != nil {
		return fmt.Errorf("update command status: %w", err)
	}
	if !ok {
		return errCommandNotFound
	}
	return nil
}

func (r *PostgresRepository) RegisterConnector(ctx context.Context, conn *Connector) error {
	metadata, err := json.Marshal(conn.Metadata)
	if err != nil {
		return fmt.Errorf("encode connector metadata: %w", err)
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO orchestrator_connectors (id, org_id, connector_type, name, config, status, metadata, created_by)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 RETURNING created_at`,
		conn.ID, conn.OrgID, conn.ConnectorType, conn.Name, []byte(conn.Config), conn.Status, metadata, conn.CreatedBy,
	)
	if err := row.Scan(&conn.CreatedAt); err != nil {
		return fmt.Errorf("register connector: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListConnectors(ctx context.Context, orgID string) ([]*Connector, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, org_id, connector_type, name, config, status, metadata, created_by, created_at
		   FROM orchestrator_connectors WHERE org_id = $1 ORDER BY created_at`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	defer rows.Close()

	var out []*Connector
	for rows.Next() {
		var conn Connector
		var config, metadata []byte
		if err := rows.Scan(&conn.ID, &conn.OrgID, &conn.ConnectorType, &conn.Name,
			&config, &conn.Status, &metadata, &conn.CreatedBy, &conn.CreatedAt); err != nil {
			return nil, fmt.Errorf("list connectors: %w", err)
		}
		conn.Config = json.RawMessage(config)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &conn.Metadata); err != nil {
				return nil, fmt.Errorf("decode connector metadata: %w", err)
			}
		}
		out = append(out, &conn)
	}
	return out, rows.Err()
}

func scanCommand(row pgx.Row) (*Command, error) {
	var cmd Command
	var payload []byte
	var status string
	if err := row.Scan(&cmd.ID, &cmd.OrgID, &cmd.SessionID, &cmd.CommandType, &payload,
		&cmd.Priority, &cmd.ScheduledFor, &cmd.Worker, &cmd.IssuedBy, &status,
		&cmd.CreatedAt, &cmd.UpdatedAt); err != nil {
		return nil, err
	}
	cmd.Payload = json.RawMessage(payload)
	cmd.Status = CommandStatus(status)
	return &cmd, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var job Job
	var status string
	var metadata []byte
	if err := row.Scan(&job.ID, &job.OrgID, &job.CommandID, &job.Worker, &job.DomainAgent,
		&status, &job.Attempts, &job.ScheduledAt, &job.StartedAt, &job.CompletedAt,
		&job.FailedAt, &job.LastError, &metadata); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
