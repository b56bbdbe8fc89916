package orchestrator

import (
	"context"
	"encoding/json"
	"time"
)

// CommandStatus captures a command's lifecycle.
type CommandStatus string

const (
	CommandPending    CommandStatus = "pending"
	CommandRejected   CommandStatus = "rejected"
	CommandDispatched CommandStatus = "dispatched"
	CommandCompleted  CommandStatus = "completed"
	CommandFailed     CommandStatus = "failed"
)

var commandTransitions = map[CommandStatus][]CommandStatus{
	CommandPending:    {CommandDispatched, CommandRejected},
	CommandDispatched: {CommandCompleted, CommandFailed},
}

// JobStatus captures a dispatched job's lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobClaimed   JobStatus = "claimed"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending: {JobClaimed},
	JobClaimed: {JobCompleted, JobFailed},
}

func commandTransitionAllowed(from, to CommandStatus) bool {
	for _, next := range commandTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func jobTransitionAllowed(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Command is a durable request for orchestrated work.
type Command struct {
	ID           string          `json:"id"`
	OrgID        string          `json:"org_id"`
	SessionID    string          `json:"session_id,omitempty"`
	CommandType  string          `json:"command_type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Worker       string          `json:"worker"`
	IssuedBy     string          `json:"issued_by"`
	Status       CommandStatus   `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Job is the claimable unit of work derived from an accepted command.
type Job struct {
	ID          string            `json:"id"`
	OrgID       string            `json:"org_id"`
	CommandID   string            `json:"command_id"`
	Worker      string            `json:"worker"`
	DomainAgent string            `json:"domain_agent,omitempty"`
	Status      JobStatus         `json:"status"`
	Attempts    int               `json:"attempts"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	FailedAt    *time.Time        `json:"failed_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Connector is a registered integration endpoint for a worker.
type Connector struct {
	ID            string            `json:"id"`
	OrgID         string            `json:"org_id"`
	ConnectorType string            `json:"connector_type"`
	Name          string            `json:"name"`
	Config        json.RawMessage   `json:"config,omitempty"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedBy     string            `json:"created_by"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Assessment is the safety verdict for a command envelope.
type Assessment struct {
	Allowed     bool     `json:"allowed"`
	Reasons     []string `json:"reasons,omitempty"`
	Mitigations []string `json:"mitigations,omitempty"`
}

// Envelope is what the safety service sees when assessing a command.
type Envelope struct {
	OrgID       string          `json:"org_id"`
	SessionID   string          `json:"session_id,omitempty"`
	CommandType string          `json:"command_type"`
	Worker      string          `json:"worker"`
	Payload     json.RawMessage `json:"payload"`
	IssuedBy    string          `json:"issued_by"`
	Priority    int             `json:"priority"`
}

// SafetyGateway assesses a command envelope before dispatch.
type SafetyGateway interface {
	Assess(ctx context.Context, env Envelope) (Assessment, error)
}

// Repository persists commands, jobs and connectors. Claim atomicity is a
// contract on the implementation: one pending job goes to exactly one caller.
type Repository interface {
	EnqueueDirectorCommand(ctx context.Context, cmd *Command, job *Job) error
	GetCommand(ctx context.Context, orgID, commandID string) (*Command, error)
	ListSessionCommands(ctx context.Context, orgID, sessionID string, limit int) ([]*Command, error)
	GetJob(ctx context.Context, orgID, jobID string) (*Job, error)
	ClaimJob(ctx context.Context, orgID, worker, userID string) (*Job, error)
	UpdateJobStatus(ctx context.Context, orgID, jobID string, status JobStatus, jobErr string) error
	UpdateCommandStatus(ctx context.Context, orgID, commandID string, status CommandStatus) error
	RegisterConnector(ctx context.Context, conn *Connector) error
	ListConnectors(ctx context.Context, orgID string) ([]*Connector, error)
}
