package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexgate/lexgate/core/infra/bus"
	"github.com/lexgate/lexgate/core/infra/logging"
	"github.com/lexgate/lexgate/core/infra/metrics"
)

// defaultSessionListLimit caps session command listings.
const defaultSessionListLimit = 200

// connectorSchemaID keys connector config schemas in the registry.
func connectorSchemaID(connectorType string) string {
	return "connector." + connectorType
}

// CreateCommandInput is the caller's request for orchestrated work.
type CreateCommandInput struct {
	OrgID        string          `json:"-"`
	IssuedBy     string          `json:"-"`
	SessionID    string          `json:"session_id,omitempty"`
	CommandType  string          `json:"command_type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority,omitempty"`
	ScheduledFor time.Time       `json:"scheduled_for,omitempty"`
	Worker       string          `json:"worker"`
	DomainAgent  string          `json:"domain_agent,omitempty"`
}

// CreateCommandResult is returned once a command is accepted and queued.
type CreateCommandResult struct {
	CommandID    string        `json:"command_id"`
	JobID        string        `json:"job_id"`
	SessionID    string        `json:"session_id,omitempty"`
	Status       CommandStatus `json:"status"`
	ScheduledFor time.Time     `json:"scheduled_for"`
	Safety       Assessment    `json:"safety"`
}

// CompleteJobInput carries a worker's terminal report for a claimed job.
type CompleteJobInput struct {
	OrgID  string          `json:"-"`
	JobID  string          `json:"-"`
	UserID string          `json:"-"`
	Status JobStatus       `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RegisterConnectorInput describes a connector an admin is installing.
type RegisterConnectorInput struct {
	OrgID         string            `json:"-"`
	CreatedBy     string            `json:"-"`
	ConnectorType string            `json:"connector_type"`
	Name          string            `json:"name"`
	Config        json.RawMessage   `json:"config,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Capabilities lists what an organization has wired up.
type Capabilities struct {
	OrgID        string       `json:"org_id"`
	Connectors   []*Connector `json:"connectors"`
	CommandTypes []string     `json:"command_types"`
}

// ConnectorSchemaValidator checks a connector's configuration document
// against the schema registered for its connector type. Types with no
// registered schema validate trivially.
type ConnectorSchemaValidator interface {
	ValidateID(ctx context.Context, id string, value any) error
}

// Service owns the command and job state machines. All transitions go
// through here.
type Service struct {
	repo             Repository
	safety           SafetyGateway
	schemas          *CommandSchemas
	connectorSchemas ConnectorSchemaValidator
	bus              bus.Bus
	metrics          metrics.OrchestratorMetrics
	now              func() time.Time
	newID            func() string
}

func NewService(repo Repository, safety SafetyGateway, schemas *CommandSchemas, eventBus bus.Bus, m metrics.OrchestratorMetrics) *Service {
	if schemas == nil {
		schemas = DefaultCommandSchemas()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Service{
		repo:    repo,
		safety:  safety,
		schemas: schemas,
		bus:     eventBus,
		metrics: m,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// WithConnectorSchemas attaches a schema store for connector config
// validation. Without one, configs are accepted unvalidated.
func (s *Service) WithConnectorSchemas(validator ConnectorSchemaValidator) *Service {
	s.connectorSchemas = validator
	return s
}

// CreateCommand validates, safety-checks and enqueues a command. Nothing is
// persisted until the safety assessment accepts, so a rejection leaves no
// rows behind.
func (s *Service) CreateCommand(ctx context.Context, input CreateCommandInput) (*CreateCommandResult, error) {
	commandType := strings.TrimSpace(input.CommandType)
	if commandType == "" {
		return nil, invalidCommandError("command_type is required")
	}
	worker := strings.TrimSpace(input.Worker)
	if worker == "" {
		return nil, invalidCommandError("worker is required")
	}
	if err := s.schemas.ValidatePayload(commandType, input.Payload); err != nil {
		s.metrics.IncCommandsRejected(commandType)
		return nil, invalidPayloadError(commandType, err)
	}

	scheduledFor := input.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = s.now()
	}

	envelope := Envelope{
		OrgID:       input.OrgID,
		SessionID:   input.SessionID,
		CommandType: commandType,
		Worker:      worker,
		Payload:     input.Payload,
		IssuedBy:    input.IssuedBy,
		Priority:    input.Priority,
	}
	assessment, err := s.safety.Assess(ctx, envelope)
	if err != nil {
		return nil, err
	}
	if !assessment.Allowed {
		s.metrics.IncCommandsRejected(commandType)
		logging.Info("orchestrator", "command rejected",
			"org", input.OrgID, "type", commandType, "reasons", strings.Join(assessment.Reasons, "; "))
		return nil, rejectionError(assessment)
	}

	cmd := &Command{
		ID:           s.newID(),
		OrgID:        input.OrgID,
		SessionID:    input.SessionID,
		CommandType:  commandType,
		Payload:      input.Payload,
		Priority:     input.Priority,
		ScheduledFor: scheduledFor,
		Worker:       worker,
		IssuedBy:     input.IssuedBy,
		Status:       CommandPending,
	}
	job := &Job{
		ID:          s.newID(),
		OrgID:       input.OrgID,
		CommandID:   cmd.ID,
		Worker:      worker,
		DomainAgent: input.DomainAgent,
		Status:      JobPending,
	}
	if err := s.repo.EnqueueDirectorCommand(ctx, cmd, job); err != nil {
		return nil, err
	}
	s.metrics.IncCommandsCreated(commandType)
	s.publish(bus.AvailableSubject(worker), job, string(job.Status))

	return &CreateCommandResult{
		CommandID:    cmd.ID,
		JobID:        job.ID,
		SessionID:    cmd.SessionID,
		Status:       cmd.Status,
		ScheduledFor: cmd.ScheduledFor,
		Safety:       assessment,
	}, nil
}

// ClaimJob hands one pending job to the calling worker. ErrNoJob means the
// pool is drained, which the transport maps to 204.
func (s *Service) ClaimJob(ctx context.Context, orgID, worker, userID string) (*Job, error) {
	job, err := s.repo.ClaimJob(ctx, orgID, worker, userID)
	if err != nil {
		return nil, err
	}
	s.metrics.IncJobsClaimed(worker)
	return job, nil
}

// CompleteJob records a worker's terminal report. The result is re-validated
// against the command's schema before any state moves, so a malformed result
// leaves the job claimed and retryable.
func (s *Service) CompleteJob(ctx context.Context, input CompleteJobInput) (*Job, error) {
	if input.Status != JobCompleted && input.Status != JobFailed {
		return nil, invalidTransitionError("claimed", string(input.Status))
	}

	job, err := s.repo.GetJob(ctx, input.OrgID, input.JobID)
	if err != nil {
		return nil, err
	}
	cmd, err := s.repo.GetCommand(ctx, input.OrgID, job.CommandID)
	if err != nil {
		return nil, err
	}

	if input.Status == JobCompleted {
		if err := s.schemas.ValidateResult(cmd.CommandType, input.Result); err != nil {
			return nil, invalidResultError(cmd.CommandType, err)
		}
	}

	if err := s.repo.UpdateJobStatus(ctx, input.OrgID, input.JobID, input.Status, input.Error); err != nil {
		return nil, err
	}
	commandStatus := CommandCompleted
	if input.Status == JobFailed {
		commandStatus = CommandFailed
	}
	if err := s.repo.UpdateCommandStatus(ctx, input.OrgID, job.CommandID, commandStatus); err != nil {
		return nil, err
	}

	s.metrics.IncJobsCompleted(job.Worker, string(input.Status))
	s.publish(bus.CompletedSubject(job.Worker), job, string(input.Status))

	return s.repo.GetJob(ctx, input.OrgID, input.JobID)
}

// GetCommand returns one command scoped to the organization.
func (s *Service) GetCommand(ctx context.Context, orgID, commandID string) (*Command, error) {
	return s.repo.GetCommand(ctx, orgID, commandID)
}

// ListSessionCommands returns a session's commands in creation order.
// limit <= 0 or above the cap falls back to defaultSessionListLimit.
func (s *Service) ListSessionCommands(ctx context.Context, orgID, sessionID string, limit int) ([]*Command, error) {
	if limit <= 0 || limit > defaultSessionListLimit {
		limit = defaultSessionListLimit
	}
	return s.repo.ListSessionCommands(ctx, orgID, sessionID, limit)
}

// GetCapabilities lists the organization's connectors and the command types
// the gateway validates.
func (s *Service) GetCapabilities(ctx context.Context, orgID string) (*Capabilities, error) {
	connectors, err := s.repo.ListConnectors(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if connectors == nil {
		connectors = []*Connector{}
	}
	return &Capabilities{
		OrgID:        orgID,
		Connectors:   connectors,
		CommandTypes: s.schemas.Types(),
	}, nil
}

// RegisterConnector installs a connector. Admin-only enforcement happens in
// the authorization action this is called under.
func (s *Service) RegisterConnector(ctx context.Context, input RegisterConnectorInput) (*Connector, error) {
	if strings.TrimSpace(input.ConnectorType) == "" {
		return nil, invalidCommandError("connector_type is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, invalidCommandError("name is required")
	}
	if s.connectorSchemas != nil && len(input.Config) > 0 {
		var cfg any
		if err := json.Unmarshal(input.Config, &cfg); err != nil {
			return nil, invalidConnectorConfigError("config is not valid JSON")
		}
		if err := s.connectorSchemas.ValidateID(ctx, connectorSchemaID(input.ConnectorType), cfg); err != nil {
			return nil, invalidConnectorConfigError(err.Error())
		}
	}
	conn := &Connector{
		ID:            s.newID(),
		OrgID:         input.OrgID,
		ConnectorType: input.ConnectorType,
		Name:          input.Name,
		Config:        input.Config,
		Status:        "active",
		Metadata:      input.Metadata,
		CreatedBy:     input.CreatedBy,
	}
	if err := s.repo.RegisterConnector(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// publish emits a lifecycle event. Delivery is best-effort; failures are
// logged and never fail the request.
func (s *Service) publish(subject string, job *Job, status string) {
	if s.bus == nil || subject == "" {
		return
	}
	event := &bus.JobEvent{
		JobID:     job.ID,
		CommandID: job.CommandID,
		OrgID:     job.OrgID,
		Worker:    job.Worker,
		Status:    status,
		At:        s.now().Unix(),
	}
	if err := s.bus.Publish(subject, event); err != nil {
		logging.Warn("orchestrator", "event publish failed", "subject", subject, "err", err)
	}
}
