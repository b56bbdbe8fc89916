package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository for tests and single-node
// deployments. Claim atomicity comes from the repository mutex.
type MemoryRepository struct {
	mu         sync.Mutex
	commands   map[string]*Command // keyed by org|id
	jobs       map[string]*Job
	connectors map[string][]*Connector // keyed by org
	now        func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		commands:   make(map[string]*Command),
		jobs:       make(map[string]*Job),
		connectors: make(map[string][]*Connector),
		now:        time.Now,
	}
}

func scopedKey(orgID, id string) string { return orgID + "|" + id }

func (r *MemoryRepository) EnqueueDirectorCommand(ctx context.Context, cmd *Command, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	stored := *cmd
	stored.Status = CommandDispatched
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.commands[scopedKey(cmd.OrgID, cmd.ID)] = &stored

	queued := *job
	queued.Status = JobPending
	queued.ScheduledAt = now
	r.jobs[scopedKey(job.OrgID, job.ID)] = &queued

	cmd.Status = stored.Status
	job.Status = queued.Status
	return nil
}

func (r *MemoryRepository) GetCommand(ctx context.Context, orgID, commandID string) (*Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.commands[scopedKey(orgID, commandID)]
	if !ok {
		return nil, errCommandNotFound
	}
	copied := *cmd
	return &copied, nil
}

func (r *MemoryRepository) ListSessionCommands(ctx context.Context, orgID, sessionID string, limit int) ([]*Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Command
	for _, cmd := range r.commands {
		if cmd.OrgID == orgID && cmd.SessionID == sessionID {
			copied := *cmd
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) GetJob(ctx context.Context, orgID, jobID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[scopedKey(orgID, jobID)]
	if !ok {
		return nil, errJobNotFound
	}
	copied := *job
	return &copied, nil
}

// ClaimJob hands the oldest pending job for (org, worker) to the caller.
// Holding the mutex across select-and-mark is what makes the claim
// exactly-once.
func (r *MemoryRepository) ClaimJob(ctx context.Context, orgID, worker, userID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest *Job
	for _, job := range r.jobs {
		if job.OrgID != orgID || job.Worker != worker || job.Status != JobPending {
			continue
		}
		if oldest == nil || job.ScheduledAt.Before(oldest.ScheduledAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, ErrNoJob
	}

	now := r.now()
	oldest.Status = JobClaimed
	oldest.Attempts++
	oldest.StartedAt = &now
	if oldest.Metadata == nil {
		oldest.Metadata = make(map[string]string)
	}
	oldest.Metadata["claimed_by"] = userID

	copied := *oldest
	return &copied, nil
}

func (r *MemoryRepository) UpdateJobStatus(ctx context.Context, orgID, jobID string, status JobStatus, jobErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[scopedKey(orgID, jobID)]
	if !ok {
		return errJobNotFound
	}
	if !jobTransitionAllowed(job.Status, status) {
		return invalidTransitionError(string(job.Status), string(status))
	}
	now := r.now()
	job.Status = status
	switch status {
	case JobCompleted:
		job.CompletedAt = &now
	case JobFailed:
		job.FailedAt = &now
		job.LastError = jobErr
	}
	return nil
}

func (r *MemoryRepository) UpdateCommandStatus(ctx context.Context, orgID, commandID string, status CommandStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.commands[scopedKey(orgID, commandID)]
	if !ok {
		return errCommandNotFound
	}
	if !commandTransitionAllowed(cmd.Status, status) {
		return invalidTransitionError(string(cmd.Status), string(status))
	}
	cmd.Status = status
	cmd.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) RegisterConnector(ctx context.Context, conn *Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.CreatedAt = r.now()
	copied := *conn
	r.connectors[conn.OrgID] = append(r.connectors[conn.OrgID], &copied)
	return nil
}

func (r *MemoryRepository) ListConnectors(ctx context.Context, orgID string) ([]*Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connector, 0, len(r.connectors[orgID]))
	for _, conn := range r.connectors[orgID] {
		copied := *conn
		out = append(out, &copied)
	}
	return out, nil
}
