package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/lexgate/lexgate/core/controlplane/apierror"
	"github.com/lexgate/lexgate/core/infra/bus"
	"github.com/lexgate/lexgate/core/infra/schema"
)

func TestCreateCommandAccepted(t *testing.T) {
	svc, repo, eventBus := newTestService(allowAll())

	result, err := createFinanceCommand(svc)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Status != CommandDispatched {
		t.Fatalf("status = %s", result.Status)
	}
	if result.CommandID == "" || result.JobID == "" {
		t.Fatalf("result = %+v", result)
	}
	if !result.Safety.Allowed {
		t.Fatal("safety verdict should be carried in the result")
	}

	cmd, err := repo.GetCommand(context.Background(), "org-1", result.CommandID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if cmd.Status != CommandDispatched {
		t.Fatalf("persisted status = %s", cmd.Status)
	}
	job, err := repo.GetJob(context.Background(), "org-1", result.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != JobPending || job.CommandID != result.CommandID {
		t.Fatalf("job = %+v", job)
	}
	if eventBus.published(bus.AvailableSubject("finance-pool")) != 1 {
		t.Fatal("expected one availability event")
	}
}

func TestCreateCommandInvalidPayload(t *testing.T) {
	svc, repo, _ := newTestService(allowAll())

	_, err := svc.CreateCommand(context.Background(), CreateCommandInput{
		OrgID:       "org-1",
		IssuedBy:    "user-1",
		CommandType: "finance.transfer",
		Payload:     []byte(`{"currency": "EUR", "beneficiary": "acme-sarl"}`),
		Worker:      "finance-pool",
	})
	apiErr := apierror.From(err)
	if apiErr.Code != "invalid_finance_command_payload" {
		t.Fatalf("code = %s", apiErr.Code)
	}
	if apiErr.Status != 400 {
		t.Fatalf("status = %d", apiErr.Status)
	}

	// Validation failure happens before anything is persisted.
	commands, _ := repo.ListSessionCommands(context.Background(), "org-1", "", 0)
	if len(commands) != 0 {
		t.Fatalf("no command row should exist, got %d", len(commands))
	}
}

func TestCreateCommandSafetyRejection(t *testing.T) {
	safety := &stubSafety{assessment: Assessment{
		Allowed:     false,
		Reasons:     []string{"transfer exceeds org limit"},
		Mitigations: []string{"split the transfer", "request a limit raise"},
	}}
	svc, repo, eventBus := newTestService(safety)

	_, err := createFinanceCommand(svc)
	apiErr := apierror.From(err)
	if apiErr.Code != "command_rejected" || apiErr.Status != 409 {
		t.Fatalf("apiErr = %+v", apiErr)
	}
	if len(apiErr.Reasons) != 1 || len(apiErr.Mitigations) != 2 {
		t.Fatalf("rejection must carry reasons and mitigations: %+v", apiErr)
	}

	commands, _ := repo.ListSessionCommands(context.Background(), "org-1", "sess-1", 0)
	if len(commands) != 0 {
		t.Fatal("rejected command must not be persisted")
	}
	if eventBus.published(bus.AvailableSubject("finance-pool")) != 0 {
		t.Fatal("rejected command must not publish availability")
	}
}

func TestCreateCommandMissingFields(t *testing.T) {
	svc, _, _ := newTestService(allowAll())
	_, err := svc.CreateCommand(context.Background(), CreateCommandInput{OrgID: "org-1", Worker: "w"})
	if apierror.From(err).Code != "invalid_command" {
		t.Fatalf("err = %v", err)
	}
	_, err = svc.CreateCommand(context.Background(), CreateCommandInput{OrgID: "org-1", CommandType: "legal.research"})
	if apierror.From(err).Code != "invalid_command" {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateCommandUntypedSchemaSkipsValidation(t *testing.T) {
	svc, _, _ := newTestService(allowAll())
	result, err := svc.CreateCommand(context.Background(), CreateCommandInput{
		OrgID:       "org-1",
		IssuedBy:    "user-1",
		CommandType: "ops.ping",
		Payload:     []byte(`{"anything": true}`),
		Worker:      "ops-pool",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Status != CommandDispatched {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestClaimJobNone(t *testing.T) {
	svc, _, _ := newTestService(allowAll())
	_, err := svc.ClaimJob(context.Background(), "org-1", "finance-pool", "worker-1")
	if !errors.Is(err, ErrNoJob) {
		t.Fatalf("err = %v, want ErrNoJob", err)
	}
}

func TestClaimJobExactlyOnce(t *testing.T) {
	svc, _, _ := newTestService(allowAll())
	if _, err := createFinanceCommand(svc); err != nil {
		t.Fatalf("create: %v", err)
	}

	const claimers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []string
		misses  int
	)
	wg.Add(claimers)
	for i := 0; i < claimers; i++ {
		go func() {
			defer wg.Done()
			job, err := svc.ClaimJob(context.Background(), "org-1", "finance-pool", "worker-1")
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrNoJob) {
				misses++
				return
			}
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			claimed = append(claimed, job.ID)
		}()
	}
	wg.Wait()

	if len(claimed) != 1 {
		t.Fatalf("job claimed %d times, want exactly 1", len(claimed))
	}
	if misses != claimers-1 {
		t.Fatalf("misses = %d, want %d", misses, claimers-1)
	}
}

func TestClaimJobOldestFirst(t *testing.T) {
	svc, repo, _ := newTestService(allowAll())
	first, err := createFinanceCommand(svc)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Age the first job so ordering is observable.
	repo.mu.Lock()
	stored := repo.jobs[scopedKey("org-1", first.JobID)]
	stored.ScheduledAt = stored.ScheduledAt.Add(-time.Second)
	repo.mu.Unlock()
	if _, err := createFinanceCommand(svc); err != nil {
		t.Fatalf("create: %v", err)
	}

	job, err := svc.ClaimJob(context.Background(), "org-1", "finance-pool", "worker-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.ID != first.JobID {
		t.Fatalf("claimed %s, want the oldest job %s", job.ID, first.JobID)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d", job.Attempts)
	}
	if job.Metadata["claimed_by"] != "worker-1" {
		t.Fatalf("metadata = %v", job.Metadata)
	}
}

func TestCompleteJobInvalidResult(t *testing.T) {
	svc, repo, _ := newTestService(allowAll())
	created, err := createFinanceCommand(svc)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ClaimJob(context.Background(), "org-1", "finance-pool", "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err = svc.CompleteJob(context.Background(), CompleteJobInput{
		OrgID:  "org-1",
		JobID:  created.JobID,
		UserID: "worker-1",
		Status: JobCompleted,
		Result: []byte(`{"settled": true}`),
	})
	apiErr := apierror.From(err)
	if apiErr.Code != "invalid_finance_result" || apiErr.Status != 400 {
		t.Fatalf("apiErr = %+v", apiErr)
	}

	// A bad result must not move the job.
	job, _ := repo.GetJob(context.Background(), "org-1", created.JobID)
	if job.Status != JobClaimed {
		t.Fatalf("job status = %s, want claimed", job.Status)
	}
}

func TestCompleteJobSuccess(t *testing.T) {
	svc, repo, eventBus := newTestService(allowAll())
	created, err := createFinanceCommand(svc)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ClaimJob(context.Background(), "org-1", "finance-pool", "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	job, err := svc.CompleteJob(context.Background(), CompleteJobInput{
		OrgID:  "org-1",
		JobID:  created.JobID,
		UserID: "worker-1",
		Status: JobCompleted,
		Result: financeResult(),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if job.Status != JobCompleted || job.CompletedAt == nil {
		t.Fatalf("job = %+v", job)
	}

	cmd, _ := repo.GetCommand(context.Background(), "org-1", created.CommandID)
	if cmd.Status != CommandCompleted {
		t.Fatalf("command status = %s, want completed", cmd.Status)
	}
	if eventBus.published(bus.CompletedSubject("finance-pool")) != 1 {
		t.Fatal("expected one completion event")
	}
}

func TestCompleteJobFailure(t *testing.T) {
	svc, repo, _ := newTestService(allowAll())
	created, err := createFinanceCommand(svc)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ClaimJob(context.Background(), "org-1", "finance-pool", "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	job, err := svc.CompleteJob(context.Background(), CompleteJobInput{
		OrgID:  "org-1",
		JobID:  created.JobID,
		UserID: "worker-1",
		Status: JobFailed,
		Error:  "ledger write refused",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if job.Status != JobFailed || job.LastError != "ledger write refused" || job.FailedAt == nil {
		t.Fatalf("job = %+v", job)
	}
	cmd, _ := repo.GetCommand(context.Background(), "org-1", created.CommandID)
	if cmd.Status != CommandFailed {
		t.Fatalf("command status = %s", cmd.Status)
	}
}

func TestCompleteJobWithoutClaim(t *testing.T) {
	svc, _, _ := newTestService(allowAll())
	created, err := createFinanceCommand(svc)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = svc.CompleteJob(context.Background(), CompleteJobInput{
		OrgID:  "org-1",
		JobID:  created.JobID,
		Status: JobCompleted,
		Result: financeResult(),
	})
	if apierror.From(err).Code != "invalid_status_transition" {
		t.Fatalf("err = %v", err)
	}
}

func TestCompleteJobUnknownJob(t *testing.T) {
	svc, _, _ := newTestService(allowAll())
	_, err := svc.CompleteJob(context.Background(), CompleteJobInput{
		OrgID:  "org-1",
		JobID:  "ghost",
		Status: JobFailed,
	})
	apiErr := apierror.From(err)
	if apiErr.Code != "job_not_found" || apiErr.Status != 404 {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestCapabilitiesAndConnectors(t *testing.T) {
	svc, _, _ := newTestService(allowAll())

	caps, err := svc.GetCapabilities(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if len(caps.Connectors) != 0 {
		t.Fatalf("connectors = %v", caps.Connectors)
	}
	if len(caps.CommandTypes) == 0 {
		t.Fatal("built-in command types should be listed")
	}

	conn, err := svc.RegisterConnector(context.Background(), RegisterConnectorInput{
		OrgID:         "org-1",
		CreatedBy:     "admin-1",
		ConnectorType: "erp",
		Name:          "prod-erp",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if conn.ID == "" || conn.Status != "active" {
		t.Fatalf("conn = %+v", conn)
	}

	caps, err = svc.GetCapabilities(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if len(caps.Connectors) != 1 || caps.Connectors[0].Name != "prod-erp" {
		t.Fatalf("connectors = %+v", caps.Connectors)
	}
}

func TestRegisterConnectorValidation(t *testing.T) {
	svc, _, _ := newTestService(allowAll())
	if _, err := svc.RegisterConnector(context.Background(), RegisterConnectorInput{OrgID: "org-1", Name: "x"}); err == nil {
		t.Fatal("missing connector_type should fail")
	}
	if _, err := svc.RegisterConnector(context.Background(), RegisterConnectorInput{OrgID: "org-1", ConnectorType: "erp"}); err == nil {
		t.Fatal("missing name should fail")
	}
}

func TestRegisterConnectorConfigSchema(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	registry, err := schema.NewRegistry("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close() })

	ctx := context.Background()
	erpSchema := []byte(`{"type":"object","required":["endpoint"],"properties":{"endpoint":{"type":"string"}}}`)
	if err := registry.Register(ctx, "connector.erp", erpSchema); err != nil {
		t.Fatalf("register schema: %v", err)
	}

	svc, repo, _ := newTestService(allowAll())
	svc.WithConnectorSchemas(registry)

	_, err = svc.RegisterConnector(ctx, RegisterConnectorInput{
		OrgID: "org-1", ConnectorType: "erp", Name: "prod-erp",
		Config: json.RawMessage(`{"region":"eu-west"}`),
	})
	if !apierror.Is(err, "invalid_connector_config") {
		t.Fatalf("err = %v, want invalid_connector_config", err)
	}
	connectors, _ := repo.ListConnectors(ctx, "org-1")
	if len(connectors) != 0 {
		t.Fatal("rejected connector must not be persisted")
	}

	conn, err := svc.RegisterConnector(ctx, RegisterConnectorInput{
		OrgID: "org-1", ConnectorType: "erp", Name: "prod-erp",
		Config: json.RawMessage(`{"endpoint":"https://erp.example.com"}`),
	})
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if conn.Status != "active" {
		t.Fatalf("status = %s", conn.Status)
	}

	// Types without a registered schema accept any config.
	if _, err := svc.RegisterConnector(ctx, RegisterConnectorInput{
		OrgID: "org-1", ConnectorType: "crm", Name: "prod-crm",
		Config: json.RawMessage(`{"anything":true}`),
	}); err != nil {
		t.Fatalf("unregistered type: %v", err)
	}
}

func TestListSessionCommandsScoped(t *testing.T) {
	svc, _, _ := newTestService(allowAll())
	if _, err := createFinanceCommand(svc); err != nil {
		t.Fatalf("create: %v", err)
	}

	commands, err := svc.ListSessionCommands(context.Background(), "org-1", "sess-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(commands) != 1 {
		t.Fatalf("commands = %d", len(commands))
	}
	other, err := svc.ListSessionCommands(context.Background(), "org-2", "sess-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(other) != 0 {
		t.Fatal("commands must be scoped to the organization")
	}
}
