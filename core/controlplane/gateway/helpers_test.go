package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lexgate/lexgate/core/controlplane/orchestrator"
	"github.com/lexgate/lexgate/core/controlplane/policy"
	"github.com/lexgate/lexgate/core/infra/config"
	"github.com/lexgate/lexgate/core/infra/ratelimit"
)

// stubAgent answers runs with a canned result, optionally after a delay.
type stubAgent struct {
	result *RunResult
	err    error
	delay  time.Duration
}

func (a *stubAgent) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	if a.result != nil {
		return a.result, nil
	}
	return &RunResult{
		RunID:      "run-1",
		Data:       json.RawMessage(`{"answer":"analysis complete"}`),
		Notices:    []string{"informational use only"},
		TokensUsed: 42,
		Model:      "lex-1",
	}, nil
}

type allowAllSafety struct{}

func (allowAllSafety) Assess(ctx context.Context, env orchestrator.Envelope) (orchestrator.Assessment, error) {
	return orchestrator.Assessment{Allowed: true}, nil
}

type testEnv struct {
	server *Server
	store  *policy.MemoryStore
	repo   *orchestrator.MemoryRepository
	ts     *httptest.Server
}

type envOption func(*config.Config, *policy.MemoryStore)

func withRunTimeout(d time.Duration) envOption {
	return func(cfg *config.Config, _ *policy.MemoryStore) { cfg.RunTimeout = d }
}

func withRunBudget(tokens int) envOption {
	return func(cfg *config.Config, _ *policy.MemoryStore) { cfg.RunBudgetTokens = tokens }
}

func newTestEnv(t *testing.T, agent AgentRunner, opts ...envOption) *testEnv {
	t.Helper()

	store := policy.NewMemoryStore()
	store.SetMembership("org-1", "user-1", "member")
	store.SetMembership("org-1", "admin-1", "admin")
	store.SetMembership("org-1", "viewer-1", "viewer")

	cfg := &config.Config{
		HTTPAddr:         ":0",
		MetricsAddr:      ":0",
		RateLimitBackend: "memory",
		RunTimeout:       5 * time.Second,
		RunBudgetTokens:  4096,
	}
	for _, opt := range opts {
		opt(cfg, store)
	}

	repo := orchestrator.NewMemoryRepository()
	service := orchestrator.NewService(repo, allowAllSafety{}, orchestrator.DefaultCommandSchemas(), nil, nil)

	if agent == nil {
		agent = &stubAgent{}
	}
	limits := config.DefaultLimits()
	limiters := map[string]ratelimit.Limiter{
		bucketRuns:  ratelimit.NewMemoryLimiter(limits.Bucket(bucketRuns).Limit, limits.Bucket(bucketRuns).Window),
		bucketAgent: ratelimit.NewMemoryLimiter(limits.Bucket(bucketAgent).Limit, limits.Bucket(bucketAgent).Window),
	}

	server := NewServer(Deps{
		Config:     cfg,
		Limits:     limits,
		Gate:       policy.NewGate(store),
		Controller: orchestrator.NewController(service),
		Agent:      agent,
		Limiters:   limiters,
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: server, store: store, repo: repo, ts: ts}
}

func (e *testEnv) request(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if user != "" {
		req.Header.Set(headerOrgID, "org-1")
		req.Header.Set(headerUserID, user)
		req.Header.Set(headerAuthStrength, "mfa")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func jsonBody(t *testing.T, body any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	return &buf
}

func decodeJSON(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Code string `json:"error"`
	}
	decodeJSON(t, resp, &body)
	return body.Code
}
