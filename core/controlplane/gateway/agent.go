package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lexgate/lexgate/core/controlplane/apierror"
)

// RunRequest is a synchronous reasoning request forwarded to the agent.
type RunRequest struct {
	OrgID            string `json:"org_id"`
	UserID           string `json:"user_id"`
	SessionID        string `json:"session_id,omitempty"`
	Question         string `json:"question"`
	Context          string `json:"context,omitempty"`
	Jurisdiction     string `json:"jurisdiction,omitempty"`
	UserLocation     string `json:"user_location,omitempty"`
	ConfidentialMode bool   `json:"confidential_mode,omitempty"`
	MaxTokens        int    `json:"max_tokens"`
}

// RunResult is the agent's answer for a run. Data carries the reasoning
// output, Verification the citation checks and TrustPanel the provenance
// summary shown to the end user; all three are opaque to the gateway.
type RunResult struct {
	RunID        string          `json:"run_id"`
	Data         json.RawMessage `json:"data"`
	Notices      []string        `json:"notices,omitempty"`
	Reused       bool            `json:"reused"`
	Verification json.RawMessage `json:"verification,omitempty"`
	TrustPanel   json.RawMessage `json:"trust_panel,omitempty"`
	TokensUsed   int             `json:"tokens_used"`
	Model        string          `json:"model,omitempty"`
}

// AgentRunner executes a reasoning run against the downstream agent.
type AgentRunner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// AgentClient calls the reasoning agent over HTTP. Timeout enforcement is
// the caller's concern; the client honors whatever deadline the context
// carries.
type AgentClient struct {
	baseURL string
	http    *http.Client
}

func NewAgentClient(baseURL string) *AgentClient {
	return &AgentClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *AgentClient) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apierror.New("agent_unavailable", http.StatusBadGateway, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apierror.New("agent_unavailable", http.StatusBadGateway,
			fmt.Sprintf("agent returned status %d: %s", resp.StatusCode, snippet))
	}

	var result RunResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apierror.New("agent_unavailable", http.StatusBadGateway, "agent response unreadable")
	}
	return &result, nil
}
