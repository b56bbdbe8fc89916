package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lexgate/lexgate/core/controlplane/apierror"
	"github.com/lexgate/lexgate/core/controlplane/policy"
	"github.com/lexgate/lexgate/core/infra/budget"
	"github.com/lexgate/lexgate/core/infra/timeoutguard"
)

type createRunRequest struct {
	Question         string `json:"question"`
	Context          string `json:"context,omitempty"`
	OrgID            string `json:"org_id,omitempty"`
	UserID           string `json:"user_id,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	Jurisdiction     string `json:"jurisdiction,omitempty"`
	UserLocation     string `json:"user_location,omitempty"`
	ConfidentialMode bool   `json:"confidential_mode,omitempty"`
}

type createRunResponse struct {
	RunID        string          `json:"run_id"`
	SessionID    string          `json:"session_id,omitempty"`
	Data         json.RawMessage `json:"data"`
	Notices      []string        `json:"notices,omitempty"`
	Reused       bool            `json:"reused"`
	Verification json.RawMessage `json:"verification,omitempty"`
	TrustPanel   json.RawMessage `json:"trust_panel,omitempty"`
	TokensUsed   int             `json:"tokens_used"`
	TokensBudget int             `json:"tokens_budget"`
	Model        string          `json:"model,omitempty"`
}

// handleCreateRun is the synchronous path: policy gate, rate limit, token
// budget, then the agent call under the timeout guard. Identity comes from
// the x-org-id/x-user-id headers, or from the body when the headers are
// absent; the body is decoded first so both sources feed the same checks.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if r.Header.Get(headerOrgID) == "" && req.OrgID != "" {
		r.Header.Set(headerOrgID, req.OrgID)
	}
	if r.Header.Get(headerUserID) == "" && req.UserID != "" {
		r.Header.Set(headerUserID, req.UserID)
	}

	access, ok := s.authorize(w, r, policy.ActionRunsCreate)
	if !ok {
		return
	}
	if !s.admit(w, r, bucketRuns) {
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		writeError(w, apierror.New("invalid_request_body", http.StatusBadRequest, "question is required"))
		return
	}
	if req.Jurisdiction != "" && !access.JurisdictionAllowed(req.Jurisdiction, false) {
		writeError(w, apierror.New("jurisdiction_not_allowed", http.StatusForbidden,
			"organization is not entitled to "+strings.ToUpper(req.Jurisdiction)))
		return
	}

	// Pessimistic reservation: the question's estimated cost is debited
	// before the agent runs, so an over-budget prompt never reaches the
	// model.
	mgr, err := budget.NewManager(s.cfg.RunBudgetTokens)
	if err != nil {
		writeError(w, err)
		return
	}
	estimate := mgr.EstimatePromptTokens(req.Question + req.Context)
	if err := mgr.Consume(estimate); err != nil {
		if errors.Is(err, budget.ErrBudgetExceeded) {
			writeError(w, apierror.New("budget_exceeded", http.StatusTooManyRequests, "question exceeds the run token budget"))
			return
		}
		writeError(w, err)
		return
	}

	runReq := RunRequest{
		OrgID:            access.OrgID,
		UserID:           access.UserID,
		SessionID:        req.SessionID,
		Question:         req.Question,
		Context:          req.Context,
		Jurisdiction:     req.Jurisdiction,
		UserLocation:     req.UserLocation,
		ConfidentialMode: req.ConfidentialMode || access.Flags.ConfidentialMode,
		MaxTokens:        mgr.Remaining(),
	}
	result, err := timeoutguard.Run(s.timeout, r.Context(), func(ctx context.Context) (*RunResult, error) {
		return s.agent.Run(ctx, runReq)
	})
	if err != nil {
		if errors.Is(err, timeoutguard.ErrTimeout) {
			writeError(w, apierror.New("timeout_guard", http.StatusGatewayTimeout, "run exceeded the configured deadline"))
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, createRunResponse{
		RunID:        result.RunID,
		SessionID:    req.SessionID,
		Data:         result.Data,
		Notices:      result.Notices,
		Reused:       result.Reused,
		Verification: result.Verification,
		TrustPanel:   result.TrustPanel,
		TokensUsed:   estimate + result.TokensUsed,
		TokensBudget: s.cfg.RunBudgetTokens,
		Model:        result.Model,
	})
}
