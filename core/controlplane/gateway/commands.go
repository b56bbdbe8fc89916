package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/lexgate/lexgate/core/controlplane/apierror"
	"github.com/lexgate/lexgate/core/controlplane/orchestrator"
	"github.com/lexgate/lexgate/core/controlplane/policy"
)

// commandJurisdiction pulls the jurisdiction field out of a payload when the
// command type carries one. Absent or unreadable payloads report none.
func commandJurisdiction(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var probe struct {
		Jurisdiction string `json:"jurisdiction"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.Jurisdiction
}

// handleCreateCommand turns an accepted request into a durably queued
// command.
func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	access, ok := s.authorize(w, r, policy.ActionOrchestratorCommand)
	if !ok {
		return
	}
	if !s.admit(w, r, bucketAgent) {
		return
	}

	var input orchestrator.CreateCommandInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	if j := commandJurisdiction(input.Payload); j != "" && !access.JurisdictionAllowed(j, true) {
		writeError(w, apierror.New("jurisdiction_not_allowed", http.StatusForbidden,
			"organization is not entitled to write in "+strings.ToUpper(j)))
		return
	}
	input.OrgID = access.OrgID
	input.IssuedBy = access.UserID

	writeResponse(w, s.controller.CreateCommand(r.Context(), input))
}

func (s *Server) handleListSessionCommands(w http.ResponseWriter, r *http.Request) {
	access, ok := s.authorize(w, r, policy.ActionOrchestratorCommand)
	if !ok {
		return
	}
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, apierror.New("invalid_request_body", http.StatusBadRequest, "session id is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeResponse(w, s.controller.ListSessionCommands(r.Context(), access.OrgID, sessionID, limit))
}

func (s *Server) handleGetCapabilities(w http.ResponseWriter, r *http.Request) {
	access, ok := s.authorize(w, r, policy.ActionOrchestratorCommand)
	if !ok {
		return
	}
	writeResponse(w, s.controller.GetCapabilities(r.Context(), access.OrgID))
}

func (s *Server) handleRegisterConnector(w http.ResponseWriter, r *http.Request) {
	access, ok := s.authorize(w, r, policy.ActionOrchestratorAdmin)
	if !ok {
		return
	}
	var input orchestrator.RegisterConnectorInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	input.OrgID = access.OrgID
	input.CreatedBy = access.UserID
	writeResponse(w, s.controller.RegisterConnector(r.Context(), input))
}

type claimRequest struct {
	Worker string `json:"worker"`
}

func (s *Server) handleClaimJob(w http.ResponseWriter, r *http.Request) {
	access, ok := s.authorize(w, r, policy.ActionOrchestratorCommand)
	if !ok {
		return
	}
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Worker) == "" {
		writeError(w, apierror.New("invalid_request_body", http.StatusBadRequest, "worker is required"))
		return
	}
	writeResponse(w, s.controller.ClaimJob(r.Context(), access.OrgID, req.Worker, access.UserID))
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	access, ok := s.authorize(w, r, policy.ActionOrchestratorCommand)
	if !ok {
		return
	}
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, apierror.New("invalid_request_body", http.StatusBadRequest, "job id is required"))
		return
	}
	var input orchestrator.CompleteJobInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	input.OrgID = access.OrgID
	input.JobID = jobID
	input.UserID = access.UserID
	writeResponse(w, s.controller.CompleteJob(r.Context(), input))
}
