package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/lexgate/lexgate/core/controlplane/apierror"
	"github.com/lexgate/lexgate/core/controlplane/orchestrator"
	"github.com/lexgate/lexgate/core/controlplane/policy"
	"github.com/lexgate/lexgate/core/infra/bus"
	"github.com/lexgate/lexgate/core/infra/config"
	"github.com/lexgate/lexgate/core/infra/logging"
	"github.com/lexgate/lexgate/core/infra/metrics"
	"github.com/lexgate/lexgate/core/infra/ratelimit"
	"github.com/lexgate/lexgate/core/infra/timeoutguard"
)

const (
	headerOrgID        = "x-org-id"
	headerUserID       = "x-user-id"
	headerAuthStrength = "x-auth-strength"

	bucketRuns  = "runs"
	bucketAgent = "agent"

	maxBodyBytes = 2 << 20 // 2 MiB limit for incoming request bodies
)

// Server is the admission-control gateway. Every request passes the policy
// gate, then the admission guards, before reaching the agent or the
// orchestrator.
type Server struct {
	cfg    *config.Config
	limits *config.LimitsConfig

	gate       *policy.Gate
	controller *orchestrator.Controller
	agent      AgentRunner
	timeout    *timeoutguard.Guard

	guards   map[string]*ratelimit.Guard
	limiters map[string]ratelimit.Limiter

	metrics metrics.GatewayMetrics
	bus     bus.Bus
	redis   *redis.Client
	started time.Time

	clients   map[*websocket.Conn]chan *bus.JobEvent
	clientsMu sync.RWMutex
}

// Deps carries the collaborators a Server needs. Nil metrics fall back to
// no-ops; a nil bus disables event streaming.
type Deps struct {
	Config     *config.Config
	Limits     *config.LimitsConfig
	Gate       *policy.Gate
	Controller *orchestrator.Controller
	Agent      AgentRunner
	Limiters   map[string]ratelimit.Limiter
	Admission  metrics.AdmissionMetrics
	Gateway    metrics.GatewayMetrics
	Bus        bus.Bus
	Redis      *redis.Client
}

func NewServer(deps Deps) *Server {
	if deps.Limits == nil {
		deps.Limits = config.DefaultLimits()
	}
	if deps.Gateway == nil {
		deps.Gateway = metrics.Noop{}
	}
	s := &Server{
		cfg:        deps.Config,
		limits:     deps.Limits,
		gate:       deps.Gate,
		controller: deps.Controller,
		agent:      deps.Agent,
		timeout:    timeoutguard.New(deps.Config.RunTimeout),
		guards:     make(map[string]*ratelimit.Guard),
		limiters:   deps.Limiters,
		metrics:    deps.Gateway,
		bus:        deps.Bus,
		redis:      deps.Redis,
		started:    time.Now(),
		clients:    make(map[*websocket.Conn]chan *bus.JobEvent),
	}
	for bucket, limiter := range deps.Limiters {
		s.guards[bucket] = ratelimit.NewGuard(limiter, bucket, identityKey(bucket), deps.Admission)
	}
	return s
}

// identityKey scopes quota to (org, user, bucket).
func identityKey(bucket string) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		return r.Header.Get(headerOrgID) + ":" + r.Header.Get(headerUserID) + ":" + bucket
	}
}

// Handler builds the gateway's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /status", s.instrumented("/status", s.handleStatus))

	mux.HandleFunc("POST /runs", s.instrumented("/runs", s.handleCreateRun))

	mux.HandleFunc("POST /agent/commands", s.instrumented("/agent/commands", s.handleCreateCommand))
	mux.HandleFunc("GET /agent/sessions/{id}/commands", s.instrumented("/agent/sessions/{id}/commands", s.handleListSessionCommands))
	mux.HandleFunc("GET /agent/capabilities", s.instrumented("/agent/capabilities", s.handleGetCapabilities))
	mux.HandleFunc("POST /agent/connectors", s.instrumented("/agent/connectors", s.handleRegisterConnector))
	mux.HandleFunc("POST /agent/jobs/claim", s.instrumented("/agent/jobs/claim", s.handleClaimJob))
	mux.HandleFunc("POST /agent/jobs/{id}/complete", s.instrumented("/agent/jobs/{id}/complete", s.handleCompleteJob))
	mux.HandleFunc("GET /agent/events", s.handleEvents)

	mux.HandleFunc("POST /admin/ratelimit/reset", s.instrumented("/admin/ratelimit/reset", s.handleRateLimitReset))
	mux.HandleFunc("POST /admin/ratelimit/block", s.instrumented("/admin/ratelimit/block", s.handleRateLimitBlock))

	return mux
}

// Run serves HTTP until the context is cancelled. The metrics endpoint
// listens separately so operational scrapes never compete with traffic.
func (s *Server) Run(ctx context.Context) error {
	if s.bus != nil {
		s.subscribeEvents()
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("gateway", "metrics server failed", "error", err)
		}
	}()

	srv := &http.Server{Addr: s.cfg.HTTPAddr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway", "http listening", "addr", s.cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = metricsSrv.Close()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := apierror.From(err)
	if apiErr.Status >= http.StatusInternalServerError {
		logging.Error("gateway", "request failed", "code", apiErr.Code, "error", apiErr.Message)
	}
	writeJSON(w, apiErr.Status, apiErr)
}

func writeResponse(w http.ResponseWriter, resp orchestrator.Response) {
	writeJSON(w, resp.Status, resp.Body)
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(into); err != nil {
		return apierror.New("invalid_request_body", http.StatusBadRequest, err.Error())
	}
	return nil
}

// authorize runs identity extraction, the policy gate and compliance checks
// for one request. A false return means the response is already written.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, action string) (*policy.AccessContext, bool) {
	orgID := r.Header.Get(headerOrgID)
	userID := r.Header.Get(headerUserID)
	if orgID == "" || userID == "" {
		writeError(w, apierror.New("missing_identity", http.StatusUnauthorized, "x-org-id and x-user-id headers are required"))
		return nil, false
	}

	access, err := s.gate.Authorize(r.Context(), orgID, userID, action)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	input := policy.ComplianceInput{
		AuthStrength: r.Header.Get(headerAuthStrength),
		ClientIP:     clientIP(r),
	}
	if err := s.gate.EnsureCompliance(r.Context(), access, input); err != nil {
		writeError(w, err)
		return nil, false
	}
	return access, true
}

// admit applies the bucket's rate limit. Buckets without a configured
// limiter are unlimited.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, bucket string) bool {
	guard, ok := s.guards[bucket]
	if !ok {
		return true
	}
	return guard.Admit(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptimeSeconds := int64(now.Sub(s.started).Seconds())

	natsConnected := false
	natsStatus := "UNKNOWN"
	natsURL := ""
	if nb, ok := s.bus.(*bus.NatsBus); ok {
		natsConnected = nb.IsConnected()
		natsStatus = nb.Status()
		natsURL = nb.ConnectedURL()
	}

	redisOK := false
	redisErr := ""
	if s.redis == nil {
		redisErr = "redis not configured"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		err := s.redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			redisErr = err.Error()
		} else {
			redisOK = true
		}
	}

	s.clientsMu.RLock()
	streamClients := len(s.clients)
	s.clientsMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"time":           now.Format(time.RFC3339),
		"uptime_seconds": uptimeSeconds,
		"nats": map[string]any{
			"connected": natsConnected,
			"status":    natsStatus,
			"url":       natsURL,
		},
		"redis": map[string]any{
			"ok":    redisOK,
			"error": redisErr,
		},
		"events": map[string]any{
			"clients": streamClients,
		},
		"rate_limit_backend": s.cfg.RateLimitBackend,
	})
}

type resetRequest struct {
	Bucket string `json:"bucket"`
	OrgID  string `json:"org_id"`
	UserID string `json:"user_id"`
}

// handleRateLimitReset clears one caller's quota window. Admin-only.
func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	access, ok := s.authorize(w, r, policy.ActionOrchestratorAdmin)
	if !ok {
		return
	}

	var req resetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Bucket == "" || req.OrgID == "" || req.UserID == "" {
		writeError(w, apierror.New("invalid_request_body", http.StatusBadRequest, "bucket, org_id and user_id are required"))
		return
	}
	limiter, ok := s.limiters[req.Bucket]
	if !ok {
		writeError(w, apierror.New("unknown_bucket", http.StatusNotFound, "no limiter for bucket "+req.Bucket))
		return
	}

	key := req.OrgID + ":" + req.UserID + ":" + req.Bucket
	if err := limiter.Reset(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	logging.Info("gateway", "rate limit reset", "bucket", req.Bucket, "key", key, "by", access.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"reset": true, "bucket": req.Bucket})
}

type blockRequest struct {
	Bucket     string `json:"bucket"`
	OrgID      string `json:"org_id"`
	UserID     string `json:"user_id"`
	DurationMS int64  `json:"duration_ms"`
}

// handleRateLimitBlock force-denies one caller's key for a duration,
// independent of window accounting. Admin-only abuse response.
func (s *Server) handleRateLimitBlock(w http.ResponseWriter, r *http.Request) {
	access, ok := s.authorize(w, r, policy.ActionOrchestratorAdmin)
	if !ok {
		return
	}

	var req blockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Bucket == "" || req.OrgID == "" || req.UserID == "" || req.DurationMS <= 0 {
		writeError(w, apierror.New("invalid_request_body", http.StatusBadRequest, "bucket, org_id, user_id and a positive duration_ms are required"))
		return
	}
	limiter, ok := s.limiters[req.Bucket]
	if !ok {
		writeError(w, apierror.New("unknown_bucket", http.StatusNotFound, "no limiter for bucket "+req.Bucket))
		return
	}

	key := req.OrgID + ":" + req.UserID + ":" + req.Bucket
	d := time.Duration(req.DurationMS) * time.Millisecond
	if err := limiter.Block(r.Context(), key, d); err != nil {
		writeError(w, err)
		return
	}
	logging.Info("gateway", "rate limit block", "bucket", req.Bucket, "key", key, "duration", d, "by", access.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"blocked": true, "bucket": req.Bucket, "until": time.Now().Add(d).UTC().Format(time.RFC3339)})
}
