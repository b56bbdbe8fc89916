package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/lexgate/lexgate/core/infra/logging"
	"github.com/lexgate/lexgate/core/infra/metrics"
)

const (
	headerRemaining = "x-rate-limit-remaining"
	headerReset     = "x-rate-limit-reset"
	headerRetry     = "retry-after"
)

// KeyFunc derives the rate-limit key for a request.
type KeyFunc func(r *http.Request) string

// DenyBodyFunc builds the 429 response body.
type DenyBodyFunc func(res Result) any

// Guard composes a limiter, a key-derivation function and a 429 body
// factory into an HTTP middleware. Quota headers are set on every response,
// including denials; backend unavailability fails open.
type Guard struct {
	limiter  Limiter
	bucket   string
	keyFn    KeyFunc
	denyBody DenyBodyFunc
	metrics  metrics.AdmissionMetrics
	now      func() time.Time
}

func NewGuard(limiter Limiter, bucket string, keyFn KeyFunc, m metrics.AdmissionMetrics) *Guard {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Guard{
		limiter:  limiter,
		bucket:   bucket,
		keyFn:    keyFn,
		denyBody: defaultDenyBody,
		metrics:  m,
		now:      time.Now,
	}
}

// WithDenyBody overrides the 429 body factory.
func (g *Guard) WithDenyBody(fn DenyBodyFunc) *Guard {
	if fn != nil {
		g.denyBody = fn
	}
	return g
}

// Admit runs the limiter for the request and writes headers. It returns
// false after writing the 429 response when the request is denied.
func (g *Guard) Admit(w http.ResponseWriter, r *http.Request) bool {
	key := g.keyFn(r)
	res, err := g.limiter.Hit(r.Context(), key)
	if err != nil {
		// Fail open: an unreachable limiter must not take the service down.
		logging.Warn("ratelimit", "limiter unavailable, admitting request", "bucket", g.bucket, "key", key, "error", err)
		g.metrics.IncAdmitted(g.bucket)
		return true
	}

	w.Header().Set(headerRemaining, strconv.Itoa(res.Remaining))
	w.Header().Set(headerReset, res.ResetAt.UTC().Format(time.RFC3339))

	if !res.Allowed {
		retryAfter := int(math.Ceil(res.ResetAt.Sub(g.now()).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set(headerRetry, strconv.Itoa(retryAfter))
		g.metrics.IncDenied(g.bucket, "rate_limited")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(g.denyBody(res))
		return false
	}
	g.metrics.IncAdmitted(g.bucket)
	return true
}

// Middleware wraps next with the guard.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Admit(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func defaultDenyBody(res Result) any {
	return map[string]any{
		"error":    "rate_limited",
		"message":  "rate limit exceeded, retry later",
		"reset_at": res.ResetAt.UTC().Format(time.RFC3339),
	}
}
