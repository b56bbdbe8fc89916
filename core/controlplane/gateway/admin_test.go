package gateway

import (
	"net/http"
	"testing"
)

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.request(t, http.MethodGet, "/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if _, ok := body["uptime_seconds"]; !ok {
		t.Fatalf("body = %v", body)
	}
	if body["rate_limit_backend"] != "memory" {
		t.Fatalf("backend = %v", body["rate_limit_backend"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.request(t, http.MethodGet, "/health", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRateLimitResetRestoresQuota(t *testing.T) {
	env := newTestEnv(t, nil)

	// Exhaust the runs bucket.
	for i := 0; i < 6; i++ {
		resp := env.request(t, http.MethodPost, "/runs", "user-1", map[string]any{"question": "q"})
		resp.Body.Close()
	}
	resp := env.request(t, http.MethodPost, "/runs", "user-1", map[string]any{"question": "q"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("pre-reset status = %d, want 429", resp.StatusCode)
	}

	resp = env.request(t, http.MethodPost, "/admin/ratelimit/reset", "admin-1", map[string]any{
		"bucket":  "runs",
		"org_id":  "org-1",
		"user_id": "user-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.request(t, http.MethodPost, "/runs", "user-1", map[string]any{"question": "q"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post-reset status = %d, want 200", resp.StatusCode)
	}
}

func TestRateLimitResetAdminOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.request(t, http.MethodPost, "/admin/ratelimit/reset", "user-1", map[string]any{
		"bucket":  "runs",
		"org_id":  "org-1",
		"user_id": "user-1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestRateLimitBlockDeniesCaller(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.request(t, http.MethodPost, "/admin/ratelimit/block", "admin-1", map[string]any{
		"bucket":      "runs",
		"org_id":      "org-1",
		"user_id":     "user-1",
		"duration_ms": 60000,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("block status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.request(t, http.MethodPost, "/runs", "user-1", map[string]any{"question": "q"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("blocked caller status = %d, want 429", resp.StatusCode)
	}

	// Other users in the org are unaffected.
	other := env.request(t, http.MethodPost, "/runs", "admin-1", map[string]any{"question": "q"})
	defer other.Body.Close()
	if other.StatusCode != http.StatusOK {
		t.Fatalf("unblocked caller status = %d", other.StatusCode)
	}
}

func TestRateLimitResetUnknownBucket(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.request(t, http.MethodPost, "/admin/ratelimit/reset", "admin-1", map[string]any{
		"bucket":  "ghost",
		"org_id":  "org-1",
		"user_id": "user-1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
