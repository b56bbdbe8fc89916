package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lexgate/lexgate/core/infra/logging"
)

const (
	safetyTimeout            = 2 * time.Second
	safetyCircuitOpenFor     = 30 * time.Second
	safetyCircuitFailBudget  = 3
	safetyCircuitHalfOpenMax = 3
	safetyCircuitCloseAfter  = 2
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// SafetyClient implements SafetyGateway by calling the external safety
// assessment service over HTTP. The service is fail-closed: when it cannot
// be reached the command is rejected, never waved through.
type SafetyClient struct {
	baseURL string
	http    *http.Client

	mu              sync.Mutex
	state           circuitState
	failures        int
	successes       int
	openUntil       time.Time
	halfOpenAllowed int
}

func NewSafetyClient(baseURL string) *SafetyClient {
	return &SafetyClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: safetyTimeout},
	}
}

func unavailableAssessment(reason string) Assessment {
	return Assessment{
		Allowed:     false,
		Reasons:     []string{reason},
		Mitigations: []string{"retry once the safety service recovers"},
	}
}

// Assess posts the envelope to the safety service. Transport failures count
// against the circuit and reject the command.
func (c *SafetyClient) Assess(ctx context.Context, env Envelope) (Assessment, error) {
	if c.isCircuitOpen() {
		return unavailableAssessment("safety service circuit open"), nil
	}
	if !c.allowHalfOpenRequest() {
		return unavailableAssessment("safety service circuit half-open (throttled)"), nil
	}

	body, err := json.Marshal(env)
	if err != nil {
		return Assessment{}, fmt.Errorf("encode envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, safetyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/assess", bytes.NewReader(body))
	if err != nil {
		return Assessment{}, fmt.Errorf("build assess request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure()
		logging.Warn("safety", "assessment call failed", "err", err)
		return unavailableAssessment("safety service unreachable"), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.recordFailure()
		logging.Warn("safety", "assessment call failed", "status", resp.StatusCode)
		return unavailableAssessment(fmt.Sprintf("safety service returned status %d", resp.StatusCode)), nil
	}

	var assessment Assessment
	if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
		c.recordFailure()
		return unavailableAssessment("safety service response unreadable"), nil
	}
	c.recordSuccess()
	return assessment, nil
}

func (c *SafetyClient) isCircuitOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if c.state == circuitOpen && c.openUntil.Before(now) {
		c.state = circuitHalfOpen
		c.successes = 0
		c.halfOpenAllowed = safetyCircuitHalfOpenMax
	}
	return c.state == circuitOpen
}

func (c *SafetyClient) allowHalfOpenRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != circuitHalfOpen {
		return true
	}
	if c.halfOpenAllowed > 0 {
		c.halfOpenAllowed--
		return true
	}
	return false
}

func (c *SafetyClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case circuitClosed:
		c.failures++
		if c.failures >= safetyCircuitFailBudget {
			c.state = circuitOpen
			c.openUntil = time.Now().Add(safetyCircuitOpenFor)
			c.failures = 0
		}
	case circuitHalfOpen:
		c.state = circuitOpen
		c.openUntil = time.Now().Add(safetyCircuitOpenFor)
		c.failures = 0
	}
}

func (c *SafetyClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case circuitClosed:
		c.failures = 0
	case circuitHalfOpen:
		c.successes++
		if c.successes >= safetyCircuitCloseAfter {
			c.state = circuitClosed
			c.failures = 0
			c.successes = 0
			c.halfOpenAllowed = 0
		}
	default:
		c.failures = 0
	}
}
