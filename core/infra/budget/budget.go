package budget

import (
	"errors"
	"fmt"
	"sync"
)

// Errors surfaced to the admission layer. The caller maps both to HTTP 429.
var (
	ErrInvalidBudget  = errors.New("invalid_budget")
	ErrBudgetExceeded = errors.New("budget_exceeded")
)

const defaultMinPromptTokens = 16

// Manager tracks a per-run token budget. Instances are never shared across
// runs; each request gets its own so quota state cannot leak across tenants.
type Manager struct {
	mu              sync.Mutex
	total           int
	consumed        int
	minPromptTokens int
}

// NewManager constructs a budget of totalTokens.
func NewManager(totalTokens int) (*Manager, error) {
	if totalTokens <= 0 {
		return nil, fmt.Errorf("%w: total tokens must be positive, got %d", ErrInvalidBudget, totalTokens)
	}
	return &Manager{total: totalTokens, minPromptTokens: defaultMinPromptTokens}, nil
}

// SetMinPromptTokens overrides the floor used by EstimatePromptTokens.
func (m *Manager) SetMinPromptTokens(min int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if min > 0 {
		m.minPromptTokens = min
	}
}

// EstimatePromptTokens is a deterministic, cheap heuristic: one token per
// four characters, floored at the configured minimum. It only needs to be
// monotonic and stable, not exact.
func (m *Manager) EstimatePromptTokens(text string) int {
	m.mu.Lock()
	min := m.minPromptTokens
	m.mu.Unlock()
	estimate := len(text) / 4
	if estimate < min {
		return min
	}
	return estimate
}

// Consume debits tokens from the budget. The debit happens even when it
// pushes the budget over: this is a pessimistic reservation, not a
// refundable one, so a failed attempt still spends.
func (m *Manager) Consume(tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("%w: cannot consume negative tokens", ErrInvalidBudget)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	exceeded := m.consumed+tokens > m.total
	m.consumed += tokens
	if exceeded {
		return fmt.Errorf("%w: consumed %d of %d tokens", ErrBudgetExceeded, m.consumed, m.total)
	}
	return nil
}

// Remaining reports the unspent budget, clamped at zero.
func (m *Manager) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := m.total - m.consumed
	if remaining < 0 {
		return 0
	}
	return remaining
}
