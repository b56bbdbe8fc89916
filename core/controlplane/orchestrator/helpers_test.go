package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lexgate/lexgate/core/infra/bus"
)

// stubSafety returns a canned assessment.
type stubSafety struct {
	assessment Assessment
	err        error
	calls      int
}

func (s *stubSafety) Assess(ctx context.Context, env Envelope) (Assessment, error) {
	s.calls++
	return s.assessment, s.err
}

func allowAll() *stubSafety {
	return &stubSafety{assessment: Assessment{Allowed: true}}
}

// recordingBus captures published events.
type recordingBus struct {
	mu     sync.Mutex
	events map[string][]*bus.JobEvent
}

func newRecordingBus() *recordingBus {
	return &recordingBus{events: make(map[string][]*bus.JobEvent)}
}

func (b *recordingBus) Publish(subject string, event *bus.JobEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[subject] = append(b.events[subject], event)
	return nil
}

func (b *recordingBus) Subscribe(subject, queue string, handler func(*bus.JobEvent) error) error {
	return nil
}

func (b *recordingBus) published(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events[subject])
}

func newTestService(safety SafetyGateway) (*Service, *MemoryRepository, *recordingBus) {
	repo := NewMemoryRepository()
	eventBus := newRecordingBus()
	svc := NewService(repo, safety, DefaultCommandSchemas(), eventBus, nil)
	var seq int
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo, eventBus
}

func financePayload() json.RawMessage {
	return json.RawMessage(`{"amount": 250.0, "currency": "EUR", "beneficiary": "acme-sarl"}`)
}

func financeResult() json.RawMessage {
	return json.RawMessage(`{"transaction_id": "tx-99", "settled": true}`)
}

func createFinanceCommand(svc *Service) (*CreateCommandResult, error) {
	return svc.CreateCommand(context.Background(), CreateCommandInput{
		OrgID:       "org-1",
		IssuedBy:    "user-1",
		SessionID:   "sess-1",
		CommandType: "finance.transfer",
		Payload:     financePayload(),
		Worker:      "finance-pool",
	})
}
