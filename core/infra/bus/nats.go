package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lexgate/lexgate/core/infra/logging"
)

// JobEvent is the wire payload published on job lifecycle transitions.
// Delivery is best-effort; durability lives in the orchestrator repository.
type JobEvent struct {
	JobID     string `json:"job_id"`
	CommandID string `json:"command_id"`
	OrgID     string `json:"org_id"`
	Worker    string `json:"worker"`
	Status    string `json:"status"`
	At        int64  `json:"at"`
}

// Bus publishes and consumes job lifecycle events.
type Bus interface {
	Publish(subject string, event *JobEvent) error
	Subscribe(subject, queue string, handler func(*JobEvent) error) error
}

// NatsBus is a thin wrapper over a NATS connection that speaks JSON job events.
type NatsBus struct {
	nc *nats.Conn
}

var (
	errNilBus     = errors.New("nats bus not initialized")
	errNilEvent   = errors.New("nil job event")
	errEmptyTopic = errors.New("empty subject")
)

// AvailableSubject is the subject workers subscribe to for wake-up signals.
func AvailableSubject(worker string) string {
	if worker == "" {
		return ""
	}
	return fmt.Sprintf("jobs.available.%s", worker)
}

// CompletedSubject carries completion events for a worker pool.
func CompletedSubject(worker string) string {
	if worker == "" {
		return ""
	}
	return fmt.Sprintf("jobs.completed.%s", worker)
}

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("lexgate-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc}, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// Publish sends a JSON-encoded job event on the given subject.
func (b *NatsBus) Publish(subject string, event *JobEvent) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if event == nil {
		return errNilEvent
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe attaches a subscription that decodes job events and invokes the handler.
func (b *NatsBus) Subscribe(subject, queue string, handler func(*JobEvent) error) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	cb := func(msg *nats.Msg) {
		var event JobEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logging.Error("bus", "failed to decode job event", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(&event); err != nil {
			logging.Error("bus", "handler error", "subject", msg.Subject, "error", err)
		}
	}
	if queue == "" {
		_, err := b.nc.Subscribe(subject, cb)
		return err
	}
	_, err := b.nc.QueueSubscribe(subject, queue, cb)
	return err
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

func (b *NatsBus) ConnectedURL() string {
	if b == nil || b.nc == nil {
		return ""
	}
	return b.nc.ConnectedUrl()
}
