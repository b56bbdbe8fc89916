package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdmissionMetrics captures admission-control decisions.
type AdmissionMetrics interface {
	IncAdmitted(bucket string)
	IncDenied(bucket, reason string)
}

// OrchestratorMetrics captures command/job lifecycle counters.
type OrchestratorMetrics interface {
	IncCommandsCreated(commandType string)
	IncCommandsRejected(commandType string)
	IncJobsClaimed(worker string)
	IncJobsCompleted(worker, status string)
}

// GatewayMetrics captures request metrics for the HTTP surface.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements every metrics interface without emitting anything.
type Noop struct{}

func (Noop) IncAdmitted(string)                           {}
func (Noop) IncDenied(string, string)                     {}
func (Noop) IncCommandsCreated(string)                    {}
func (Noop) IncCommandsRejected(string)                   {}
func (Noop) IncJobsClaimed(string)                        {}
func (Noop) IncJobsCompleted(string, string)              {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements the metrics interfaces backed by Prometheus collectors.
type Prom struct {
	admitted          *prometheus.CounterVec
	denied            *prometheus.CounterVec
	commandsCreated   *prometheus.CounterVec
	commandsRejected  *prometheus.CounterVec
	jobsClaimed       *prometheus.CounterVec
	jobsCompleted     *prometheus.CounterVec
	requests          *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	once              sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_allowed_total",
			Help:      "Requests admitted by rate-limit bucket",
		}, []string{"bucket"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_denied_total",
			Help:      "Requests denied by bucket and reason",
		}, []string{"bucket", "reason"}),
		commandsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_created_total",
			Help:      "Commands accepted and enqueued by type",
		}, []string{"type"}),
		commandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Commands rejected by the safety gateway per type",
		}, []string{"type"}),
		jobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Jobs claimed by worker pool",
		}, []string{"worker"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs completed by worker pool and status",
		}, []string{"worker", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(
			p.admitted, p.denied,
			p.commandsCreated, p.commandsRejected,
			p.jobsClaimed, p.jobsCompleted,
			p.requests, p.latency,
		)
	})
}

func (p *Prom) IncAdmitted(bucket string) {
	p.admitted.WithLabelValues(bucket).Inc()
}

func (p *Prom) IncDenied(bucket, reason string) {
	p.denied.WithLabelValues(bucket, reason).Inc()
}

func (p *Prom) IncCommandsCreated(commandType string) {
	p.commandsCreated.WithLabelValues(commandType).Inc()
}

func (p *Prom) IncCommandsRejected(commandType string) {
	p.commandsRejected.WithLabelValues(commandType).Inc()
}

func (p *Prom) IncJobsClaimed(worker string) {
	p.jobsClaimed.WithLabelValues(worker).Inc()
}

func (p *Prom) IncJobsCompleted(worker, status string) {
	p.jobsCompleted.WithLabelValues(worker, status).Inc()
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
