package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics counts pipeline outcomes per operation.
type PipelineMetrics interface {
	IncRequests(operation string)
	IncCompleted(operation, status string)
	ObserveExecution(operation string, durationSeconds float64)
	IncGrantsIssued()
	IncGrantsExpired()
	IncCleanupFailures()
}

// GatewayMetrics captures request metrics for the HTTP surface.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements PipelineMetrics and GatewayMetrics without emitting
// anything.
type Noop struct{}

func (Noop) IncRequests(string)                             {}
func (Noop) IncCompleted(string, string)                    {}
func (Noop) ObserveExecution(string, float64)               {}
func (Noop) IncGrantsIssued()                               {}
func (Noop) IncGrantsExpired()                              {}
func (Noop) IncCleanupFailures()                            {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements PipelineMetrics backed by Prometheus collectors.
type Prom struct {
	requests        *prometheus.CounterVec
	completed       *prometheus.CounterVec
	execution       *prometheus.HistogramVec
	grantsIssued    prometheus.Counter
	grantsExpired   prometheus.Counter
	cleanupFailures prometheus.Counter
	once            sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_requests_total",
			Help:      "Pipeline requests by operation",
		}, []string{"operation"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_completed_total",
			Help:      "Pipeline requests completed by operation and status",
		}, []string{"operation", "status"}),
		execution: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Handler execution duration by operation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		grantsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_issued_total",
			Help:      "Download grants issued",
		}),
		grantsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_expired_total",
			Help:      "Download grants reclaimed after expiry",
		}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Best-effort deletions that failed",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.requests, p.completed, p.execution, p.grantsIssued, p.grantsExpired, p.cleanupFailures)
	})
}

func (p *Prom) IncRequests(operation string) {
	p.requests.WithLabelValues(operation).Inc()
}

func (p *Prom) IncCompleted(operation, status string) {
	p.completed.WithLabelValues(operation, status).Inc()
}

func (p *Prom) ObserveExecution(operation string, durationSeconds float64) {
	p.execution.WithLabelValues(operation).Observe(durationSeconds)
}

func (p *Prom) IncGrantsIssued()    { p.grantsIssued.Inc() }
func (p *Prom) IncGrantsExpired()   { p.grantsExpired.Inc() }
func (p *Prom) IncCleanupFailures() { p.cleanupFailures.Inc() }

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
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
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
