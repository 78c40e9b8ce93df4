package monitoring

import (
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/laplace/internal/providers/permissions"
	"github.com/GriffinCanCode/laplace/internal/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "laplace"

// Invoke results
const (
	ResultOK             = "ok"
	ResultExportNotFound = "export_not_found"
	ResultTrap           = "trap"
	ResultMalformed      = "malformed"
	ResultUnavailable    = "unavailable"
	ResultError          = "error"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry so
// several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Lapp metrics
	LappsLoaded      prometheus.Gauge
	LappTransitions  *prometheus.CounterVec
	Invokes          *prometheus.CounterVec
	InvokeDuration   *prometheus.HistogramVec
	PermissionDenied *prometheus.CounterVec

	// Gossip metrics
	GossipMessages *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics creates a new metrics collector with its own registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "route"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "route"},
		),

		// Lapp metrics
		LappsLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lapps_loaded",
				Help:      "Number of lapps with a live instance",
			},
		),
		LappTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lapp_transitions_total",
				Help:      "Lifecycle transitions by lapp",
			},
			[]string{"lapp", "transition"},
		),
		Invokes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lapp_invokes_total",
				Help:      "Guest invocations by lapp, export and result",
			},
			[]string{"lapp", "export", "result"},
		),
		InvokeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lapp_invoke_duration_seconds",
				Help:      "Guest invocation duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
			},
			[]string{"lapp", "export"},
		),
		PermissionDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lapp_permission_denied_total",
				Help:      "Host calls refused by the permission gate",
			},
			[]string{"lapp", "permission"},
		),

		// Gossip metrics
		GossipMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gossip_messages_total",
				Help:      "Gossip messages by direction and result",
			},
			[]string{"direction", "result"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, route).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, route).Observe(float64(respSize))
}

// ObserveInvoke records one guest invocation
func (m *Metrics) ObserveInvoke(lapp, export string, elapsed time.Duration, err error) {
	m.Invokes.WithLabelValues(lapp, export, invokeResult(err)).Inc()
	m.InvokeDuration.WithLabelValues(lapp, export).Observe(elapsed.Seconds())
}

func invokeResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, runtime.ErrExportNotFound):
		return ResultExportNotFound
	case errors.Is(err, runtime.ErrTrap):
		return ResultTrap
	case errors.Is(err, runtime.ErrResultMalformed):
		return ResultMalformed
	case errors.Is(err, runtime.ErrPoisoned), errors.Is(err, runtime.ErrClosed):
		return ResultUnavailable
	default:
		return ResultError
	}
}

// ObserveDenied records a permission gate refusal
func (m *Metrics) ObserveDenied(lapp string, perm permissions.Permission) {
	m.PermissionDenied.WithLabelValues(lapp, string(perm)).Inc()
}

// ObserveTransition records a lifecycle transition
func (m *Metrics) ObserveTransition(lapp, transition string) {
	m.LappTransitions.WithLabelValues(lapp, transition).Inc()
}

// SetLoaded sets the number of loaded lapps
func (m *Metrics) SetLoaded(n int) {
	m.LappsLoaded.Set(float64(n))
}

// ObserveGossip records a gossip message outcome
func (m *Metrics) ObserveGossip(direction, result string) {
	m.GossipMessages.WithLabelValues(direction, result).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
