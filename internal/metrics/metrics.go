package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the gateway.
type Collector struct {
	sessionsActive       *prometheus.GaugeVec
	sessionsTotal        *prometheus.CounterVec
	sessionDuration      *prometheus.HistogramVec
	commandsTotal        *prometheus.CounterVec
	queryDuration        *prometheus.HistogramVec
	queryErrors          *prometheus.CounterVec
	protocolErrors       *prometheus.CounterVec
	backendHealth        prometheus.Gauge
	backendConnectErrors prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Collector {
	c := &Collector{
		sessionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_sessions_active",
				Help: "Number of active client sessions per protocol",
			},
			[]string{"protocol"},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_sessions_total",
				Help: "Total number of accepted client sessions per protocol",
			},
			[]string{"protocol"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_session_duration_seconds",
				Help:    "Duration of client sessions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
			},
			[]string{"protocol"},
		),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_commands_total",
				Help: "Total number of protocol commands handled",
			},
			[]string{"protocol", "command"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_query_duration_seconds",
				Help:    "Duration of query round trips in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"protocol"},
		),
		queryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_query_errors_total",
				Help: "Total number of backend query failures reported to clients",
			},
			[]string{"protocol"},
		),
		protocolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_protocol_errors_total",
				Help: "Total number of wire-protocol errors sent to clients",
			},
			[]string{"protocol"},
		),
		backendHealth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_backend_health",
				Help: "Health status of the backend database (1=healthy, 0=unhealthy)",
			},
		),
		backendConnectErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_backend_connect_errors_total",
				Help: "Total number of failed backend connection attempts",
			},
		),
	}

	prometheus.MustRegister(
		c.sessionsActive,
		c.sessionsTotal,
		c.sessionDuration,
		c.commandsTotal,
		c.queryDuration,
		c.queryErrors,
		c.protocolErrors,
		c.backendHealth,
		c.backendConnectErrors,
	)

	return c
}

// SessionOpened counts a newly accepted session.
func (c *Collector) SessionOpened(protocol string) {
	if c == nil {
		return
	}
	c.sessionsActive.WithLabelValues(protocol).Inc()
	c.sessionsTotal.WithLabelValues(protocol).Inc()
}

// SessionClosed decrements the active session gauge.
func (c *Collector) SessionClosed(protocol string) {
	if c == nil {
		return
	}
	c.sessionsActive.WithLabelValues(protocol).Dec()
}

// SessionDuration observes a completed session's lifetime.
func (c *Collector) SessionDuration(protocol string, d time.Duration) {
	if c == nil {
		return
	}
	c.sessionDuration.WithLabelValues(protocol).Observe(d.Seconds())
}

// CommandHandled counts one handled protocol command.
func (c *Collector) CommandHandled(protocol, command string) {
	if c == nil {
		return
	}
	c.commandsTotal.WithLabelValues(protocol, command).Inc()
}

// QueryDuration observes one query round trip.
func (c *Collector) QueryDuration(protocol string, d time.Duration) {
	if c == nil {
		return
	}
	c.queryDuration.WithLabelValues(protocol).Observe(d.Seconds())
}

// QueryError counts a backend failure reported to the client.
func (c *Collector) QueryError(protocol string) {
	if c == nil {
		return
	}
	c.queryErrors.WithLabelValues(protocol).Inc()
}

// ProtocolError counts a wire-level error sent to the client.
func (c *Collector) ProtocolError(protocol string) {
	if c == nil {
		return
	}
	c.protocolErrors.WithLabelValues(protocol).Inc()
}

// SetBackendHealth sets the backend health gauge.
func (c *Collector) SetBackendHealth(healthy bool) {
	if c == nil {
		return
	}
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.backendHealth.Set(val)
}

// BackendConnectError counts a failed backend connection attempt.
func (c *Collector) BackendConnectError() {
	if c == nil {
		return
	}
	c.backendConnectErrors.Inc()
}
