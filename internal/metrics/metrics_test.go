package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// newTestCollector creates a Collector registered with a fresh registry
// so tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()

	c := &Collector{
		sessionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "gateway_sessions_active", Help: "h"},
			[]string{"protocol"},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_sessions_total", Help: "h"},
			[]string{"protocol"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "gateway_session_duration_seconds", Help: "h", Buckets: prometheus.DefBuckets},
			[]string{"protocol"},
		),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_commands_total", Help: "h"},
			[]string{"protocol", "command"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "gateway_query_duration_seconds", Help: "h", Buckets: prometheus.DefBuckets},
			[]string{"protocol"},
		),
		queryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_query_errors_total", Help: "h"},
			[]string{"protocol"},
		),
		protocolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_protocol_errors_total", Help: "h"},
			[]string{"protocol"},
		),
		backendHealth: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "gateway_backend_health", Help: "h"},
		),
		backendConnectErrors: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gateway_backend_connect_errors_total", Help: "h"},
		),
	}

	reg.MustRegister(
		c.sessionsActive, c.sessionsTotal, c.sessionDuration,
		c.commandsTotal, c.queryDuration, c.queryErrors,
		c.protocolErrors, c.backendHealth, c.backendConnectErrors,
	)

	return c, reg
}

func sampleValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		m := f.GetMetric()
		if len(m) == 0 {
			t.Fatalf("metric %s has no samples", name)
		}
		if g := m[0].GetGauge(); g != nil {
			return g.GetValue()
		}
		return m[0].GetCounter().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestSessionOpenedClosed(t *testing.T) {
	c, reg := newTestCollector(t)

	c.SessionOpened("mysql")
	c.SessionOpened("mysql")
	c.SessionClosed("mysql")

	if v := sampleValue(t, reg, "gateway_sessions_active"); v != 1 {
		t.Errorf("expected active=1, got %v", v)
	}
	if v := sampleValue(t, reg, "gateway_sessions_total"); v != 2 {
		t.Errorf("expected total=2, got %v", v)
	}
}

func TestQueryDurationObserved(t *testing.T) {
	c, reg := newTestCollector(t)

	c.QueryDuration("postgresql", 100*time.Millisecond)
	c.QueryDuration("postgresql", 200*time.Millisecond)

	if n := histogramCount(t, reg, "gateway_query_duration_seconds"); n != 2 {
		t.Errorf("expected 2 samples, got %d", n)
	}
}

func TestCommandAndErrorCounters(t *testing.T) {
	c, reg := newTestCollector(t)

	c.CommandHandled("mysql", "query")
	c.CommandHandled("mysql", "query")
	c.QueryError("mysql")
	c.ProtocolError("postgresql")
	c.BackendConnectError()

	if v := sampleValue(t, reg, "gateway_commands_total"); v != 2 {
		t.Errorf("expected commands=2, got %v", v)
	}
	if v := sampleValue(t, reg, "gateway_query_errors_total"); v != 1 {
		t.Errorf("expected query errors=1, got %v", v)
	}
	if v := sampleValue(t, reg, "gateway_protocol_errors_total"); v != 1 {
		t.Errorf("expected protocol errors=1, got %v", v)
	}
	if v := sampleValue(t, reg, "gateway_backend_connect_errors_total"); v != 1 {
		t.Errorf("expected connect errors=1, got %v", v)
	}
}

func TestSetBackendHealth(t *testing.T) {
	c, reg := newTestCollector(t)

	c.SetBackendHealth(true)
	if v := sampleValue(t, reg, "gateway_backend_health"); v != 1 {
		t.Errorf("expected health=1, got %v", v)
	}
	c.SetBackendHealth(false)
	if v := sampleValue(t, reg, "gateway_backend_health"); v != 0 {
		t.Errorf("expected health=0, got %v", v)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.SessionOpened("mysql")
	c.SessionClosed("mysql")
	c.SessionDuration("mysql", time.Second)
	c.CommandHandled("mysql", "query")
	c.QueryDuration("mysql", time.Second)
	c.QueryError("mysql")
	c.ProtocolError("mysql")
	c.SetBackendHealth(true)
	c.BackendConnectError()
}
