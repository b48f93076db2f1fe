package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dbgateway/dbgateway/internal/backend"
	"github.com/dbgateway/dbgateway/internal/config"
	"github.com/dbgateway/dbgateway/internal/health"
	"github.com/dbgateway/dbgateway/internal/proxy"
)

type fakeSessions struct {
	list []proxy.SessionInfo
}

func (f *fakeSessions) Sessions() []proxy.SessionInfo { return f.list }
func (f *fakeSessions) ActiveSessions() int           { return len(f.list) }

type fakeConnector struct{}

func (fakeConnector) Connect(context.Context) (backend.Session, error) {
	return &backend.FakeSession{}, nil
}

func newTestServer(sessions []proxy.SessionInfo) *Server {
	cfg := &config.Config{
		Proxy: config.ProxyConfig{DBType: "mysql", Bind: "0.0.0.0", Port: 3307},
		Target: config.TargetConfig{
			DBType: "postgres", Host: "localhost", Port: 5432,
			Database: "appdb", Username: "app", Password: "secret",
		},
		API: config.APIConfig{Bind: "127.0.0.1", Port: 8080},
	}
	hc := health.NewChecker(fakeConnector{}, nil, zap.NewNop())
	return NewServer(&fakeSessions{list: sessions}, hc, cfg, zap.NewNop())
}

func TestReadyHandler(t *testing.T) {
	s := newTestServer(nil)

	rec := httptest.NewRecorder()
	s.readyHandler(rec, httptest.NewRequest("GET", "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("expected ready, got %q", body["status"])
	}
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(nil)

	rec := httptest.NewRecorder()
	s.healthHandler(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Status != "unknown" {
		t.Errorf("expected unknown before first check, got %q", body.Status)
	}
}

func TestStatusHandler(t *testing.T) {
	s := newTestServer([]proxy.SessionInfo{
		{ID: 1, Protocol: "mysql", Remote: "10.0.0.1:5000", StartedAt: time.Now()},
	})

	rec := httptest.NewRecorder()
	s.statusHandler(rec, httptest.NewRequest("GET", "/status", nil))

	var body struct {
		Protocol       string `json:"protocol"`
		ListenPort     int    `json:"listen_port"`
		ActiveSessions int    `json:"active_sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Protocol != "mysql" || body.ListenPort != 3307 {
		t.Errorf("unexpected status %+v", body)
	}
	if body.ActiveSessions != 1 {
		t.Errorf("expected 1 active session, got %d", body.ActiveSessions)
	}
}

func TestSessionsHandler(t *testing.T) {
	s := newTestServer([]proxy.SessionInfo{
		{ID: 3, Protocol: "mysql", Remote: "10.0.0.1:5000", Schema: "demo", StartedAt: time.Now()},
	})

	rec := httptest.NewRecorder()
	s.sessionsHandler(rec, httptest.NewRequest("GET", "/sessions", nil))

	var body []proxy.SessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body) != 1 || body[0].ID != 3 || body[0].Schema != "demo" {
		t.Errorf("unexpected sessions %+v", body)
	}
}

func TestSessionsHandlerEmpty(t *testing.T) {
	s := newTestServer(nil)

	rec := httptest.NewRecorder()
	s.sessionsHandler(rec, httptest.NewRequest("GET", "/sessions", nil))

	// Empty list, not null.
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("expected empty array, got %q", got)
	}
}

func TestConfigHandlerRedactsPassword(t *testing.T) {
	s := newTestServer(nil)

	rec := httptest.NewRecorder()
	s.configHandler(rec, httptest.NewRequest("GET", "/config", nil))

	var body struct {
		Target config.TargetConfig `json:"target"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Target.Password != "***REDACTED***" {
		t.Errorf("password leaked: %q", body.Target.Password)
	}
	if body.Target.Host != "localhost" {
		t.Errorf("unexpected target %+v", body.Target)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(nil)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	s.securityHeaders(inner).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options header")
	}
}
