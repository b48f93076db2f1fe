// Package api is the management HTTP surface: health and readiness
// probes, gateway status, the live session list, and Prometheus
// metrics. It binds to loopback by default and is never on the query
// path.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dbgateway/dbgateway/internal/config"
	"github.com/dbgateway/dbgateway/internal/health"
	"github.com/dbgateway/dbgateway/internal/proxy"
)

// SessionSource exposes the proxy server's live session registry.
type SessionSource interface {
	Sessions() []proxy.SessionInfo
	ActiveSessions() int
}

// Server is the management HTTP server.
type Server struct {
	sessions    SessionSource
	healthCheck *health.Checker
	logger      *zap.Logger
	httpServer  *http.Server
	startTime   time.Time
	cfg         *config.Config
}

// NewServer creates a management server over the given session source
// and health checker.
func NewServer(ss SessionSource, hc *health.Checker, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		sessions:    ss,
		healthCheck: hc,
		logger:      logger,
		startTime:   time.Now(),
		cfg:         cfg,
	}
}

// Start starts the HTTP server on the configured bind address.
func (s *Server) Start() error {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/sessions", s.sessionsHandler).Methods("GET")
	r.HandleFunc("/config", s.configHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", s.cfg.API.Bind, s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.securityHeaders(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("management API listening", zap.String("addr", addr))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	state := s.healthCheck.State()
	status := http.StatusOK
	if !s.healthCheck.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":  state.Status.String(),
		"backend": state,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck.Healthy() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":  int(time.Since(s.startTime).Seconds()),
		"go_version":      runtime.Version(),
		"goroutines":      runtime.NumGoroutine(),
		"memory_mb":       float64(mem.Alloc) / 1024 / 1024,
		"protocol":        s.cfg.Proxy.DBType,
		"listen_port":     s.cfg.Proxy.Port,
		"active_sessions": s.sessions.ActiveSessions(),
	})
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.Sessions()
	if sessions == nil {
		sessions = []proxy.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proxy":  s.cfg.Proxy,
		"target": s.cfg.Target.Redacted(),
		"api":    s.cfg.API,
	})
}

// securityHeaders adds security-related HTTP headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
