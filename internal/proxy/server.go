package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dbgateway/dbgateway/internal/backend"
	"github.com/dbgateway/dbgateway/internal/metrics"
)

// SessionInfo is the management-surface view of one live session.
type SessionInfo struct {
	ID        uint32    `json:"id"`
	Protocol  string    `json:"protocol"`
	Remote    string    `json:"remote"`
	Schema    string    `json:"schema,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Server accepts client connections on one TCP port and runs one
// session goroutine per accepted socket.
type Server struct {
	engine    Engine
	connector backend.Connector
	metrics   *metrics.Collector
	logger    *zap.Logger

	listener net.Listener
	nextID   atomic.Uint32

	mu       sync.RWMutex
	sessions map[uint32]*Session

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a proxy server for the given protocol engine.
func NewServer(e Engine, c backend.Connector, m *metrics.Collector, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		engine:    e,
		connector: c,
		metrics:   m,
		logger:    logger,
		sessions:  make(map[uint32]*Session),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Listen binds the TCP port and starts the accept loop.
func (srv *Server) Listen(bind string, port int) error {
	addr := fmt.Sprintf("%s:%d", bind, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s for %s: %w", addr, srv.engine.Protocol(), err)
	}
	srv.listener = ln
	srv.logger.Info("proxy listening",
		zap.String("protocol", srv.engine.Protocol()),
		zap.String("addr", addr))

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.acceptLoop(ln)
	}()
	return nil
}

func (srv *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-srv.ctx.Done():
				return
			default:
				srv.logger.Warn("accept error", zap.Error(err))
				continue
			}
		}

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.serveConn(conn)
		}()
	}
}

// serveConn is the session controller: backend connect, protocol init,
// command loop, teardown.
func (srv *Server) serveConn(conn net.Conn) {
	id := srv.nextID.Add(1)
	logger := srv.logger.With(
		zap.Uint32("conn_id", id),
		zap.String("protocol", srv.engine.Protocol()),
		zap.String("remote", conn.RemoteAddr().String()))

	sess := NewSession(id, conn, logger)
	defer sess.Close()

	// Cooperative shutdown: an in-flight response completes, then the
	// next blocking read is unblocked by an expired deadline.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-srv.ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	start := time.Now()
	srv.register(sess)
	srv.metrics.SessionOpened(srv.engine.Protocol())
	defer func() {
		srv.unregister(id)
		srv.metrics.SessionClosed(srv.engine.Protocol())
		srv.metrics.SessionDuration(srv.engine.Protocol(), time.Since(start))
	}()

	logger.Info("session started")

	b, err := srv.connector.Connect(srv.ctx)
	if err != nil {
		logger.Warn("backend connect failed", zap.Error(err))
		srv.metrics.BackendConnectError()
		srv.engine.WriteFatal(sess, err)
		return
	}
	sess.Backend = b

	if err := srv.engine.Init(srv.ctx, sess); err != nil {
		if !errors.Is(err, ErrSessionDone) {
			logger.Warn("protocol init failed", zap.Error(err))
		}
		return
	}

	for {
		if srv.ctx.Err() != nil {
			logger.Info("session ending on shutdown")
			return
		}
		if err := srv.engine.HandleCommand(srv.ctx, sess); err != nil {
			if errors.Is(err, ErrSessionDone) {
				logger.Info("session finished")
			} else {
				logger.Debug("session terminated", zap.Error(err))
			}
			return
		}
	}
}

func (srv *Server) register(s *Session) {
	srv.mu.Lock()
	srv.sessions[s.ID] = s
	srv.mu.Unlock()
}

func (srv *Server) unregister(id uint32) {
	srv.mu.Lock()
	delete(srv.sessions, id)
	srv.mu.Unlock()
}

// Sessions snapshots the live session registry for the management API.
func (srv *Server) Sessions() []SessionInfo {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]SessionInfo, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		out = append(out, SessionInfo{
			ID:        s.ID,
			Protocol:  srv.engine.Protocol(),
			Remote:    s.Conn.RemoteAddr().String(),
			Schema:    s.Schema,
			StartedAt: s.StartedAt,
		})
	}
	return out
}

// ActiveSessions returns the number of live sessions.
func (srv *Server) ActiveSessions() int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.sessions)
}

// Stop closes the listener, signals live sessions to finish their
// current command, and waits for them to exit.
func (srv *Server) Stop() {
	srv.cancel()
	if srv.listener != nil {
		srv.listener.Close()
	}
	srv.wg.Wait()
	srv.logger.Info("proxy server stopped")
}
