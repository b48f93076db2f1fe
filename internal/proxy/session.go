package proxy

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbgateway/dbgateway/internal/backend"
)

// Session is the per-connection state owned exclusively by one session
// goroutine: the client socket, the bound backend session, and the
// protocol counters.
type Session struct {
	ID      uint32
	Conn    net.Conn
	Backend backend.Session
	Logger  *zap.Logger

	// Schema is the session's current schema/database name.
	Schema string

	// Seq is the next MySQL sequence id to write. The engine resets it
	// from each incoming command frame; unused for Postgres.
	Seq byte

	// Caps is the MySQL capability bitmap negotiated in the handshake.
	Caps uint32

	// TxStatus is the Postgres transaction status hint ('I', 'T', 'E').
	TxStatus byte

	// SecretKey is the Postgres BackendKeyData secret.
	SecretKey uint32

	// Ext holds protocol-specific session state (e.g. the Postgres
	// prepared-statement and portal tables). Owned by the engine.
	Ext any

	StartedAt time.Time

	closeOnce sync.Once
}

// NewSession creates a session for an accepted client connection.
func NewSession(id uint32, conn net.Conn, logger *zap.Logger) *Session {
	return &Session{
		ID:        id,
		Conn:      conn,
		Logger:    logger,
		TxStatus:  'I',
		StartedAt: time.Now(),
	}
}

// Close tears the session down: backend session first, then the client
// socket. Both closes are attempted even if one fails, and repeated
// calls are no-ops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.Backend != nil {
			if err := s.Backend.Close(); err != nil {
				s.Logger.Debug("closing backend session", zap.Error(err))
			}
		}
		if err := s.Conn.Close(); err != nil {
			s.Logger.Debug("closing client socket", zap.Error(err))
		}
	})
}
