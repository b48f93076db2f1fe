package proxy

import (
	"context"
	"errors"
)

// ErrSessionDone signals an orderly end of the session: COM_QUIT, the
// Postgres Terminate message, or client EOF between commands.
var ErrSessionDone = errors.New("session done")

// Engine is a wire-protocol state machine serving one flavor of client.
// The listener and session controller depend only on this contract.
type Engine interface {
	// Protocol names the engine ("mysql" or "postgresql") for logs and
	// metric labels.
	Protocol() string

	// Init runs the protocol's connection-phase sequence (handshake /
	// startup + authentication). A returned error is fatal to the
	// session.
	Init(ctx context.Context, s *Session) error

	// HandleCommand reads exactly one client command and writes its
	// complete response. Recoverable failures (backend SQL errors) are
	// reported on the wire and return nil; only framing failures,
	// disconnects, and ErrSessionDone terminate the loop.
	HandleCommand(ctx context.Context, s *Session) error

	// WriteFatal makes a best-effort attempt to report a fatal error
	// (e.g. backend connect failure) to the client before teardown.
	WriteFatal(s *Session, err error)
}
