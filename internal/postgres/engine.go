package postgres

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dbgateway/dbgateway/internal/metrics"
	"github.com/dbgateway/dbgateway/internal/proxy"
	"github.com/dbgateway/dbgateway/internal/sqlparse"
)

// errStatementFailed marks a statement whose failure was already
// reported as an ErrorResponse. The query cycle still ends with
// ReadyForQuery and the session survives.
var errStatementFailed = errors.New("statement failed")

// Engine is the PostgreSQL protocol state machine. One instance serves
// all sessions; per-session state lives on proxy.Session.
type Engine struct {
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewEngine(m *metrics.Collector, logger *zap.Logger) *Engine {
	return &Engine{logger: logger, metrics: m}
}

func (e *Engine) Protocol() string { return "postgresql" }

// Rewrites for client boilerplate the backend cannot answer. pgAdmin
// issues both of these on connect.
var (
	setEncodingRe  = regexp.MustCompile(`(?i)^SET\s+CLIENT_ENCODING\s+TO\s+'?UNICODE'?$`)
	setStatementRe = regexp.MustCompile(`(?i)^SET\s+(?:SESSION\s+|LOCAL\s+)?([A-Za-z_]+)`)
)

// Runtime parameters acknowledged locally. Forwarding these would fail
// against a non-Postgres backend.
var localRuntimeParams = map[string]bool{
	"client_encoding":    true,
	"datestyle":          true,
	"timezone":           true,
	"extra_float_digits": true,
	"application_name":   true,
	"statement_timeout":  true,
}

// Init runs the startup phase. SSLRequest is refused with 'N' and the
// client retries in plaintext; CancelRequest connections just close.
// Credentials are accepted without verification.
func (e *Engine) Init(ctx context.Context, s *proxy.Session) error {
	var params map[string]string
	for params == nil {
		body, err := ReadStartup(s.Conn)
		if err != nil {
			return fmt.Errorf("reading startup packet: %w", err)
		}
		if len(body) < 4 {
			return errors.New("startup packet too short")
		}
		code := binary.BigEndian.Uint32(body[:4])
		switch code {
		case sslRequestCode:
			if _, err := s.Conn.Write([]byte{'N'}); err != nil {
				return fmt.Errorf("refusing ssl: %w", err)
			}
		case cancelRequestCode:
			// The cancel connection carries no session; nothing to do.
			return proxy.ErrSessionDone
		case protocolVersion3:
			params = parseStartupParams(body[4:])
		default:
			e.fatal(s, "0A000", fmt.Sprintf("unsupported frontend protocol %d.%d", code>>16, code&0xffff))
			return fmt.Errorf("unsupported protocol version %d", code)
		}
	}

	user := params["user"]
	db := params["database"]
	if db == "" {
		db = user
	}
	if db != "" {
		s.Schema = db
		if err := s.Backend.SetSchema(ctx, db); err != nil {
			s.Logger.Warn("startup schema not applied",
				zap.String("schema", db), zap.Error(err))
		}
	}

	if err := WriteMessage(s.Conn, 'R', buildAuthenticationOk()); err != nil {
		return fmt.Errorf("writing authentication ok: %w", err)
	}

	status := [][2]string{
		{"server_version", s.Backend.ServerVersion()},
		{"server_encoding", "UTF8"},
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO, MDY"},
		{"TimeZone", "UTC"},
		{"integer_datetimes", "on"},
	}
	for _, kv := range status {
		if err := WriteMessage(s.Conn, 'S', buildParameterStatus(kv[0], kv[1])); err != nil {
			return fmt.Errorf("writing parameter status: %w", err)
		}
	}

	var secret [4]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return fmt.Errorf("generating backend secret: %w", err)
	}
	s.SecretKey = binary.BigEndian.Uint32(secret[:])
	if err := WriteMessage(s.Conn, 'K', buildBackendKeyData(s.ID, s.SecretKey)); err != nil {
		return fmt.Errorf("writing backend key data: %w", err)
	}

	s.Ext = newSessionState()
	if err := e.writeReady(s); err != nil {
		return err
	}

	s.Logger.Info("postgres session started",
		zap.String("user", user),
		zap.String("database", db))
	return nil
}

// HandleCommand reads one frontend message and answers it.
func (e *Engine) HandleCommand(ctx context.Context, s *proxy.Session) error {
	tag, body, err := ReadMessage(s.Conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return proxy.ErrSessionDone
		}
		return fmt.Errorf("reading frontend message: %w", err)
	}
	e.metrics.CommandHandled(e.Protocol(), messageName(tag))

	switch tag {
	case msgTerminate:
		return proxy.ErrSessionDone
	case msgQuery:
		sql, _, _ := cString(body, 0)
		return e.handleQuery(ctx, s, sql)
	case msgParse, msgBind, msgDescribe, msgExecute, msgClose, msgSync, msgFlush:
		return e.handleExtended(ctx, s, tag, body)
	case msgPassword:
		// Authentication already completed; stray password messages are
		// ignored.
		return nil
	default:
		s.Logger.Debug("unknown frontend message", zap.String("tag", string(tag)))
		if err := e.sendError(s.Conn, "0A000", fmt.Sprintf("unknown message type %q", tag)); err != nil && !errors.Is(err, errStatementFailed) {
			return err
		}
		return e.writeReady(s)
	}
}

// handleQuery runs one simple-query cycle. Exactly one ReadyForQuery
// terminates the cycle, including on error.
func (e *Engine) handleQuery(ctx context.Context, s *proxy.Session, sql string) error {
	start := time.Now()
	defer func() {
		e.metrics.QueryDuration(e.Protocol(), time.Since(start))
	}()

	if err := e.runQueryGroup(ctx, s, sql); err != nil && !errors.Is(err, errStatementFailed) {
		return err
	}
	return e.writeReady(s)
}

func (e *Engine) runQueryGroup(ctx context.Context, s *proxy.Session, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return WriteMessage(s.Conn, 'I', nil) // EmptyQueryResponse
	}

	stmts, err := sqlparse.Split(sql)
	if err != nil || len(stmts) == 0 {
		stmts = []string{strings.TrimSpace(sql)}
	}
	for _, stmt := range stmts {
		if err := e.runStatement(ctx, s, s.Conn, stmt); err != nil {
			return err
		}
	}
	return nil
}

// runStatement answers one statement on w: the connection for the
// simple-query path, the session's output buffer for the extended path.
func (e *Engine) runStatement(ctx context.Context, s *proxy.Session, w io.Writer, stmt string) error {
	stmt = e.rewrite(stmt)

	if tag, ok := e.interceptSet(stmt); ok {
		return WriteMessage(w, 'C', buildCommandComplete(tag))
	}

	res, err := s.Backend.Execute(ctx, stmt)
	if err != nil {
		e.metrics.QueryError(e.Protocol())
		s.Logger.Debug("backend query failed", zap.Error(err))
		return e.sendError(w, "42000", "SQL Error: "+err.Error())
	}

	if res.HasRows() {
		defer res.Rows.Close()
		return e.streamRows(w, stmt, res.Rows)
	}
	return WriteMessage(w, 'C', buildCommandComplete(commandTag(stmt, res.Affected)))
}

// rewrite translates client boilerplate the backend would reject.
func (e *Engine) rewrite(stmt string) string {
	if setEncodingRe.MatchString(strings.TrimSpace(stmt)) {
		return "SET client_encoding TO 'UTF8'"
	}
	if strings.Contains(strings.ToLower(stmt), "datlastsysoid") {
		return "SELECT DISTINCT 10000::oid AS datlastsysoid FROM pg_database"
	}
	return stmt
}

// interceptSet acknowledges SET statements for connection-local runtime
// parameters without touching the backend.
func (e *Engine) interceptSet(stmt string) (string, bool) {
	m := setStatementRe.FindStringSubmatch(strings.TrimSpace(stmt))
	if m == nil {
		return "", false
	}
	if localRuntimeParams[strings.ToLower(m[1])] {
		return "SET", true
	}
	return "", false
}

// sendError writes an ErrorResponse. A transport failure is returned
// as-is; otherwise errStatementFailed signals the handled failure.
func (e *Engine) sendError(w io.Writer, code, message string) error {
	e.metrics.ProtocolError(e.Protocol())
	if err := WriteMessage(w, 'E', buildErrorResponse("ERROR", code, message)); err != nil {
		return err
	}
	return errStatementFailed
}

func (e *Engine) fatal(s *proxy.Session, code, message string) {
	WriteMessage(s.Conn, 'E', buildErrorResponse("FATAL", code, message))
}

func (e *Engine) writeReady(s *proxy.Session) error {
	return WriteMessage(s.Conn, 'Z', []byte{s.TxStatus})
}

// WriteFatal reports a pre-startup failure, best effort. The client may
// not have sent its startup packet yet, but psql and JDBC both render
// an early FATAL correctly.
func (e *Engine) WriteFatal(s *proxy.Session, err error) {
	e.fatal(s, "08006", "Connection Error: "+err.Error())
}

func messageName(tag byte) string {
	switch tag {
	case msgQuery:
		return "query"
	case msgParse:
		return "parse"
	case msgBind:
		return "bind"
	case msgDescribe:
		return "describe"
	case msgExecute:
		return "execute"
	case msgClose:
		return "close"
	case msgSync:
		return "sync"
	case msgFlush:
		return "flush"
	case msgTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("%q", tag)
	}
}
