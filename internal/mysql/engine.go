package mysql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dbgateway/dbgateway/internal/metrics"
	"github.com/dbgateway/dbgateway/internal/proxy"
	"github.com/dbgateway/dbgateway/internal/sqlparse"
)

// Engine is the MySQL protocol state machine. One instance serves all
// sessions; per-session state lives on proxy.Session.
type Engine struct {
	logger        *zap.Logger
	metrics       *metrics.Collector
	defaultSchema string
	startedAt     time.Time
	questions     atomic.Uint64

	mu        sync.RWMutex
	variables map[string]string
}

// NewEngine creates a MySQL engine. overrides layer on top of the
// built-in session variables and win on conflict.
func NewEngine(defaultSchema string, overrides map[string]string, m *metrics.Collector, logger *zap.Logger) *Engine {
	e := &Engine{
		logger:        logger,
		metrics:       m,
		defaultSchema: defaultSchema,
		startedAt:     time.Now(),
		variables:     make(map[string]string),
	}
	e.UpdateVariables(overrides)
	return e
}

// UpdateVariables replaces the variable overrides, e.g. after a config
// reload. Built-in defaults are retained unless overridden.
func (e *Engine) UpdateVariables(overrides map[string]string) {
	merged := map[string]string{
		"lower_case_file_system": "OFF",
		"lower_case_table_names": "0",
		"sql_mode":               "STRICT_TRANS_TABLES,NO_ENGINE_SUBSTITUTION",
		"max_allowed_packet":     "16777215",
		"version_comment":        "dbgateway",
	}
	for k, v := range overrides {
		merged[strings.ToLower(k)] = v
	}
	e.mu.Lock()
	e.variables = merged
	e.mu.Unlock()
}

func (e *Engine) Protocol() string { return "mysql" }

// Init runs the connection phase: Handshake V10 at sequence 0, the
// client response at sequence 1, and OK at sequence 2. Credentials are
// accepted without verification; authentication against the real
// database happens on the backend connection.
func (e *Engine) Init(ctx context.Context, s *proxy.Session) error {
	scramble, err := NewScramble()
	if err != nil {
		return err
	}

	s.Seq = 0
	if err := e.send(s, BuildHandshakeV10(s.ID, s.Backend.ServerVersion(), scramble)); err != nil {
		return fmt.Errorf("writing handshake: %w", err)
	}

	payload, seq, err := ReadPacket(s.Conn)
	if err != nil {
		return fmt.Errorf("reading handshake response: %w", err)
	}
	s.Seq = seq + 1

	resp, err := ParseHandshakeResponse(payload)
	if err != nil {
		e.send(s, BuildErr(1043, "08S01", "Bad handshake"))
		return fmt.Errorf("parsing handshake response: %w", err)
	}

	if resp.SSLRequest {
		e.send(s, BuildErr(1045, "28000", "SSL not supported"))
		return errors.New("client requested SSL")
	}
	s.Caps = resp.Capabilities

	s.Schema = e.defaultSchema
	if resp.Database != "" {
		if err := s.Backend.SetSchema(ctx, resp.Database); err != nil {
			s.Logger.Warn("handshake schema not applied",
				zap.String("schema", resp.Database), zap.Error(err))
		} else {
			s.Schema = resp.Database
		}
	}

	if err := e.send(s, BuildOK(0, 0)); err != nil {
		return fmt.Errorf("writing auth ok: %w", err)
	}

	s.Logger.Info("mysql session authenticated",
		zap.String("user", resp.User),
		zap.String("schema", s.Schema))
	return nil
}

// HandleCommand reads one command packet and writes its complete
// response. The response sequence continues from the request's id.
func (e *Engine) HandleCommand(ctx context.Context, s *proxy.Session) error {
	payload, seq, err := ReadPacket(s.Conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return proxy.ErrSessionDone
		}
		return fmt.Errorf("reading command: %w", err)
	}
	s.Seq = seq + 1

	if len(payload) == 0 {
		if err := e.send(s, BuildErr(1835, "HY000", "Malformed communication packet")); err != nil {
			return err
		}
		return nil
	}

	cmd := payload[0]
	e.metrics.CommandHandled(e.Protocol(), commandName(cmd))

	switch cmd {
	case ComQuit:
		return proxy.ErrSessionDone
	case ComQuery:
		return e.handleQuery(ctx, s, string(payload[1:]))
	case ComInitDB:
		return e.handleInitDB(ctx, s, string(payload[1:]))
	case ComStatistics:
		// COM_STATISTICS gets a bare human-readable string, not OK.
		return e.send(s, []byte(e.statistics()))
	case ComPing:
		return e.send(s, BuildOK(0, 0))
	default:
		// Unrecognized or unsupported commands get a permissive OK so
		// clients probing optional features keep working.
		s.Logger.Debug("acknowledging unsupported command", zap.Uint8("command", cmd))
		return e.send(s, BuildOK(0, 0))
	}
}

func (e *Engine) handleInitDB(ctx context.Context, s *proxy.Session, name string) error {
	if err := s.Backend.SetSchema(ctx, name); err != nil {
		e.metrics.QueryError(e.Protocol())
		err = e.sendErr(s, 1049, "42000", fmt.Sprintf("Unknown database '%s'", name))
		if errors.Is(err, errQueryFailed) {
			return nil
		}
		return err
	}
	s.Schema = name
	return e.send(s, BuildOK(0, 0))
}

// handleQuery splits the COM_QUERY text into statements and answers
// each in order. Sequence ids run contiguously across the whole group.
// A failed statement stops the group but not the session.
func (e *Engine) handleQuery(ctx context.Context, s *proxy.Session, sql string) error {
	start := time.Now()
	defer func() {
		e.metrics.QueryDuration(e.Protocol(), time.Since(start))
	}()
	e.questions.Add(1)

	stmts, err := sqlparse.Split(sql)
	if err != nil || len(stmts) == 0 {
		// Unsplittable input still goes to the backend verbatim.
		stmts = []string{strings.TrimSpace(sql)}
	}
	if len(stmts) == 1 && stmts[0] == "" {
		err := e.sendErr(s, 1065, "42000", "Query was empty")
		if errors.Is(err, errQueryFailed) {
			return nil
		}
		return err
	}

	for _, stmt := range stmts {
		if err := e.runStatement(ctx, s, stmt); err != nil {
			if errors.Is(err, errQueryFailed) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (e *Engine) runStatement(ctx context.Context, s *proxy.Session, stmt string) error {
	if handled, err := e.intercept(ctx, s, stmt); handled {
		return err
	}

	res, err := s.Backend.Execute(ctx, stmt)
	if err != nil {
		e.metrics.QueryError(e.Protocol())
		s.Logger.Debug("backend query failed", zap.Error(err))
		return e.sendErr(s, 1001, "HY000", "SQL Error: "+err.Error())
	}

	if res.HasRows() {
		defer res.Rows.Close()
		return e.writeRows(s, res.Rows)
	}
	return e.send(s, BuildOK(uint64(res.Affected), 0))
}

// WriteFatal reports a pre-handshake failure as an ERR at sequence 0,
// best effort.
func (e *Engine) WriteFatal(s *proxy.Session, err error) {
	WritePacket(s.Conn, BuildErr(1001, "HY000", "Connection Error: "+err.Error()), 0)
}

// statistics renders the COM_STATISTICS status line the way a real
// server does.
func (e *Engine) statistics() string {
	uptime := time.Since(e.startedAt).Seconds()
	questions := e.questions.Load()
	qps := 0.0
	if uptime >= 1 {
		qps = float64(questions) / uptime
	}
	return fmt.Sprintf(
		"Uptime: %d  Threads: 1  Questions: %d  Slow queries: 0  Opens: 0  Flush tables: 1  Open tables: 0  Queries per second avg: %.3f",
		int64(uptime), questions, qps)
}

func commandName(cmd byte) string {
	switch cmd {
	case ComQuit:
		return "quit"
	case ComInitDB:
		return "init_db"
	case ComQuery:
		return "query"
	case ComFieldList:
		return "field_list"
	case ComStatistics:
		return "statistics"
	case ComPing:
		return "ping"
	default:
		return fmt.Sprintf("0x%02x", cmd)
	}
}
