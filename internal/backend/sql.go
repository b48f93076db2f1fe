package backend

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Target holds the coordinates of the single backend database.
type Target struct {
	Type     string // "mysql" or "postgresql"
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

const connectTimeout = 10 * time.Second

// SQLConnector opens one database/sql handle per gateway session. The
// handle is pinned to a single underlying connection so that session
// state (current schema, SET variables) sticks.
type SQLConnector struct {
	mu     sync.RWMutex
	target Target
	logger *zap.Logger
}

// NewSQLConnector creates a Connector for the given target.
func NewSQLConnector(target Target, logger *zap.Logger) *SQLConnector {
	return &SQLConnector{target: target, logger: logger}
}

// UpdateTarget swaps the backend coordinates. Existing sessions keep
// their connection; new sessions dial the new target.
func (c *SQLConnector) UpdateTarget(target Target) {
	c.mu.Lock()
	c.target = target
	c.mu.Unlock()
	c.logger.Info("backend target updated",
		zap.String("type", target.Type),
		zap.String("host", target.Host),
		zap.Int("port", target.Port))
}

// Connect opens and verifies a new backend session.
func (c *SQLConnector) Connect(ctx context.Context) (Session, error) {
	c.mu.RLock()
	target := c.target
	c.mu.RUnlock()

	driver, dsn, err := target.dsn()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening backend %s: %w", driver, err)
	}
	// One client session maps to one backend connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to backend %s:%d: %w", target.Host, target.Port, err)
	}

	s := &sqlSession{db: db, target: target, logger: c.logger}
	s.version = s.fetchVersion(ctx)
	return s, nil
}

func (t Target) dsn() (driver, dsn string, err error) {
	switch t.Type {
	case "mysql":
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", t.Username, t.Password, t.Host, t.Port, t.Database), nil
	case "postgresql", "postgres":
		return "postgres", fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			t.Host, t.Port, t.Username, t.Password, t.Database), nil
	default:
		return "", "", fmt.Errorf("unsupported backend type %q", t.Type)
	}
}

type sqlSession struct {
	db      *sql.DB
	target  Target
	logger  *zap.Logger
	version string
}

func (s *sqlSession) fetchVersion(ctx context.Context) string {
	query := "SELECT VERSION()"
	fallback := "5.7.25"
	if s.target.Type != "mysql" {
		query = "SHOW server_version"
		fallback = "13.0"
	}
	var v string
	if err := s.db.QueryRowContext(ctx, query).Scan(&v); err != nil {
		s.logger.Warn("failed to read backend version, using default",
			zap.String("default", fallback), zap.Error(err))
		return fallback
	}
	return v
}

func (s *sqlSession) ServerVersion() string { return s.version }

func (s *sqlSession) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlSession) Close() error { return s.db.Close() }

func (s *sqlSession) SetSchema(ctx context.Context, name string) error {
	var stmt string
	if s.target.Type == "mysql" {
		stmt = "USE " + quoteIdentMySQL(name)
	} else {
		stmt = "SET search_path TO " + quoteIdentPG(name)
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("switching schema to %q: %w", name, err)
	}
	return nil
}

// Execute classifies the statement by its leading keyword: row-producing
// statements go through Query, everything else through Exec so an update
// count is available.
func (s *sqlSession) Execute(ctx context.Context, query string) (*Result, error) {
	if returnsRows(query) {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		sr, err := newSQLRows(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		return &Result{Rows: sr}, nil
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some statements (SET, DDL) legitimately have no row count.
		affected = 0
	}
	return &Result{Affected: affected}, nil
}

var rowKeywords = []string{"SELECT", "SHOW", "EXPLAIN", "DESCRIBE", "DESC", "WITH", "VALUES", "TABLE"}

func returnsRows(query string) bool {
	q := strings.TrimSpace(query)
	for _, kw := range rowKeywords {
		if len(q) >= len(kw) && strings.EqualFold(q[:len(kw)], kw) {
			if len(q) == len(kw) {
				return true
			}
			switch q[len(kw)] {
			case ' ', '\t', '\n', '\r', '(', '*':
				return true
			}
		}
	}
	return false
}

func quoteIdentMySQL(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteIdentPG(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqlRows adapts *sql.Rows to the Rows stream contract, scanning every
// cell as nullable text.
type sqlRows struct {
	rows *sql.Rows
	cols []Column
}

func newSQLRows(rows *sql.Rows) (*sqlRows, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("reading column metadata: %w", err)
	}
	cols := make([]Column, len(types))
	for i, ct := range types {
		cols[i] = columnFromType(ct)
	}
	return &sqlRows{rows: rows, cols: cols}, nil
}

func columnFromType(ct *sql.ColumnType) Column {
	name := ct.DatabaseTypeName()
	signed := true
	if strings.HasPrefix(name, "UNSIGNED ") {
		signed = false
		name = strings.TrimPrefix(name, "UNSIGNED ")
	}
	col := Column{
		Name:   ct.Name(),
		Kind:   kindFromTypeName(name),
		Signed: signed,
	}
	if nullable, ok := ct.Nullable(); ok {
		col.Nullable = nullable
	} else {
		col.Nullable = true
	}
	if length, ok := ct.Length(); ok {
		col.DisplaySize = int(length)
	}
	if precision, scale, ok := ct.DecimalSize(); ok {
		col.Precision = int(precision)
		col.Scale = int(scale)
	}
	return col
}

// kindFromTypeName folds the type names reported by both drivers into
// the gateway taxonomy.
func kindFromTypeName(name string) Kind {
	switch name {
	case "BIT", "VARBIT":
		return KindBit
	case "BOOL", "BOOLEAN":
		return KindBool
	case "TINYINT":
		return KindTinyInt
	case "SMALLINT", "INT2", "YEAR":
		return KindSmallInt
	case "INT", "INTEGER", "INT4", "MEDIUMINT", "OID":
		return KindInt
	case "BIGINT", "INT8":
		return KindBigInt
	case "FLOAT", "FLOAT4", "REAL":
		return KindFloat
	case "DOUBLE", "FLOAT8":
		return KindDouble
	case "DECIMAL", "NUMERIC":
		return KindDecimal
	case "DATE":
		return KindDate
	case "TIME", "TIMETZ":
		return KindTime
	case "DATETIME", "TIMESTAMP", "TIMESTAMPTZ":
		return KindTimestamp
	case "CHAR", "BPCHAR":
		return KindChar
	case "VARCHAR", "NVARCHAR", "NAME":
		return KindVarchar
	case "TEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "JSON", "JSONB", "UUID", "XML":
		return KindText
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BYTEA":
		return KindBlob
	default:
		return KindUnknown
	}
}

func (r *sqlRows) Columns() []Column { return r.cols }

func (r *sqlRows) Next() ([]Value, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	cells := make([]sql.NullString, len(r.cols))
	dest := make([]any, len(r.cols))
	for i := range cells {
		dest[i] = &cells[i]
	}
	if err := r.rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}
	row := make([]Value, len(cells))
	for i, c := range cells {
		if c.Valid {
			row[i] = Value{Text: c.String}
		} else {
			row[i] = Value{Null: true}
		}
	}
	return row, nil
}

func (r *sqlRows) Close() error { return r.rows.Close() }
