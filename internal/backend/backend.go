// Package backend provides the gateway's view of the single configured
// target database. Protocol engines consume only the interfaces defined
// here, which keeps them testable against fake backends.
package backend

import (
	"context"
)

// Kind is the gateway's own backend column type taxonomy. Both drivers'
// type names are normalized into it, and the type mappers translate it
// into MySQL type bytes and PostgreSQL OIDs.
type Kind int

const (
	KindUnknown Kind = iota
	KindBit
	KindBool
	KindTinyInt
	KindSmallInt
	KindInt
	KindBigInt
	KindFloat
	KindDouble
	KindDecimal
	KindDate
	KindTime
	KindTimestamp
	KindChar
	KindVarchar
	KindText
	KindBlob
)

// Column describes one column of a backend row stream.
type Column struct {
	Name          string
	Schema        string
	Table         string
	OrigTable     string
	Kind          Kind
	DisplaySize   int
	Precision     int
	Scale         int
	Nullable      bool
	Signed        bool
	AutoIncrement bool
}

// Value is one cell of a row: either NULL or a text rendering. All values
// cross the wire in text format on both protocols.
type Value struct {
	Null bool
	Text string
}

// Rows is a lazy row stream. Next returns io.EOF after the last row.
type Rows interface {
	Columns() []Column
	Next() ([]Value, error)
	Close() error
}

// Result is the outcome of executing one statement: either a row stream
// or an update count, never both.
type Result struct {
	Rows     Rows
	Affected int64
}

// HasRows reports whether the result carries a row stream.
func (r *Result) HasRows() bool { return r != nil && r.Rows != nil }

// Session is one logical connection to the target database. Each client
// session owns exactly one backend session for its whole lifetime.
type Session interface {
	// Execute runs a single SQL statement. The gateway forwards statements
	// verbatim; splitting multi-statement input is the caller's job.
	Execute(ctx context.Context, sql string) (*Result, error)

	// SetSchema switches the session's current schema (COM_INIT_DB).
	SetSchema(ctx context.Context, name string) error

	// ServerVersion reports the backend's version string, captured at
	// connect time.
	ServerVersion() string

	// Ping verifies the backend link is still alive.
	Ping(ctx context.Context) error

	Close() error
}

// Connector opens backend sessions from the gateway-wide target config.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}
