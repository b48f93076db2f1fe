package mysql

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/dbgateway/dbgateway/internal/backend"
	"github.com/dbgateway/dbgateway/internal/proxy"
	"github.com/dbgateway/dbgateway/internal/typemap"
)

// errQueryFailed marks a statement whose failure was already reported
// to the client as an ERR packet. The session survives, but processing
// of any remaining statements in the same COM_QUERY stops.
var errQueryFailed = errors.New("query failed")

// send frames a payload at the session's current sequence id and
// advances it.
func (e *Engine) send(s *proxy.Session, payload []byte) error {
	next, err := WritePacket(s.Conn, payload, s.Seq)
	if err != nil {
		return err
	}
	s.Seq = next
	return nil
}

// sendErr reports a recoverable failure to the client. A transport
// failure while doing so is fatal; otherwise the caller gets
// errQueryFailed.
func (e *Engine) sendErr(s *proxy.Session, code uint16, sqlState, message string) error {
	if err := e.send(s, BuildErr(code, sqlState, message)); err != nil {
		return err
	}
	return errQueryFailed
}

// writeRows streams a result set: column count, column definitions,
// EOF, row packets, EOF.
func (e *Engine) writeRows(s *proxy.Session, rows backend.Rows) error {
	cols := rows.Columns()

	if err := e.send(s, AppendLenencInt(nil, uint64(len(cols)))); err != nil {
		return err
	}
	for _, col := range cols {
		if err := e.send(s, buildColumnDef(col)); err != nil {
			return err
		}
	}
	if err := e.send(s, BuildEOF()); err != nil {
		return err
	}

	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Terminate the stream with an ERR at the next sequence id.
			return e.sendErr(s, 1001, "HY000", "SQL Error: "+err.Error())
		}
		if err := e.send(s, buildRow(row)); err != nil {
			return err
		}
	}

	return e.send(s, BuildEOF())
}

// buildColumnDef builds a Protocol::ColumnDefinition41 payload.
func buildColumnDef(col backend.Column) []byte {
	buf := make([]byte, 0, 64)
	buf = AppendLenencString(buf, "def")
	buf = AppendLenencString(buf, col.Schema)
	buf = AppendLenencString(buf, col.Table)
	buf = AppendLenencString(buf, col.OrigTable)
	buf = AppendLenencString(buf, col.Name)
	buf = AppendLenencString(buf, col.Name)
	buf = AppendLenencInt(buf, 0x0c) // fixed-length fields size
	buf = append(buf, charsetUTF8General, 0x00)
	buf = binary.LittleEndian.AppendUint32(buf, typemap.MySQLColumnLength(col))
	buf = append(buf, typemap.MySQLTypeByte(col.Kind))
	buf = binary.LittleEndian.AppendUint16(buf, typemap.MySQLFlags(col))
	buf = append(buf, byte(col.Scale)) // decimals
	buf = append(buf, 0x00, 0x00)      // filler
	return buf
}

// buildRow builds a text-protocol row payload: 0xFB for NULL, a
// length-encoded string otherwise.
func buildRow(row []backend.Value) []byte {
	buf := make([]byte, 0, 32)
	for _, v := range row {
		if v.Null {
			buf = append(buf, 0xfb)
		} else {
			buf = AppendLenencString(buf, v.Text)
		}
	}
	return buf
}

// syntheticRows serves gateway-generated result sets (intercepted
// introspection queries and fallbacks) through the same row stream
// contract the backend uses.
type syntheticRows struct {
	cols []backend.Column
	rows [][]backend.Value
	pos  int
}

func (r *syntheticRows) Columns() []backend.Column { return r.cols }

func (r *syntheticRows) Next() ([]backend.Value, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

func (r *syntheticRows) Close() error { return nil }

// textColumn describes a synthetic nullable text column.
func textColumn(name string) backend.Column {
	return backend.Column{
		Name:        name,
		Kind:        backend.KindVarchar,
		DisplaySize: 255,
		Nullable:    true,
		Signed:      true,
	}
}

func textValue(s string) backend.Value { return backend.Value{Text: s} }
