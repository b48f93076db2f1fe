package postgres

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dbgateway/dbgateway/internal/backend"
	"github.com/dbgateway/dbgateway/internal/typemap"
)

// buildRowDescription builds the RowDescription ('T') body. All
// columns use the text format.
func buildRowDescription(cols []backend.Column) []byte {
	buf := binary.BigEndian.AppendUint16(nil, uint16(len(cols)))
	for _, col := range cols {
		oid := typemap.PGTypeOID(col.Kind)
		buf = append(buf, col.Name...)
		buf = append(buf, 0)
		buf = binary.BigEndian.AppendUint32(buf, 0) // table oid
		buf = binary.BigEndian.AppendUint16(buf, 0) // attribute number
		buf = binary.BigEndian.AppendUint32(buf, oid)
		buf = binary.BigEndian.AppendUint16(buf, uint16(typemap.PGTypeSize(oid)))
		buf = binary.BigEndian.AppendUint32(buf, 0xffffffff) // type modifier -1
		buf = binary.BigEndian.AppendUint16(buf, 0)          // text format
	}
	return buf
}

// buildDataRow builds a DataRow ('D') body: NULL cells carry length -1
// and no bytes.
func buildDataRow(row []backend.Value) []byte {
	buf := binary.BigEndian.AppendUint16(nil, uint16(len(row)))
	for _, v := range row {
		if v.Null {
			buf = binary.BigEndian.AppendUint32(buf, 0xffffffff)
			continue
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Text)))
		buf = append(buf, v.Text...)
	}
	return buf
}

// streamRows writes T, the D rows, and C with the row-count tag.
func (e *Engine) streamRows(w io.Writer, stmt string, rows backend.Rows) error {
	if err := WriteMessage(w, 'T', buildRowDescription(rows.Columns())); err != nil {
		return err
	}

	count := 0
	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return e.sendError(w, "42000", "SQL Error: "+err.Error())
		}
		if err := WriteMessage(w, 'D', buildDataRow(row)); err != nil {
			return err
		}
		count++
	}

	tag := commandTag(stmt, int64(count))
	return WriteMessage(w, 'C', buildCommandComplete(tag))
}

// commandTag derives the CommandComplete tag from the statement's
// leading keyword. SELECT-shaped statements report the row count;
// INSERT reports "INSERT 0 <n>".
func commandTag(stmt string, n int64) string {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(stmt)))
	if len(fields) == 0 {
		return fmt.Sprintf("SELECT %d", n)
	}
	switch fields[0] {
	case "SELECT", "SHOW", "WITH", "TABLE", "VALUES", "EXPLAIN", "FETCH":
		return fmt.Sprintf("SELECT %d", n)
	case "INSERT":
		return fmt.Sprintf("INSERT 0 %d", n)
	case "UPDATE", "DELETE", "MOVE", "COPY":
		return fmt.Sprintf("%s %d", fields[0], n)
	case "CREATE", "DROP", "ALTER", "TRUNCATE", "GRANT", "REVOKE":
		if len(fields) > 1 {
			return fields[0] + " " + fields[1]
		}
		return fields[0]
	case "BEGIN", "START":
		return "BEGIN"
	case "COMMIT", "END":
		return "COMMIT"
	case "ROLLBACK", "ABORT":
		return "ROLLBACK"
	case "SET", "RESET", "DISCARD":
		return fields[0]
	default:
		return fields[0]
	}
}
