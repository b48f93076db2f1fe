// Package typemap translates the backend column taxonomy into the
// concrete type encodings each wire protocol expects.
package typemap

import "github.com/dbgateway/dbgateway/internal/backend"

// MySQL column type bytes (Protocol::ColumnDefinition41 subset).
const (
	MySQLTypeDecimal   byte = 0x00
	MySQLTypeTiny      byte = 0x01
	MySQLTypeShort     byte = 0x02
	MySQLTypeLong      byte = 0x03
	MySQLTypeFloat     byte = 0x04
	MySQLTypeDouble    byte = 0x05
	MySQLTypeLongLong  byte = 0x08
	MySQLTypeDate      byte = 0x0a
	MySQLTypeTime      byte = 0x0b
	MySQLTypeTimestamp byte = 0x0c
	MySQLTypeVarchar   byte = 0x0f
	MySQLTypeBit       byte = 0x10
	MySQLTypeBlob      byte = 0xfc
)

// MySQL column definition flags.
const (
	MySQLFlagNotNull       uint16 = 0x0001
	MySQLFlagUnsigned      uint16 = 0x0020
	MySQLFlagAutoIncrement uint16 = 0x0200
)

// MySQLTypeByte maps a backend column kind to the MySQL column type byte.
// Unmapped kinds fall back to VARCHAR, which every client renders as text.
func MySQLTypeByte(kind backend.Kind) byte {
	switch kind {
	case backend.KindBit:
		return MySQLTypeBit
	case backend.KindBool, backend.KindTinyInt:
		return MySQLTypeTiny
	case backend.KindSmallInt:
		return MySQLTypeShort
	case backend.KindInt:
		return MySQLTypeLong
	case backend.KindBigInt:
		return MySQLTypeLongLong
	case backend.KindFloat:
		return MySQLTypeFloat
	case backend.KindDouble:
		return MySQLTypeDouble
	case backend.KindDecimal:
		return MySQLTypeDecimal
	case backend.KindDate:
		return MySQLTypeDate
	case backend.KindTime:
		return MySQLTypeTime
	case backend.KindTimestamp:
		return MySQLTypeTimestamp
	case backend.KindBlob:
		return MySQLTypeBlob
	default:
		return MySQLTypeVarchar
	}
}

// MySQLFlags builds the column definition flag word.
func MySQLFlags(col backend.Column) uint16 {
	var flags uint16
	if !col.Nullable {
		flags |= MySQLFlagNotNull
	}
	if col.AutoIncrement {
		flags |= MySQLFlagAutoIncrement
	}
	if !col.Signed {
		flags |= MySQLFlagUnsigned
	}
	return flags
}

// MySQLColumnLength returns the declared display length for a column
// definition packet.
func MySQLColumnLength(col backend.Column) uint32 {
	switch col.Kind {
	case backend.KindInt, backend.KindBigInt:
		return 11
	case backend.KindDate:
		return 10
	case backend.KindTimestamp:
		return 19
	case backend.KindDecimal:
		return uint32(col.Precision + 2)
	case backend.KindChar, backend.KindVarchar:
		if col.DisplaySize > 0 {
			return uint32(col.DisplaySize)
		}
		return 255
	default:
		return 255
	}
}
