package typemap

import "github.com/dbgateway/dbgateway/internal/backend"

// PostgreSQL type OIDs served in RowDescription (text format subset).
const (
	PGOidBool      uint32 = 16
	PGOidBytea     uint32 = 17
	PGOidInt8      uint32 = 20
	PGOidInt2      uint32 = 21
	PGOidInt4      uint32 = 23
	PGOidText      uint32 = 25
	PGOidFloat4    uint32 = 700
	PGOidFloat8    uint32 = 701
	PGOidBpchar    uint32 = 1042
	PGOidVarchar   uint32 = 1043
	PGOidDate      uint32 = 1082
	PGOidTime      uint32 = 1083
	PGOidTimestamp uint32 = 1114
	PGOidNumeric   uint32 = 1700
)

// PGTypeOID maps a backend column kind to a PostgreSQL type OID.
// Unmapped kinds fall back to text.
func PGTypeOID(kind backend.Kind) uint32 {
	switch kind {
	case backend.KindBool:
		return PGOidBool
	case backend.KindTinyInt, backend.KindSmallInt:
		return PGOidInt2
	case backend.KindInt:
		return PGOidInt4
	case backend.KindBigInt:
		return PGOidInt8
	case backend.KindFloat:
		return PGOidFloat4
	case backend.KindDouble:
		return PGOidFloat8
	case backend.KindDecimal:
		return PGOidNumeric
	case backend.KindChar:
		return PGOidBpchar
	case backend.KindVarchar:
		return PGOidVarchar
	case backend.KindDate:
		return PGOidDate
	case backend.KindTime:
		return PGOidTime
	case backend.KindTimestamp:
		return PGOidTimestamp
	case backend.KindBlob:
		return PGOidBytea
	default:
		return PGOidText
	}
}

// PGTypeSize returns the wire size for a type OID: the fixed byte width
// for fixed types, -1 for variable-length types.
func PGTypeSize(oid uint32) int16 {
	switch oid {
	case PGOidBool:
		return 1
	case PGOidInt2:
		return 2
	case PGOidInt4, PGOidFloat4:
		return 4
	case PGOidInt8, PGOidFloat8:
		return 8
	default:
		return -1
	}
}
