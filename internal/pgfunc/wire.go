package pgfunc

import (
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// wireTypes maps the type names accepted as wire hints to their OIDs.
// Only types with special binding in Typed are listed.
var wireTypes = map[string]uint32{
	"bytea": pgtype.ByteaOID,
	"blob":  pgtype.ByteaOID,

	"json":  pgtype.JSONOID,
	"jsonb": pgtype.JSONBOID,

	"text":              pgtype.TextOID,
	"varchar":           pgtype.VarcharOID,
	"character varying": pgtype.VarcharOID,
	"bpchar":            pgtype.BPCharOID,
	"char":              pgtype.BPCharOID,
}

// LookupWireType returns the OID for a wire hint name such as "bytea".
func LookupWireType(name string) (uint32, bool) {
	oid, ok := wireTypes[strings.ToLower(strings.TrimSpace(name))]
	return oid, ok
}
