// internal/pgfunc/args.go
package pgfunc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Serializer lets an argument decide how it is passed to a function call.
// SerializeArg is invoked once per call and must return either a plain
// value or a Cast. The result is not resolved again.
type Serializer interface {
	SerializeArg() any
}

// Cast binds Value and appends ::Type to its placeholder.
// Type is quoted as an identifier; a dotted name is quoted per part and a
// trailing [] is kept outside the quotes.
type Cast struct {
	Type  string
	Value any
}

// Typed carries an explicit wire type for a value whose encoding cannot be
// inferred from its Go type, e.g. binary payloads held in a string.
// OID is a pgtype OID such as pgtype.ByteaOID.
type Typed struct {
	Value any
	OID   uint32
}

// resolvedArg is an argument after the Serializer hook has run.
type resolvedArg struct {
	value any
	oid   uint32
	cast  string
}

func resolveArg(arg any) (resolvedArg, error) {
	if s, ok := arg.(Serializer); ok {
		arg = s.SerializeArg()
	}

	switch v := arg.(type) {
	case Cast:
		return castArg(v.Type, v.Value)
	case *Cast:
		if v == nil {
			return resolvedArg{}, nil
		}
		return castArg(v.Type, v.Value)
	case map[string]any:
		if typ, value, ok := castRecord(v); ok {
			return castArg(typ, value)
		}
	}
	return plainArg(arg), nil
}

func castArg(typ string, value any) (resolvedArg, error) {
	if base, _ := splitArraySuffix(typ); base == "" {
		return resolvedArg{}, errors.New("cast requires a type name")
	}
	r := plainArg(value)
	r.cast = typ
	return r, nil
}

func plainArg(v any) resolvedArg {
	switch t := v.(type) {
	case Typed:
		return resolvedArg{value: t.Value, oid: t.OID}
	case *Typed:
		if t != nil {
			return resolvedArg{value: t.Value, oid: t.OID}
		}
	}
	return resolvedArg{value: v}
}

// castRecord reports whether m is shaped exactly as {"cast": string, "value": any}.
func castRecord(m map[string]any) (string, any, bool) {
	if len(m) != 2 {
		return "", nil, false
	}
	typ, ok := m["cast"].(string)
	if !ok {
		return "", nil, false
	}
	value, ok := m["value"]
	if !ok {
		return "", nil, false
	}
	return typ, value, true
}

// bindValue converts the value according to its wire type hint.
func (r resolvedArg) bindValue() (any, error) {
	switch r.oid {
	case 0:
		return r.value, nil
	case pgtype.ByteaOID:
		switch v := r.value.(type) {
		case nil:
			return nil, nil
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
		return nil, fmt.Errorf("bytea value must be []byte or string, got %T", r.value)
	case pgtype.JSONOID, pgtype.JSONBOID:
		switch v := r.value.(type) {
		case nil:
			return nil, nil
		case string:
			return v, nil
		case json.RawMessage:
			return string(v), nil
		case []byte:
			return string(v), nil
		}
		b, err := json.Marshal(r.value)
		if err != nil {
			return nil, fmt.Errorf("marshal json value: %w", err)
		}
		return string(b), nil
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID:
		switch v := r.value.(type) {
		case nil:
			return nil, nil
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case fmt.Stringer:
			return v.String(), nil
		}
		return fmt.Sprint(r.value), nil
	}
	return r.value, nil
}

// castSQL renders a cast target through identifier quoting only.
func castSQL(d Dialect, typ string) string {
	typ, suffix := splitArraySuffix(typ)
	parts := strings.Split(typ, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".") + suffix
}

// splitArraySuffix separates a type name from its trailing "[]" markers.
func splitArraySuffix(typ string) (base, suffix string) {
	base = strings.TrimSpace(typ)
	for strings.HasSuffix(base, "[]") {
		base = strings.TrimSpace(strings.TrimSuffix(base, "[]"))
		suffix += "[]"
	}
	return base, suffix
}
