// internal/pgfunc/catalog.go
package pgfunc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/markb/pgcall/internal/log"
)

// FunctionDescriptor is the signature of one stored function.
type FunctionDescriptor struct {
	Name    string     `json:"name"`
	NumArgs int        `json:"num_args"`
	Args    []Argument `json:"args"`
}

// Argument is one input argument, in declaration order.
// Name is empty for unnamed arguments.
type Argument struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Queryer is the part of *sql.DB, *sql.Conn and *sql.Tx that Discover needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DiscoverOptions selects a function. Empty schemas default to "public".
// FirstArgType, when set, keeps only overloads whose first argument has that
// pg_type name in FirstArgSchema.
type DiscoverOptions struct {
	Schema         string
	Name           string
	FirstArgType   string
	FirstArgSchema string
}

const functionQuery = `SELECT p.proname,
	p.pronargs,
	COALESCE(p.proargnames, '{}'::text[]),
	COALESCE(p.proargmodes::text[], '{}'::text[]),
	array_to_string(ARRAY(
		SELECT t.typname
		FROM unnest(p.proargtypes) WITH ORDINALITY AS a(type_oid, ord)
		JOIN pg_catalog.pg_type t ON t.oid = a.type_oid
		ORDER BY a.ord
	), ' ')
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE p.proname = $1
	AND n.nspname = $2`

const firstArgFilter = `
	AND p.proargtypes[0] = (
		SELECT t.oid
		FROM pg_catalog.pg_type t
		JOIN pg_catalog.pg_namespace tn ON tn.oid = t.typnamespace
		WHERE t.typname = $3
			AND tn.nspname = $4
	)`

// discoverQuery returns the catalog query and its binds for opts.
// Two rows are fetched at most: one to answer, one to detect ambiguity.
func discoverQuery(opts DiscoverOptions) (string, []any) {
	var sb strings.Builder
	sb.WriteString(functionQuery)
	args := []any{opts.Name, schemaOrDefault(opts.Schema)}
	if opts.FirstArgType != "" {
		sb.WriteString(firstArgFilter)
		args = append(args, opts.FirstArgType, schemaOrDefault(opts.FirstArgSchema))
	}
	sb.WriteString("\nLIMIT 2")
	return sb.String(), args
}

// Discover resolves a function to its descriptor. It fails with
// KindNotFound when nothing matches and KindAmbiguous when more than one
// overload survives the filters. Nothing is cached.
func Discover(ctx context.Context, q Queryer, opts DiscoverOptions) (*FunctionDescriptor, error) {
	schema := schemaOrDefault(opts.Schema)
	if opts.Name == "" {
		return nil, newError(KindNotFound, "discover", schema, opts.Name, errors.New("function name is required"))
	}

	query, args := discoverQuery(opts)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newError(KindExecution, "discover", schema, opts.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, newError(KindExecution, "discover", schema, opts.Name, err)
		}
		return nil, newError(KindNotFound, "discover", schema, opts.Name, nil)
	}

	var (
		desc     FunctionDescriptor
		names    []string
		modes    []string
		argTypes string
	)
	if err := rows.Scan(&desc.Name, &desc.NumArgs, pq.Array(&names), pq.Array(&modes), &argTypes); err != nil {
		return nil, newError(KindExecution, "discover", schema, opts.Name, fmt.Errorf("scan function: %w", err))
	}

	if rows.Next() {
		return nil, newError(KindAmbiguous, "discover", schema, opts.Name, nil)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(KindExecution, "discover", schema, opts.Name, err)
	}

	desc.Args = pairArguments(inputNames(names, modes), strings.Fields(argTypes))
	if len(desc.Args) != desc.NumArgs {
		return nil, newError(KindExecution, "discover", schema, opts.Name,
			fmt.Errorf("catalog reported %d arguments but %d argument types", desc.NumArgs, len(desc.Args)))
	}

	log.Debug("discovered function", "schema", schema, "name", desc.Name, "num_args", desc.NumArgs)
	return &desc, nil
}

// inputNames drops the names of OUT and TABLE arguments, which proargnames
// lists but proargtypes does not.
func inputNames(names, modes []string) []string {
	if len(modes) == 0 {
		return names
	}
	in := make([]string, 0, len(names))
	for i, name := range names {
		if i < len(modes) {
			switch modes[i] {
			case "o", "t":
				continue
			}
		}
		in = append(in, name)
	}
	return in
}

// pairArguments zips names and types by position. Missing names stay empty.
func pairArguments(names, types []string) []Argument {
	args := make([]Argument, len(types))
	for i, typ := range types {
		args[i].Type = typ
		if i < len(names) {
			args[i].Name = names[i]
		}
	}
	return args
}
