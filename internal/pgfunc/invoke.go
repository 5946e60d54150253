// internal/pgfunc/invoke.go
package pgfunc

import (
	"context"
	"database/sql"

	"github.com/markb/pgcall/internal/log"
)

// Preparer is the part of *sql.DB, *sql.Conn and *sql.Tx that Invoke needs.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type invokeOptions struct {
	dialect Dialect
}

// InvokeOption configures Invoke.
type InvokeOption func(*invokeOptions)

// WithDialect overrides the default Postgres dialect.
func WithDialect(d Dialect) InvokeOption {
	return func(o *invokeOptions) {
		o.dialect = d
	}
}

// Invoke builds, prepares and executes c on p. The caller must Close the
// returned Rows unless it drains them through All or Collect.
func Invoke(ctx context.Context, p Preparer, c Call, opts ...InvokeOption) (*Rows, error) {
	o := invokeOptions{dialect: Postgres}
	for _, opt := range opts {
		opt(&o)
	}
	schema := schemaOrDefault(c.Schema)

	q, err := Build(o.dialect, c)
	if err != nil {
		return nil, newError(KindPreparation, "invoke", schema, c.Name, err)
	}
	log.Debug("invoking function", "schema", schema, "name", c.Name, "sql", q.SQL, "binds", len(q.Args))

	stmt, err := p.PrepareContext(ctx, q.SQL)
	if err != nil {
		return nil, newError(KindPreparation, "invoke", schema, c.Name, err)
	}

	rows, err := stmt.QueryContext(ctx, q.Args...)
	if err != nil {
		stmt.Close()
		return nil, newError(KindExecution, "invoke", schema, c.Name, err)
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		stmt.Close()
		return nil, newError(KindExecution, "invoke", schema, c.Name, err)
	}

	return newRows(stmt, rows, columns, schema, c.Name), nil
}
