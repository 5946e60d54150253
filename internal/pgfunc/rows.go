// internal/pgfunc/rows.go
package pgfunc

import (
	"database/sql"
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"unicode/utf8"
)

// Row is one result row. Columns are lower-cased and in server order.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column.
func (r Row) Get(name string) (any, bool) {
	name = strings.ToLower(name)
	for i, c := range r.Columns {
		if c == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the row keyed by column name. Duplicate names keep the last value.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// JSONMap is Map with raw driver bytes made JSON friendly: bytes holding a
// JSON document are embedded as is, other UTF-8 text becomes a string, and
// only binary payloads are left to encode as base64.
func (r Row) JSONMap() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = jsonValue(r.Values[i])
	}
	return m
}

func jsonValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch {
	case json.Valid(b):
		return json.RawMessage(b)
	case utf8.Valid(b):
		return string(b)
	}
	return b
}

// Rows streams the result of Invoke. It is single pass and not safe for
// concurrent use. Close releases the result set and the prepared statement.
type Rows struct {
	stmt    *sql.Stmt
	rows    *sql.Rows
	columns []string
	schema  string
	name    string

	current Row
	err     error
	closed  bool
}

func newRows(stmt *sql.Stmt, rows *sql.Rows, columns []string, schema, name string) *Rows {
	lower := make([]string, len(columns))
	for i, c := range columns {
		lower[i] = strings.ToLower(c)
	}
	return &Rows{stmt: stmt, rows: rows, columns: lower, schema: schema, name: name}
}

// Columns returns the lower-cased column names.
func (r *Rows) Columns() []string {
	return r.columns
}

// Next fetches the next row. It returns false at the end of the results or
// on error; the rows are closed in both cases.
func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			r.err = newError(KindExecution, "invoke", r.schema, r.name, err)
		}
		r.Close()
		return false
	}

	values := make([]any, len(r.columns))
	ptrs := make([]any, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		r.err = newError(KindExecution, "invoke", r.schema, r.name, err)
		r.Close()
		return false
	}
	r.current = Row{Columns: r.columns, Values: values}
	return true
}

// Row returns the row fetched by the last successful Next.
func (r *Rows) Row() Row {
	return r.current
}

// Err returns the error that stopped iteration, if any.
func (r *Rows) Err() error {
	return r.err
}

// Close is idempotent.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return errors.Join(r.rows.Close(), r.stmt.Close())
}

// All yields every remaining row, then the iteration error if there was one.
// Breaking out of the loop closes the rows.
func (r *Rows) All() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		defer r.Close()
		for r.Next() {
			if !yield(r.Row(), nil) {
				return
			}
		}
		if err := r.Err(); err != nil {
			yield(Row{}, err)
		}
	}
}

// Collect drains the rows into a slice.
func (r *Rows) Collect() ([]Row, error) {
	var out []Row
	for row, err := range r.All() {
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
	return out, nil
}
