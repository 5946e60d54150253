// internal/pgfunc/dialect.go
package pgfunc

import (
	"strconv"

	"github.com/jackc/pgx/v5"
)

// DefaultSchema is used whenever a schema is left empty.
const DefaultSchema = "public"

// Dialect renders the two dynamic fragments a call needs: quoted identifiers
// and positional placeholders. Identifiers never go through value quoting.
type Dialect interface {
	QuoteIdentifier(name string) string
	Placeholder(n int) string
}

var (
	// Postgres quotes with double quotes and numbers placeholders $1, $2, ...
	Postgres Dialect = postgresDialect{}

	// Question quotes like Postgres but renders every placeholder as "?".
	Question Dialect = questionDialect{}
)

type postgresDialect struct{}

func (postgresDialect) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (postgresDialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

type questionDialect struct{}

func (questionDialect) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (questionDialect) Placeholder(int) string {
	return "?"
}

func schemaOrDefault(schema string) string {
	if schema == "" {
		return DefaultSchema
	}
	return schema
}
