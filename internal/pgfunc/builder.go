// internal/pgfunc/builder.go
package pgfunc

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// RunningAggregate appends "<Agg> OVER (ROWS UNBOUNDED PRECEDING) AS <Alias>"
// to the select list.
//
// Agg is written into the statement verbatim and is never sanitized.
// Callers must only pass expressions from a fixed whitelist.
type RunningAggregate struct {
	Agg   string
	Alias string
}

// Call describes one invocation of a set-returning function.
type Call struct {
	Schema            string // defaults to "public"
	Name              string
	Args              []any
	OrderBy           []string
	RunningAggregates []RunningAggregate
}

// Query is an assembled statement and its positional binds.
type Query struct {
	SQL  string
	Args []any
}

var plainIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Build assembles the statement for c without touching a connection.
// Placeholders and Args always line up one to one, left to right.
func Build(d Dialect, c Call) (Query, error) {
	if c.Name == "" {
		return Query{}, errors.New("function name is required")
	}

	var sb strings.Builder
	sb.WriteString("SELECT *")
	for i, ra := range c.RunningAggregates {
		if strings.TrimSpace(ra.Agg) == "" || ra.Alias == "" {
			return Query{}, fmt.Errorf("running aggregate %d: expression and alias are required", i+1)
		}
		sb.WriteString(", ")
		sb.WriteString(ra.Agg)
		sb.WriteString(" OVER (ROWS UNBOUNDED PRECEDING) AS ")
		sb.WriteString(aliasSQL(d, ra.Alias))
	}

	placeholders := make([]string, 0, len(c.Args))
	binds := make([]any, 0, len(c.Args))
	for i, arg := range c.Args {
		r, err := resolveArg(arg)
		if err != nil {
			return Query{}, fmt.Errorf("argument %d: %w", i+1, err)
		}
		v, err := r.bindValue()
		if err != nil {
			return Query{}, fmt.Errorf("argument %d: %w", i+1, err)
		}
		ph := d.Placeholder(i + 1)
		if r.cast != "" {
			ph += "::" + castSQL(d, r.cast)
		}
		placeholders = append(placeholders, ph)
		binds = append(binds, v)
	}

	sb.WriteString(" FROM ")
	sb.WriteString(d.QuoteIdentifier(schemaOrDefault(c.Schema)))
	sb.WriteString(".")
	sb.WriteString(d.QuoteIdentifier(c.Name))
	sb.WriteString("(")
	sb.WriteString(strings.Join(placeholders, ", "))
	sb.WriteString(")")
	sb.WriteString(orderBySQL(d, c.OrderBy))

	return Query{SQL: sb.String(), Args: binds}, nil
}

// aliasSQL leaves plain lower-case labels as written and quotes anything else.
func aliasSQL(d Dialect, alias string) string {
	if plainIdent.MatchString(alias) {
		return alias
	}
	return d.QuoteIdentifier(alias)
}
