// internal/pgfunc/order.go
package pgfunc

import "strings"

// Direction is an ORDER BY direction. The zero value leaves it to the server.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// OrderSpec is one parsed ORDER BY entry.
type OrderSpec struct {
	Column    string
	Direction Direction
}

// ParseOrder parses "<column> [ASC|DESC]". A trailing token that is not
// ASC or DESC stays part of the column name, so "created at" orders by the
// identifier "created at". Single words are always column names.
func ParseOrder(entry string) OrderSpec {
	fields := strings.Fields(entry)
	if len(fields) > 1 {
		last := strings.ToUpper(fields[len(fields)-1])
		if last == string(Asc) || last == string(Desc) {
			return OrderSpec{
				Column:    strings.Join(fields[:len(fields)-1], " "),
				Direction: Direction(last),
			}
		}
	}
	return OrderSpec{Column: strings.TrimSpace(entry)}
}

// SQL renders the entry with the column quoted as an identifier.
func (o OrderSpec) SQL(d Dialect) string {
	if o.Direction == "" {
		return d.QuoteIdentifier(o.Column)
	}
	return d.QuoteIdentifier(o.Column) + " " + string(o.Direction)
}

// orderBySQL returns the ORDER BY clause for entries, or "" when there is
// nothing to order by. Blank entries are skipped.
func orderBySQL(d Dialect, entries []string) string {
	frags := make([]string, 0, len(entries))
	for _, e := range entries {
		spec := ParseOrder(e)
		if spec.Column == "" {
			continue
		}
		frags = append(frags, spec.SQL(d))
	}
	if len(frags) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(frags, ", ")
}
