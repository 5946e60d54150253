package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/markb/pgcall/internal/pgfunc"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <[schema.]function> [args...]",
	Short: "Call a function and print the rows it returns",
	Long: `Calls a set-returning or scalar function with positional text arguments.

Examples:
  pgcall call billing.invoices_since 2024-01-01 --cast 1=date --order "amount DESC"
  pgcall call ledger 42 --running "sum(amount):running_total"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, name := splitQualifiedName(args[0])
		casts, _ := cmd.Flags().GetStringArray("cast")
		wire, _ := cmd.Flags().GetStringArray("wire")
		orderBy, _ := cmd.Flags().GetStringArray("order")
		running, _ := cmd.Flags().GetStringArray("running")
		asJSON, _ := cmd.Flags().GetBool("json")

		call, err := buildCall(schema, name, args[1:], casts, wire, orderBy, running)
		if err != nil {
			return err
		}

		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		rows, err := pgfunc.Invoke(cmd.Context(), database, call)
		if err != nil {
			return err
		}
		defer rows.Close()

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			for row, err := range rows.All() {
				if err != nil {
					return err
				}
				if err := enc.Encode(row.JSONMap()); err != nil {
					return err
				}
			}
			return nil
		}

		t := table.NewWriter()
		header := table.Row{}
		for _, c := range rows.Columns() {
			header = append(header, c)
		}
		t.AppendHeader(header)
		count := 0
		for row, err := range rows.All() {
			if err != nil {
				return err
			}
			t.AppendRow(formatRow(row))
			count++
		}
		t.SetStyle(table.StyleLight)
		fmt.Fprintln(out, t.Render())
		fmt.Fprintf(out, "(%d rows)\n", count)
		return nil
	},
}

// buildCall turns command line input into a pgfunc.Call. Cast and wire
// positions are 1-based; running aggregates are "expr:alias".
func buildCall(schema, name string, values, casts, wire, orderBy, running []string) (pgfunc.Call, error) {
	call := pgfunc.Call{Schema: schema, Name: name, OrderBy: orderBy}

	castAt, err := positional("--cast", casts, len(values))
	if err != nil {
		return call, err
	}
	wireAt, err := positional("--wire", wire, len(values))
	if err != nil {
		return call, err
	}

	call.Args = make([]any, len(values))
	for i, v := range values {
		var arg any = v
		if wt, ok := wireAt[i+1]; ok {
			oid, known := pgfunc.LookupWireType(wt)
			if !known {
				return call, fmt.Errorf("invalid --wire %d=%s: unknown wire type", i+1, wt)
			}
			arg = pgfunc.Typed{Value: v, OID: oid}
		}
		if typ, ok := castAt[i+1]; ok {
			arg = pgfunc.Cast{Type: typ, Value: arg}
		}
		call.Args[i] = arg
	}

	for _, r := range running {
		i := strings.LastIndex(r, ":")
		if i <= 0 || i == len(r)-1 {
			return call, fmt.Errorf("invalid --running %q: want <expression>:<alias>", r)
		}
		call.RunningAggregates = append(call.RunningAggregates, pgfunc.RunningAggregate{Agg: r[:i], Alias: r[i+1:]})
	}
	return call, nil
}

// positional parses repeated "<position>=<type>" flag values.
func positional(flag string, specs []string, n int) (map[int]string, error) {
	out := make(map[int]string, len(specs))
	for _, spec := range specs {
		pos, typ, ok := strings.Cut(spec, "=")
		if !ok || typ == "" {
			return nil, fmt.Errorf("invalid %s %q: want <position>=<type>", flag, spec)
		}
		i, err := strconv.Atoi(pos)
		if err != nil || i < 1 || i > n {
			return nil, fmt.Errorf("invalid %s %q: position out of range", flag, spec)
		}
		out[i] = typ
	}
	return out, nil
}

func formatRow(row pgfunc.Row) table.Row {
	out := make(table.Row, len(row.Values))
	for i, v := range row.Values {
		switch t := v.(type) {
		case nil:
			out[i] = "NULL"
		case []byte:
			out[i] = string(t)
		default:
			out[i] = t
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringArray("cast", nil, "Cast an argument: <position>=<type> (repeatable)")
	callCmd.Flags().StringArray("wire", nil, "Bind an argument with a wire type: <position>=bytea|json|jsonb|text (repeatable)")
	callCmd.Flags().StringArray("order", nil, `Order by a result column: "<column> [ASC|DESC]" (repeatable)`)
	callCmd.Flags().StringArray("running", nil, "Append a running aggregate: <expression>:<alias> (trusted input only)")
	callCmd.Flags().Bool("json", false, "Print one JSON object per row")
}
