package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/markb/pgcall/internal/pgfunc"
	"github.com/spf13/cobra"
)

var describeCmd = &cobra.Command{
	Use:   "describe <[schema.]function>",
	Short: "Show the argument signature of a function",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, name := splitQualifiedName(args[0])
		firstArgType, _ := cmd.Flags().GetString("first-arg-type")
		firstArgSchema, _ := cmd.Flags().GetString("first-arg-schema")
		asJSON, _ := cmd.Flags().GetBool("json")

		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		desc, err := pgfunc.Discover(cmd.Context(), database, pgfunc.DiscoverOptions{
			Schema:         schema,
			Name:           name,
			FirstArgType:   firstArgType,
			FirstArgSchema: firstArgSchema,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(desc)
		}

		fmt.Fprintf(out, "%s (%d arguments)\n", desc.Name, desc.NumArgs)
		fmt.Fprintln(out, renderDescriptor(desc))
		return nil
	},
}

// splitQualifiedName splits "schema.name" on the first dot. A bare name
// leaves the schema empty so the default applies.
func splitQualifiedName(s string) (schema, name string) {
	if i := strings.Index(s, "."); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

func renderDescriptor(desc *pgfunc.FunctionDescriptor) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Name", "Type"})
	for i, arg := range desc.Args {
		t.AppendRow(table.Row{i + 1, arg.Name, arg.Type})
	}
	t.SetStyle(table.StyleLight)
	return t.Render()
}

func init() {
	rootCmd.AddCommand(describeCmd)
	describeCmd.Flags().String("first-arg-type", "", "Only match overloads whose first argument has this type name")
	describeCmd.Flags().String("first-arg-schema", "", "Schema of --first-arg-type (default: public)")
	describeCmd.Flags().Bool("json", false, "Print the descriptor as JSON")
}
