package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var listLimit int

func init() {
	recordsCmd.AddCommand(listCmd)
	recordsCmd.AddCommand(showCmd)
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of rows to print, 0 for all")
	rootCmd.AddCommand(recordsCmd)
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspects the stored records.",
}

var listCmd = &cobra.Command{
	Use:   "list <sub-schema>",
	Short: "Prints the stored rows of a sub-schema.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		schema := subSchemaArg(args[0])
		store := openStore(readConfig())

		records, err := store.List(cmd.Context(), schema, listLimit)
		if err != nil {
			fatal("failed to list records", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Protocollo", "Fingerprint", "Fields"})

		for _, rec := range records {
			t.AppendRow(table.Row{
				rec.Protocollo,
				shortFingerprint(rec.Fingerprint),
				rec.Mapping.Len(),
			})
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <sub-schema> <protocollo>",
	Short: "Prints every stored field of one record.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		schema := subSchemaArg(args[0])
		store := openStore(readConfig())

		records, err := store.List(cmd.Context(), schema, 0)
		if err != nil {
			fatal("failed to list records", err)
		}

		found := false
		for _, rec := range records {
			if rec.Protocollo != args[1] {
				continue
			}
			found = true

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Field", "Value"})
			t.AppendRow(table.Row{schema.Key, rec.Protocollo})
			for _, field := range rec.Mapping.Fields() {
				t.AppendRow(table.Row{field, rec.Mapping.Value(field)})
			}
			t.AppendRow(table.Row{"fingerprint", rec.Fingerprint})
			t.SetStyle(table.StyleRounded)
			t.Render()
		}
		if !found {
			fatal("no such record", fmt.Errorf("%s in %s", args[1], schema.Name))
		}
	},
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
