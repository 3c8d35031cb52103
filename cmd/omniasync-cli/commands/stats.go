package commands

import (
	"os"

	"omniasync-backend/services/ingest"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints row counts per sub-schema.",
	Run: func(cmd *cobra.Command, args []string) {
		config := readConfig()
		store := openStore(config)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Sub-schema", "Mode", "Rows"})

		for _, schema := range ingest.SubSchemas {
			count, err := store.Count(cmd.Context(), schema)
			if err != nil {
				fatal("failed to count records", err)
			}
			t.AppendRow(table.Row{schema.Name, string(store.Mode(schema)), count})
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
