package commands

import (
	"context"
	"os"

	"omniasync-backend/lib/scrapers/omnia"
	"omniasync-backend/lib/sinks/webform"
	"omniasync-backend/services/ingest"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var runWorkers int

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "persistence workers, 0 runs the cycle sequentially")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs a single ingestion cycle and prints the outcome.",
	Run: func(cmd *cobra.Command, args []string) {
		config := readConfig()
		store := openStore(config)
		retry := retryPolicy(config)

		portal, err := omnia.NewClient(cmd.Context(), omnia.ClientOptions{
			BaseUrl:  config.Portal.BaseUrl,
			Username: config.Portal.Username,
			Password: config.Portal.Password,
			Retry:    retry,
		})
		if err != nil {
			fatal("failed to login to the portal", err)
		}
		defer portal.Close(context.Background())

		sink, err := webform.NewSink(cmd.Context(), config.Destinations, retry)
		if err != nil {
			fatal("failed to login to a destination", err)
		}

		service := ingest.NewService(
			store,
			ingest.NewPortalExtractor(portal),
			ingest.NewWebformDispatcher(sink),
			ingest.Options{Workers: runWorkers},
		)

		report, err := service.RunCycle(cmd.Context())
		if err != nil {
			fatal("cycle failed", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Metric", "Value"})
		t.AppendRow(table.Row{"cycle", report.Cycle})
		t.AppendRow(table.Row{"candidates", report.Candidates})
		t.AppendRow(table.Row{"skipped existing", report.SkippedExisting})
		t.AppendRow(table.Row{"extract failures", report.ExtractFailures})
		t.AppendRow(table.Row{"duplicates skipped", report.DuplicatesSkipped})
		t.AppendRow(table.Row{"written", report.Written})
		t.AppendRow(table.Row{"dispatched", report.Dispatched})
		t.AppendRow(table.Row{"dispatch failures", report.DispatchFailures})
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
