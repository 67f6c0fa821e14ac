package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jjenkins/lovforslag/internal/service"
)

var ingestListActive bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest bills updated since the last run from the ODA API",
	Long: `Ingest fetches bills (typeid 3) from the Folketing Open Data API that were
updated after the last successful run's watermark, drops closed bills,
resolves the main law PDF for each remaining bill, stores them in
PostgreSQL and labels them for IT relevance.

The watermark only advances when the whole run succeeds, so a failed run
is retried from the same point next time.

Examples:
  # Run an incremental ingest
  ./lovforslag ingest

  # Print open bills with their PDFs as JSON without touching the database
  ./lovforslag ingest --list-active`,
	Run: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().BoolVar(&ingestListActive, "list-active", false, "Print active bills with PDF URLs as JSON and exit")
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(rt *runtime) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			rt.log.Info("received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func runIngest(cmd *cobra.Command, args []string) {
	rt, err := loadRuntime()
	if err != nil {
		cmd.PrintErrln(err)
		os.Exit(1)
	}
	defer rt.log.Sync()

	ctx, cancel := signalContext(rt)
	defer cancel()

	if ingestListActive {
		client := service.NewODAClient(rt.cfg.ODABaseURL)
		ingester := service.NewIngester(client, service.NewResolver(client, rt.log), nil, nil, nil, nil, rt.ingestOptions(), rt.log)

		bills, err := ingester.FetchActiveBills(ctx)
		if err != nil {
			rt.log.Fatal("failed to fetch active bills", "error", err)
		}
		raw := make([]map[string]any, 0, len(bills))
		for _, b := range bills {
			raw = append(raw, b.Raw)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(raw); err != nil {
			rt.log.Fatal("failed to encode bills", "error", err)
		}
		return
	}

	db, err := rt.openDB(ctx)
	if err != nil {
		rt.log.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	ingester := rt.newIngester(db)

	rt.log.Info("starting ingestion")
	result, err := ingester.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			rt.log.Error("ingestion cancelled", "error", err)
			os.Exit(1)
		}
		rt.log.Fatal("ingestion failed", "error", err)
	}

	// Calculate and store system metrics
	metricsService := service.NewMetricsService(db)
	systemMetrics, err := metricsService.CalculateAndStore(ctx)
	if err != nil {
		rt.log.Warn("failed to calculate metrics", "error", err)
	} else {
		rt.log.Info("system metrics",
			"total_proposals", systemMetrics.TotalProposals,
			"it_relevant", systemMetrics.ITRelevant,
			"with_pdfs", systemMetrics.WithPDFs,
			"policy_analyses", systemMetrics.PolicyAnalyses,
			"total_runs", systemMetrics.TotalRuns,
			"failed_runs", systemMetrics.FailedRuns,
		)
	}

	// Exit with error code if there were failures
	if result.FailedCount > 0 {
		os.Exit(1)
	}
}
