package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jjenkins/lovforslag/internal/service"
	"github.com/jjenkins/lovforslag/internal/store"
)

var (
	backfillLimit      int
	backfillOffset     int
	backfillMaxRows    int
	backfillAll        bool
	backfillProposalID int
	backfillForce      bool
	backfillDryRun     bool
)

var (
	policyLimit   int
	policyOffset  int
	policyMaxRows int
	policyRewrite bool
)

var backfillPDFsCmd = &cobra.Command{
	Use:   "backfill-pdfs",
	Short: "Add PDF URLs to proposals already stored",
	Long: `Backfill resolves the law PDFs of proposals that were ingested before PDF
resolution was enabled and writes them into raw_json. Only raw_json is
updated.

Examples:
  # Backfill every proposal without pdfUrls
  ./lovforslag backfill-pdfs

  # Re-resolve everything, at most 500 rows
  ./lovforslag backfill-pdfs --all --max-rows 500

  # Try a single proposal without writing
  ./lovforslag backfill-pdfs --proposal-id 102567 --dry-run`,
	Run: runBackfillPDFs,
}

var backfillPolicyCmd = &cobra.Command{
	Use:   "backfill-policy",
	Short: "Run policy analysis for proposals already stored",
	Run:   runBackfillPolicy,
}

func init() {
	rootCmd.AddCommand(backfillPDFsCmd)
	rootCmd.AddCommand(backfillPolicyCmd)

	backfillPDFsCmd.Flags().IntVar(&backfillLimit, "limit", service.DefaultBackfillPageSize, "Rows per page")
	backfillPDFsCmd.Flags().IntVar(&backfillOffset, "offset", 0, "Row offset to start from")
	backfillPDFsCmd.Flags().IntVar(&backfillMaxRows, "max-rows", 0, "Stop after this many rows (0 = no limit)")
	backfillPDFsCmd.Flags().BoolVar(&backfillAll, "all", false, "Also re-resolve proposals that already have pdfUrls")
	backfillPDFsCmd.Flags().IntVar(&backfillProposalID, "proposal-id", 0, "Backfill a single proposal")
	backfillPDFsCmd.Flags().BoolVar(&backfillForce, "force", false, "With --proposal-id, update even if pdfUrls are present")
	backfillPDFsCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "With --proposal-id, resolve without writing")

	backfillPolicyCmd.Flags().IntVar(&policyLimit, "limit", 25, "Rows per page")
	backfillPolicyCmd.Flags().IntVar(&policyOffset, "offset", 0, "Row offset to start from")
	backfillPolicyCmd.Flags().IntVar(&policyMaxRows, "max-rows", 200, "Stop after this many rows (0 = no limit)")
	backfillPolicyCmd.Flags().BoolVar(&policyRewrite, "rewrite-existing", false, "Replace existing analyses")
}

func runBackfillPDFs(cmd *cobra.Command, args []string) {
	rt, err := loadRuntime()
	if err != nil {
		cmd.PrintErrln(err)
		os.Exit(1)
	}
	defer rt.log.Sync()

	ctx, cancel := signalContext(rt)
	defer cancel()

	db, err := rt.openDB(ctx)
	if err != nil {
		rt.log.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	backfiller := service.NewBackfiller(store.NewProposalStore(db), rt.newResolver(), rt.log)

	if backfillProposalID > 0 {
		res, err := backfiller.BackfillOne(ctx, backfillProposalID, backfillForce, backfillDryRun, rt.cfg.DocRequestDelay, rt.cfg.DocRequestRetries)
		if err != nil {
			rt.log.Fatal("backfill failed", "proposal_id", backfillProposalID, "error", err)
		}
		rt.log.Info("before", "main_pdf_url", res.BeforeMainURL, "pdf_urls", res.BeforeCount)
		if res.Skipped {
			rt.log.Info("skipping, proposal already has pdfUrls (use --force to re-resolve)")
			return
		}
		rt.log.Info("resolved",
			"main_pdf_url", res.Resolution.MainPDFURL,
			"pdf_urls", len(res.Resolution.PDFURLs),
			"updated", res.Updated,
		)
		return
	}

	stats, err := backfiller.BackfillPDFURLs(ctx, service.BackfillOptions{
		PageSize:        backfillLimit,
		Offset:          backfillOffset,
		MaxRows:         backfillMaxRows,
		OnlyMissing:     !backfillAll,
		DocRequestDelay: rt.cfg.DocRequestDelay,
		MaxRetries:      rt.cfg.DocRequestRetries,
	})
	if err != nil {
		rt.log.Fatal("backfill failed", "error", err)
	}
	if stats.Failed > 0 {
		os.Exit(1)
	}
}

func runBackfillPolicy(cmd *cobra.Command, args []string) {
	rt, err := loadRuntime()
	if err != nil {
		cmd.PrintErrln(err)
		os.Exit(1)
	}
	defer rt.log.Sync()

	ctx, cancel := signalContext(rt)
	defer cancel()

	db, err := rt.openDB(ctx)
	if err != nil {
		rt.log.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	proposals := store.NewProposalStore(db)
	backfiller := service.NewBackfiller(proposals, rt.newResolver(), rt.log)
	analyzer := rt.newPolicyAnalyzer(service.NewLLMClient(rt.cfg), proposals)

	stats, err := backfiller.BackfillPolicyAnalyses(ctx, analyzer, proposals, service.BackfillOptions{
		PageSize: policyLimit,
		Offset:   policyOffset,
		MaxRows:  policyMaxRows,
	}, policyRewrite)
	if err != nil {
		rt.log.Fatal("policy backfill failed", "error", err)
	}
	rt.log.Info("policy backfill completed",
		"processed", stats.Processed,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
}
