package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jjenkins/lovforslag/internal/config"
	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/service"
	"github.com/jjenkins/lovforslag/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "lovforslag",
	Short: "Track Danish parliamentary bills from Folketingets ODA",
	Long: `lovforslag ingests bills (lovforslag and beslutningsforslag) from the
Folketing Open Data API, resolves their main law PDFs, labels them for IT
relevance and serves them over a small JSON API and dashboard.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runtime is the configuration and logger shared by every command
type runtime struct {
	cfg config.Config
	log *logger.Logger
}

func loadRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if cfg.CutoffFallback {
		log.Warn("invalid ODA_OLD_BILL_CUTOFF_DATE, using default", "default", config.DefaultOldBillCutoff)
	}

	return &runtime{cfg: cfg, log: log}, nil
}

func (rt *runtime) openDB(ctx context.Context) (*sql.DB, error) {
	rt.log.Info("connecting to database")
	return store.NewDB(ctx, rt.cfg.DatabaseURL)
}

func (rt *runtime) newResolver() *service.Resolver {
	return service.NewResolver(service.NewODAClient(rt.cfg.ODABaseURL), rt.log)
}

func (rt *runtime) newPolicyAnalyzer(llm *service.LLMClient, texts service.PDFTextLookup) *service.PolicyAnalyzer {
	return service.NewPolicyAnalyzer(rt.cfg, llm, service.NewPDFText(rt.cfg), texts, rt.log)
}

// newIngester wires the ingestion service over Postgres
func (rt *runtime) newIngester(db *sql.DB) *service.Ingester {
	client := service.NewODAClient(rt.cfg.ODABaseURL)
	proposals := store.NewProposalStore(db)
	runs := store.NewRunStore(db)
	llm := service.NewLLMClient(rt.cfg)

	return service.NewIngester(
		client,
		service.NewResolver(client, rt.log),
		runs,
		proposals,
		service.NewEnricher(llm, rt.log),
		rt.newPolicyAnalyzer(llm, proposals),
		rt.ingestOptions(),
		rt.log,
	)
}

func (rt *runtime) ingestOptions() service.IngestOptions {
	return service.IngestOptions{
		FetchPDFURLs:    rt.cfg.FetchPDFURLs,
		DocRequestDelay: rt.cfg.DocRequestDelay,
		MaxRetries:      rt.cfg.DocRequestRetries,
		OldBillCutoff:   rt.cfg.OldBillCutoff,
		OnlyInProcess:   rt.cfg.OnlyInProcess,
	}
}
