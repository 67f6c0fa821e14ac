package cmd

import (
	"context"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/spf13/cobra"

	"github.com/jjenkins/lovforslag/internal/handlers"
	"github.com/jjenkins/lovforslag/internal/service"
	"github.com/jjenkins/lovforslag/internal/store"
)

var port string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bill tracker web server",
	Long:  `Start the web server with the dashboard and the JSON API over stored proposals.`,
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := loadRuntime()
		if err != nil {
			cmd.PrintErrln(err)
			os.Exit(1)
		}
		defer rt.log.Sync()

		// PORT from the environment unless the flag was given
		if !cmd.Flags().Changed("port") {
			port = rt.cfg.Port
		}

		db, err := rt.openDB(context.Background())
		if err != nil {
			rt.log.Fatal("failed to connect to database", "error", err)
		}
		defer db.Close()

		// Initialize stores and services
		proposalStore := store.NewProposalStore(db)
		runStore := store.NewRunStore(db)
		metricsService := service.NewMetricsService(db)
		llm := service.NewLLMClient(rt.cfg)
		analyzer := rt.newPolicyAnalyzer(llm, proposalStore)
		ingester := rt.newIngester(db)

		app := fiber.New(fiber.Config{
			AppName:   "Lovforslagsradar",
			BodyLimit: int(rt.cfg.MaxPDFUploadBytes) + 1024*1024,
		})

		app.Use(logger.New())

		// Routes
		app.Get("/", handlers.HomeHandler(metricsService, runStore, proposalStore, rt.log))
		app.Get("/api/health", handlers.HealthHandler())

		// Proposal routes
		app.Get("/proposals", handlers.ProposalsHandler(proposalStore, rt.log))
		app.Get("/proposals/:id", handlers.ProposalDetailHandler(proposalStore, rt.log))

		// History route
		app.Get("/runs", handlers.HistoryHandler(runStore, rt.log))

		// Admin routes
		admin := handlers.RequireToken(rt.cfg.IngestToken)
		app.Post("/ingest", admin, handlers.IngestHandler(ingester, metricsService, rt.log))
		app.Post("/proposals/:id/pdf-text", admin, handlers.PDFTextUploadHandler(proposalStore, service.NewPDFText(rt.cfg), analyzer, rt.cfg.MaxPDFUploadBytes, rt.log))
		app.Post("/proposals/:id/policy-analysis", admin, handlers.PolicyAnalysisHandler(proposalStore, analyzer, rt.log))

		rt.log.Info("starting server", "port", port)
		if err := app.Listen(":" + port); err != nil {
			rt.log.Fatal("failed to start server", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&port, "port", "p", "8080", "Port to run the server on")
}
