package handlers

import (
	"context"

	"github.com/a-h/templ"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/model"
	"github.com/jjenkins/lovforslag/internal/templates"
)

// MetricsReader returns the latest stored metrics
type MetricsReader interface {
	GetLatestMetrics(ctx context.Context) (map[string]string, error)
}

// RunLister returns recent ingestion runs
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]model.IngestionRun, error)
}

func HomeHandler(metrics MetricsReader, runs RunLister, proposals ProposalReader, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		data := templates.DashboardData{}

		latest, err := metrics.GetLatestMetrics(ctx)
		if err != nil {
			log.Error("error loading metrics", "error", err)
		} else {
			data.Metrics = latest
		}

		recentRuns, err := runs.RecentRuns(ctx, 10)
		if err != nil {
			log.Error("error loading ingestion runs", "error", err)
		} else {
			data.Runs = recentRuns
		}

		recent, err := proposals.ListProposals(ctx, model.ProposalFilter{Limit: 20})
		if err != nil {
			log.Error("error loading proposals", "error", err)
		} else {
			data.Proposals = recent
		}
		data.HasData = len(data.Proposals) > 0 || len(data.Runs) > 0

		page := templates.Dashboard(data)
		handler := adaptor.HTTPHandler(templ.Handler(page))

		return handler(c)
	}
}
