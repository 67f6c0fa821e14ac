package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/service"
)

// IngestRunner runs one ingestion pass
type IngestRunner interface {
	Run(ctx context.Context) (*service.RunResult, error)
}

// MetricsCalculator refreshes the stored metrics after an ingest
type MetricsCalculator interface {
	CalculateAndStore(ctx context.Context) (*service.SystemMetrics, error)
}

type ingestResponse struct {
	RunID              string  `json:"run_id"`
	FetchedCount       int     `json:"fetched_count"`
	RelevantCount      int     `json:"relevant_count"`
	UpdatedCount       int     `json:"updated_count"`
	EnrichedCount      int     `json:"enriched_count"`
	AnalyzedCount      int     `json:"analyzed_count"`
	SkippedClosedCount int     `json:"skipped_closed_count"`
	FailedCount        int     `json:"failed_count"`
	DurationSeconds    float64 `json:"duration_seconds"`
}

// IngestHandler triggers an ingestion run. metrics may be nil.
func IngestHandler(runner IngestRunner, metrics MetricsCalculator, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		result, err := runner.Run(ctx)
		if err != nil {
			log.Error("ingestion failed", "error", err)
			return jsonError(c, fiber.StatusInternalServerError, "ingestion failed: "+err.Error())
		}

		if metrics != nil {
			if _, err := metrics.CalculateAndStore(ctx); err != nil {
				log.Warn("failed to calculate metrics", "error", err)
			}
		}

		return c.JSON(ingestResponse{
			RunID:              result.RunID,
			FetchedCount:       result.FetchedCount,
			RelevantCount:      result.RelevantCount,
			UpdatedCount:       result.UpdatedCount,
			EnrichedCount:      result.EnrichedCount,
			AnalyzedCount:      result.AnalyzedCount,
			SkippedClosedCount: result.SkippedClosedCount,
			FailedCount:        result.FailedCount,
			DurationSeconds:    result.DurationSeconds,
		})
	}
}
