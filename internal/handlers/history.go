package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/model"
)

type runSummary struct {
	ID                  string     `json:"id"`
	StartedAt           time.Time  `json:"started_at"`
	FinishedAt          *time.Time `json:"finished_at"`
	LastWatermarkBefore *time.Time `json:"last_watermark_before"`
	LastWatermarkAfter  *time.Time `json:"last_watermark_after"`
	FetchedCount        int        `json:"fetched_count"`
	UpdatedCount        int        `json:"updated_count"`
	Error               *string    `json:"error"`
	Succeeded           bool       `json:"succeeded"`
}

func newRunSummary(r model.IngestionRun) runSummary {
	s := runSummary{
		ID:           r.ID,
		StartedAt:    r.StartedAt,
		FetchedCount: r.FetchedCount,
		UpdatedCount: r.UpdatedCount,
		Succeeded:    r.Succeeded(),
	}
	if r.FinishedAt.Valid {
		s.FinishedAt = &r.FinishedAt.Time
	}
	if r.LastWatermarkBefore.Valid {
		s.LastWatermarkBefore = &r.LastWatermarkBefore.Time
	}
	if r.LastWatermarkAfter.Valid {
		s.LastWatermarkAfter = &r.LastWatermarkAfter.Time
	}
	if r.Error.Valid {
		s.Error = &r.Error.String
	}
	return s
}

// HistoryHandler lists recent ingestion runs, newest first
func HistoryHandler(runs RunLister, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := 20
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 100 {
				return jsonError(c, fiber.StatusBadRequest, "limit must be between 1 and 100")
			}
			limit = n
		}

		recent, err := runs.RecentRuns(c.UserContext(), limit)
		if err != nil {
			log.Error("error loading ingestion runs", "error", err)
			return jsonError(c, fiber.StatusInternalServerError, "failed to fetch ingestion runs")
		}

		out := make([]runSummary, 0, len(recent))
		for _, r := range recent {
			out = append(out, newRunSummary(r))
		}

		return c.JSON(out)
	}
}
