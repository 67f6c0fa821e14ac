package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jjenkins/lovforslag/internal/model"
)

// RunStore handles database operations for ingestion runs
type RunStore struct {
	db    *sql.DB
	newID func() string
}

// NewRunStore creates a new RunStore
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db, newID: func() string { return uuid.New().String() }}
}

// LastWatermark returns the newest watermark written by a successful run,
// or nil when no run has completed yet
func (s *RunStore) LastWatermark(ctx context.Context) (*time.Time, error) {
	query := `
		SELECT last_watermark_after
		FROM ingestion_runs
		WHERE last_watermark_after IS NOT NULL
		ORDER BY last_watermark_after DESC
		LIMIT 1
	`

	var watermark sql.NullTime
	err := s.db.QueryRowContext(ctx, query).Scan(&watermark)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last watermark: %w", err)
	}
	if !watermark.Valid {
		return nil, nil
	}

	t := watermark.Time.UTC()
	return &t, nil
}

// CreateRun records the start of an ingestion run and returns its id
func (s *RunStore) CreateRun(ctx context.Context, startedAt time.Time, watermarkBefore *time.Time) (string, error) {
	id := s.newID()

	var before sql.NullTime
	if watermarkBefore != nil {
		before = sql.NullTime{Time: *watermarkBefore, Valid: true}
	}

	query := `
		INSERT INTO ingestion_runs (id, started_at, last_watermark_before)
		VALUES ($1, $2, $3)
	`

	if _, err := s.db.ExecContext(ctx, query, id, startedAt, before); err != nil {
		return "", fmt.Errorf("failed to create ingestion run: %w", err)
	}

	return id, nil
}

// FinishRun marks a run successful and advances the watermark
func (s *RunStore) FinishRun(ctx context.Context, runID string, finishedAt time.Time, fetched, updated int, watermarkAfter time.Time) error {
	query := `
		UPDATE ingestion_runs
		SET finished_at = $2,
		    fetched_count = $3,
		    updated_count = $4,
		    last_watermark_after = $5
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, runID, finishedAt, fetched, updated, watermarkAfter); err != nil {
		return fmt.Errorf("failed to finish ingestion run %s: %w", runID, err)
	}

	return nil
}

// FailRun marks a run failed; the watermark is left unset
func (s *RunStore) FailRun(ctx context.Context, runID string, finishedAt time.Time, message string) error {
	query := `
		UPDATE ingestion_runs
		SET finished_at = $2,
		    error = $3
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, runID, finishedAt, message); err != nil {
		return fmt.Errorf("failed to mark ingestion run %s failed: %w", runID, err)
	}

	return nil
}

// RecentRuns retrieves the latest ingestion runs, newest first
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]model.IngestionRun, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, started_at, finished_at, last_watermark_before, last_watermark_after,
		       fetched_count, updated_count, error, created_at
		FROM ingestion_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion runs: %w", err)
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		var r model.IngestionRun
		err := rows.Scan(
			&r.ID,
			&r.StartedAt,
			&r.FinishedAt,
			&r.LastWatermarkBefore,
			&r.LastWatermarkAfter,
			&r.FetchedCount,
			&r.UpdatedCount,
			&r.Error,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ingestion run: %w", err)
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}
