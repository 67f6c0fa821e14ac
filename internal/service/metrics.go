package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MetricsService calculates and stores system-wide metrics
type MetricsService struct {
	db  *sql.DB
	now func() time.Time
}

// NewMetricsService creates a new MetricsService
func NewMetricsService(db *sql.DB) *MetricsService {
	return &MetricsService{db: db, now: time.Now}
}

// SystemMetrics represents calculated system-wide metrics
type SystemMetrics struct {
	TotalProposals      int
	LawProposals        int
	ResolutionProposals int
	LabelledProposals   int
	ITRelevant          int
	WithPDFs            int
	PolicyAnalyses      int
	TotalRuns           int
	FailedRuns          int
	LastRunAt           string
}

// CalculateAndStore calculates system metrics and stores them
func (m *MetricsService) CalculateAndStore(ctx context.Context) (*SystemMetrics, error) {
	metrics := &SystemMetrics{}

	// Proposal counts
	proposalQuery := `
		SELECT
			COUNT(*) as total_proposals,
			COUNT(*) FILTER (WHERE nummerprefix = 'L') as law_proposals,
			COUNT(*) FILTER (WHERE nummerprefix = 'B') as resolution_proposals,
			COUNT(*) FILTER (WHERE jsonb_array_length(COALESCE(raw_json->'pdfUrls', '[]'::jsonb)) > 0) as with_pdfs
		FROM proposals
	`
	err := m.db.QueryRowContext(ctx, proposalQuery).Scan(
		&metrics.TotalProposals,
		&metrics.LawProposals,
		&metrics.ResolutionProposals,
		&metrics.WithPDFs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate proposal metrics: %w", err)
	}

	// Label counts
	labelQuery := `
		SELECT
			COUNT(*) as labelled,
			COUNT(*) FILTER (WHERE it_relevant) as it_relevant
		FROM proposal_labels
	`
	err = m.db.QueryRowContext(ctx, labelQuery).Scan(
		&metrics.LabelledProposals,
		&metrics.ITRelevant,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate label metrics: %w", err)
	}

	err = m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposal_policy_analyses`).Scan(&metrics.PolicyAnalyses)
	if err != nil {
		return nil, fmt.Errorf("failed to count policy analyses: %w", err)
	}

	// Run counts
	runQuery := `
		SELECT
			COUNT(*) as total_runs,
			COUNT(*) FILTER (WHERE error IS NOT NULL) as failed_runs,
			COALESCE(to_char(MAX(started_at) AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"'), '') as last_run_at
		FROM ingestion_runs
	`
	err = m.db.QueryRowContext(ctx, runQuery).Scan(
		&metrics.TotalRuns,
		&metrics.FailedRuns,
		&metrics.LastRunAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate run metrics: %w", err)
	}

	// Store metrics
	values := []struct {
		name  string
		value string
	}{
		{"total_proposals", fmt.Sprintf("%d", metrics.TotalProposals)},
		{"law_proposals", fmt.Sprintf("%d", metrics.LawProposals)},
		{"resolution_proposals", fmt.Sprintf("%d", metrics.ResolutionProposals)},
		{"labelled_proposals", fmt.Sprintf("%d", metrics.LabelledProposals)},
		{"it_relevant", fmt.Sprintf("%d", metrics.ITRelevant)},
		{"with_pdfs", fmt.Sprintf("%d", metrics.WithPDFs)},
		{"policy_analyses", fmt.Sprintf("%d", metrics.PolicyAnalyses)},
		{"total_runs", fmt.Sprintf("%d", metrics.TotalRuns)},
		{"failed_runs", fmt.Sprintf("%d", metrics.FailedRuns)},
		{"last_run_at", metrics.LastRunAt},
	}
	calculatedAt := m.now()
	for _, v := range values {
		if err := m.storeMetric(ctx, v.name, v.value, calculatedAt); err != nil {
			return nil, err
		}
	}

	return metrics, nil
}

// storeMetric stores a single metric value
func (m *MetricsService) storeMetric(ctx context.Context, name, value string, at time.Time) error {
	query := `
		INSERT INTO metrics (metric_name, metric_value, calculated_at)
		VALUES ($1, $2, $3)
	`

	_, err := m.db.ExecContext(ctx, query, name, value, at)
	if err != nil {
		return fmt.Errorf("failed to store metric %s: %w", name, err)
	}

	return nil
}

// GetLatestMetrics retrieves the most recent system metrics
func (m *MetricsService) GetLatestMetrics(ctx context.Context) (map[string]string, error) {
	query := `
		SELECT DISTINCT ON (metric_name) metric_name, metric_value
		FROM metrics
		ORDER BY metric_name, calculated_at DESC
	`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}
	defer rows.Close()

	metrics := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		metrics[name] = value
	}

	return metrics, rows.Err()
}
