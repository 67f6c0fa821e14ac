package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestCalculateAndStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewMetricsService(db)
	m.now = func() time.Time { return at }

	mock.ExpectQuery(regexp.QuoteMeta("FROM proposals")).
		WillReturnRows(sqlmock.NewRows([]string{"total_proposals", "law_proposals", "resolution_proposals", "with_pdfs"}).
			AddRow(12, 9, 3, 7))
	mock.ExpectQuery(regexp.QuoteMeta("FROM proposal_labels")).
		WillReturnRows(sqlmock.NewRows([]string{"labelled", "it_relevant"}).AddRow(5, 4))
	mock.ExpectQuery(regexp.QuoteMeta("FROM proposal_policy_analyses")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM ingestion_runs")).
		WillReturnRows(sqlmock.NewRows([]string{"total_runs", "failed_runs", "last_run_at"}).AddRow(6, 1, "2024-05-01T11:00:00Z"))

	for _, metric := range []struct{ name, value string }{
		{"total_proposals", "12"},
		{"law_proposals", "9"},
		{"resolution_proposals", "3"},
		{"labelled_proposals", "5"},
		{"it_relevant", "4"},
		{"with_pdfs", "7"},
		{"policy_analyses", "2"},
		{"total_runs", "6"},
		{"failed_runs", "1"},
		{"last_run_at", "2024-05-01T11:00:00Z"},
	} {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO metrics")).
			WithArgs(metric.name, metric.value, at).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	got, err := m.CalculateAndStore(context.Background())
	if err != nil {
		t.Fatalf("CalculateAndStore returned error: %v", err)
	}
	want := SystemMetrics{
		TotalProposals:      12,
		LawProposals:        9,
		ResolutionProposals: 3,
		LabelledProposals:   5,
		ITRelevant:          4,
		WithPDFs:            7,
		PolicyAnalyses:      2,
		TotalRuns:           6,
		FailedRuns:          1,
		LastRunAt:           "2024-05-01T11:00:00Z",
	}
	if *got != want {
		t.Errorf("metrics = %+v, want %+v", *got, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetLatestMetrics(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (metric_name) metric_name, metric_value")).
		WillReturnRows(sqlmock.NewRows([]string{"metric_name", "metric_value"}).
			AddRow("total_proposals", "12").
			AddRow("failed_runs", "0"))

	got, err := NewMetricsService(db).GetLatestMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetLatestMetrics returned error: %v", err)
	}
	if got["total_proposals"] != "12" || got["failed_runs"] != "0" || len(got) != 2 {
		t.Errorf("metrics = %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
