package templates

import (
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/jjenkins/lovforslag/internal/model"
)

// DashboardData is everything the home page shows
type DashboardData struct {
	HasData   bool
	Metrics   map[string]string
	Runs      []model.IngestionRun
	Proposals []*model.ProposalRecord
}

// metricCards lists the dashboard tiles in display order
var metricCards = []struct {
	key   string
	label string
}{
	{"total_proposals", "Forslag i alt"},
	{"law_proposals", "Lovforslag"},
	{"resolution_proposals", "Beslutningsforslag"},
	{"it_relevant", "IT-relevante"},
	{"with_pdfs", "Med PDF"},
	{"policy_analyses", "Policyanalyser"},
	{"total_runs", "Kørsler"},
	{"failed_runs", "Fejlede kørsler"},
}

func metricValue(metrics map[string]string, key string) string {
	if v := metrics[key]; v != "" {
		return v
	}
	return "0"
}

func proposalURL(id int) templ.SafeURL {
	return templ.SafeURL("/proposals/" + strconv.Itoa(id))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func runStatus(r model.IngestionRun) string {
	switch {
	case r.Error.Valid:
		return "fejlet: " + r.Error.String
	case r.FinishedAt.Valid:
		return "færdig"
	default:
		return "kører"
	}
}
