package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/model"
	"github.com/jjenkins/lovforslag/internal/service"
)

type fakeStore struct {
	records  map[int]*model.ProposalRecord
	analyses map[int]*model.PolicyAnalysis
	texts    map[int]*model.ProposalPDFText
	filter   model.ProposalFilter
	listErr  error
}

func newFakeStore(records ...*model.ProposalRecord) *fakeStore {
	s := &fakeStore{
		records:  map[int]*model.ProposalRecord{},
		analyses: map[int]*model.PolicyAnalysis{},
		texts:    map[int]*model.ProposalPDFText{},
	}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeStore) ListProposals(ctx context.Context, f model.ProposalFilter) ([]*model.ProposalRecord, error) {
	s.filter = f
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []*model.ProposalRecord{}
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) GetProposal(ctx context.Context, id int) (*model.ProposalRecord, error) {
	return s.records[id], nil
}

func (s *fakeStore) GetPolicyAnalysis(ctx context.Context, proposalID int) (*model.PolicyAnalysis, error) {
	return s.analyses[proposalID], nil
}

func (s *fakeStore) GetPDFText(ctx context.Context, proposalID int) (*model.ProposalPDFText, error) {
	return s.texts[proposalID], nil
}

func (s *fakeStore) SavePDFText(ctx context.Context, t *model.ProposalPDFText) error {
	s.texts[t.ProposalID] = t
	return nil
}

func (s *fakeStore) UpsertPolicyAnalysis(ctx context.Context, proposalID int, analysis map[string]any, modelID, promptVersion string) error {
	data, _ := json.Marshal(analysis)
	s.analyses[proposalID] = &model.PolicyAnalysis{ProposalID: proposalID, Analysis: data, Model: modelID, PromptVersion: promptVersion}
	return nil
}

type fakeAnalyzer struct {
	enabled bool
	err     error
}

func (a fakeAnalyzer) Enabled() bool { return a.enabled }

func (a fakeAnalyzer) Analyze(ctx context.Context, p *model.Proposal) (map[string]any, error) {
	if a.err != nil {
		return nil, a.err
	}
	return map[string]any{"meta": map[string]any{"title": p.Title}}, nil
}

func (a fakeAnalyzer) ModelID() string { return "openai:gpt-test" }

func (a fakeAnalyzer) PromptVersion() string { return "1.1" }

type fakeExtractor struct {
	text string
	err  error
}

func (e fakeExtractor) Extract(data []byte, maxPages int) (*service.PDFTextResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &service.PDFTextResult{Text: e.text, PageCount: 2}, nil
}

type fakeRunner struct {
	result *service.RunResult
	err    error
}

func (r fakeRunner) Run(ctx context.Context) (*service.RunResult, error) {
	return r.result, r.err
}

type fakeRuns struct {
	runs  []model.IngestionRun
	limit int
}

func (r *fakeRuns) RecentRuns(ctx context.Context, limit int) ([]model.IngestionRun, error) {
	r.limit = limit
	return r.runs, nil
}

func record(id int, title string) *model.ProposalRecord {
	return &model.ProposalRecord{
		ID:           id,
		NumberPrefix: "L",
		Number:       "L 1",
		Title:        title,
		Raw:          []byte(`{"mainPdfUrl":"https://ft.dk/l1.pdf","pdfUrls":["https://ft.dk/l1.pdf"]}`),
		LastUpdated:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var out map[string]any
	json.Unmarshal(body, &out)
	return resp.StatusCode, out
}

func uploadRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write(content)
	}
	w.WriteField("source_url", "https://ft.dk/l1.pdf")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, target, buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestRequireToken(t *testing.T) {
	ok := func(c *fiber.Ctx) error { return c.SendString("ok") }

	tests := []struct {
		name   string
		token  string
		header string
		query  string
		want   int
	}{
		{"not configured", "", "secret", "", fiber.StatusServiceUnavailable},
		{"missing", "secret", "", "", fiber.StatusUnauthorized},
		{"wrong", "secret", "guess", "", fiber.StatusUnauthorized},
		{"header", "secret", "secret", "", fiber.StatusOK},
		{"query", "secret", "", "?ingest_token=secret", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/ingest", RequireToken(tt.token), ok)

			req := httptest.NewRequest(http.MethodPost, "/ingest"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set(TokenHeader, tt.header)
			}
			if status, _ := doRequest(t, app, req); status != tt.want {
				t.Errorf("status = %d, want %d", status, tt.want)
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	app := fiber.New()
	app.Get("/api/health", HealthHandler())

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if status != fiber.StatusOK || body["status"] != "healthy" {
		t.Errorf("status %d body %v", status, body)
	}
}

func TestProposalsHandlerValidation(t *testing.T) {
	st := newFakeStore(record(1, "Lov om MitID"))
	app := fiber.New()
	app.Get("/proposals", ProposalsHandler(st, logger.Nop()))

	for _, q := range []string{"limit=0", "limit=201", "limit=abc", "offset=-1", "type=X", "it_relevant=maybe"} {
		status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/proposals?"+q, nil))
		if status != fiber.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, status)
		}
		if body["error"] == nil {
			t.Errorf("%s: missing error message", q)
		}
	}
}

func TestProposalsHandlerPassesFilter(t *testing.T) {
	st := newFakeStore(record(1, "Lov om MitID"))
	app := fiber.New()
	app.Get("/proposals", ProposalsHandler(st, logger.Nop()))

	req := httptest.NewRequest(http.MethodGet, "/proposals?limit=5&offset=10&type=b&it_relevant=true&q=mitid&topic=gdpr", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	f := st.filter
	if f.Limit != 5 || f.Offset != 10 || f.NumberPrefix != "B" || f.Query != "mitid" || f.Topic != "gdpr" {
		t.Errorf("filter = %+v", f)
	}
	if f.ITRelevant == nil || !*f.ITRelevant {
		t.Errorf("ITRelevant = %v, want true", f.ITRelevant)
	}

	var list []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0]["mainPdfUrl"] != "https://ft.dk/l1.pdf" {
		t.Errorf("list = %v", list)
	}
}

func TestProposalDetailHandler(t *testing.T) {
	st := newFakeStore(record(1, "Lov om MitID"))
	st.texts[1] = &model.ProposalPDFText{ProposalID: 1, ExtractedText: "§ 1"}
	app := fiber.New()
	app.Get("/proposals/:id", ProposalDetailHandler(st, logger.Nop()))

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/proposals/1", nil))
	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["titel"] != "Lov om MitID" || body["pdf_text"] == nil {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["policy_analysis"]; ok {
		t.Error("policy_analysis should be omitted when absent")
	}

	if status, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/proposals/99", nil)); status != fiber.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", status)
	}
	if status, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/proposals/abc", nil)); status != fiber.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", status)
	}
}

func TestIngestHandler(t *testing.T) {
	app := fiber.New()
	app.Post("/ok", IngestHandler(fakeRunner{result: &service.RunResult{RunID: "r1", FetchedCount: 3, RelevantCount: 2, UpdatedCount: 2}}, nil, logger.Nop()))
	app.Post("/fail", IngestHandler(fakeRunner{err: errors.New("ingestion failed during fetching: ODA down")}, nil, logger.Nop()))

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodPost, "/ok", nil))
	if status != fiber.StatusOK || body["run_id"] != "r1" || body["updated_count"] != float64(2) {
		t.Errorf("status %d body %v", status, body)
	}
	if body["fetched_count"] != float64(3) || body["relevant_count"] != float64(2) {
		t.Errorf("fetched/relevant counts missing from %v", body)
	}

	status, body = doRequest(t, app, httptest.NewRequest(http.MethodPost, "/fail", nil))
	if status != fiber.StatusInternalServerError || body["error"] == nil {
		t.Errorf("status %d body %v", status, body)
	}
}

func TestHistoryHandler(t *testing.T) {
	runs := &fakeRuns{runs: []model.IngestionRun{{ID: "r1", StartedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}}}
	app := fiber.New()
	app.Get("/runs", HistoryHandler(runs, logger.Nop()))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/runs?limit=5", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK || runs.limit != 5 {
		t.Errorf("status %d limit %d", resp.StatusCode, runs.limit)
	}

	if status, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/runs?limit=500", nil)); status != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestPolicyAnalysisHandler(t *testing.T) {
	st := newFakeStore(record(1, "Lov om MitID"))

	tests := []struct {
		name     string
		analyzer service.PolicyRunner
		path     string
		want     int
	}{
		{"disabled", fakeAnalyzer{}, "/proposals/1/policy-analysis", fiber.StatusBadRequest},
		{"unknown proposal", fakeAnalyzer{enabled: true}, "/proposals/99/policy-analysis", fiber.StatusNotFound},
		{"model failure", fakeAnalyzer{enabled: true, err: errors.New("timeout")}, "/proposals/1/policy-analysis", fiber.StatusBadGateway},
		{"ok", fakeAnalyzer{enabled: true}, "/proposals/1/policy-analysis", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/proposals/:id/policy-analysis", PolicyAnalysisHandler(st, tt.analyzer, logger.Nop()))

			status, body := doRequest(t, app, httptest.NewRequest(http.MethodPost, tt.path, nil))
			if status != tt.want {
				t.Errorf("status = %d, want %d (%v)", status, tt.want, body)
			}
		})
	}

	if st.analyses[1] == nil || st.analyses[1].Model != "openai:gpt-test" {
		t.Errorf("stored analysis = %+v", st.analyses[1])
	}
}

func TestPDFTextUploadHandler(t *testing.T) {
	tests := []struct {
		name      string
		extractor PDFExtractor
		maxBytes  int64
		path      string
		filename  string
		want      int
	}{
		{"missing file", fakeExtractor{text: "x"}, 1 << 20, "/proposals/1/pdf-text", "", fiber.StatusBadRequest},
		{"not a pdf", fakeExtractor{text: "x"}, 1 << 20, "/proposals/1/pdf-text", "notes.txt", fiber.StatusBadRequest},
		{"too large", fakeExtractor{text: "x"}, 4, "/proposals/1/pdf-text", "L1.pdf", fiber.StatusRequestEntityTooLarge},
		{"unknown proposal", fakeExtractor{text: "x"}, 1 << 20, "/proposals/99/pdf-text", "L1.pdf", fiber.StatusNotFound},
		{"scanned pdf", fakeExtractor{text: "  "}, 1 << 20, "/proposals/1/pdf-text", "L1.pdf", fiber.StatusUnprocessableEntity},
		{"broken pdf", fakeExtractor{err: errors.New("data is not a PDF")}, 1 << 20, "/proposals/1/pdf-text", "L1.pdf", fiber.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeStore(record(1, "Lov om MitID"))
			app := fiber.New()
			app.Post("/proposals/:id/pdf-text", PDFTextUploadHandler(st, tt.extractor, nil, tt.maxBytes, logger.Nop()))

			status, body := doRequest(t, app, uploadRequest(t, tt.path, tt.filename, []byte("%PDF-1.7 body")))
			if status != tt.want {
				t.Errorf("status = %d, want %d (%v)", status, tt.want, body)
			}
		})
	}
}

func TestPDFTextUploadStoresTextAndRunsAnalysis(t *testing.T) {
	st := newFakeStore(record(1, "Lov om MitID"))
	app := fiber.New()
	app.Post("/proposals/:id/pdf-text", PDFTextUploadHandler(st, fakeExtractor{text: "§ 1. Loven gælder."}, fakeAnalyzer{enabled: true}, 1<<20, logger.Nop()))

	status, body := doRequest(t, app, uploadRequest(t, "/proposals/1/pdf-text", "L1.PDF", []byte("%PDF-1.7 body")))
	if status != fiber.StatusOK {
		t.Fatalf("status = %d (%v)", status, body)
	}

	saved := st.texts[1]
	if saved == nil || saved.ExtractedText != "§ 1. Loven gælder." || saved.PageCount != 2 {
		t.Fatalf("saved text = %+v", saved)
	}
	if saved.SourceURL == nil || *saved.SourceURL != "https://ft.dk/l1.pdf" {
		t.Errorf("SourceURL = %v", saved.SourceURL)
	}
	if body["policy"] == nil || body["policyError"] != nil {
		t.Errorf("body = %v, want a policy result", body)
	}
}

type fakeMetrics map[string]string

func (m fakeMetrics) GetLatestMetrics(ctx context.Context) (map[string]string, error) {
	return m, nil
}

func TestHomeHandlerRendersDashboard(t *testing.T) {
	st := newFakeStore(record(1, "Lov om MitID"))
	runs := &fakeRuns{}
	app := fiber.New()
	app.Get("/", HomeHandler(fakeMetrics{"total_proposals": "1"}, runs, st, logger.Nop()))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte("Lov om MitID")) {
		t.Errorf("dashboard does not list the proposal:\n%s", body)
	}
	if st.filter.Limit != 20 || runs.limit != 10 {
		t.Errorf("dashboard queried limit %d proposals and %d runs", st.filter.Limit, runs.limit)
	}
}
