package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jjenkins/lovforslag/internal/config"
	"github.com/jjenkins/lovforslag/internal/model"
)

type fakePDFTextLookup struct {
	text *model.ProposalPDFText
}

func (f fakePDFTextLookup) GetPDFText(ctx context.Context, proposalID int) (*model.ProposalPDFText, error) {
	return f.text, nil
}

func TestNormalizePolicyResult(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	got := normalizePolicyResult(map[string]any{"summary": map[string]any{}}, "Lov om MitID", now)
	meta, ok := got["meta"].(map[string]any)
	if !ok {
		t.Fatalf("meta = %#v, want object", got["meta"])
	}
	if meta["title"] != "Lov om MitID" {
		t.Errorf("meta.title = %v", meta["title"])
	}
	if meta["analysis_timestamp_iso"] != "2024-05-01T08:00:00Z" {
		t.Errorf("meta.analysis_timestamp_iso = %v", meta["analysis_timestamp_iso"])
	}
	if tags, ok := got["tags"].([]any); !ok || len(tags) != 0 {
		t.Errorf("tags = %#v, want empty list", got["tags"])
	}

	kept := normalizePolicyResult(map[string]any{
		"meta": map[string]any{"title": "Model title", "analysis_timestamp_iso": "2020-01-01T00:00:00Z"},
		"tags": []any{map[string]any{"tag": "privatliv"}},
	}, "Lov om MitID", now)
	keptMeta := kept["meta"].(map[string]any)
	if keptMeta["title"] != "Model title" || keptMeta["analysis_timestamp_iso"] != "2020-01-01T00:00:00Z" {
		t.Errorf("existing meta was overwritten: %v", keptMeta)
	}
	if len(kept["tags"].([]any)) != 1 {
		t.Errorf("existing tags were dropped: %v", kept["tags"])
	}
}

func TestAnalyzeUsesStoredPDFText(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []ChatMessage `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) == 2 {
			prompt = body.Messages[1].Content
		}
		chatReply(w, `{"overall_assessment": {"direction": "mixed"}}`)
	}))
	defer srv.Close()

	cfg := config.Config{
		OpenAIAPIKey:                "sk-test",
		OpenAIModel:                 "gpt-test",
		OpenAIBaseURL:               srv.URL,
		PolicyAnalysisEnabled:       true,
		PolicyAnalysisPromptVersion: "1.1",
	}
	texts := fakePDFTextLookup{text: &model.ProposalPDFText{ProposalID: 9, ExtractedText: "  § 1. Loven gælder for MitID.  "}}
	a := NewPolicyAnalyzer(cfg, NewLLMClient(cfg), nil, texts, nil)

	if !a.Enabled() || a.ModelID() != "openai:gpt-test" || a.PromptVersion() != "1.1" {
		t.Errorf("analyzer metadata = %v %q %q", a.Enabled(), a.ModelID(), a.PromptVersion())
	}

	out, err := a.Analyze(context.Background(), testProposal(9, "Lov om MitID", ""))
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if !strings.Contains(prompt, "Lovtekst (uddrag, kan være afkortet): § 1. Loven gælder for MitID.") {
		t.Errorf("prompt does not include the stored law text:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Resumé: Ingen resumé tilgængelig") {
		t.Errorf("prompt does not include the summary placeholder:\n%s", prompt)
	}
	if meta, _ := out["meta"].(map[string]any); meta["title"] != "Lov om MitID" {
		t.Errorf("meta = %v", out["meta"])
	}
}

func TestAnalyzeWithoutLLM(t *testing.T) {
	a := NewPolicyAnalyzer(config.Config{PolicyAnalysisEnabled: true}, NewLLMClient(config.Config{}), nil, nil, nil)
	if _, err := a.Analyze(context.Background(), testProposal(1, "x", "")); err != ErrLLMDisabled {
		t.Errorf("error = %v, want ErrLLMDisabled", err)
	}
}
