package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/model"
)

const EnrichmentPromptVersion = "1.0"

const enrichmentSystemPrompt = "Du er ekspert i dansk IT-politik. Svar kun med gyldig JSON."

const enrichmentPrompt = `Vurder om følgende lovforslag eller beslutningsforslag fra Folketinget er relevant for IT-politik.

Titel: %s
Resumé: %s

Svar på dansk i dette JSON-format:
{
  "it_relevant": true,
  "it_topics": ["emne"],
  "it_summary_da": "kort opsummering af forslagets IT-aspekter (højst 200 ord)",
  "why_it_relevant_da": "begrundelse for IT-relevansen (højst 300 ord)"
}`

// Enricher labels proposals for IT relevance, using the LLM when one is
// configured and keyword matching otherwise.
type Enricher struct {
	llm *LLMClient
	log *logger.Logger
}

// NewEnricher creates an Enricher; llm may be nil or disabled
func NewEnricher(llm *LLMClient, log *logger.Logger) *Enricher {
	if log == nil {
		log = logger.Nop()
	}
	return &Enricher{llm: llm, log: log}
}

// ShouldEnrich is the cheap keyword gate in front of Enrich
func (e *Enricher) ShouldEnrich(text string) bool {
	return IsITRelevant(text)
}

// Enrich classifies a proposal. LLM failures fall back to keyword matching
// with lower confidence, so a label is always produced.
func (e *Enricher) Enrich(ctx context.Context, p *model.Proposal) (*model.ProposalLabel, error) {
	if !e.llm.Enabled() {
		return keywordLabel(p, "keyword-matching", 0.7, 0.3), nil
	}

	label, err := e.enrichWithLLM(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Warn("LLM enrichment failed, using keyword matching", "proposal_id", p.ID, "error", err)
		return keywordLabel(p, "keyword-matching-fallback", 0.5, 0.5), nil
	}
	return label, nil
}

func (e *Enricher) enrichWithLLM(ctx context.Context, p *model.Proposal) (*model.ProposalLabel, error) {
	summary := "Ingen resumé tilgængelig"
	if p.Summary != nil && *p.Summary != "" {
		summary = *p.Summary
	}

	result, err := e.llm.ChatJSON(ctx, []ChatMessage{
		{Role: "system", Content: enrichmentSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(enrichmentPrompt, p.Title, summary)},
	}, 0.3, 1000)
	if err != nil {
		return nil, err
	}

	relevant, ok := result["it_relevant"].(bool)
	if !ok {
		return nil, errors.New("invalid it_relevant field")
	}

	return &model.ProposalLabel{
		ProposalID:      p.ID,
		ITRelevant:      relevant,
		ITTopics:        stringList(result["it_topics"]),
		ITSummaryDA:     optionalString(result["it_summary_da"]),
		WhyITRelevantDA: optionalString(result["why_it_relevant_da"]),
		Confidence:      0.9,
		Model:           e.llm.Model(),
		PromptVersion:   EnrichmentPromptVersion,
	}, nil
}

func keywordLabel(p *model.Proposal, modelName string, relevantConfidence, irrelevantConfidence float64) *model.ProposalLabel {
	text := p.Text()
	relevant := IsITRelevant(text)
	confidence := irrelevantConfidence
	if relevant {
		confidence = relevantConfidence
	}
	return &model.ProposalLabel{
		ProposalID:    p.ID,
		ITRelevant:    relevant,
		ITTopics:      ExtractITTopics(text),
		Confidence:    confidence,
		Model:         modelName,
		PromptVersion: EnrichmentPromptVersion,
	}
}

func stringList(v any) []string {
	out := []string{}
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func optionalString(v any) *string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	s = strings.TrimSpace(s)
	return &s
}
