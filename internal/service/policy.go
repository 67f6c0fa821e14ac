package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jjenkins/lovforslag/internal/config"
	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/model"
)

const (
	policyExcerptPages = 8
	policyExcerptChars = 12000
)

const policySystemPrompt = "Du svarer kun med gyldig JSON og følger det angivne outputformat."

const policyPrompt = `Du analyserer lovgivning med fokus på demokrati, digital suverænitet, borgerrettigheder og offentlig IT.
Vurder konsekvenser, magtforskydninger og risici, ikke kun intentioner. Skriv på dansk. Mangler der
information, så skriv det eksplicit. Svar KUN med JSON.

Titel: %s
Resumé: %s
Lovtekst (uddrag, kan være afkortet): %s

Format:
{
  "meta": {"title": "", "jurisdiction": "", "law_type": "law|bill|regulation|directive|unknown", "analysis_timestamp_iso": ""},
  "summary": {"one_paragraph": "", "what_problem_it_addresses": "", "who_is_affected": {"citizens": true, "public_sector": true, "private_companies": true}},
  "tags": [{"tag": "", "category": "privatliv|demokrati|digital_suveraenitet|offentlig_it|sikkerhed|okonomi|adgang|AI|andet", "confidence": 0.0, "evidence": ""}],
  "attention_points": [{"topic": "", "issue": "", "why_it_matters": "", "risk_level": "low|medium|high"}],
  "red_flags": [""],
  "positive_elements": [""],
  "open_questions": [""],
  "overall_assessment": {"direction": "strengthens|weakens|mixed|neutral|unclear", "score": 0, "score_explanation": "", "who_benefits_most": "", "who_loses_most": ""},
  "recommendation": {"position": "support|support_with_changes|neutral|oppose|unclear", "rationale": "", "key_changes_if_any": [""]}
}`

// PDFTextLookup returns previously extracted PDF text for a proposal, or nil
type PDFTextLookup interface {
	GetPDFText(ctx context.Context, proposalID int) (*model.ProposalPDFText, error)
}

// PolicyAnalyzer produces a democracy and digital-policy assessment of a proposal
type PolicyAnalyzer struct {
	llm   *LLMClient
	pdf   *PDFText
	texts PDFTextLookup
	cfg   config.Config
	log   *logger.Logger
	now   func() time.Time
}

// NewPolicyAnalyzer creates a PolicyAnalyzer. texts and pdf may be nil.
func NewPolicyAnalyzer(cfg config.Config, llm *LLMClient, pdf *PDFText, texts PDFTextLookup, log *logger.Logger) *PolicyAnalyzer {
	if log == nil {
		log = logger.Nop()
	}
	return &PolicyAnalyzer{llm: llm, pdf: pdf, texts: texts, cfg: cfg, log: log, now: time.Now}
}

// Enabled reports whether ENRICH_POLICY_ANALYSIS is on
func (a *PolicyAnalyzer) Enabled() bool {
	return a != nil && a.cfg.PolicyAnalysisEnabled
}

// ModelID is stored alongside each analysis
func (a *PolicyAnalyzer) ModelID() string {
	return a.cfg.PolicyModelID()
}

// PromptVersion is stored alongside each analysis
func (a *PolicyAnalyzer) PromptVersion() string {
	return a.cfg.PolicyAnalysisPromptVersion
}

// Analyze runs the policy prompt and returns the normalized JSON object
func (a *PolicyAnalyzer) Analyze(ctx context.Context, p *model.Proposal) (map[string]any, error) {
	if !a.llm.Enabled() {
		return nil, ErrLLMDisabled
	}

	summary := "Ingen resumé tilgængelig"
	if p.Summary != nil && *p.Summary != "" {
		summary = *p.Summary
	}

	lawText := a.lawText(ctx, p)
	if lawText == "" {
		lawText = summary
	}

	result, err := a.llm.ChatJSON(ctx, []ChatMessage{
		{Role: "system", Content: policySystemPrompt},
		{Role: "user", Content: fmt.Sprintf(policyPrompt, p.Title, summary, lawText)},
	}, a.cfg.PolicyAnalysisTemperature, a.cfg.PolicyAnalysisMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("policy analysis failed: %w", err)
	}

	return normalizePolicyResult(result, p.Title, a.now()), nil
}

// lawText prefers uploaded PDF text, then a downloaded excerpt of the main PDF
func (a *PolicyAnalyzer) lawText(ctx context.Context, p *model.Proposal) string {
	if a.texts != nil {
		stored, err := a.texts.GetPDFText(ctx, p.ID)
		if err != nil {
			a.log.Warn("failed to load stored PDF text", "proposal_id", p.ID, "error", err)
		} else if stored != nil && strings.TrimSpace(stored.ExtractedText) != "" {
			return Truncate(strings.TrimSpace(stored.ExtractedText), policyExcerptChars)
		}
	}

	if !a.cfg.EnrichFetchPDFs || a.pdf == nil || p.MainPDFURL == nil {
		return ""
	}

	res, err := a.pdf.ExtractFromURL(ctx, *p.MainPDFURL, policyExcerptPages)
	if err != nil {
		a.log.Warn("failed to fetch PDF excerpt", "proposal_id", p.ID, "url", *p.MainPDFURL, "error", err)
		return ""
	}
	return Truncate(res.Text, policyExcerptChars)
}

// normalizePolicyResult fills meta.title, meta.analysis_timestamp_iso and tags
// so stored analyses always have the same top-level shape.
func normalizePolicyResult(result map[string]any, title string, now time.Time) map[string]any {
	meta, ok := result["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		result["meta"] = meta
	}
	if s, ok := meta["title"].(string); !ok || s == "" {
		meta["title"] = title
	}
	if s, ok := meta["analysis_timestamp_iso"].(string); !ok || s == "" {
		meta["analysis_timestamp_iso"] = now.UTC().Format(time.RFC3339)
	}
	if _, ok := result["tags"].([]any); !ok {
		result["tags"] = []any{}
	}
	return result
}
