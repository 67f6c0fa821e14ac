package model

import (
	"encoding/json"
	"time"
)

// ProposalLabel is the IT-relevance classification of a proposal
type ProposalLabel struct {
	ProposalID      int       `json:"proposal_id"`
	ITRelevant      bool      `json:"it_relevant"`
	ITTopics        []string  `json:"it_topics"`
	ITSummaryDA     *string   `json:"it_summary_da"`
	WhyITRelevantDA *string   `json:"why_it_relevant_da"`
	Confidence      float64   `json:"confidence"`
	Model           string    `json:"model"`
	PromptVersion   string    `json:"prompt_version"`
	CreatedAt       time.Time `json:"created_at"`
}

// PolicyAnalysis is the democracy/digital-policy assessment of a proposal
type PolicyAnalysis struct {
	ProposalID    int             `json:"proposal_id"`
	Analysis      json.RawMessage `json:"analysis"`
	Model         string          `json:"model"`
	PromptVersion string          `json:"prompt_version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ProposalPDFText holds text extracted from a proposal's law PDF
type ProposalPDFText struct {
	ProposalID    int       `json:"proposal_id"`
	SourceURL     *string   `json:"source_url"`
	FileName      *string   `json:"file_name"`
	ExtractedText string    `json:"extracted_text"`
	PageCount     int       `json:"page_count"`
	CreatedAt     time.Time `json:"created_at"`
}
