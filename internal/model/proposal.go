package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Number prefixes used by ODA for law proposals and resolution proposals
const (
	PrefixLaw        = "L"
	PrefixResolution = "B"
)

// Proposal represents a Folketinget case (Sag) from the ODA /Sag feed.
// Raw keeps the full upstream record; the modelled fields are read from it.
type Proposal struct {
	ID            int
	PeriodID      *int
	NumberPrefix  string
	NumberNumeric string
	Number        string
	Title         string
	Summary       *string
	LastUpdated   string
	StatusID      *int
	LawNumberDate string
	TypeID        *int
	Raw           map[string]any

	// Attached by the document resolver, never present upstream
	MainPDFURL   *string
	PDFURLs      []string
	PDFDocuments []DocumentDebug
}

// ProposalFromRaw maps an ODA Sag record onto a Proposal
func ProposalFromRaw(raw map[string]any) *Proposal {
	if raw == nil {
		raw = map[string]any{}
	}
	p := &Proposal{Raw: raw}

	if id, ok := CoerceInt(raw["id"]); ok {
		p.ID = id
	}
	if period, ok := CoerceInt(raw["periodeid"]); ok {
		p.PeriodID = &period
	}
	p.NumberPrefix = stringField(raw, "nummerprefix")
	if p.NumberPrefix == "" {
		p.NumberPrefix = PrefixLaw
	}
	p.NumberNumeric = stringField(raw, "nummernumerisk")
	p.Number = stringField(raw, "nummer")
	p.Title = stringField(raw, "titel")
	if summary := stringField(raw, "resume"); summary != "" {
		p.Summary = &summary
	}
	p.LastUpdated, _ = raw["opdateringsdato"].(string)
	if status, ok := StrictInt(raw["statusid"]); ok {
		p.StatusID = &status
	}
	p.LawNumberDate = stringField(raw, "lovnummerdato")
	if typeID, ok := StrictInt(raw["typeid"]); ok {
		p.TypeID = &typeID
	}

	return p
}

// Text returns title and summary joined, the input for keyword matching
func (p *Proposal) Text() string {
	if p.Summary == nil {
		return p.Title + " "
	}
	return p.Title + " " + *p.Summary
}

// AttachDocuments stores a resolver result on the proposal and in its raw payload
func (p *Proposal) AttachDocuments(res *DocumentResolution) {
	p.MainPDFURL = res.MainPDFURL
	p.PDFURLs = res.PDFURLs
	if p.PDFURLs == nil {
		p.PDFURLs = []string{}
	}
	p.PDFDocuments = res.Documents
	if p.PDFDocuments == nil {
		p.PDFDocuments = []DocumentDebug{}
	}
	p.syncRaw()
}

// ClearDocuments resets the PDF fields after a failed resolution
func (p *Proposal) ClearDocuments() {
	p.MainPDFURL = nil
	p.PDFURLs = []string{}
	p.PDFDocuments = []DocumentDebug{}
	p.syncRaw()
}

func (p *Proposal) syncRaw() {
	if p.Raw == nil {
		p.Raw = map[string]any{}
	}
	if p.MainPDFURL != nil {
		p.Raw["mainPdfUrl"] = *p.MainPDFURL
	} else {
		p.Raw["mainPdfUrl"] = nil
	}
	p.Raw["pdfUrls"] = p.PDFURLs
	p.Raw["pdfDocuments"] = p.PDFDocuments
}

// HasPDFURLs reports whether the raw payload already carries resolved PDF URLs
func HasPDFURLs(raw map[string]any) bool {
	switch urls := raw["pdfUrls"].(type) {
	case []any:
		return len(urls) > 0
	case []string:
		return len(urls) > 0
	default:
		return false
	}
}

// ProposalRecord is a stored proposal as served by the API
type ProposalRecord struct {
	ID             int              `json:"id"`
	PeriodID       *int             `json:"periodeid"`
	NumberPrefix   string           `json:"nummerprefix"`
	NumberNumeric  string           `json:"nummernumerisk"`
	Number         string           `json:"nummer"`
	Title          string           `json:"titel"`
	Summary        *string          `json:"resume"`
	LastUpdated    time.Time        `json:"opdateringsdato"`
	Raw            json.RawMessage  `json:"raw_json"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Label          *ProposalLabel   `json:"label,omitempty"`
	PolicyAnalysis *PolicyAnalysis  `json:"policy_analysis,omitempty"`
	PDFText        *ProposalPDFText `json:"pdf_text,omitempty"`
}

// RawMap decodes the stored raw payload
func (r *ProposalRecord) RawMap() map[string]any {
	out := map[string]any{}
	if len(r.Raw) == 0 {
		return out
	}
	if err := json.Unmarshal(r.Raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// Proposal rebuilds the domain proposal from the stored row. Column values
// win over the raw payload; PDF fields come from the raw payload.
func (r *ProposalRecord) Proposal() *Proposal {
	raw := r.RawMap()
	p := ProposalFromRaw(raw)
	p.ID = r.ID
	p.PeriodID = r.PeriodID
	if r.NumberPrefix != "" {
		p.NumberPrefix = r.NumberPrefix
	}
	p.NumberNumeric = r.NumberNumeric
	p.Number = r.Number
	p.Title = r.Title
	p.Summary = r.Summary

	if url, ok := raw["mainPdfUrl"].(string); ok && url != "" {
		p.MainPDFURL = &url
	}
	if urls, ok := raw["pdfUrls"].([]any); ok {
		for _, u := range urls {
			if s, ok := u.(string); ok {
				p.PDFURLs = append(p.PDFURLs, s)
			}
		}
	}
	return p
}

// CoerceInt converts ints, integral floats, json.Number and digit-only
// strings to int.
func CoerceInt(v any) (int, bool) {
	if n, ok := StrictInt(v); ok {
		return n, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// StrictInt converts numeric JSON values to int; strings are rejected
func StrictInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return strings.TrimSpace(s)
}
