package model

import (
	"encoding/json"
	"testing"
)

func TestProposalFromRaw(t *testing.T) {
	p := ProposalFromRaw(map[string]any{
		"id":              json.Number("102531"),
		"periodeid":       160.0,
		"nummernumerisk":  "23",
		"nummer":          " L 23 ",
		"titel":           "Forslag til lov om digital post",
		"resume":          "",
		"opdateringsdato": "2024-05-01T10:00:00",
		"statusid":        "11",
		"typeid":          3,
	})

	if p.ID != 102531 {
		t.Errorf("ID = %d", p.ID)
	}
	if p.PeriodID == nil || *p.PeriodID != 160 {
		t.Errorf("PeriodID = %v", p.PeriodID)
	}
	if p.NumberPrefix != PrefixLaw {
		t.Errorf("NumberPrefix = %q, want default L", p.NumberPrefix)
	}
	if p.Number != "L 23" {
		t.Errorf("Number = %q", p.Number)
	}
	if p.Summary != nil {
		t.Errorf("Summary = %q, want nil for empty resume", *p.Summary)
	}
	if p.StatusID != nil {
		t.Errorf("StatusID = %d, want nil for a string status", *p.StatusID)
	}
	if p.TypeID == nil || *p.TypeID != 3 {
		t.Errorf("TypeID = %v", p.TypeID)
	}
	if p.Text() != "Forslag til lov om digital post " {
		t.Errorf("Text = %q", p.Text())
	}
}

func TestCoerceInt(t *testing.T) {
	tests := []struct {
		in     any
		want   int
		wantOK bool
	}{
		{12, 12, true},
		{int64(12), 12, true},
		{12.0, 12, true},
		{12.5, 0, false},
		{json.Number("7"), 7, true},
		{json.Number("7.5"), 0, false},
		{" 42 ", 42, true},
		{"-3", 0, false},
		{"4a", 0, false},
		{"", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := CoerceInt(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("CoerceInt(%#v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}

	if _, ok := StrictInt("12"); ok {
		t.Error("StrictInt should reject strings")
	}
}

func TestAttachAndClearDocuments(t *testing.T) {
	p := ProposalFromRaw(map[string]any{"id": 1})
	url := "https://ft.dk/l1.pdf"
	p.AttachDocuments(&DocumentResolution{MainPDFURL: &url, PDFURLs: []string{url}})

	if p.Raw["mainPdfUrl"] != url || !HasPDFURLs(p.Raw) {
		t.Errorf("raw = %v", p.Raw)
	}
	if p.PDFDocuments == nil {
		t.Error("PDFDocuments should be an empty slice")
	}

	p.ClearDocuments()
	if p.MainPDFURL != nil || p.Raw["mainPdfUrl"] != nil || HasPDFURLs(p.Raw) {
		t.Errorf("documents not cleared: %+v", p.Raw)
	}
}

func TestRecordProposal(t *testing.T) {
	summary := "Stored summary"
	rec := &ProposalRecord{
		ID:      5,
		Title:   "Stored title",
		Summary: &summary,
		Raw:     json.RawMessage(`{"id":5,"titel":"Raw title","typeid":3,"mainPdfUrl":"https://ft.dk/a.pdf","pdfUrls":["https://ft.dk/a.pdf","https://ft.dk/b.pdf"]}`),
	}

	p := rec.Proposal()
	if p.Title != "Stored title" || p.Summary == nil || *p.Summary != summary {
		t.Errorf("column values should win: %+v", p)
	}
	if p.TypeID == nil || *p.TypeID != 3 {
		t.Errorf("TypeID = %v, want value from raw", p.TypeID)
	}
	if p.MainPDFURL == nil || *p.MainPDFURL != "https://ft.dk/a.pdf" || len(p.PDFURLs) != 2 {
		t.Errorf("PDF fields = %v %v", p.MainPDFURL, p.PDFURLs)
	}

	broken := &ProposalRecord{ID: 6, Raw: json.RawMessage(`not json`)}
	if raw := broken.RawMap(); len(raw) != 0 {
		t.Errorf("RawMap of invalid JSON = %v, want empty", raw)
	}
}
