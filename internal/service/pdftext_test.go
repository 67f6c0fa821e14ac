package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jjenkins/lovforslag/internal/config"
)

func TestNormalizeText(t *testing.T) {
	in := "  Forslag\x00 til lov  \n\n\t\n  om MitID \r\n"
	if got := NormalizeText(in); got != "Forslag til lov\nom MitID" {
		t.Errorf("NormalizeText = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("æøåæøå", 3); got != "æøå" {
		t.Errorf("Truncate = %q, want rune-safe cut", got)
	}
	if got := Truncate("kort", 10); got != "kort" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("kort", 0); got != "kort" {
		t.Errorf("Truncate with no limit = %q", got)
	}
}

func TestExtractRejectsNonPDF(t *testing.T) {
	p := NewPDFText(config.Config{})
	if _, err := p.Extract(nil, 0); err == nil {
		t.Error("expected an error for empty data")
	}
	if _, err := p.Extract([]byte("<html>Access denied</html>"), 0); err == nil {
		t.Error("expected an error for HTML data")
	}
	if _, err := p.Extract([]byte("%PDF-1.4 truncated"), 0); err == nil {
		t.Error("expected an error for a truncated PDF")
	}
}

func TestDownloadFallsBackToSecondProfile(t *testing.T) {
	var referers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referers = append(referers, r.Header.Get("Referer"))
		if r.Header.Get("Referer") != "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	p := NewPDFText(config.Config{PDFFetchUserAgent: "Mozilla/5.0", PDFFetchReferer: "https://www.ft.dk/"})
	data, err := p.Download(context.Background(), srv.URL+"/samling/L1.pdf")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if string(data) != "%PDF-1.7" {
		t.Errorf("data = %q", data)
	}
	if len(referers) != 2 || referers[0] != "https://www.ft.dk/" || referers[1] != "" {
		t.Errorf("referers = %v", referers)
	}
}

func TestDownloadRejectsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>blocked</html>"))
	}))
	defer srv.Close()

	if _, err := NewPDFText(config.Config{}).Download(context.Background(), srv.URL); err == nil {
		t.Error("expected an error for an HTML response")
	}
}
