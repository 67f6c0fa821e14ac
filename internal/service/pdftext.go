package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/jjenkins/lovforslag/internal/config"
)

const (
	pdfDownloadTimeout = 30 * time.Second
	maxPDFDownload     = 50 * 1024 * 1024
)

// PDFTextResult is the plain text of a PDF
type PDFTextResult struct {
	Text      string
	PageCount int
}

// PDFText downloads law PDFs and extracts their text
type PDFText struct {
	client    *http.Client
	userAgent string
	referer   string
}

// NewPDFText creates a PDFText using the configured browser headers
func NewPDFText(cfg config.Config) *PDFText {
	return &PDFText{
		client: &http.Client{
			Timeout: pdfDownloadTimeout,
		},
		userAgent: cfg.PDFFetchUserAgent,
		referer:   cfg.PDFFetchReferer,
	}
}

// Download fetches a PDF. ft.dk sits behind a WAF, so two header profiles are
// tried; a 403 or an HTML body counts as a failed attempt.
func (p *PDFText) Download(ctx context.Context, url string) ([]byte, error) {
	profiles := []map[string]string{
		{
			"User-Agent":      p.userAgent,
			"Accept":          "application/pdf,application/octet-stream;q=0.9,*/*;q=0.8",
			"Accept-Language": "da,en-US;q=0.8,en;q=0.7",
			"Referer":         p.referer,
		},
		{
			"User-Agent":      p.userAgent,
			"Accept":          "*/*",
			"Accept-Language": "da,en-US;q=0.8,en;q=0.7",
		},
	}

	var lastErr error
	for _, headers := range profiles {
		data, err := p.downloadWith(ctx, url, headers)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to download PDF %s: %w", url, lastErr)
}

func (p *PDFText) downloadWith(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); strings.Contains(ct, "text/html") {
		return nil, fmt.Errorf("expected PDF bytes, got content-type=%s", ct)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxPDFDownload))
}

// Extract returns the normalized text of the first maxPages pages (all pages
// when maxPages <= 0).
func (p *PDFText) Extract(data []byte, maxPages int) (result *PDFTextResult, err error) {
	if len(data) == 0 {
		return nil, errors.New("empty PDF")
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
		return nil, errors.New("data is not a PDF")
	}

	// the parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	pages := reader.NumPage()
	limit := pages
	if maxPages > 0 && maxPages < limit {
		limit = maxPages
	}

	chunks := make([]string, 0, limit)
	for i := 1; i <= limit; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text != "" {
			chunks = append(chunks, text)
		}
	}

	return &PDFTextResult{
		Text:      NormalizeText(strings.Join(chunks, "\n\n")),
		PageCount: pages,
	}, nil
}

// ExtractFromURL downloads and extracts a PDF
func (p *PDFText) ExtractFromURL(ctx context.Context, url string, maxPages int) (*PDFTextResult, error) {
	data, err := p.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	return p.Extract(data, maxPages)
}

// NormalizeText drops NUL bytes, trims lines and removes blank lines
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Truncate cuts text to at most max runes
func Truncate(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
