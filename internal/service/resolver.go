package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/model"
)

// Dokument.typeid / Dokument.kategoriid values that mark the actual law text
const (
	MainDocumentTypeID     = 21
	MainDocumentCategoryID = 31
	PrimaryVariantCode     = "P"
)

// Field names known to carry a Fil URL, in order of preference
var fileURLKeys = []string{"url", "filurl", "downloadurl", "link"}

// DocumentSource is the part of the ODA client the resolver walks
type DocumentSource interface {
	FetchCaseDocumentLinks(ctx context.Context, sagID, maxRetries int) ([]map[string]any, error)
	FetchDocumentWithFiles(ctx context.Context, documentID, maxRetries int) (map[string]any, error)
	FetchFilesForDocument(ctx context.Context, documentID, maxRetries int) ([]map[string]any, error)
}

// Resolver follows Sag -> SagDokument -> Dokument(+Fil) -> Fil to find PDF URLs
type Resolver struct {
	source DocumentSource
	log    *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewResolver creates a Resolver reading from source
func NewResolver(source DocumentSource, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{source: source, log: log, sleep: sleepContext}
}

type skipReason string

const (
	skipInvalidDocumentID skipReason = "dokumentid is not an integer"
	skipDocumentNotFound  skipReason = "dokument not found"
)

// docOutcome is what one SagDokument row produced. Skipped rows carry only a
// reason; inspected rows always land in the debug trail.
type docOutcome struct {
	skipped   skipReason
	debug     model.DocumentDebug
	urls      []string
	candidate bool
	key       selectionKey
}

// selectionKey orders main-document candidates: dated before undated,
// earlier release date first, then listing order.
type selectionKey struct {
	undated     int
	releaseDate string
	index       int
}

func (k selectionKey) less(o selectionKey) bool {
	if k.undated != o.undated {
		return k.undated < o.undated
	}
	if k.releaseDate != o.releaseDate {
		return k.releaseDate < o.releaseDate
	}
	return k.index < o.index
}

// ResolveDocuments finds the main PDF and all PDF URLs for a Sag. Missing or
// malformed upstream data never fails the call; only fetch errors do.
func (r *Resolver) ResolveDocuments(ctx context.Context, sagID int, delay time.Duration, maxRetries int) (*model.DocumentResolution, error) {
	if sagID <= 0 {
		return emptyResolution(nil), nil
	}

	if delay > 0 {
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	links, err := r.source.FetchCaseDocumentLinks(ctx, sagID, maxRetries)
	if err != nil {
		return nil, err
	}

	outcomes := make([]docOutcome, 0, len(links))
	for idx, row := range links {
		outcome, err := r.inspect(ctx, idx, row, maxRetries)
		if err != nil {
			return nil, err
		}
		if outcome.skipped != "" {
			r.log.Debug("skipping SagDokument row", "sag_id", sagID, "index", idx, "reason", string(outcome.skipped))
		}
		outcomes = append(outcomes, outcome)
	}

	return selectMainDocument(sagID, outcomes), nil
}

// inspect resolves one SagDokument row into an outcome
func (r *Resolver) inspect(ctx context.Context, idx int, row map[string]any, maxRetries int) (docOutcome, error) {
	link := model.CaseDocumentLinkFromRaw(row)

	documentID, ok := model.CoerceInt(link.DocumentID)
	if !ok {
		return docOutcome{skipped: skipInvalidDocumentID}, nil
	}

	doc, err := r.source.FetchDocumentWithFiles(ctx, documentID, maxRetries)
	if isNotFound(err) {
		return docOutcome{skipped: skipDocumentNotFound}, nil
	}
	if err != nil {
		return docOutcome{}, err
	}
	if doc == nil {
		return docOutcome{skipped: skipDocumentNotFound}, nil
	}

	isMain := isMainDocument(doc)
	urls := ExtractPDFURLs(doc)

	if len(urls) == 0 {
		files, err := r.source.FetchFilesForDocument(ctx, documentID, maxRetries)
		if err != nil && !isNotFound(err) {
			return docOutcome{}, err
		}
		if len(files) > 0 {
			urls = ExtractPDFURLs(withExtraFiles(doc, files))
		}
	}

	debugID := doc["id"]
	if debugID == nil {
		debugID = documentID
	}

	outcome := docOutcome{
		debug: model.DocumentDebug{
			DocumentID:      debugID,
			TypeID:          doc["typeid"],
			CategoryID:      doc["kategoriid"],
			Title:           doc["titel"],
			ReleaseDate:     row["frigivelsesdato"],
			IsMainCandidate: isMain,
			PDFURLs:         urls,
		},
		urls:      urls,
		candidate: isMain && len(urls) > 0,
	}
	if outcome.candidate {
		undated := 1
		if link.ReleaseDate != "" {
			undated = 0
		}
		outcome.key = selectionKey{undated: undated, releaseDate: link.ReleaseDate, index: idx}
	}

	return outcome, nil
}

// selectMainDocument folds the outcomes: the lowest-keyed candidate wins, and
// when there is none the first inspected document with any URLs is used.
func selectMainDocument(sagID int, outcomes []docOutcome) *model.DocumentResolution {
	res := emptyResolution(&sagID)

	var best *docOutcome
	for i := range outcomes {
		o := &outcomes[i]
		if o.skipped != "" {
			continue
		}
		res.Documents = append(res.Documents, o.debug)
		if !o.candidate {
			continue
		}
		if best == nil || o.key.less(best.key) {
			best = o
		}
	}

	if best != nil {
		res.PDFURLs = best.urls
	} else {
		// No release-date ordering here; the first document with URLs wins.
		for _, doc := range res.Documents {
			if urls := nonEmpty(doc.PDFURLs); len(urls) > 0 {
				res.PDFURLs = urls
				break
			}
		}
	}

	if len(res.PDFURLs) > 0 {
		main := res.PDFURLs[0]
		res.MainPDFURL = &main
	}

	return res
}

func emptyResolution(sagID *int) *model.DocumentResolution {
	return &model.DocumentResolution{
		SagID:     sagID,
		PDFURLs:   []string{},
		Documents: []model.DocumentDebug{},
	}
}

// isMainDocument applies the typeid/kategoriid heuristic for the law text
func isMainDocument(doc map[string]any) bool {
	if typeID, ok := model.CoerceInt(doc["typeid"]); ok && typeID == MainDocumentTypeID {
		return true
	}
	if categoryID, ok := model.CoerceInt(doc["kategoriid"]); ok && categoryID == MainDocumentCategoryID {
		return true
	}
	return false
}

// ExtractPDFURLs returns the de-duplicated PDF URLs of a Dokument's files,
// restricted to the primary variant when one exists.
func ExtractPDFURLs(doc map[string]any) []string {
	var pdfFiles []map[string]any
	for _, f := range documentFiles(doc) {
		if format, ok := f["format"].(string); ok && strings.EqualFold(strings.TrimSpace(format), "PDF") {
			pdfFiles = append(pdfFiles, f)
		}
	}
	if len(pdfFiles) == 0 {
		return []string{}
	}

	var primary []map[string]any
	for _, f := range pdfFiles {
		if strings.EqualFold(variantCode(f), PrimaryVariantCode) {
			primary = append(primary, f)
		}
	}
	chosen := pdfFiles
	if len(primary) > 0 {
		chosen = primary
	}

	urls := make([]string, 0, len(chosen))
	for _, f := range chosen {
		if u := ExtractFileURL(f); u != "" {
			urls = append(urls, u)
		}
	}
	return dedupe(urls)
}

// ExtractFileURL checks the known URL field names, then any field whose name
// contains "url". Keys in the fallback scan are visited in sorted order.
func ExtractFileURL(file map[string]any) string {
	for _, key := range fileURLKeys {
		if s, ok := file[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}

	keys := make([]string, 0, len(file))
	for k := range file {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !strings.Contains(strings.ToLower(k), "url") {
			continue
		}
		if s, ok := file[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func documentFiles(doc map[string]any) []map[string]any {
	for _, key := range []string{"Fil", "fil"} {
		if list, ok := doc[key].([]any); ok && len(list) > 0 {
			return objectRows(list)
		}
		if list, ok := doc[key].([]map[string]any); ok && len(list) > 0 {
			return list
		}
	}
	return nil
}

// withExtraFiles returns a shallow copy of doc with files appended to its Fil list
func withExtraFiles(doc map[string]any, files []map[string]any) map[string]any {
	merged := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		merged[k] = v
	}
	combined := append([]map[string]any{}, documentFiles(doc)...)
	combined = append(combined, files...)
	delete(merged, "fil")
	merged["Fil"] = combined
	return merged
}

func variantCode(file map[string]any) string {
	switch v := file["variantkode"].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func isNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
