package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/model"
)

const DefaultBackfillPageSize = 100

// BackfillStore is the slice of the proposal store the backfills need
type BackfillStore interface {
	ListProposals(ctx context.Context, f model.ProposalFilter) ([]*model.ProposalRecord, error)
	GetProposal(ctx context.Context, id int) (*model.ProposalRecord, error)
	PatchProposalRaw(ctx context.Context, id int, raw map[string]any) error
}

// PolicyStore reads and writes stored policy analyses
type PolicyStore interface {
	GetPolicyAnalysis(ctx context.Context, proposalID int) (*model.PolicyAnalysis, error)
	UpsertPolicyAnalysis(ctx context.Context, proposalID int, analysis map[string]any, modelID, promptVersion string) error
}

// BackfillOptions controls a paged backfill. MaxRows caps the rows looked
// at; 0 means no cap.
type BackfillOptions struct {
	PageSize        int
	Offset          int
	MaxRows         int
	OnlyMissing     bool
	DocRequestDelay time.Duration
	MaxRetries      int
}

// BackfillStats tracks a backfill's progress
type BackfillStats struct {
	Processed int
	Updated   int
	Skipped   int
	Failed    int
}

// BackfillOneResult describes a single-proposal backfill
type BackfillOneResult struct {
	ProposalID    int
	BeforeMainURL *string
	BeforeCount   int
	Resolution    *model.DocumentResolution
	Skipped       bool
	Updated       bool
}

// Backfiller adds PDF URLs or policy analyses to proposals already stored
type Backfiller struct {
	store    BackfillStore
	resolver DocumentResolver
	log      *logger.Logger
}

// NewBackfiller creates a new Backfiller
func NewBackfiller(store BackfillStore, resolver DocumentResolver, log *logger.Logger) *Backfiller {
	if log == nil {
		log = logger.Nop()
	}
	return &Backfiller{store: store, resolver: resolver, log: log}
}

// BackfillPDFURLs pages through stored proposals and patches raw_json with
// resolved PDF URLs. Only raw_json is written, so no full upstream payload is
// needed.
func (b *Backfiller) BackfillPDFURLs(ctx context.Context, opts BackfillOptions) (*BackfillStats, error) {
	stats := &BackfillStats{}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultBackfillPageSize
	}
	offset := opts.Offset

	for {
		if opts.MaxRows > 0 && stats.Processed >= opts.MaxRows {
			break
		}

		page, err := b.store.ListProposals(ctx, model.ProposalFilter{Limit: pageSize, Offset: offset, OrderByID: true})
		if err != nil {
			return stats, fmt.Errorf("failed to list proposals at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}

		for _, rec := range page {
			if opts.MaxRows > 0 && stats.Processed >= opts.MaxRows {
				break
			}
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Processed++

			raw := rec.RawMap()
			if rec.ID == 0 {
				stats.Skipped++
				continue
			}
			if opts.OnlyMissing && model.HasPDFURLs(raw) {
				stats.Skipped++
				continue
			}

			if err := b.patchDocuments(ctx, rec.ID, raw, opts.DocRequestDelay, opts.MaxRetries); err != nil {
				stats.Failed++
				b.log.Warn("failed to backfill PDFs for proposal", "proposal_id", rec.ID, "error", err)
				continue
			}
			stats.Updated++
		}

		offset += pageSize
	}

	b.log.Info("PDF backfill completed",
		"processed", stats.Processed,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return stats, nil
}

// BackfillOne resolves PDFs for a single stored proposal. Without force a
// proposal that already has pdfUrls is left alone; dryRun resolves without
// writing.
func (b *Backfiller) BackfillOne(ctx context.Context, id int, force, dryRun bool, delay time.Duration, maxRetries int) (*BackfillOneResult, error) {
	rec, err := b.store.GetProposal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load proposal %d: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("proposal not found: %d", id)
	}

	raw := rec.RawMap()
	result := &BackfillOneResult{ProposalID: id}
	if url, ok := raw["mainPdfUrl"].(string); ok {
		result.BeforeMainURL = &url
	}
	if urls, ok := raw["pdfUrls"].([]any); ok {
		result.BeforeCount = len(urls)
	}

	if !force && model.HasPDFURLs(raw) {
		result.Skipped = true
		return result, nil
	}

	res, err := b.resolver.ResolveDocuments(ctx, id, delay, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve documents for %d: %w", id, err)
	}
	result.Resolution = res

	if dryRun {
		return result, nil
	}

	if err := b.store.PatchProposalRaw(ctx, id, withDocuments(raw, res)); err != nil {
		return nil, err
	}
	result.Updated = true
	return result, nil
}

func (b *Backfiller) patchDocuments(ctx context.Context, id int, raw map[string]any, delay time.Duration, maxRetries int) error {
	res, err := b.resolver.ResolveDocuments(ctx, id, delay, maxRetries)
	if err != nil {
		return err
	}
	return b.store.PatchProposalRaw(ctx, id, withDocuments(raw, res))
}

// BackfillPolicyAnalyses runs policy analysis for stored proposals, skipping
// those that already have one unless rewrite is set.
func (b *Backfiller) BackfillPolicyAnalyses(ctx context.Context, analyzer PolicyRunner, analyses PolicyStore, opts BackfillOptions, rewrite bool) (*BackfillStats, error) {
	if analyzer == nil || !analyzer.Enabled() {
		return nil, fmt.Errorf("policy analysis is disabled (set ENRICH_POLICY_ANALYSIS)")
	}

	stats := &BackfillStats{}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultBackfillPageSize
	}
	offset := opts.Offset

	for opts.MaxRows <= 0 || stats.Processed < opts.MaxRows {
		page, err := b.store.ListProposals(ctx, model.ProposalFilter{Limit: pageSize, Offset: offset, OrderByID: true})
		if err != nil {
			return stats, fmt.Errorf("failed to list proposals at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}

		for _, rec := range page {
			if opts.MaxRows > 0 && stats.Processed >= opts.MaxRows {
				break
			}
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Processed++

			if !rewrite {
				existing, err := analyses.GetPolicyAnalysis(ctx, rec.ID)
				if err != nil {
					stats.Failed++
					b.log.Warn("failed to check existing policy analysis", "proposal_id", rec.ID, "error", err)
					continue
				}
				if existing != nil {
					stats.Skipped++
					continue
				}
			}

			analysis, err := analyzer.Analyze(ctx, rec.Proposal())
			if err != nil {
				stats.Skipped++
				b.log.Warn("policy analysis failed", "proposal_id", rec.ID, "error", err)
				continue
			}
			if err := analyses.UpsertPolicyAnalysis(ctx, rec.ID, analysis, analyzer.ModelID(), analyzer.PromptVersion()); err != nil {
				stats.Failed++
				b.log.Error("failed to store policy analysis", "proposal_id", rec.ID, "error", err)
				continue
			}
			stats.Updated++
			b.log.Info("updated policy analysis", "proposal_id", rec.ID)
		}

		offset += pageSize
	}

	return stats, nil
}

// withDocuments writes a resolution into a raw payload
func withDocuments(raw map[string]any, res *model.DocumentResolution) map[string]any {
	if raw == nil {
		raw = map[string]any{}
	}
	if res.MainPDFURL != nil {
		raw["mainPdfUrl"] = *res.MainPDFURL
	} else {
		raw["mainPdfUrl"] = nil
	}
	urls := res.PDFURLs
	if urls == nil {
		urls = []string{}
	}
	raw["pdfUrls"] = urls
	docs := res.Documents
	if docs == nil {
		docs = []model.DocumentDebug{}
	}
	raw["pdfDocuments"] = docs
	return raw
}
