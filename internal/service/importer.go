package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/model"
)

// RunPhase is the stage an ingestion run is in
type RunPhase string

const (
	PhaseStarted    RunPhase = "started"
	PhaseFetching   RunPhase = "fetching"
	PhaseFiltering  RunPhase = "filtering"
	PhaseResolving  RunPhase = "resolving-documents"
	PhasePersisting RunPhase = "persisting"
	PhaseFinished   RunPhase = "finished"
	PhaseFailed     RunPhase = "failed"
)

// ProposalSource lists bills from ODA
type ProposalSource interface {
	FetchProposalsSince(ctx context.Context, since *time.Time, maxRetries int) ([]map[string]any, error)
}

// DocumentResolver attaches PDF URLs to a Sag
type DocumentResolver interface {
	ResolveDocuments(ctx context.Context, sagID int, delay time.Duration, maxRetries int) (*model.DocumentResolution, error)
}

// RunRecorder persists ingestion run bookkeeping
type RunRecorder interface {
	LastWatermark(ctx context.Context) (*time.Time, error)
	CreateRun(ctx context.Context, startedAt time.Time, watermarkBefore *time.Time) (string, error)
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, fetched, updated int, watermarkAfter time.Time) error
	FailRun(ctx context.Context, runID string, finishedAt time.Time, message string) error
}

// ProposalWriter persists proposals and their classifications
type ProposalWriter interface {
	UpsertProposal(ctx context.Context, p *model.Proposal) error
	UpsertLabel(ctx context.Context, label *model.ProposalLabel) error
	UpsertPolicyAnalysis(ctx context.Context, proposalID int, analysis map[string]any, modelID, promptVersion string) error
}

// Classifier is the IT-relevance enrichment capability
type Classifier interface {
	ShouldEnrich(text string) bool
	Enrich(ctx context.Context, p *model.Proposal) (*model.ProposalLabel, error)
}

// PolicyRunner is the optional policy analysis capability
type PolicyRunner interface {
	Enabled() bool
	Analyze(ctx context.Context, p *model.Proposal) (map[string]any, error)
	ModelID() string
	PromptVersion() string
}

// IngestOptions are the knobs read from configuration
type IngestOptions struct {
	FetchPDFURLs    bool
	DocRequestDelay time.Duration
	MaxRetries      int
	OldBillCutoff   time.Time
	OnlyInProcess   bool
}

// ItemResult is the outcome of processing one relevant proposal
type ItemResult struct {
	ProposalID  int
	ResolveErr  error
	Upserted    bool
	Enriched    bool
	Analyzed    bool
	AnalysisErr error
	Err         error
}

// RunResult summarizes a finished ingestion run
type RunResult struct {
	RunID              string
	FetchedCount       int
	UpdatedCount       int
	EnrichedCount      int
	AnalyzedCount      int
	SkippedClosedCount int
	RelevantCount      int
	FailedCount        int
	DurationSeconds    float64
	Items              []ItemResult
}

// Ingester orchestrates incremental ingestion of ODA bills
type Ingester struct {
	source   ProposalSource
	resolver DocumentResolver
	runs     RunRecorder
	writer   ProposalWriter
	enricher Classifier
	policy   PolicyRunner
	opts     IngestOptions
	log      *logger.Logger
	now      func() time.Time
}

// NewIngester creates a new Ingester. policy may be nil.
func NewIngester(source ProposalSource, resolver DocumentResolver, runs RunRecorder, writer ProposalWriter,
	enricher Classifier, policy PolicyRunner, opts IngestOptions, log *logger.Logger) *Ingester {
	if log == nil {
		log = logger.Nop()
	}
	return &Ingester{
		source:   source,
		resolver: resolver,
		runs:     runs,
		writer:   writer,
		enricher: enricher,
		policy:   policy,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Run performs one ingestion pass. The watermark is read once at the start
// and advanced to the run's start time only when the whole pass succeeds.
// Per-proposal failures are counted, not returned.
func (in *Ingester) Run(ctx context.Context) (*RunResult, error) {
	start := in.now().UTC()

	watermark, err := in.runs.LastWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read last watermark: %w", err)
	}

	runID, err := in.runs.CreateRun(ctx, start, watermark)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion run: %w", err)
	}
	in.log.Info("ingestion run started", "run_id", runID, "watermark", watermark)

	phase := PhaseStarted
	result, err := in.execute(ctx, runID, start, watermark, &phase)
	if err != nil {
		failedIn := phase
		in.setPhase(runID, &phase, PhaseFailed)

		// the run record is still written when ctx was cancelled
		if ferr := in.runs.FailRun(context.WithoutCancel(ctx), runID, in.now().UTC(), err.Error()); ferr != nil {
			in.log.Error("failed to record ingestion failure", "run_id", runID, "error", ferr)
		}
		return nil, fmt.Errorf("ingestion failed during %s: %w", failedIn, err)
	}

	in.setPhase(runID, &phase, PhaseFinished)
	in.LogSummary(result)
	return result, nil
}

func (in *Ingester) execute(ctx context.Context, runID string, start time.Time, watermark *time.Time, phase *RunPhase) (*RunResult, error) {
	result := &RunResult{RunID: runID}

	in.setPhase(runID, phase, PhaseFetching)
	rows, err := in.source.FetchProposalsSince(ctx, watermark, in.opts.MaxRetries)
	if err != nil {
		return nil, err
	}
	result.FetchedCount = len(rows)

	in.setPhase(runID, phase, PhaseFiltering)
	proposals := make([]*model.Proposal, len(rows))
	for i, raw := range rows {
		proposals[i] = model.ProposalFromRaw(raw)
	}
	relevant, closed := PartitionClosed(proposals, in.opts.OldBillCutoff)
	result.SkippedClosedCount = closed
	result.RelevantCount = len(relevant)
	in.log.Info("ODA /Sag fetched", "fetched", result.FetchedCount, "relevant", len(relevant), "skipped_closed", closed)

	items := make([]ItemResult, len(relevant))
	for i, p := range relevant {
		items[i].ProposalID = p.ID
	}

	in.setPhase(runID, phase, PhaseResolving)
	if in.opts.FetchPDFURLs {
		for i, resolveErr := range in.attachDocuments(ctx, relevant) {
			items[i].ResolveErr = resolveErr
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	in.setPhase(runID, phase, PhasePersisting)
	for i, p := range relevant {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in.persist(ctx, p, &items[i])

		item := items[i]
		if item.Upserted {
			result.UpdatedCount++
		}
		if item.Enriched {
			result.EnrichedCount++
		}
		if item.Analyzed {
			result.AnalyzedCount++
		}
		if item.Err != nil {
			result.FailedCount++
			in.log.Error("error processing proposal", "proposal_id", p.ID, "error", item.Err)
		}
	}
	result.Items = items

	finishedAt := in.now().UTC()
	if err := in.runs.FinishRun(ctx, runID, finishedAt, result.FetchedCount, result.UpdatedCount, start); err != nil {
		return nil, fmt.Errorf("failed to update ingestion run: %w", err)
	}
	result.DurationSeconds = finishedAt.Sub(start).Seconds()

	return result, nil
}

// attachDocuments resolves PDFs for each proposal in turn. A failed
// resolution leaves that proposal with empty PDF fields.
func (in *Ingester) attachDocuments(ctx context.Context, proposals []*model.Proposal) []error {
	errs := make([]error, len(proposals))
	for i, p := range proposals {
		if ctx.Err() != nil {
			p.ClearDocuments()
			errs[i] = ctx.Err()
			continue
		}

		res, err := in.resolver.ResolveDocuments(ctx, p.ID, in.opts.DocRequestDelay, in.opts.MaxRetries)
		if err != nil {
			in.log.Warn("failed to fetch PDFs for Sag", "sag_id", p.ID, "error", err)
			p.ClearDocuments()
			errs[i] = err
			continue
		}
		p.AttachDocuments(res)
	}
	return errs
}

// persist upserts one proposal and runs its optional enrichment steps,
// recording the outcome on item.
func (in *Ingester) persist(ctx context.Context, p *model.Proposal, item *ItemResult) {
	if p.ID == 0 {
		item.Err = fmt.Errorf("proposal without id")
		return
	}

	if err := in.writer.UpsertProposal(ctx, p); err != nil {
		item.Err = fmt.Errorf("failed to upsert proposal: %w", err)
		return
	}
	item.Upserted = true

	if in.enricher != nil && in.enricher.ShouldEnrich(p.Text()) {
		in.log.Debug("enriching proposal", "proposal_id", p.ID)
		label, err := in.enricher.Enrich(ctx, p)
		if err != nil {
			item.Err = fmt.Errorf("failed to enrich proposal: %w", err)
			return
		}
		if label != nil {
			if err := in.writer.UpsertLabel(ctx, label); err != nil {
				item.Err = fmt.Errorf("failed to store label: %w", err)
				return
			}
			item.Enriched = true
		}
	}

	if in.policy != nil && in.policy.Enabled() {
		analysis, err := in.policy.Analyze(ctx, p)
		if err != nil {
			item.AnalysisErr = err
			in.log.Warn("policy analysis failed", "proposal_id", p.ID, "error", err)
			return
		}
		if err := in.writer.UpsertPolicyAnalysis(ctx, p.ID, analysis, in.policy.ModelID(), in.policy.PromptVersion()); err != nil {
			item.Err = fmt.Errorf("failed to store policy analysis: %w", err)
			return
		}
		item.Analyzed = true
	}
}

// FetchProposals lists bills updated after since without persisting
// anything. onlyRelevant drops closed bills and falls back to
// IngestOptions.OnlyInProcess when nil; includePDFs resolves documents.
func (in *Ingester) FetchProposals(ctx context.Context, since *time.Time, onlyRelevant *bool, includePDFs bool) ([]*model.Proposal, error) {
	rows, err := in.source.FetchProposalsSince(ctx, since, in.opts.MaxRetries)
	if err != nil {
		return nil, err
	}

	proposals := make([]*model.Proposal, len(rows))
	for i, raw := range rows {
		proposals[i] = model.ProposalFromRaw(raw)
	}
	filterClosed := in.opts.OnlyInProcess
	if onlyRelevant != nil {
		filterClosed = *onlyRelevant
	}
	if filterClosed {
		proposals, _ = PartitionClosed(proposals, in.opts.OldBillCutoff)
	}
	in.log.Info("fetched proposals from ODA API", "count", len(proposals))

	if includePDFs && in.opts.FetchPDFURLs {
		in.attachDocuments(ctx, proposals)
	}
	return proposals, nil
}

// FetchActiveBills returns every open bill with PDFs resolved
func (in *Ingester) FetchActiveBills(ctx context.Context) ([]*model.Proposal, error) {
	onlyRelevant := true
	return in.FetchProposals(ctx, nil, &onlyRelevant, true)
}

func (in *Ingester) setPhase(runID string, phase *RunPhase, next RunPhase) {
	in.log.Debug("ingestion phase", "run_id", runID, "from", string(*phase), "to", string(next))
	*phase = next
}

// LogSummary logs the run statistics
func (in *Ingester) LogSummary(r *RunResult) {
	in.log.Info("ingestion completed",
		"run_id", r.RunID,
		"fetched", r.FetchedCount,
		"relevant", r.RelevantCount,
		"skipped_closed", r.SkippedClosedCount,
		"updated", r.UpdatedCount,
		"enriched", r.EnrichedCount,
		"analyzed", r.AnalyzedCount,
		"failed", r.FailedCount,
		"duration_seconds", r.DurationSeconds,
	)
}
