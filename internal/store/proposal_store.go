package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/jjenkins/lovforslag/internal/config"
	"github.com/jjenkins/lovforslag/internal/model"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// proposalColumns selects a proposal with its label, if any
const proposalColumns = `
		SELECT p.id, p.periodeid, p.nummerprefix, p.nummernumerisk, p.nummer,
		       p.titel, p.resume, p.opdateringsdato, p.raw_json, p.created_at, p.updated_at,
		       l.it_relevant, l.it_topics, l.it_summary_da, l.why_it_relevant_da,
		       l.confidence, l.model, l.prompt_version, l.created_at
		FROM proposals p
		LEFT JOIN proposal_labels l ON l.proposal_id = p.id
`

// ProposalStore handles database operations for proposals and their
// labels, policy analyses and extracted PDF text
type ProposalStore struct {
	db *sql.DB
}

// NewProposalStore creates a new ProposalStore
func NewProposalStore(db *sql.DB) *ProposalStore {
	return &ProposalStore{db: db}
}

// UpsertProposal inserts or updates a proposal keyed by its ODA id
func (s *ProposalStore) UpsertProposal(ctx context.Context, p *model.Proposal) error {
	var updated sql.NullTime
	if p.LastUpdated != "" {
		t, err := config.ParseTimestamp(p.LastUpdated)
		if err != nil {
			return fmt.Errorf("invalid opdateringsdato for proposal %d: %w", p.ID, err)
		}
		updated = sql.NullTime{Time: t, Valid: true}
	}

	raw, err := json.Marshal(p.Raw)
	if err != nil {
		return fmt.Errorf("failed to encode raw_json for proposal %d: %w", p.ID, err)
	}

	query := `
		INSERT INTO proposals (id, periodeid, nummerprefix, nummernumerisk, nummer,
		                       titel, resume, opdateringsdato, raw_json, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			periodeid = EXCLUDED.periodeid,
			nummerprefix = EXCLUDED.nummerprefix,
			nummernumerisk = EXCLUDED.nummernumerisk,
			nummer = EXCLUDED.nummer,
			titel = EXCLUDED.titel,
			resume = EXCLUDED.resume,
			opdateringsdato = EXCLUDED.opdateringsdato,
			raw_json = EXCLUDED.raw_json,
			updated_at = NOW()
	`

	_, err = s.db.ExecContext(ctx, query,
		p.ID,
		nullInt(p.PeriodID),
		p.NumberPrefix,
		p.NumberNumeric,
		p.Number,
		p.Title,
		nullString(p.Summary),
		updated,
		raw,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert proposal %d: %w", p.ID, err)
	}

	return nil
}

// GetProposal retrieves a proposal with its label
func (s *ProposalStore) GetProposal(ctx context.Context, id int) (*model.ProposalRecord, error) {
	query := proposalColumns + `
		WHERE p.id = $1
	`

	rec, err := scanProposal(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal %d: %w", id, err)
	}

	return rec, nil
}

// ListProposals retrieves a page of proposals matching the filter
func (s *ProposalStore) ListProposals(ctx context.Context, f model.ProposalFilter) ([]*model.ProposalRecord, error) {
	query, args := buildListQuery(f)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	records := []*model.ProposalRecord{}
	for rows.Next() {
		rec, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func buildListQuery(f model.ProposalFilter) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.NumberPrefix != "" {
		where = append(where, "p.nummerprefix = "+arg(f.NumberPrefix))
	}

	q := strings.TrimSpace(f.Query)
	idLookup := false
	if q != "" {
		if id, err := strconv.Atoi(q); err == nil && isDigits(q) {
			idLookup = true
			where = append(where, "p.id = "+arg(id))
		} else {
			like := arg("%" + q + "%")
			where = append(where, fmt.Sprintf("(p.titel ILIKE %s OR p.nummer ILIKE %s OR p.resume ILIKE %s)", like, like, like))
		}
	}

	// an exact id lookup ignores label filters so unlabelled rows still match
	if !idLookup {
		if f.ITRelevant != nil {
			where = append(where, "l.it_relevant = "+arg(*f.ITRelevant))
		}
		if f.Topic != "" {
			where = append(where, arg(strings.ToLower(f.Topic))+" = ANY(l.it_topics)")
		}
	}

	query := proposalColumns
	if len(where) > 0 {
		query += "\t\tWHERE " + strings.Join(where, " AND ") + "\n"
	}
	if f.OrderByID {
		query += "\t\tORDER BY p.id ASC\n"
	} else {
		query += "\t\tORDER BY p.opdateringsdato DESC NULLS LAST, p.id DESC\n"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf("\t\tLIMIT %s OFFSET %s\n", arg(limit), arg(offset))

	return query, args
}

// PatchProposalRaw replaces only raw_json of an existing proposal
func (s *ProposalStore) PatchProposalRaw(ctx context.Context, id int, raw map[string]any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode raw_json for proposal %d: %w", id, err)
	}

	query := `
		UPDATE proposals
		SET raw_json = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, data)
	if err != nil {
		return fmt.Errorf("failed to patch proposal %d: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to patch proposal %d: not found", id)
	}

	return nil
}

// UpsertLabel inserts or replaces the IT-relevance label of a proposal
func (s *ProposalStore) UpsertLabel(ctx context.Context, label *model.ProposalLabel) error {
	topics := label.ITTopics
	if topics == nil {
		topics = []string{}
	}

	query := `
		INSERT INTO proposal_labels (proposal_id, it_relevant, it_topics, it_summary_da,
		                             why_it_relevant_da, confidence, model, prompt_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (proposal_id) DO UPDATE SET
			it_relevant = EXCLUDED.it_relevant,
			it_topics = EXCLUDED.it_topics,
			it_summary_da = EXCLUDED.it_summary_da,
			why_it_relevant_da = EXCLUDED.why_it_relevant_da,
			confidence = EXCLUDED.confidence,
			model = EXCLUDED.model,
			prompt_version = EXCLUDED.prompt_version,
			created_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		label.ProposalID,
		label.ITRelevant,
		pq.Array(topics),
		nullString(label.ITSummaryDA),
		nullString(label.WhyITRelevantDA),
		label.Confidence,
		label.Model,
		label.PromptVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert label for proposal %d: %w", label.ProposalID, err)
	}

	return nil
}

// UpsertPolicyAnalysis inserts or replaces the policy analysis of a proposal
func (s *ProposalStore) UpsertPolicyAnalysis(ctx context.Context, proposalID int, analysis map[string]any, modelID, promptVersion string) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode policy analysis for proposal %d: %w", proposalID, err)
	}

	query := `
		INSERT INTO proposal_policy_analyses (proposal_id, analysis, model, prompt_version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (proposal_id) DO UPDATE SET
			analysis = EXCLUDED.analysis,
			model = EXCLUDED.model,
			prompt_version = EXCLUDED.prompt_version,
			created_at = NOW()
	`

	_, err = s.db.ExecContext(ctx, query, proposalID, data, modelID, promptVersion)
	if err != nil {
		return fmt.Errorf("failed to upsert policy analysis for proposal %d: %w", proposalID, err)
	}

	return nil
}

// GetPolicyAnalysis retrieves the policy analysis of a proposal
func (s *ProposalStore) GetPolicyAnalysis(ctx context.Context, proposalID int) (*model.PolicyAnalysis, error) {
	query := `
		SELECT proposal_id, analysis, model, prompt_version, created_at
		FROM proposal_policy_analyses
		WHERE proposal_id = $1
	`

	var a model.PolicyAnalysis
	var analysis []byte
	err := s.db.QueryRowContext(ctx, query, proposalID).Scan(
		&a.ProposalID,
		&analysis,
		&a.Model,
		&a.PromptVersion,
		&a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy analysis for proposal %d: %w", proposalID, err)
	}
	a.Analysis = json.RawMessage(analysis)

	return &a, nil
}

// SavePDFText inserts or replaces the extracted PDF text of a proposal
func (s *ProposalStore) SavePDFText(ctx context.Context, t *model.ProposalPDFText) error {
	query := `
		INSERT INTO proposal_pdf_texts (proposal_id, source_url, file_name, extracted_text, page_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (proposal_id) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			file_name = EXCLUDED.file_name,
			extracted_text = EXCLUDED.extracted_text,
			page_count = EXCLUDED.page_count,
			created_at = NOW()
		RETURNING created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		t.ProposalID,
		nullString(t.SourceURL),
		nullString(t.FileName),
		t.ExtractedText,
		t.PageCount,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save PDF text for proposal %d: %w", t.ProposalID, err)
	}

	return nil
}

// GetPDFText retrieves the extracted PDF text of a proposal
func (s *ProposalStore) GetPDFText(ctx context.Context, proposalID int) (*model.ProposalPDFText, error) {
	query := `
		SELECT proposal_id, source_url, file_name, extracted_text, page_count, created_at
		FROM proposal_pdf_texts
		WHERE proposal_id = $1
	`

	var t model.ProposalPDFText
	var sourceURL, fileName sql.NullString
	err := s.db.QueryRowContext(ctx, query, proposalID).Scan(
		&t.ProposalID,
		&sourceURL,
		&fileName,
		&t.ExtractedText,
		&t.PageCount,
		&t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get PDF text for proposal %d: %w", proposalID, err)
	}
	t.SourceURL = stringPtr(sourceURL)
	t.FileName = stringPtr(fileName)

	return &t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProposal(row scanner) (*model.ProposalRecord, error) {
	var (
		rec        model.ProposalRecord
		periodID   sql.NullInt64
		summary    sql.NullString
		updated    sql.NullTime
		raw        []byte
		relevant   sql.NullBool
		topics     []string
		itSummary  sql.NullString
		why        sql.NullString
		confidence sql.NullFloat64
		labelModel sql.NullString
		prompt     sql.NullString
		labelledAt sql.NullTime
	)

	err := row.Scan(
		&rec.ID,
		&periodID,
		&rec.NumberPrefix,
		&rec.NumberNumeric,
		&rec.Number,
		&rec.Title,
		&summary,
		&updated,
		&raw,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&relevant,
		pq.Array(&topics),
		&itSummary,
		&why,
		&confidence,
		&labelModel,
		&prompt,
		&labelledAt,
	)
	if err != nil {
		return nil, err
	}

	if periodID.Valid {
		v := int(periodID.Int64)
		rec.PeriodID = &v
	}
	rec.Summary = stringPtr(summary)
	if updated.Valid {
		rec.LastUpdated = updated.Time
	}
	rec.Raw = json.RawMessage(raw)

	if relevant.Valid {
		if topics == nil {
			topics = []string{}
		}
		rec.Label = &model.ProposalLabel{
			ProposalID:      rec.ID,
			ITRelevant:      relevant.Bool,
			ITTopics:        topics,
			ITSummaryDA:     stringPtr(itSummary),
			WhyITRelevantDA: stringPtr(why),
			Confidence:      confidence.Float64,
			Model:           labelModel.String,
			PromptVersion:   prompt.String,
			CreatedAt:       labelledAt.Time,
		}
	}

	return &rec, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
