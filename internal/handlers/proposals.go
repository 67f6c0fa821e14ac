package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/model"
	"github.com/jjenkins/lovforslag/internal/store"
)

// ProposalReader is the read side of the proposal store
type ProposalReader interface {
	ListProposals(ctx context.Context, f model.ProposalFilter) ([]*model.ProposalRecord, error)
	GetProposal(ctx context.Context, id int) (*model.ProposalRecord, error)
	GetPolicyAnalysis(ctx context.Context, proposalID int) (*model.PolicyAnalysis, error)
	GetPDFText(ctx context.Context, proposalID int) (*model.ProposalPDFText, error)
}

type proposalResponse struct {
	*model.ProposalRecord
	MainPDFURL *string  `json:"mainPdfUrl"`
	PDFURLs    []string `json:"pdfUrls"`
}

func newProposalResponse(rec *model.ProposalRecord) proposalResponse {
	p := rec.Proposal()
	urls := p.PDFURLs
	if urls == nil {
		urls = []string{}
	}
	return proposalResponse{ProposalRecord: rec, MainPDFURL: p.MainPDFURL, PDFURLs: urls}
}

func ProposalsHandler(proposals ProposalReader, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		filter, err := parseProposalFilter(c)
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, err.Error())
		}

		records, err := proposals.ListProposals(ctx, filter)
		if err != nil {
			log.Error("error listing proposals", "error", err)
			return jsonError(c, fiber.StatusInternalServerError, "failed to fetch proposals")
		}

		out := make([]proposalResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, newProposalResponse(rec))
		}

		return c.JSON(out)
	}
}

func parseProposalFilter(c *fiber.Ctx) (model.ProposalFilter, error) {
	filter := model.ProposalFilter{Limit: store.DefaultListLimit}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > store.MaxListLimit {
			return filter, fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(store.MaxListLimit))
		}
		filter.Limit = limit
	}

	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, fiber.NewError(fiber.StatusBadRequest, "offset must be a non-negative integer")
		}
		filter.Offset = offset
	}

	if v := strings.ToUpper(strings.TrimSpace(c.Query("type"))); v != "" {
		if v != model.PrefixLaw && v != model.PrefixResolution {
			return filter, fiber.NewError(fiber.StatusBadRequest, "type must be L or B")
		}
		filter.NumberPrefix = v
	}

	if v := c.Query("it_relevant"); v != "" {
		relevant, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fiber.NewError(fiber.StatusBadRequest, "it_relevant must be true or false")
		}
		filter.ITRelevant = &relevant
	}

	filter.Query = strings.TrimSpace(c.Query("q"))
	filter.Topic = strings.TrimSpace(c.Query("topic"))

	return filter, nil
}

func ProposalDetailHandler(proposals ProposalReader, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		id, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid proposal id")
		}

		rec, err := proposals.GetProposal(ctx, id)
		if err != nil {
			log.Error("error loading proposal", "proposal_id", id, "error", err)
			return jsonError(c, fiber.StatusInternalServerError, "failed to fetch proposal")
		}
		if rec == nil {
			return jsonError(c, fiber.StatusNotFound, "proposal not found")
		}

		analysis, err := proposals.GetPolicyAnalysis(ctx, id)
		if err != nil {
			log.Error("error loading policy analysis", "proposal_id", id, "error", err)
			return jsonError(c, fiber.StatusInternalServerError, "failed to fetch proposal")
		}
		rec.PolicyAnalysis = analysis

		text, err := proposals.GetPDFText(ctx, id)
		if err != nil {
			log.Error("error loading PDF text", "proposal_id", id, "error", err)
			return jsonError(c, fiber.StatusInternalServerError, "failed to fetch proposal")
		}
		rec.PDFText = text

		return c.JSON(newProposalResponse(rec))
	}
}
