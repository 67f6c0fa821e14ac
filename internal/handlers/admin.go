package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jjenkins/lovforslag/internal/logger"
	"github.com/jjenkins/lovforslag/internal/model"
	"github.com/jjenkins/lovforslag/internal/service"
)

const (
	uploadMaxPages  = 25
	pdfTextMaxChars = 200000
	truncatedMarker = "\n\n[... afkortet ...]"
)

// AdminStore is what the admin endpoints read and write
type AdminStore interface {
	GetProposal(ctx context.Context, id int) (*model.ProposalRecord, error)
	SavePDFText(ctx context.Context, t *model.ProposalPDFText) error
	GetPolicyAnalysis(ctx context.Context, proposalID int) (*model.PolicyAnalysis, error)
	UpsertPolicyAnalysis(ctx context.Context, proposalID int, analysis map[string]any, modelID, promptVersion string) error
}

// PDFExtractor turns PDF bytes into text
type PDFExtractor interface {
	Extract(data []byte, maxPages int) (*service.PDFTextResult, error)
}

// PDFTextUploadHandler accepts a PDF uploaded from the browser, which can
// reach ft.dk when the server is blocked, stores its text and optionally
// runs policy analysis on it. analyzer may be nil.
func PDFTextUploadHandler(st AdminStore, extractor PDFExtractor, analyzer service.PolicyRunner, maxBytes int64, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		id, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid proposal id")
		}

		header, err := c.FormFile("file")
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, "missing file")
		}
		if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
			return jsonError(c, fiber.StatusBadRequest, "only .pdf files are supported")
		}
		if maxBytes > 0 && header.Size > maxBytes {
			return jsonError(c, fiber.StatusRequestEntityTooLarge, fmt.Sprintf("PDF too large (max %dMB)", maxBytes/(1024*1024)))
		}

		rec, err := st.GetProposal(ctx, id)
		if err != nil {
			log.Error("error loading proposal", "proposal_id", id, "error", err)
			return jsonError(c, fiber.StatusInternalServerError, "failed to fetch proposal")
		}
		if rec == nil {
			return jsonError(c, fiber.StatusNotFound, "proposal not found")
		}

		f, err := header.Open()
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, "failed to read upload")
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, "failed to read upload")
		}

		extracted, err := extractor.Extract(data, uploadMaxPages)
		if err == nil && strings.TrimSpace(extracted.Text) == "" {
			err = errors.New("no extractable text found (scanned PDF?)")
		}
		if err != nil {
			log.Warn("failed to extract uploaded PDF", "proposal_id", id, "error", err)
			return jsonError(c, fiber.StatusUnprocessableEntity, "failed to extract PDF text: "+err.Error())
		}

		text := extracted.Text
		if len([]rune(text)) > pdfTextMaxChars {
			text = service.Truncate(text, pdfTextMaxChars) + truncatedMarker
		}

		pdfText := &model.ProposalPDFText{
			ProposalID:    id,
			SourceURL:     optionalForm(c.FormValue("source_url")),
			FileName:      optionalForm(header.Filename),
			ExtractedText: text,
			PageCount:     extracted.PageCount,
		}
		if err := st.SavePDFText(ctx, pdfText); err != nil {
			log.Error("error saving PDF text", "proposal_id", id, "error", err)
			return jsonError(c, fiber.StatusInternalServerError, "failed to store PDF text")
		}

		response := fiber.Map{"proposal_id": id, "pdfText": pdfText, "policy": nil, "policyError": nil}

		runAnalysis := true
		if v := c.FormValue("run_policy_analysis"); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				runAnalysis = parsed
			}
		}
		if runAnalysis && analyzer != nil && analyzer.Enabled() {
			row, err := runPolicyAnalysis(ctx, st, analyzer, rec)
			if err != nil {
				log.Warn("policy analysis after upload failed", "proposal_id", id, "error", err)
				response["policyError"] = "policy analysis failed (see backend logs for details)"
			} else {
				response["policy"] = row
			}
		}

		return c.JSON(response)
	}
}

// PolicyAnalysisHandler re-runs policy analysis for one proposal
func PolicyAnalysisHandler(st AdminStore, analyzer service.PolicyRunner, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		if analyzer == nil || !analyzer.Enabled() {
			return jsonError(c, fiber.StatusBadRequest, "ENRICH_POLICY_ANALYSIS is not enabled")
		}

		id, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid proposal id")
		}

		rec, err := st.GetProposal(ctx, id)
		if err != nil {
			log.Error("error loading proposal", "proposal_id", id, "error", err)
			return jsonError(c, fiber.StatusInternalServerError, "failed to fetch proposal")
		}
		if rec == nil {
			return jsonError(c, fiber.StatusNotFound, "proposal not found")
		}

		row, err := runPolicyAnalysis(ctx, st, analyzer, rec)
		if err != nil {
			log.Error("policy analysis failed", "proposal_id", id, "error", err)
			return jsonError(c, fiber.StatusBadGateway, "policy analysis failed (see backend logs)")
		}

		return c.JSON(fiber.Map{"proposal_id": id, "policy": row})
	}
}

func runPolicyAnalysis(ctx context.Context, st AdminStore, analyzer service.PolicyRunner, rec *model.ProposalRecord) (*model.PolicyAnalysis, error) {
	analysis, err := analyzer.Analyze(ctx, rec.Proposal())
	if err != nil {
		return nil, err
	}
	if err := st.UpsertPolicyAnalysis(ctx, rec.ID, analysis, analyzer.ModelID(), analyzer.PromptVersion()); err != nil {
		return nil, err
	}
	return st.GetPolicyAnalysis(ctx, rec.ID)
}

func optionalForm(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
