package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gradintel/tuition-cli/internal/model"
	"github.com/gradintel/tuition-cli/internal/resilience"
	"github.com/gradintel/tuition-cli/pkg/gemini"
)

// extractionPrompt instructs the grounded model to research one program and
// return a single JSON object. %s placeholders: school, program, academic
// year hint, optional refinement block.
const extractionPrompt = `You are a tuition research assistant. Using web search, find the CURRENT graduate tuition for this program:

School: %s
Program: %s

Prefer the school's official website (.edu domains). Focus on the %s academic year.
%s
Respond with ONLY a JSON object, no prose before or after:
{
  "tuition_amount": <total program or annual tuition in USD, number or null>,
  "cost_per_credit": <USD per credit hour, number or null>,
  "total_credits": <credits to complete the program, number or null>,
  "program_length": "<e.g. 2 years, 18 months, or empty string>",
  "academic_year": "<e.g. 2026-2027, or empty string>",
  "tuition_period": "<total | annual | per_semester | per_credit, or empty string>",
  "is_stem": <true | false | null>,
  "source_url": "<most authoritative page you used, or empty string>",
  "program_not_offered": <true ONLY if you confirmed the school does not offer this program, else false>
}

Use null for any numeric value you could not confirm. Never guess numbers.`

// extractionPayload mirrors the JSON object the prompt asks for. Numeric
// fields accept both numbers and formatted strings ("$45,000").
type extractionPayload struct {
	TuitionAmount     json.RawMessage `json:"tuition_amount"`
	CostPerCredit     json.RawMessage `json:"cost_per_credit"`
	TotalCredits      json.RawMessage `json:"total_credits"`
	ProgramLength     string          `json:"program_length"`
	AcademicYear      string          `json:"academic_year"`
	TuitionPeriod     string          `json:"tuition_period"`
	IsSTEM            *bool           `json:"is_stem"`
	SourceURL         string          `json:"source_url"`
	ProgramNotOffered bool            `json:"program_not_offered"`
}

// Extractor runs search-grounded tuition extraction against the Gemini API.
type Extractor struct {
	client    gemini.Client
	model     string
	timeout   time.Duration
	validator *SourceValidator
}

// NewExtractor wires a Gemini client and source validator into an extractor.
func NewExtractor(client gemini.Client, modelName string, timeout time.Duration, validator *SourceValidator) *Extractor {
	return &Extractor{
		client:    client,
		model:     modelName,
		timeout:   timeout,
		validator: validator,
	}
}

// Extract performs one extraction attempt. refinement optionally carries a
// retry search query to steer the model. Extract never returns an error:
// every failure mode is encoded in the candidate status so the pipeline can
// persist and resolve it uniformly.
func (e *Extractor) Extract(ctx context.Context, school, program, refinement string) *model.ExtractionCandidate {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("gemini", "generate")

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*gemini.GenerateResponse, error) {
		return e.client.Generate(ctx, gemini.GenerateRequest{
			Prompt:      e.buildPrompt(school, program, refinement),
			Model:       e.model,
			Temperature: gemini.Float(0.1),
		})
	})
	if err != nil {
		zap.L().Error("extraction call failed",
			zap.String("school", school),
			zap.String("program", program),
			zap.Error(err))
		return &model.ExtractionCandidate{Status: model.StatusFailed}
	}

	cand := e.parseCandidate(resp.Text)
	cand.Usage = model.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	cand.ValidatedSources = e.validator.Validate(school, resp.Sources)

	zap.L().Info("extraction attempt complete",
		zap.String("school", school),
		zap.String("program", program),
		zap.String("status", string(cand.Status)),
		zap.Int("sources", len(cand.ValidatedSources)))
	return cand
}

func (e *Extractor) buildPrompt(school, program, refinement string) string {
	year := time.Now().UTC().Year()
	yearHint := fmt.Sprintf("%d-%d", year, year+1)

	refineBlock := ""
	if refinement != "" {
		refineBlock = fmt.Sprintf("A previous attempt was inconclusive. Try this search instead: %s\n", refinement)
	}
	return fmt.Sprintf(extractionPrompt, school, program, yearHint, refineBlock)
}

// parseCandidate turns the raw model text into a candidate. The raw text is
// always retained verbatim; a failed parse yields a failed candidate whose
// RawContent is the full audit trail.
func (e *Extractor) parseCandidate(text string) *model.ExtractionCandidate {
	cand := &model.ExtractionCandidate{RawContent: text}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(cleanJSON(text)), &payload); err != nil {
		zap.L().Warn("extraction response did not parse as JSON", zap.Error(err))
		cand.Status = model.StatusFailed
		return cand
	}

	if payload.ProgramNotOffered {
		cand.Status = model.StatusNotFound
		return cand
	}

	cand.TuitionAmount = parseAmount(payload.TuitionAmount)
	cand.CostPerCredit = parseAmount(payload.CostPerCredit)
	cand.TotalCredits = parseAmount(payload.TotalCredits)
	cand.ProgramLength = strings.TrimSpace(payload.ProgramLength)
	cand.AcademicYear = strings.TrimSpace(payload.AcademicYear)
	cand.TuitionPeriod = strings.TrimSpace(payload.TuitionPeriod)
	cand.IsSTEM = payload.IsSTEM
	cand.SourceURL = strings.TrimSpace(payload.SourceURL)
	cand.Status = model.StatusSuccess
	return cand
}

// cleanJSON strips markdown fences and surrounding prose, leaving the
// outermost JSON object. Models wrap JSON in fences often enough that this
// is the default path, not the exception.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[:idx]
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// parseAmount decodes a numeric field that may arrive as a JSON number, a
// formatted string ("$45,000"), or null.
func parseAmount(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(strings.ToLower(s), " usd")
	if s == "" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &n
}
