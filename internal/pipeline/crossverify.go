package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gradintel/tuition-cli/internal/model"
	"github.com/gradintel/tuition-cli/internal/resilience"
	"github.com/gradintel/tuition-cli/pkg/anthropic"
)

// rawExcerptLimit bounds how much of the extraction response is forwarded to
// the cross-verifier. Enough context to judge, cheap enough to send.
const rawExcerptLimit = 1500

const crossVerifySystem = `You are a data verification assistant. You review tuition figures extracted by another AI and judge whether the cited material supports them. Be skeptical of numbers that do not appear in the excerpt. Respond with ONLY a JSON object.`

// CrossVerdict is the structured verdict the cross-verifier returns.
type CrossVerdict struct {
	VerificationStatus     string         `json:"verification_status"`
	ConfidenceAdjustment   int            `json:"confidence_adjustment"`
	KeyFinding             string         `json:"key_finding"`
	SourceSupportsData     bool           `json:"source_supports_data"`
	SuggestedCorrection    map[string]any `json:"suggested_correction,omitempty"`
	AlternativeSearchQuery string         `json:"alternative_search_query,omitempty"`
}

// CrossVerifier asks an independent model whether the extracted figures are
// supported by the material they were extracted from.
type CrossVerifier struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	breaker *resilience.CircuitBreaker
}

// NewCrossVerifier builds a verifier with a circuit breaker over the API.
func NewCrossVerifier(client anthropic.Client, modelName string, timeout time.Duration) *CrossVerifier {
	return &CrossVerifier{
		client:  client,
		model:   modelName,
		timeout: timeout,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
	}
}

// Verify sends the candidate and a raw-content excerpt for independent
// review. Errors are advisory: the caller falls back to rules-only
// verification when this returns an error.
func (v *CrossVerifier) Verify(ctx context.Context, cand *model.ExtractionCandidate, school, program string, rules RuleReport) (*CrossVerdict, anthropic.TokenUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var usage anthropic.TokenUsage
	verdict, err := resilience.ExecuteVal(ctx, v.breaker, func(ctx context.Context) (*CrossVerdict, error) {
		resp, err := v.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     v.model,
			MaxTokens: 1024,
			System:    crossVerifySystem,
			Messages: []anthropic.Message{
				{Role: "user", Content: v.buildPrompt(cand, school, program, rules)},
			},
		})
		if err != nil {
			return nil, eris.Wrap(err, "crossverify: create message")
		}
		usage = resp.Usage

		text := ""
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		var verdict CrossVerdict
		if err := json.Unmarshal([]byte(cleanJSON(text)), &verdict); err != nil {
			return nil, eris.Wrap(err, "crossverify: parse verdict")
		}
		return &verdict, nil
	})
	if err != nil {
		return nil, usage, err
	}
	usage.LogCost(v.model, "cross_verify")
	return verdict, usage, nil
}

func (v *CrossVerifier) buildPrompt(cand *model.ExtractionCandidate, school, program string, rules RuleReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "School: %s\nProgram: %s\n\nExtracted data:\n", school, program)

	writeNum := func(name string, p *float64) {
		if p != nil {
			fmt.Fprintf(&b, "  %s: %.2f\n", name, *p)
		}
	}
	writeNum("tuition_amount", cand.TuitionAmount)
	writeNum("cost_per_credit", cand.CostPerCredit)
	writeNum("total_credits", cand.TotalCredits)
	if cand.TuitionPeriod != "" {
		fmt.Fprintf(&b, "  tuition_period: %s\n", cand.TuitionPeriod)
	}
	if cand.AcademicYear != "" {
		fmt.Fprintf(&b, "  academic_year: %s\n", cand.AcademicYear)
	}

	if len(rules.Issues) > 0 {
		b.WriteString("\nRule checks flagged:\n")
		for _, issue := range rules.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
	}

	excerpt := cand.RawContent
	if len(excerpt) > rawExcerptLimit {
		excerpt = excerpt[:rawExcerptLimit]
	}
	fmt.Fprintf(&b, "\nExcerpt of the material the data was extracted from:\n---\n%s\n---\n", excerpt)

	b.WriteString(`
Judge whether the excerpt supports the extracted numbers. Respond with ONLY:
{
  "verification_status": "verified" | "needs_review" | "retry",
  "confidence_adjustment": -1 | 0 | 1,
  "key_finding": "<one sentence>",
  "source_supports_data": true | false,
  "suggested_correction": {"<field>": <value>} (omit unless a specific correction is evident),
  "alternative_search_query": "<query>" (omit unless a retry would help)
}`)
	return b.String()
}
