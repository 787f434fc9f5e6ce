package pipeline

import (
	"fmt"

	"github.com/gradintel/tuition-cli/internal/model"
)

// retryIssueThreshold is the issue count at which a structurally sound
// candidate is still considered worth a retry.
const retryIssueThreshold = 3

// ResolveInput gathers everything the status resolver merges into a final
// verdict.
type ResolveInput struct {
	Candidate *model.ExtractionCandidate
	School    string
	Program   string
	Rules     RuleReport
	// Verdict is the cross-verifier outcome, nil when cross-verification was
	// disabled or failed. A nil verdict never blocks resolution.
	Verdict *CrossVerdict
}

// Resolve merges rule evaluation, source signals, and the optional AI verdict
// into a single VerificationResult. The merge is escalation-only for status
// and single-step for confidence, so the AI can flag problems but never
// vouch a shaky candidate into a clean one.
func Resolve(in ResolveInput) *model.VerificationResult {
	cand := in.Candidate

	switch cand.Status {
	case model.StatusNotFound:
		// Confirmed absence is a valid, final answer.
		vr := &model.VerificationResult{
			Status:      model.VerificationVerified,
			Confidence:  model.ConfidenceLow,
			Validations: []string{"program absence confirmed by extraction"},
		}
		vr.Reasoning = buildReasoning(vr)
		return vr
	case model.StatusFailed:
		vr := &model.VerificationResult{
			Status:               model.VerificationFailed,
			Confidence:           model.ConfidenceLow,
			Issues:               []string{"extraction attempt failed, no candidate produced"},
			RetryRecommended:     true,
			SuggestedSearchQuery: fallbackQuery(in.School, in.Program),
		}
		vr.Reasoning = buildReasoning(vr)
		return vr
	}

	vr := &model.VerificationResult{
		Status:            model.VerificationVerified,
		Issues:            append([]string(nil), in.Rules.Issues...),
		Validations:       append([]string(nil), in.Rules.Validations...),
		CompletenessScore: in.Rules.CompletenessScore,
	}

	switch {
	case !in.Rules.Passed, len(vr.Issues) >= retryIssueThreshold:
		vr.Status = model.VerificationRetryRecommended
	case len(vr.Issues) > 0:
		vr.Status = model.VerificationNeedsReview
	}

	vr.Confidence = baselineConfidence(in.Rules, vr.Issues)

	// Source trust is a soft signal: it is recorded for the audit trail and
	// costs one confidence step, but never changes the status disposition on
	// its own.
	officialSources := cand.OfficialSourceCount()
	switch {
	case len(cand.ValidatedSources) == 0:
		vr.Issues = append(vr.Issues, "no sources cited by extraction")
		vr.Confidence = vr.Confidence.Step(-1)
	case officialSources == 0:
		vr.Issues = append(vr.Issues, "no official institutional sources among citations")
		vr.Confidence = vr.Confidence.Step(-1)
	default:
		vr.Validations = append(vr.Validations, fmt.Sprintf("%d official institutional source(s) cited", officialSources))
	}

	if in.Verdict != nil {
		mergeVerdict(vr, in.Verdict)
	}

	if vr.Status == model.VerificationRetryRecommended {
		vr.RetryRecommended = true
		if vr.SuggestedSearchQuery == "" {
			vr.SuggestedSearchQuery = refinedQuery(in.School, in.Program)
		}
	}

	vr.Reasoning = buildReasoning(vr)
	return vr
}

// baselineConfidence derives confidence from rule evaluation before any AI
// adjustment.
func baselineConfidence(rules RuleReport, issues []string) model.Confidence {
	switch {
	case rules.Passed && len(issues) == 0 && rules.CompletenessScore >= 80:
		return model.ConfidenceHigh
	case rules.Passed:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// mergeVerdict folds the cross-verifier verdict into vr. Status moves only up
// the escalation lattice; confidence moves at most one step.
func mergeVerdict(vr *model.VerificationResult, verdict *CrossVerdict) {
	vr.AIVerificationUsed = true

	if s, ok := verdictStatus(verdict.VerificationStatus); ok {
		vr.Status = vr.Status.Escalate(s)
	}
	vr.Confidence = vr.Confidence.Step(verdict.ConfidenceAdjustment)

	if verdict.KeyFinding != "" {
		if verdict.SourceSupportsData {
			vr.Validations = append(vr.Validations, "cross-verification: "+verdict.KeyFinding)
		} else {
			vr.Issues = append(vr.Issues, "cross-verification: "+verdict.KeyFinding)
		}
	}
	if len(verdict.SuggestedCorrection) > 0 {
		vr.Corrections = verdict.SuggestedCorrection
	}
	if verdict.AlternativeSearchQuery != "" {
		vr.SuggestedSearchQuery = verdict.AlternativeSearchQuery
	}
}

func verdictStatus(s string) (model.VerificationStatus, bool) {
	switch s {
	case "verified":
		return model.VerificationVerified, true
	case "needs_review":
		return model.VerificationNeedsReview, true
	case "retry", "retry_recommended":
		return model.VerificationRetryRecommended, true
	}
	return "", false
}

// CapRetry converts an exhausted retry recommendation into a final verdict.
// Applied when a retry attempt still recommends retrying: the record goes to
// a human instead of looping.
func CapRetry(vr *model.VerificationResult) {
	if !vr.RetryRecommended && vr.Status != model.VerificationRetryRecommended {
		return
	}
	vr.RetryRecommended = false
	if vr.Status == model.VerificationRetryRecommended {
		vr.Status = model.VerificationNeedsReview
		vr.Issues = append(vr.Issues, "retry budget exhausted, routed to manual review")
	} else {
		vr.Issues = append(vr.Issues, "retry budget exhausted")
	}
	vr.Reasoning = buildReasoning(vr)
}

// buildReasoning renders a deterministic summary of the verdict. The wording
// depends only on VerificationResult fields so identical inputs produce
// byte-identical reasoning.
func buildReasoning(vr *model.VerificationResult) string {
	return fmt.Sprintf("Status %s with %s confidence. Data completeness %s (%.1f%%). %d issue(s), %d validation(s).",
		vr.Status, vr.Confidence, completenessBucket(vr.CompletenessScore), vr.CompletenessScore,
		len(vr.Issues), len(vr.Validations))
}

func completenessBucket(score float64) string {
	switch {
	case score >= 80:
		return "excellent"
	case score >= 60:
		return "good"
	default:
		return "needs improvement"
	}
}

// refinedQuery is the first-retry search refinement.
func refinedQuery(school, program string) string {
	return fmt.Sprintf("%q %q graduate tuition cost per credit site:.edu", school, program)
}

// fallbackQuery is used after a hard extraction failure.
func fallbackQuery(school, program string) string {
	return fmt.Sprintf("%q %q tuition fees official site:.edu", school, program)
}
