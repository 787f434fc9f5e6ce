package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradintel/tuition-cli/internal/model"
)

func officialSources() []model.ValidatedSource {
	return []model.ValidatedSource{
		{URL: "https://www.example.edu/tuition", Class: model.SourceOfficial},
	}
}

func TestResolveNotFoundIsFinal(t *testing.T) {
	vr := Resolve(ResolveInput{
		Candidate: &model.ExtractionCandidate{Status: model.StatusNotFound},
		School:    "Example University",
		Program:   "MS Basket Weaving",
	})

	assert.Equal(t, model.VerificationVerified, vr.Status)
	assert.Equal(t, model.ConfidenceLow, vr.Confidence)
	assert.False(t, vr.RetryRecommended, "confirmed absence is an answer, not a failure")
	assert.Empty(t, vr.Issues)
	assert.NotEmpty(t, vr.Reasoning)
}

func TestResolveFailedExtractionRecommendsRetry(t *testing.T) {
	vr := Resolve(ResolveInput{
		Candidate: &model.ExtractionCandidate{Status: model.StatusFailed},
		School:    "Example University",
		Program:   "MBA",
	})

	assert.Equal(t, model.VerificationFailed, vr.Status)
	assert.True(t, vr.RetryRecommended)
	assert.Contains(t, vr.SuggestedSearchQuery, "Example University")
	assert.Contains(t, vr.SuggestedSearchQuery, "site:.edu")
}

func TestResolveCleanCandidateVerifiedHigh(t *testing.T) {
	cand := fullCandidate()
	cand.ValidatedSources = officialSources()

	vr := Resolve(ResolveInput{
		Candidate: cand,
		School:    "Example University",
		Program:   "MBA",
		Rules:     EvaluateRules(cand, rulesNow),
	})

	assert.Equal(t, model.VerificationVerified, vr.Status)
	assert.Equal(t, model.ConfidenceHigh, vr.Confidence)
	assert.False(t, vr.RetryRecommended)
	assert.InDelta(t, 100.0, vr.CompletenessScore, 0.01)
	assert.False(t, vr.AIVerificationUsed)
}

func TestResolveNoOfficialSourcesPenalizesConfidence(t *testing.T) {
	cand := fullCandidate()
	cand.ValidatedSources = []model.ValidatedSource{
		{URL: "https://blog.example.com", Class: model.SourceUnverified},
	}

	vr := Resolve(ResolveInput{
		Candidate: cand,
		School:    "Example University",
		Program:   "MBA",
		Rules:     EvaluateRules(cand, rulesNow),
	})

	// The domain heuristic is a trust signal, not a gate: the candidate stays
	// Verified, the issue is recorded, and confidence drops exactly one step
	// off the High baseline.
	assert.Equal(t, model.VerificationVerified, vr.Status)
	assert.Equal(t, model.ConfidenceMedium, vr.Confidence)
	assert.Contains(t, vr.Issues, "no official institutional sources among citations")
	assert.False(t, vr.RetryRecommended)
}

func TestResolveMissingSourcesDoesNotGateStatus(t *testing.T) {
	cand := fullCandidate()
	cand.ValidatedSources = nil

	vr := Resolve(ResolveInput{
		Candidate: cand,
		School:    "Example University",
		Program:   "MBA",
		Rules:     EvaluateRules(cand, rulesNow),
	})

	assert.Equal(t, model.VerificationVerified, vr.Status)
	assert.Equal(t, model.ConfidenceMedium, vr.Confidence)
	assert.Contains(t, vr.Issues, "no sources cited by extraction")
}

func TestResolveRuleFailureRecommendsRetry(t *testing.T) {
	cand := fullCandidate()
	cand.TuitionAmount = model.Float64Ptr(36000) // 20% off cost_per_credit x credits
	cand.ValidatedSources = officialSources()

	vr := Resolve(ResolveInput{
		Candidate: cand,
		School:    "Example University",
		Program:   "MBA",
		Rules:     EvaluateRules(cand, rulesNow),
	})

	assert.Equal(t, model.VerificationRetryRecommended, vr.Status)
	assert.True(t, vr.RetryRecommended)
	assert.NotEmpty(t, vr.SuggestedSearchQuery)
	assert.Equal(t, model.ConfidenceLow, vr.Confidence)
}

func TestResolveIssueAccumulationRecommendsRetry(t *testing.T) {
	// Individually minor rule issues, three of them in total.
	cand := fullCandidate()
	cand.TuitionAmount = model.Float64Ptr(33000) // minor calc mismatch
	cand.AcademicYear = "2026"
	cand.ValidatedSources = officialSources()

	rules := EvaluateRules(cand, rulesNow)
	rules.Issues = append(rules.Issues,
		"tuition figure appears twice with different values",
		"per-credit rate differs between cited pages")

	vr := Resolve(ResolveInput{
		Candidate: cand,
		School:    "Example University",
		Program:   "MBA",
		Rules:     rules,
	})

	require.GreaterOrEqual(t, len(vr.Issues), 3)
	assert.Equal(t, model.VerificationRetryRecommended, vr.Status)
}

func TestResolveSourceIssueDoesNotCountTowardRetry(t *testing.T) {
	// Two minor rule issues plus the missing-official signal: the source
	// signal must not tip the candidate over the retry threshold.
	cand := fullCandidate()
	cand.TuitionAmount = model.Float64Ptr(33000)
	cand.ValidatedSources = nil

	rules := EvaluateRules(cand, rulesNow)
	rules.Issues = append(rules.Issues, "tuition figure appears twice with different values")

	vr := Resolve(ResolveInput{
		Candidate: cand,
		School:    "Example University",
		Program:   "MBA",
		Rules:     rules,
	})

	require.GreaterOrEqual(t, len(vr.Issues), 3)
	assert.Equal(t, model.VerificationNeedsReview, vr.Status)
	assert.False(t, vr.RetryRecommended)
}

func TestMergeVerdictEscalatesButNeverVouches(t *testing.T) {
	cand := fullCandidate()
	cand.ValidatedSources = officialSources()
	rules := EvaluateRules(cand, rulesNow)

	t.Run("ai_can_escalate_clean_to_review", func(t *testing.T) {
		vr := Resolve(ResolveInput{
			Candidate: cand,
			School:    "Example University",
			Program:   "MBA",
			Rules:     rules,
			Verdict: &CrossVerdict{
				VerificationStatus:   "needs_review",
				ConfidenceAdjustment: -1,
				KeyFinding:           "excerpt shows in-state tuition only",
				SourceSupportsData:   false,
			},
		})

		assert.Equal(t, model.VerificationNeedsReview, vr.Status)
		assert.Equal(t, model.ConfidenceMedium, vr.Confidence)
		assert.True(t, vr.AIVerificationUsed)
		assert.Contains(t, vr.Issues, "cross-verification: excerpt shows in-state tuition only")
	})

	t.Run("ai_cannot_downgrade_severity", func(t *testing.T) {
		bad := fullCandidate()
		bad.TuitionAmount = model.Float64Ptr(36000)
		bad.ValidatedSources = officialSources()

		vr := Resolve(ResolveInput{
			Candidate: bad,
			School:    "Example University",
			Program:   "MBA",
			Rules:     EvaluateRules(bad, rulesNow),
			Verdict: &CrossVerdict{
				VerificationStatus:   "verified",
				ConfidenceAdjustment: 1,
				KeyFinding:           "numbers look fine",
				SourceSupportsData:   true,
			},
		})

		assert.Equal(t, model.VerificationRetryRecommended, vr.Status)
	})

	t.Run("confidence_moves_one_step_max", func(t *testing.T) {
		vr := Resolve(ResolveInput{
			Candidate: cand,
			School:    "Example University",
			Program:   "MBA",
			Rules:     rules,
			Verdict: &CrossVerdict{
				VerificationStatus:   "verified",
				ConfidenceAdjustment: 5, // hostile adjustment, still one step
				SourceSupportsData:   true,
			},
		})
		assert.Equal(t, model.ConfidenceHigh, vr.Confidence)
	})

	t.Run("correction_is_proposal_only", func(t *testing.T) {
		original := *cand.TuitionAmount
		vr := Resolve(ResolveInput{
			Candidate: cand,
			School:    "Example University",
			Program:   "MBA",
			Rules:     rules,
			Verdict: &CrossVerdict{
				VerificationStatus:  "needs_review",
				SuggestedCorrection: map[string]any{"tuition_amount": 32000.0},
				SourceSupportsData:  false,
			},
		})

		assert.Equal(t, map[string]any{"tuition_amount": 32000.0}, vr.Corrections)
		assert.Equal(t, original, *cand.TuitionAmount, "candidate must stay untouched")
	})
}

func TestCapRetry(t *testing.T) {
	vr := &model.VerificationResult{
		Status:               model.VerificationRetryRecommended,
		Confidence:           model.ConfidenceLow,
		RetryRecommended:     true,
		SuggestedSearchQuery: "some query",
	}
	CapRetry(vr)

	assert.Equal(t, model.VerificationNeedsReview, vr.Status)
	assert.False(t, vr.RetryRecommended)
	assert.Contains(t, vr.Issues[len(vr.Issues)-1], "routed to manual review")

	// A failed extraction stays failed; the audit message must not claim a
	// review routing that never happened.
	failed := &model.VerificationResult{
		Status:           model.VerificationFailed,
		RetryRecommended: true,
	}
	CapRetry(failed)
	assert.Equal(t, model.VerificationFailed, failed.Status)
	assert.False(t, failed.RetryRecommended)
	assert.Equal(t, "retry budget exhausted", failed.Issues[len(failed.Issues)-1])

	// No-op on anything else.
	verified := &model.VerificationResult{Status: model.VerificationVerified}
	CapRetry(verified)
	assert.Equal(t, model.VerificationVerified, verified.Status)
}

func TestBuildReasoningIsDeterministic(t *testing.T) {
	cand := fullCandidate()
	cand.ValidatedSources = officialSources()

	in := ResolveInput{
		Candidate: cand,
		School:    "Example University",
		Program:   "MBA",
		Rules:     EvaluateRules(cand, rulesNow),
	}
	first := Resolve(in)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first.Reasoning, Resolve(in).Reasoning)
	}
	assert.Contains(t, first.Reasoning, "excellent")
}
