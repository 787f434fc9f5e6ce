package model

// VerificationStatus is the pipeline disposition of a candidate.
type VerificationStatus string

const (
	VerificationVerified         VerificationStatus = "verified"
	VerificationNeedsReview      VerificationStatus = "needs_review"
	VerificationRetryRecommended VerificationStatus = "retry_recommended"
	VerificationFailed           VerificationStatus = "failed"
)

// severity orders statuses for escalation. Failed sits outside the
// escalation lattice (it is produced only by extractor failure).
var statusSeverity = map[VerificationStatus]int{
	VerificationVerified:         0,
	VerificationNeedsReview:      1,
	VerificationRetryRecommended: 2,
}

// Escalate returns the more severe of s and other. A cross-verifier verdict
// may push status up the lattice but never below what rule evaluation found.
func (s VerificationStatus) Escalate(other VerificationStatus) VerificationStatus {
	a, okA := statusSeverity[s]
	b, okB := statusSeverity[other]
	if !okA || !okB {
		return s
	}
	if b > a {
		return other
	}
	return s
}

// Confidence is an ordinal trust level for an extracted value set.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

var confidenceRank = map[Confidence]int{
	ConfidenceLow:    0,
	ConfidenceMedium: 1,
	ConfidenceHigh:   2,
}

// Step moves confidence exactly one ordinal step: +1 up, -1 down, 0 unchanged.
// Movement is clamped at the lattice ends; larger magnitudes are treated as a
// single step so an adjustment can never skip a level.
func (c Confidence) Step(delta int) Confidence {
	rank, ok := confidenceRank[c]
	if !ok {
		return c
	}
	switch {
	case delta > 0 && rank < 2:
		rank++
	case delta < 0 && rank > 0:
		rank--
	}
	for conf, r := range confidenceRank {
		if r == rank {
			return conf
		}
	}
	return c
}

// VerificationResult is the merged verdict over one candidate.
type VerificationResult struct {
	Status               VerificationStatus `json:"status"`
	Confidence           Confidence         `json:"confidence"`
	Issues               []string           `json:"issues,omitempty"`
	Validations          []string           `json:"validations,omitempty"`
	Reasoning            string             `json:"reasoning"`
	RetryRecommended     bool               `json:"retry_recommended"`
	SuggestedSearchQuery string             `json:"suggested_search_query,omitempty"`

	// Corrections are proposals only. They are never applied to the candidate
	// they refer to; applying one means producing a new candidate version.
	Corrections map[string]any `json:"corrections,omitempty"`

	CompletenessScore  float64 `json:"completeness_score"`
	AIVerificationUsed bool    `json:"ai_verification_used"`
}
