package model

import "time"

// CandidateStatus is the extractor-level disposition of one attempt.
type CandidateStatus string

const (
	StatusSuccess  CandidateStatus = "success"
	StatusNotFound CandidateStatus = "not_found"
	StatusPending  CandidateStatus = "pending"
	StatusFailed   CandidateStatus = "failed"
)

// SourceClass classifies a grounding source URL.
type SourceClass string

const (
	SourceOfficial   SourceClass = "official"
	SourceUnverified SourceClass = "unverified"
	SourceBlocked    SourceClass = "blocked"
)

// ExtractionRequest identifies one (school, program) extraction target.
type ExtractionRequest struct {
	School  string `json:"school"`
	Program string `json:"program"`
}

// Source is a raw grounding source as returned by the AI service.
type Source struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	RawContent string `json:"raw_content,omitempty"`
}

// ValidatedSource is a deduplicated, classified source URL.
type ValidatedSource struct {
	URL   string      `json:"url"`
	Title string      `json:"title,omitempty"`
	Class SourceClass `json:"class"`
}

// Usage tracks token consumption for one AI call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ExtractionCandidate is the structured result of one extraction attempt.
// Candidates are immutable once produced: a retry creates a new candidate
// (and a new persisted version), never an in-place edit. Numeric fields are
// pointers so "absent" is distinguishable from zero.
type ExtractionCandidate struct {
	TuitionAmount    *float64          `json:"tuition_amount,omitempty"`
	CostPerCredit    *float64          `json:"cost_per_credit,omitempty"`
	TotalCredits     *float64          `json:"total_credits,omitempty"`
	ProgramLength    string            `json:"program_length,omitempty"`
	AcademicYear     string            `json:"academic_year,omitempty"`
	TuitionPeriod    string            `json:"tuition_period,omitempty"`
	IsSTEM           *bool             `json:"is_stem,omitempty"`
	SourceURL        string            `json:"source_url,omitempty"`
	ValidatedSources []ValidatedSource `json:"validated_sources,omitempty"`

	// RawContent holds the verbatim AI response text. It is the only audit
	// trail for failed parses and is never discarded.
	RawContent string          `json:"raw_content,omitempty"`
	Status     CandidateStatus `json:"status"`
	Usage      Usage           `json:"usage,omitempty"`
}

// OfficialSourceCount returns the number of validated sources classified official.
func (c *ExtractionCandidate) OfficialSourceCount() int {
	n := 0
	for _, s := range c.ValidatedSources {
		if s.Class == SourceOfficial {
			n++
		}
	}
	return n
}

// Attempt is one persisted extraction attempt. Version increments per
// (school, program); RetryCount records how many pipeline retries produced it.
type Attempt struct {
	ID           string               `json:"id"`
	School       string               `json:"school"`
	Program      string               `json:"program"`
	Version      int                  `json:"version"`
	RetryCount   int                  `json:"retry_count"`
	Candidate    ExtractionCandidate  `json:"candidate"`
	Verification *VerificationResult  `json:"verification,omitempty"`
	CostUSD      float64              `json:"cost_usd"`
	CreatedAt    time.Time            `json:"created_at"`
}

// Float64Ptr returns a pointer to v. Convenience for building candidates.
func Float64Ptr(v float64) *float64 { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }
