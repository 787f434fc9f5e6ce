package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gradintel/tuition-cli/internal/model"
	"github.com/gradintel/tuition-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of extraction health.
type MetricsSnapshot struct {
	// Attempt metrics (within lookback window).
	AttemptsTotal    int     `json:"attempts_total"`
	Verified         int     `json:"verified"`
	NeedsReview      int     `json:"needs_review"`
	RetryRecommended int     `json:"retry_recommended"`
	Failed           int     `json:"failed"`
	FailRate         float64 `json:"fail_rate"`
	AvgCompleteness  float64 `json:"avg_completeness"`
	TotalCostUSD     float64 `json:"total_cost_usd"`

	// Quota usage for the current UTC day.
	QuotaUsed  int `json:"quota_used"`
	QuotaLimit int `json:"quota_limit"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the attempt store.
type Collector struct {
	store      store.Store
	quotaLimit int
}

// NewCollector creates a metrics collector. quotaLimit is the configured
// daily extraction budget, reported alongside usage.
func NewCollector(st store.Store, quotaLimit int) *Collector {
	return &Collector{store: st, quotaLimit: quotaLimit}
}

// Collect gathers a snapshot of extraction metrics over the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		QuotaLimit:    c.quotaLimit,
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	attempts, err := c.store.ListAttempts(ctx, store.AttemptFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list attempts")
	}

	var totalCompleteness float64
	var scored int
	for _, a := range attempts {
		if a.CreatedAt.Before(cutoff) {
			continue
		}
		snap.AttemptsTotal++
		snap.TotalCostUSD += a.CostUSD

		if a.Verification == nil {
			continue
		}
		switch a.Verification.Status {
		case model.VerificationVerified:
			snap.Verified++
		case model.VerificationNeedsReview:
			snap.NeedsReview++
		case model.VerificationRetryRecommended:
			snap.RetryRecommended++
		case model.VerificationFailed:
			snap.Failed++
		}
		if a.Candidate.Status == model.StatusSuccess {
			totalCompleteness += a.Verification.CompletenessScore
			scored++
		}
	}

	if snap.AttemptsTotal > 0 {
		snap.FailRate = float64(snap.Failed) / float64(snap.AttemptsTotal)
	}
	if scored > 0 {
		snap.AvgCompleteness = totalCompleteness / float64(scored)
	}

	used, err := c.store.GetQuota(ctx, now.Format("2006-01-02"))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: read quota")
	}
	snap.QuotaUsed = used

	return snap, nil
}
