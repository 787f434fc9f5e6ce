package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradintel/tuition-cli/internal/model"
	"github.com/gradintel/tuition-cli/internal/store"
)

func newCollectorStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedAttempt(t *testing.T, st store.Store, program string, status model.VerificationStatus, completeness, costUSD float64) {
	t.Helper()
	candStatus := model.StatusSuccess
	if status == model.VerificationFailed {
		candStatus = model.StatusFailed
	}
	_, err := st.CreateAttempt(context.Background(), &model.Attempt{
		School:  "Example University",
		Program: program,
		Candidate: model.ExtractionCandidate{
			TuitionAmount: model.Float64Ptr(30000),
			Status:        candStatus,
		},
		Verification: &model.VerificationResult{
			Status:            status,
			Confidence:        model.ConfidenceMedium,
			CompletenessScore: completeness,
		},
		CostUSD: costUSD,
	})
	require.NoError(t, err)
}

func TestCollector_Collect(t *testing.T) {
	st := newCollectorStore(t)
	ctx := context.Background()

	seedAttempt(t, st, "MBA", model.VerificationVerified, 100, 0.05)
	seedAttempt(t, st, "MSCS", model.VerificationVerified, 80, 0.04)
	seedAttempt(t, st, "MSDS", model.VerificationNeedsReview, 60, 0.04)
	seedAttempt(t, st, "MEng", model.VerificationFailed, 0, 0.02)

	// Consume quota so the snapshot picks it up.
	today := time.Now().UTC().Format("2006-01-02")
	_, _, err := st.IncrementQuota(ctx, today, 500)
	require.NoError(t, err)

	c := NewCollector(st, 500)
	snap, err := c.Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.AttemptsTotal)
	assert.Equal(t, 2, snap.Verified)
	assert.Equal(t, 1, snap.NeedsReview)
	assert.Equal(t, 1, snap.Failed)
	assert.InDelta(t, 0.25, snap.FailRate, 0.001)
	assert.InDelta(t, 80.0, snap.AvgCompleteness, 0.001, "failed attempts do not dilute the average")
	assert.InDelta(t, 0.15, snap.TotalCostUSD, 0.0001)
	assert.Equal(t, 1, snap.QuotaUsed)
	assert.Equal(t, 500, snap.QuotaLimit)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_CollectEmptyStore(t *testing.T) {
	c := NewCollector(newCollectorStore(t), 500)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.AttemptsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.AvgCompleteness)
	assert.Zero(t, snap.QuotaUsed)
}
