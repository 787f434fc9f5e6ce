package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradintel/tuition-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testCandidate() model.ExtractionCandidate {
	return model.ExtractionCandidate{
		TuitionAmount: model.Float64Ptr(30000),
		CostPerCredit: model.Float64Ptr(500),
		TotalCredits:  model.Float64Ptr(60),
		AcademicYear:  "2026-2027",
		TuitionPeriod: "total",
		SourceURL:     "https://www.example.edu/tuition",
		Status:        model.StatusSuccess,
	}
}

func TestCreateAttempt_AssignsIDAndVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a1, err := s.CreateAttempt(ctx, &model.Attempt{
		School: "MIT", Program: "MBA", Candidate: testCandidate(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a1.ID)
	assert.Equal(t, 1, a1.Version)

	a2, err := s.CreateAttempt(ctx, &model.Attempt{
		School: "MIT", Program: "MBA", RetryCount: 1, Candidate: testCandidate(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, a2.Version)
	assert.NotEqual(t, a1.ID, a2.ID)

	// A different pair starts at version 1 again.
	b, err := s.CreateAttempt(ctx, &model.Attempt{
		School: "Stanford", Program: "MBA", Candidate: testCandidate(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Version)
}

func TestCreateAttempt_ConcurrentSameTargetGetsDistinctVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 10
	versions := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := s.CreateAttempt(ctx, &model.Attempt{
				School: "MIT", Program: "MBA", Candidate: testCandidate(),
			})
			if !assert.NoError(t, err) {
				return
			}
			versions <- a.Version
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)
}

func TestGetAttempt_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateAttempt(ctx, &model.Attempt{
		School:  "MIT",
		Program: "MBA",
		Candidate: testCandidate(),
		Verification: &model.VerificationResult{
			Status:            model.VerificationVerified,
			Confidence:        model.ConfidenceHigh,
			Validations:       []string{"calculation matches"},
			CompletenessScore: 85,
			Reasoning:         "Status: verified.",
		},
		CostUSD: 0.04,
	})
	require.NoError(t, err)

	got, err := s.GetAttempt(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "MIT", got.School)
	require.NotNil(t, got.Candidate.TuitionAmount)
	assert.Equal(t, 30000.0, *got.Candidate.TuitionAmount)
	require.NotNil(t, got.Verification)
	assert.Equal(t, model.VerificationVerified, got.Verification.Status)
	assert.Equal(t, 0.04, got.CostUSD)
}

func TestGetAttempt_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAttempt(context.Background(), "missing")
	assert.Error(t, err)
}

func TestListAttempts_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(school string, status model.VerificationStatus) {
		_, err := s.CreateAttempt(ctx, &model.Attempt{
			School: school, Program: "MBA", Candidate: testCandidate(),
			Verification: &model.VerificationResult{Status: status, Confidence: model.ConfidenceLow},
		})
		require.NoError(t, err)
	}
	mk("MIT", model.VerificationVerified)
	mk("MIT", model.VerificationNeedsReview)
	mk("Stanford", model.VerificationNeedsReview)

	all, err := s.ListAttempts(ctx, AttemptFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mit, err := s.ListAttempts(ctx, AttemptFilter{School: "MIT"})
	require.NoError(t, err)
	assert.Len(t, mit, 2)

	review, err := s.ListAttempts(ctx, AttemptFilter{Status: model.VerificationNeedsReview})
	require.NoError(t, err)
	assert.Len(t, review, 2)

	limited, err := s.ListAttempts(ctx, AttemptFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestIncrementQuota_WithinLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	used, allowed, err := s.IncrementQuota(ctx, "2026-08-31", 3)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, used)

	used, allowed, err = s.IncrementQuota(ctx, "2026-08-31", 3)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, used)
}

func TestIncrementQuota_DeniesAtLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const limit = 3

	for i := 0; i < limit; i++ {
		_, allowed, err := s.IncrementQuota(ctx, "2026-08-31", limit)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	// The (limit+1)-th call is denied and must not increment.
	used, allowed, err := s.IncrementQuota(ctx, "2026-08-31", limit)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, limit, used)

	stored, err := s.GetQuota(ctx, "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, limit, stored)
}

func TestIncrementQuota_DaysAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, allowed, err := s.IncrementQuota(ctx, "2026-08-30", 1)
	require.NoError(t, err)
	require.True(t, allowed)

	_, allowed, err = s.IncrementQuota(ctx, "2026-08-31", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestGetQuota_MissingDayIsZero(t *testing.T) {
	s := newTestStore(t)
	used, err := s.GetQuota(context.Background(), "1999-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestVerificationCache_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	result := &model.VerificationResult{
		Status:             model.VerificationVerified,
		Confidence:         model.ConfidenceMedium,
		CompletenessScore:  72,
		AIVerificationUsed: true,
	}
	require.NoError(t, s.SetCachedVerification(ctx, "abc123", result, time.Hour))

	got, err := s.GetCachedVerification(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.VerificationVerified, got.Status)
	assert.Equal(t, 72.0, got.CompletenessScore)
}

func TestVerificationCache_Miss(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetCachedVerification(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVerificationCache_Expired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	result := &model.VerificationResult{Status: model.VerificationVerified}
	require.NoError(t, s.SetCachedVerification(ctx, "stale", result, -time.Minute))

	got, err := s.GetCachedVerification(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := s.DeleteExpiredVerifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVerificationCache_Overwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCachedVerification(ctx, "k", &model.VerificationResult{Status: model.VerificationNeedsReview}, time.Hour))
	require.NoError(t, s.SetCachedVerification(ctx, "k", &model.VerificationResult{Status: model.VerificationVerified}, time.Hour))

	got, err := s.GetCachedVerification(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.VerificationVerified, got.Status)
}
