package store

import (
	"context"
	"time"

	"github.com/gradintel/tuition-cli/internal/model"
)

// AttemptFilter specifies criteria for listing extraction attempts.
type AttemptFilter struct {
	School  string                   `json:"school,omitempty"`
	Program string                   `json:"program,omitempty"`
	Status  model.VerificationStatus `json:"status,omitempty"`
	Limit   int                      `json:"limit,omitempty"`
	Offset  int                      `json:"offset,omitempty"`
}

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Attempts. CreateAttempt assigns the ID, the next version for the
	// (school, program) pair, and the creation timestamp.
	CreateAttempt(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error)
	GetAttempt(ctx context.Context, id string) (*model.Attempt, error)
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.Attempt, error)
	LatestVersion(ctx context.Context, school, program string) (int, error)

	// Quota. IncrementQuota performs a single atomic conditional
	// upsert-increment on the per-day counter. When the counter has already
	// reached limit it does not increment and reports allowed=false with the
	// current count.
	IncrementQuota(ctx context.Context, day string, limit int) (used int, allowed bool, err error)
	GetQuota(ctx context.Context, day string) (int, error)

	// Verification cache, keyed by candidate content hash.
	GetCachedVerification(ctx context.Context, hash string) (*model.VerificationResult, error)
	SetCachedVerification(ctx context.Context, hash string, result *model.VerificationResult, ttl time.Duration) error
	DeleteExpiredVerifications(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
