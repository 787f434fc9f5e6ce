package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gradintel/tuition-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool used by the store. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS attempts (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	school              TEXT NOT NULL,
	program             TEXT NOT NULL,
	version             INTEGER NOT NULL,
	retry_count         INTEGER NOT NULL DEFAULT 0,
	candidate           JSONB NOT NULL,
	verification        JSONB,
	verification_status TEXT,
	cost_usd            DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (school, program, version)
);

CREATE TABLE IF NOT EXISTS quota_days (
	day  TEXT PRIMARY KEY,
	used INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS verification_cache (
	hash       TEXT PRIMARY KEY,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_school_program ON attempts(school, program);
CREATE INDEX IF NOT EXISTS idx_attempts_verification_status ON attempts(verification_status);
CREATE INDEX IF NOT EXISTS idx_verification_cache_expires_at ON verification_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateAttempt(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error) {
	stored := *attempt
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now().UTC()

	candidateJSON, err := json.Marshal(stored.Candidate)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal candidate")
	}

	var verificationJSON []byte
	var verificationStatus *string
	if stored.Verification != nil {
		verificationJSON, err = json.Marshal(stored.Verification)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal verification")
		}
		st := string(stored.Verification.Status)
		verificationStatus = &st
	}

	// The version is computed inside the INSERT. Two concurrent inserts for
	// the same target can still pick the same number under READ COMMITTED,
	// so the unique-violation loser re-runs the statement.
	for try := 0; ; try++ {
		err = s.pool.QueryRow(ctx,
			`INSERT INTO attempts (id, school, program, version, retry_count, candidate, verification, verification_status, cost_usd, created_at)
			 VALUES ($1, $2, $3, (SELECT COALESCE(MAX(version), 0) + 1 FROM attempts WHERE school = $2 AND program = $3), $4, $5, $6, $7, $8, $9)
			 RETURNING version`,
			stored.ID, stored.School, stored.Program, stored.RetryCount,
			candidateJSON, verificationJSON, verificationStatus, stored.CostUSD, stored.CreatedAt,
		).Scan(&stored.Version)
		if err == nil {
			return &stored, nil
		}
		var pgErr *pgconn.PgError
		if try < 3 && errors.As(err, &pgErr) && pgErr.Code == "23505" {
			continue
		}
		return nil, eris.Wrapf(err, "postgres: insert attempt for %s/%s", stored.School, stored.Program)
	}
}

func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, school, program, version, retry_count, candidate, verification, cost_usd, created_at
		 FROM attempts WHERE id = $1`,
		id,
	)
	return scanAttemptPgx(row)
}

func (s *PostgresStore) ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.Attempt, error) {
	query := `SELECT id, school, program, version, retry_count, candidate, verification, cost_usd, created_at
	          FROM attempts WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.School != "" {
		query += ` AND school = ` + arg(filter.School)
	}
	if filter.Program != "" {
		query += ` AND program = ` + arg(filter.Program)
	}
	if filter.Status != "" {
		query += ` AND verification_status = ` + arg(string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list attempts")
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttemptPgx(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, eris.Wrap(rows.Err(), "postgres: list attempts iterate")
}

func (s *PostgresStore) LatestVersion(ctx context.Context, school, program string) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM attempts WHERE school = $1 AND program = $2`,
		school, program,
	).Scan(&version)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: latest version for %s/%s", school, program)
	}
	return version, nil
}

// IncrementQuota performs the admission increment as a single conditional
// upsert, so the counter can never pass the limit under concurrency.
func (s *PostgresStore) IncrementQuota(ctx context.Context, day string, limit int) (int, bool, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO quota_days (day, used) VALUES ($1, 1)
		 ON CONFLICT (day) DO UPDATE SET used = quota_days.used + 1 WHERE quota_days.used < $2
		 RETURNING used`,
		day, limit,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		used, err := s.GetQuota(ctx, day)
		if err != nil {
			return 0, false, err
		}
		return used, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "postgres: increment quota %s", day)
	}
	return used, true, nil
}

func (s *PostgresStore) GetQuota(ctx context.Context, day string) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		`SELECT used FROM quota_days WHERE day = $1`, day,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: get quota %s", day)
	}
	return used, nil
}

func (s *PostgresStore) GetCachedVerification(ctx context.Context, hash string) (*model.VerificationResult, error) {
	var resultJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM verification_cache WHERE hash = $1 AND expires_at > now()`,
		hash,
	).Scan(&resultJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached verification")
	}

	var result model.VerificationResult
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached verification")
	}
	return &result, nil
}

func (s *PostgresStore) SetCachedVerification(ctx context.Context, hash string, result *model.VerificationResult, ttl time.Duration) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal verification")
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO verification_cache (hash, result, created_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (hash) DO UPDATE SET result = excluded.result, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		hash, resultJSON, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached verification")
}

func (s *PostgresStore) DeleteExpiredVerifications(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM verification_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired verifications")
	}
	return int(tag.RowsAffected()), nil
}

// helpers

func scanAttemptPgx(row pgx.Row) (*model.Attempt, error) {
	var a model.Attempt
	var candidateJSON []byte
	var verificationJSON []byte

	err := row.Scan(&a.ID, &a.School, &a.Program, &a.Version, &a.RetryCount,
		&candidateJSON, &verificationJSON, &a.CostUSD, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("attempt not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan attempt")
	}

	if err := json.Unmarshal(candidateJSON, &a.Candidate); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal candidate")
	}
	if len(verificationJSON) > 0 {
		a.Verification = &model.VerificationResult{}
		if err := json.Unmarshal(verificationJSON, a.Verification); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal verification")
		}
	}
	return &a, nil
}
