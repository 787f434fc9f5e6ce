package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/gradintel/tuition-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Single writer: pragmas above bind per-connection, and the quota upsert
	// depends on serialized writes.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS attempts (
	id                  TEXT PRIMARY KEY,
	school              TEXT NOT NULL,
	program             TEXT NOT NULL,
	version             INTEGER NOT NULL,
	retry_count         INTEGER NOT NULL DEFAULT 0,
	candidate           TEXT NOT NULL,
	verification        TEXT,
	verification_status TEXT,
	cost_usd            REAL NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (school, program, version)
);

CREATE TABLE IF NOT EXISTS quota_days (
	day  TEXT PRIMARY KEY,
	used INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS verification_cache (
	hash       TEXT PRIMARY KEY,
	result     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_school_program ON attempts(school, program);
CREATE INDEX IF NOT EXISTS idx_attempts_verification_status ON attempts(verification_status);
CREATE INDEX IF NOT EXISTS idx_verification_cache_expires_at ON verification_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAttempt(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error) {
	stored := *attempt
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now().UTC()

	candidateJSON, err := json.Marshal(stored.Candidate)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal candidate")
	}

	var verificationJSON sql.NullString
	var verificationStatus sql.NullString
	if stored.Verification != nil {
		b, err := json.Marshal(stored.Verification)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal verification")
		}
		verificationJSON = sql.NullString{String: string(b), Valid: true}
		verificationStatus = sql.NullString{String: string(stored.Verification.Status), Valid: true}
	}

	// The version is assigned inside the INSERT so concurrent attempts for
	// the same target cannot race a read-then-write to the same number.
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO attempts (id, school, program, version, retry_count, candidate, verification, verification_status, cost_usd, created_at)
		 VALUES (?, ?, ?, (SELECT COALESCE(MAX(version), 0) + 1 FROM attempts WHERE school = ? AND program = ?), ?, ?, ?, ?, ?, ?)
		 RETURNING version`,
		stored.ID, stored.School, stored.Program, stored.School, stored.Program, stored.RetryCount,
		string(candidateJSON), verificationJSON, verificationStatus, stored.CostUSD, stored.CreatedAt,
	).Scan(&stored.Version)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert attempt for %s/%s", stored.School, stored.Program)
	}
	return &stored, nil
}

func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, school, program, version, retry_count, candidate, verification, cost_usd, created_at
		 FROM attempts WHERE id = ?`,
		id,
	)
	return scanAttempt(row)
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.Attempt, error) {
	query := `SELECT id, school, program, version, retry_count, candidate, verification, cost_usd, created_at
	          FROM attempts WHERE 1=1`
	var args []any

	if filter.School != "" {
		query += ` AND school = ?`
		args = append(args, filter.School)
	}
	if filter.Program != "" {
		query += ` AND program = ?`
		args = append(args, filter.Program)
	}
	if filter.Status != "" {
		query += ` AND verification_status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list attempts")
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, eris.Wrap(rows.Err(), "sqlite: list attempts iterate")
}

func (s *SQLiteStore) LatestVersion(ctx context.Context, school, program string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM attempts WHERE school = ? AND program = ?`,
		school, program,
	).Scan(&version)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: latest version for %s/%s", school, program)
	}
	return version, nil
}

// IncrementQuota performs the admission increment as a single conditional
// upsert. The WHERE clause on the conflict update makes the statement a no-op
// once used has reached limit, so concurrent callers can never push the
// counter past the budget.
func (s *SQLiteStore) IncrementQuota(ctx context.Context, day string, limit int) (int, bool, error) {
	var used int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO quota_days (day, used) VALUES (?, 1)
		 ON CONFLICT(day) DO UPDATE SET used = used + 1 WHERE quota_days.used < ?
		 RETURNING used`,
		day, limit,
	).Scan(&used)
	if err == sql.ErrNoRows {
		// Denied: the conditional update matched no row. Read the counter for
		// an accurate denial report.
		used, err := s.GetQuota(ctx, day)
		if err != nil {
			return 0, false, err
		}
		return used, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "sqlite: increment quota %s", day)
	}
	return used, true, nil
}

func (s *SQLiteStore) GetQuota(ctx context.Context, day string) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT used FROM quota_days WHERE day = ?`, day,
	).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: get quota %s", day)
	}
	return used, nil
}

func (s *SQLiteStore) GetCachedVerification(ctx context.Context, hash string) (*model.VerificationResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT result FROM verification_cache
		 WHERE hash = ? AND expires_at > datetime('now')`,
		hash,
	)

	var resultJSON string
	err := row.Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached verification")
	}

	var result model.VerificationResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached verification")
	}
	return &result, nil
}

func (s *SQLiteStore) SetCachedVerification(ctx context.Context, hash string, result *model.VerificationResult, ttl time.Duration) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal verification")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verification_cache (hash, result, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET result = excluded.result, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		hash, string(resultJSON), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached verification")
}

func (s *SQLiteStore) DeleteExpiredVerifications(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired verifications")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanAttempt(row scannable) (*model.Attempt, error) {
	var a model.Attempt
	var candidateJSON string
	var verificationJSON sql.NullString

	err := row.Scan(&a.ID, &a.School, &a.Program, &a.Version, &a.RetryCount,
		&candidateJSON, &verificationJSON, &a.CostUSD, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("attempt not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan attempt")
	}

	if err := json.Unmarshal([]byte(candidateJSON), &a.Candidate); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal candidate")
	}
	if verificationJSON.Valid {
		a.Verification = &model.VerificationResult{}
		if err := json.Unmarshal([]byte(verificationJSON.String), a.Verification); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal verification")
		}
	}
	return &a, nil
}
