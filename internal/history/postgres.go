package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avennor/sonalign/internal/eval"
)

// ddlEvaluations creates the history table. Snapshots are stored whole as
// JSONB; only the columns needed for listing are broken out.
const ddlEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id          BIGSERIAL    PRIMARY KEY,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    sentence    TEXT         NOT NULL,
    overall     REAL         NOT NULL,
    result      JSONB        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_created_at
    ON evaluations (created_at DESC);
`

// DB is the subset of [pgxpool.Pool] the store uses. It exists so tests can
// substitute a fake without a live database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore is a Store backed by a PostgreSQL evaluations table.
// All methods are safe for concurrent use.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres creates a PostgresStore, establishes a connection pool to the
// database at dsn, and runs [Migrate] to ensure the evaluations table exists.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("history: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &PostgresStore{db: pool}, pool, nil
}

// NewPostgresWithDB wraps an existing connection. The caller is responsible
// for running [Migrate].
func NewPostgresWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the evaluations table and its indexes if they do not exist.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, ddlEvaluations); err != nil {
		return fmt.Errorf("history: apply schema: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, res *eval.Result) error {
	blob, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("history: marshal result: %w", err)
	}

	const q = `
		INSERT INTO evaluations (sentence, overall, result)
		VALUES ($1, $2, $3)`

	if _, err := s.db.Exec(ctx, q, res.OriginalSentence, res.Scores.Overall, blob); err != nil {
		return fmt.Errorf("history: save: %w", err)
	}
	return nil
}

// Recent implements Store.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	const q = `
		SELECT id, created_at, result
		FROM   evaluations
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.db.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec  Record
			blob []byte
		)
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &blob); err != nil {
			return nil, fmt.Errorf("history: scan record: %w", err)
		}
		if err := json.Unmarshal(blob, &rec.Result); err != nil {
			return nil, fmt.Errorf("history: unmarshal result %d: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate records: %w", err)
	}
	return records, nil
}
