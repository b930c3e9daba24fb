// File: internal/telemetry/postgres.go
package telemetry

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/halcyonqa/pilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts the pgxpool.Pool so the sink can be exercised against
// pgxmock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const createInteractionsTable = `
CREATE TABLE IF NOT EXISTS interactions (
	id               BIGSERIAL PRIMARY KEY,
	type             TEXT NOT NULL,
	session_id       TEXT NOT NULL,
	prompt_or_target TEXT,
	input_parameters JSONB,
	started_at       TIMESTAMPTZ NOT NULL,
	duration_ms      BIGINT NOT NULL,
	success          BOOLEAN NOT NULL,
	error            TEXT,
	cache_hit        BOOLEAN NOT NULL DEFAULT FALSE,
	selector_used    TEXT
);`

const insertInteraction = `
INSERT INTO interactions
	(type, session_id, prompt_or_target, input_parameters, started_at,
	 duration_ms, success, error, cache_hit, selector_used)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

// PostgresSink persists interaction records to a single append-only table
// for offline analytics. Insert-only: records are never retried or
// deduplicated here.
type PostgresSink struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.TelemetrySink = (*PostgresSink)(nil)

// NewPostgresSink wraps an existing pool, verifies connectivity, and ensures
// the interactions table exists.
func NewPostgresSink(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresSink, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping telemetry database: %w", err)
	}
	if _, err := pool.Exec(ctx, createInteractionsTable); err != nil {
		return nil, fmt.Errorf("failed to ensure interactions table: %w", err)
	}
	return &PostgresSink{pool: pool, log: logger.Named("telemetry.pg")}, nil
}

// Connect dials the DSN and builds a sink over the resulting pool.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telemetry database: %w", err)
	}
	return NewPostgresSink(ctx, pool, logger)
}

// Track inserts one record.
func (s *PostgresSink) Track(ctx context.Context, rec schemas.InteractionRecord) error {
	params, err := json.Marshal(rec.InputParams)
	if err != nil {
		params = []byte("{}")
	}
	_, err = s.pool.Exec(ctx, insertInteraction,
		rec.Type, rec.SessionID, rec.PromptOrTarget, params,
		rec.StartedAt.UTC(), rec.DurationMs, rec.Success, rec.Error,
		rec.CacheHit, rec.SelectorUsed)
	if err != nil {
		return fmt.Errorf("failed to insert interaction record: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}
