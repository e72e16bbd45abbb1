package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PostgresStore is a [Store] backed by PostgreSQL with the pgvector extension
// for transcript similarity search.
type PostgresStore struct {
	pool *pgxpool.Pool
	dims int
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn, registers pgvector
// types on every connection, and ensures the schema exists.
//
// embeddingDimensions must match the embedding provider's output dimension.
// Changing it after the first migration requires a manual schema change.
func NewPostgresStore(ctx context.Context, dsn string, embeddingDimensions int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: ping: %w", err)
	}

	s := &PostgresStore{pool: pool, dims: embeddingDimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// Ping reports database reachability, for readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS calls (
    call_id    TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    caller_id  TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    ended_at   TIMESTAMPTZ NOT NULL,
    turns      INT NOT NULL DEFAULT 0,
    outcome    TEXT NOT NULL DEFAULT 'completed'
);
CREATE INDEX IF NOT EXISTS idx_calls_account ON calls(account_id);

CREATE TABLE IF NOT EXISTS transcript_entries (
    call_id   TEXT NOT NULL REFERENCES calls(call_id) ON DELETE CASCADE,
    seq       INT NOT NULL,
    role      TEXT NOT NULL,
    text      TEXT NOT NULL,
    spoken_at TIMESTAMPTZ,
    embedding vector(%d),
    PRIMARY KEY (call_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_transcript_embedding
    ON transcript_entries USING hnsw (embedding vector_cosine_ops);
`, s.dims)

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// SaveCall implements [Store].
func (s *PostgresStore) SaveCall(ctx context.Context, rec CallRecord) error {
	const q = `
		INSERT INTO calls (call_id, account_id, caller_id, started_at, ended_at, turns, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (call_id) DO UPDATE SET
		    ended_at = EXCLUDED.ended_at,
		    turns    = EXCLUDED.turns,
		    outcome  = EXCLUDED.outcome`

	_, err := s.pool.Exec(ctx, q,
		rec.CallID, rec.AccountID, rec.CallerID,
		rec.StartedAt, rec.EndedAt, rec.Turns, rec.Outcome,
	)
	if err != nil {
		return fmt.Errorf("save call: %w", err)
	}
	return nil
}

// SaveTranscript implements [Store].
func (s *PostgresStore) SaveTranscript(ctx context.Context, entries []TranscriptEntry, embeddings [][]float32) error {
	const q = `
		INSERT INTO transcript_entries (call_id, seq, role, text, spoken_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (call_id, seq) DO NOTHING`

	batch := &pgx.Batch{}
	for i, e := range entries {
		var vec any
		if embeddings != nil && i < len(embeddings) {
			vec = pgvector.NewVector(embeddings[i])
		}
		batch.Queue(q, e.CallID, e.Seq, string(e.Role), e.Text, e.SpokenAt, vec)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save transcript entry: %w", err)
		}
	}
	return nil
}

// SearchTranscripts implements [Store].
func (s *PostgresStore) SearchTranscripts(ctx context.Context, accountID string, embedding []float32, topK int) ([]SearchHit, error) {
	const q = `
		SELECT t.call_id, t.seq, t.role, t.text, t.spoken_at,
		       t.embedding <=> $1 AS distance
		FROM   transcript_entries t
		JOIN   calls c ON c.call_id = t.call_id
		WHERE  c.account_id = $2
		  AND  t.embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), accountID, topK)
	if err != nil {
		return nil, fmt.Errorf("search transcripts: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchHit, error) {
		var hit SearchHit
		err := row.Scan(
			&hit.Entry.CallID, &hit.Entry.Seq, &hit.Entry.Role,
			&hit.Entry.Text, &hit.Entry.SpokenAt, &hit.Distance,
		)
		return hit, err
	})
}
