package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the ledger tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
//
// The UNIQUE constraint on (account_id, idempotency_key) is the serialization
// point for concurrent event application; the ledger relies on it instead of
// any application-level locking.
const Schema = `
CREATE TABLE IF NOT EXISTS billing_events (
    id              BIGSERIAL PRIMARY KEY,
    account_id      TEXT NOT NULL,
    kind            TEXT NOT NULL CHECK (kind IN ('charge', 'credit')),
    amount          BIGINT NOT NULL CHECK (amount > 0),
    idempotency_key TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (account_id, idempotency_key)
);
CREATE INDEX IF NOT EXISTS idx_billing_events_account ON billing_events(account_id);

CREATE TABLE IF NOT EXISTS balances (
    account_id    TEXT PRIMARY KEY,
    amount        BIGINT NOT NULL,
    last_event_id BIGINT NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over the given connection or pool. The
// caller is responsible for calling [PostgresStore.Migrate] to ensure the
// schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("billing: migrate: %w", err)
	}
	return nil
}

// InsertEvent implements [Store].
func (s *PostgresStore) InsertEvent(ctx context.Context, ev *BillingEvent) error {
	const query = `
		INSERT INTO billing_events (account_id, kind, amount, idempotency_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := s.db.QueryRow(ctx, query,
		ev.AccountID, string(ev.Kind), ev.Amount, ev.IdempotencyKey,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert billing event: %w", err)
	}
	return nil
}

// SumEvents implements [Store].
func (s *PostgresStore) SumEvents(ctx context.Context, accountID string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(CASE WHEN kind = 'charge' THEN -amount ELSE amount END), 0)
		FROM billing_events
		WHERE account_id = $1`

	var total int64
	if err := s.db.QueryRow(ctx, query, accountID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum billing events: %w", err)
	}
	return total, nil
}

// UpsertBalance implements [Store].
func (s *PostgresStore) UpsertBalance(ctx context.Context, bal Balance) error {
	const query = `
		INSERT INTO balances (account_id, amount, last_event_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (account_id) DO UPDATE
		SET amount = EXCLUDED.amount,
		    last_event_id = EXCLUDED.last_event_id,
		    updated_at = now()
		WHERE balances.last_event_id < EXCLUDED.last_event_id`

	if _, err := s.db.Exec(ctx, query, bal.AccountID, bal.Amount, bal.LastEventID); err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

// GetBalance implements [Store].
func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	const query = `
		SELECT account_id, amount, last_event_id, updated_at
		FROM balances
		WHERE account_id = $1`

	var bal Balance
	err := s.db.QueryRow(ctx, query, accountID).Scan(
		&bal.AccountID, &bal.Amount, &bal.LastEventID, &bal.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrNoBalance
		}
		return Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
