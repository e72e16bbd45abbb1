// Package billing implements the append-only billing ledger.
//
// Every charge and credit is a BillingEvent row keyed by (accountID,
// idempotencyKey); the uniqueness constraint in the store, not any
// application-level lock, is what makes concurrent duplicate deliveries safe.
// The denormalized Balance row is a cache: it is always recomputed as the
// signed sum over the full event history, never incrementally updated.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventKind classifies a ledger event.
type EventKind string

const (
	// KindCharge subtracts from the balance (call minutes, usage).
	KindCharge EventKind = "charge"

	// KindCredit adds to the balance (payments, promotional top-ups).
	KindCredit EventKind = "credit"
)

// ErrDuplicateEvent is returned by a Store when an event with the same
// (accountID, idempotencyKey) already exists. The ledger translates it into
// the idempotent-replay success path; it never escapes ApplyEvent.
var ErrDuplicateEvent = errors.New("billing event already applied")

// ErrNoBalance is returned by a Store when no balance row exists yet for an
// account.
var ErrNoBalance = errors.New("no balance for account")

// BillingEvent is one immutable ledger entry. Amount is always positive, in
// minor currency units; Kind determines the sign.
type BillingEvent struct {
	ID             int64
	AccountID      string
	Kind           EventKind
	Amount         int64
	IdempotencyKey string
	CreatedAt      time.Time
}

// Balance is the denormalized per-account total in minor currency units.
// LastEventID records the event whose application produced this value.
type Balance struct {
	AccountID   string
	Amount      int64
	LastEventID int64
	UpdatedAt   time.Time
}

// ApplyOutcome is the result of ApplyEvent. Replayed distinguishes the
// idempotent no-op path from a fresh application; both are successes.
type ApplyOutcome struct {
	Balance  Balance
	Replayed bool
}

// Store is the persistence contract the ledger requires. Implementations must
// enforce the (accountID, idempotencyKey) uniqueness constraint at the
// storage level so the ledger stays correct across concurrent processes.
type Store interface {
	// InsertEvent appends ev and fills in its ID and CreatedAt. Returns
	// ErrDuplicateEvent if the (AccountID, IdempotencyKey) pair exists.
	InsertEvent(ctx context.Context, ev *BillingEvent) error

	// SumEvents returns the signed sum over every event for the account:
	// credits add, charges subtract.
	SumEvents(ctx context.Context, accountID string) (int64, error)

	// UpsertBalance writes the denormalized balance row. Implementations
	// must drop writes whose LastEventID does not advance past the stored
	// row's, so a slow applier's stale recompute cannot roll the cache
	// back over a fresher one.
	UpsertBalance(ctx context.Context, bal Balance) error

	// GetBalance reads the denormalized balance row, or ErrNoBalance.
	GetBalance(ctx context.Context, accountID string) (Balance, error)
}

// Ledger applies billing events idempotently on top of a Store.
type Ledger struct {
	store Store
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// ApplyEvent records one charge or credit exactly once per idempotency key.
//
// The insert is attempted first; a uniqueness violation means another caller
// (or an earlier retry) already applied this event, and the current balance
// is returned unchanged with Replayed set. There is deliberately no
// read-before-write existence check: under concurrency only the constraint
// itself is authoritative.
//
// A charge that takes the balance negative is still recorded. The ledger
// describes what happened; admission control happens elsewhere, before a
// call is accepted.
func (l *Ledger) ApplyEvent(ctx context.Context, accountID string, kind EventKind, amount int64, idempotencyKey string) (ApplyOutcome, error) {
	if accountID == "" {
		return ApplyOutcome{}, errors.New("billing: empty account id")
	}
	if idempotencyKey == "" {
		return ApplyOutcome{}, errors.New("billing: empty idempotency key")
	}
	if amount <= 0 {
		return ApplyOutcome{}, fmt.Errorf("billing: amount must be positive, got %d", amount)
	}
	if kind != KindCharge && kind != KindCredit {
		return ApplyOutcome{}, fmt.Errorf("billing: unknown event kind %q", kind)
	}

	ev := &BillingEvent{
		AccountID:      accountID,
		Kind:           kind,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
	}
	if err := l.store.InsertEvent(ctx, ev); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			bal, berr := l.CurrentBalance(ctx, accountID)
			if berr != nil {
				return ApplyOutcome{}, fmt.Errorf("billing: replay balance read: %w", berr)
			}
			return ApplyOutcome{Balance: bal, Replayed: true}, nil
		}
		return ApplyOutcome{}, fmt.Errorf("billing: insert event: %w", err)
	}

	total, err := l.store.SumEvents(ctx, accountID)
	if err != nil {
		return ApplyOutcome{}, fmt.Errorf("billing: recompute balance: %w", err)
	}

	bal := Balance{
		AccountID:   accountID,
		Amount:      total,
		LastEventID: ev.ID,
		UpdatedAt:   time.Now(),
	}
	if err := l.store.UpsertBalance(ctx, bal); err != nil {
		return ApplyOutcome{}, fmt.Errorf("billing: upsert balance: %w", err)
	}
	return ApplyOutcome{Balance: bal}, nil
}

// CurrentBalance returns the account's balance. An account with no events
// yields a zero balance, not an error; if the denormalized row is missing it
// is recomputed from the event history.
func (l *Ledger) CurrentBalance(ctx context.Context, accountID string) (Balance, error) {
	bal, err := l.store.GetBalance(ctx, accountID)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, ErrNoBalance) {
		return Balance{}, fmt.Errorf("billing: read balance: %w", err)
	}

	total, err := l.store.SumEvents(ctx, accountID)
	if err != nil {
		return Balance{}, fmt.Errorf("billing: recompute balance: %w", err)
	}
	return Balance{AccountID: accountID, Amount: total, UpdatedAt: time.Now()}, nil
}
