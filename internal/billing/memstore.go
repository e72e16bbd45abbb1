package billing

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory [Store] for tests and single-process development.
// The (accountID, idempotencyKey) uniqueness check runs under the same mutex
// as the insert, mirroring the atomicity a database constraint provides.
type MemStore struct {
	mu       sync.Mutex
	nextID   int64
	events   map[string][]*BillingEvent // accountID -> events in insert order
	keys     map[string]struct{}        // accountID + "\x00" + idempotencyKey
	balances map[string]Balance
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		events:   make(map[string][]*BillingEvent),
		keys:     make(map[string]struct{}),
		balances: make(map[string]Balance),
	}
}

// InsertEvent implements [Store].
func (s *MemStore) InsertEvent(_ context.Context, ev *BillingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ev.AccountID + "\x00" + ev.IdempotencyKey
	if _, exists := s.keys[key]; exists {
		return ErrDuplicateEvent
	}

	s.nextID++
	stored := *ev
	stored.ID = s.nextID
	stored.CreatedAt = time.Now()

	s.keys[key] = struct{}{}
	s.events[ev.AccountID] = append(s.events[ev.AccountID], &stored)

	ev.ID = stored.ID
	ev.CreatedAt = stored.CreatedAt
	return nil
}

// SumEvents implements [Store].
func (s *MemStore) SumEvents(_ context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, ev := range s.events[accountID] {
		switch ev.Kind {
		case KindCharge:
			total -= ev.Amount
		case KindCredit:
			total += ev.Amount
		}
	}
	return total, nil
}

// UpsertBalance implements [Store]. A write whose LastEventID does not
// advance past the stored row's is a stale recompute and is discarded.
func (s *MemStore) UpsertBalance(_ context.Context, bal Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.balances[bal.AccountID]; ok && cur.LastEventID >= bal.LastEventID {
		return nil
	}
	s.balances[bal.AccountID] = bal
	return nil
}

// GetBalance implements [Store].
func (s *MemStore) GetBalance(_ context.Context, accountID string) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[accountID]
	if !ok {
		return Balance{}, ErrNoBalance
	}
	return bal, nil
}

// Events returns a copy of the account's events in insert order. Test helper.
func (s *MemStore) Events(accountID string) []BillingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]BillingEvent, 0, len(s.events[accountID]))
	for _, ev := range s.events[accountID] {
		out = append(out, *ev)
	}
	return out
}
