// Package ledgertest provides an in-memory ledger.Store for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/bsknet/backend/internal/models"
	"github.com/bsknet/backend/internal/testutil"
)

type balanceKey struct {
	user uuid.UUID
	bt   string
}

// MemStore keeps balances and entries in maps. A single mutex stands in for
// the row lock taken by LockBalance. Writes made through a testutil.Tx are
// undone when that transaction rolls back.
type MemStore struct {
	mu       sync.Mutex
	balances map[balanceKey]decimal.Decimal
	entries  []*models.LedgerEntry
	byKey    map[string]*models.LedgerEntry

	// FailInsertFor makes InsertEntry fail for the given user.
	FailInsertFor map[uuid.UUID]error
}

func NewMemStore() *MemStore {
	return &MemStore{
		balances:      make(map[balanceKey]decimal.Decimal),
		byKey:         make(map[string]*models.LedgerEntry),
		FailInsertFor: make(map[uuid.UUID]error),
	}
}

// Seed sets a starting balance without writing a log entry.
func (m *MemStore) Seed(userID uuid.UUID, bt string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey{userID, bt}] = amount
}

func (m *MemStore) Balance(userID uuid.UUID, bt string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{userID, bt}]
}

func (m *MemStore) EntryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemStore) LockBalance(_ context.Context, _ pgx.Tx, userID uuid.UUID, bt string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{userID, bt}], nil
}

func (m *MemStore) GetEntryByKey(_ context.Context, _ pgx.Tx, key string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemStore) InsertEntry(_ context.Context, tx pgx.Tx, e *models.LedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailInsertFor[e.UserID]; err != nil {
		return false, err
	}
	if _, ok := m.byKey[e.IdempotencyKey]; ok {
		return false, nil
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	m.byKey[e.IdempotencyKey] = &cp
	testutil.Undo(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.byKey, cp.IdempotencyKey)
		for i, x := range m.entries {
			if x == &cp {
				m.entries = append(m.entries[:i], m.entries[i+1:]...)
				break
			}
		}
	})
	return true, nil
}

func (m *MemStore) SetBalance(_ context.Context, tx pgx.Tx, userID uuid.UUID, bt string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount.IsNegative() {
		return fmt.Errorf("balance check violated: %s", amount)
	}
	k := balanceKey{userID, bt}
	prev, had := m.balances[k]
	m.balances[k] = amount
	testutil.Undo(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if had {
			m.balances[k] = prev
		} else {
			delete(m.balances, k)
		}
	})
	return nil
}

func (m *MemStore) ListBalances(_ context.Context, userID uuid.UUID) ([]*models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Balance
	for k, v := range m.balances {
		if k.user == userID {
			out = append(out, &models.Balance{UserID: userID, BalanceType: k.bt, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BalanceType < out[j].BalanceType })
	return out, nil
}

func (m *MemStore) ListEntries(_ context.Context, userID uuid.UUID, bt string, limit int) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if e.UserID == userID && (bt == "" || e.BalanceType == bt) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) SumEntries(_ context.Context, userID uuid.UUID, bt string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, e := range m.entries {
		if e.UserID == userID && e.BalanceType == bt {
			sum = sum.Add(e.AmountBSK)
		}
	}
	return sum, nil
}

func (m *MemStore) GetBalance(_ context.Context, userID uuid.UUID, bt string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{userID, bt}], nil
}
