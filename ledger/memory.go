package ledger

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
)

// rollbackJournal is implemented by transactions that can undo in-memory
// writes, such as the fakes used in tests.
type rollbackJournal interface {
	OnRollback(fn func())
}

// MemoryRepository keeps balances in process memory. Writes made through a
// transaction that supports OnRollback are undone when it rolls back.
type MemoryRepository struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  []Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{balances: make(map[string]int64)}
}

func (m *MemoryRepository) Lock(_ context.Context, _ pgx.Tx, acct Account) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[acct.Key()], nil
}

func (m *MemoryRepository) SetBalance(_ context.Context, tx pgx.Tx, acct Account, balance int64) error {
	m.mu.Lock()
	key := acct.Key()
	prev, existed := m.balances[key]
	m.balances[key] = balance
	m.mu.Unlock()

	journal(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.balances[key] = prev
		} else {
			delete(m.balances, key)
		}
	})
	return nil
}

func (m *MemoryRepository) AppendEntry(_ context.Context, tx pgx.Tx, e Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()

	journal(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i := len(m.entries) - 1; i >= 0; i-- {
			if m.entries[i].ID == e.ID {
				m.entries = append(m.entries[:i], m.entries[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (m *MemoryRepository) Balance(_ context.Context, acct Account) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[acct.Key()], nil
}

func (m *MemoryRepository) EntriesForDispute(_ context.Context, disputeID int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, 8)
	for _, e := range m.entries {
		if e.DisputeID == disputeID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Entries returns every committed entry.
func (m *MemoryRepository) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Sum adds up every balance held in denom. It is zero whenever the ledger is
// consistent.
func (m *MemoryRepository) Sum(denom Denomination) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	suffix := ":" + string(denom)
	var total int64
	for k, v := range m.balances {
		if strings.HasSuffix(k, suffix) {
			total += v
		}
	}
	return total
}

func journal(tx pgx.Tx, fn func()) {
	if j, ok := tx.(rollbackJournal); ok {
		j.OnRollback(fn)
	}
}
