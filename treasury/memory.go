package treasury

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
)

type rollbackJournal interface {
	OnRollback(fn func())
}

// MemoryRepository keeps grants and usage in process memory. Writes made
// through a transaction that supports OnRollback are undone on rollback.
type MemoryRepository struct {
	mu     sync.Mutex
	grants map[int64]Grant
	usage  map[string]Usage
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		grants: make(map[int64]Grant),
		usage:  make(map[string]Usage),
	}
}

func (m *MemoryRepository) HasGrant(_ context.Context, _ pgx.Tx, disputeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.grants[disputeID]
	return ok, nil
}

func (m *MemoryRepository) InsertGrant(_ context.Context, tx pgx.Tx, g Grant) error {
	m.mu.Lock()
	if _, ok := m.grants[g.DisputeID]; ok {
		m.mu.Unlock()
		return ErrAlreadyGranted
	}
	m.grants[g.DisputeID] = g
	m.mu.Unlock()

	journal(tx, func() {
		m.mu.Lock()
		delete(m.grants, g.DisputeID)
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryRepository) UsageForUpdate(ctx context.Context, _ pgx.Tx, participant string) (Usage, error) {
	return m.Usage(ctx, participant)
}

func (m *MemoryRepository) SaveUsage(_ context.Context, tx pgx.Tx, participant string, u Usage) error {
	m.mu.Lock()
	prev, existed := m.usage[participant]
	m.usage[participant] = u
	m.mu.Unlock()

	journal(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.usage[participant] = prev
		} else {
			delete(m.usage, participant)
		}
	})
	return nil
}

func (m *MemoryRepository) Usage(_ context.Context, participant string) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[participant], nil
}

// Grants returns a snapshot of every grant.
func (m *MemoryRepository) Grants() []Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Grant, 0, len(m.grants))
	for _, g := range m.grants {
		out = append(out, g)
	}
	return out
}

func journal(tx pgx.Tx, fn func()) {
	if j, ok := tx.(rollbackJournal); ok {
		j.OnRollback(fn)
	}
}
