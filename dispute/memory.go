package dispute

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
)

type rollbackJournal interface {
	OnRollback(fn func())
}

// MemoryRepository keeps disputes in process memory. Writes made through a
// transaction that supports OnRollback are undone when it rolls back.
type MemoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]Dispute
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[int64]Dispute)}
}

func (m *MemoryRepository) Create(_ context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	m.mu.Lock()
	m.nextID++
	d.ID = m.nextID
	d.Outcome = OutcomePending
	m.records[d.ID] = clone(d)
	m.mu.Unlock()

	journal(tx, func() {
		m.mu.Lock()
		delete(m.records, d.ID)
		m.mu.Unlock()
	})
	return clone(d), nil
}

func (m *MemoryRepository) GetForUpdate(ctx context.Context, _ pgx.Tx, id int64) (Dispute, error) {
	return m.Get(ctx, id)
}

func (m *MemoryRepository) Update(_ context.Context, tx pgx.Tx, d Dispute) error {
	m.mu.Lock()
	prev, ok := m.records[d.ID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if prev.Resolved {
		m.mu.Unlock()
		return ErrResolved
	}
	m.records[d.ID] = clone(d)
	m.mu.Unlock()

	journal(tx, func() {
		m.mu.Lock()
		m.records[d.ID] = prev
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id int64) (Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.records[id]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	return clone(d), nil
}

func (m *MemoryRepository) ListByParticipant(_ context.Context, participant string) ([]Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Dispute, 0, 8)
	for _, d := range m.records {
		if d.IsParty(participant) {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// All returns every record ordered by id.
func (m *MemoryRepository) All() []Dispute {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Dispute, 0, len(m.records))
	for _, d := range m.records {
		out = append(out, clone(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clone(d Dispute) Dispute {
	if d.CurrentProposal != nil {
		d.CurrentProposal = append([]byte(nil), d.CurrentProposal...)
	}
	if d.Settlement != nil {
		st := *d.Settlement
		d.Settlement = &st
	}
	if d.ResolvedAt != nil {
		at := *d.ResolvedAt
		d.ResolvedAt = &at
	}
	return d
}

func journal(tx pgx.Tx, fn func()) {
	if j, ok := tx.(rollbackJournal); ok {
		j.OnRollback(fn)
	}
}
