package reputation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

type rollbackJournal interface {
	OnRollback(fn func())
}

// MemoryRepository keeps reputation state in process memory. Writes made
// through a transaction that supports OnRollback are undone on rollback.
type MemoryRepository struct {
	mu     sync.Mutex
	pairs  map[string]time.Time
	scores map[string]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		pairs:  make(map[string]time.Time),
		scores: make(map[string]int64),
	}
}

func (m *MemoryRepository) LastDispute(_ context.Context, _ pgx.Tx, pair Pair) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.pairs[pair.Key()]
	return at, ok, nil
}

func (m *MemoryRepository) RecordDispute(_ context.Context, tx pgx.Tx, pair Pair, at time.Time) error {
	key := pair.Key()
	m.mu.Lock()
	prev, existed := m.pairs[key]
	if !existed || at.After(prev) {
		m.pairs[key] = at
	}
	m.mu.Unlock()

	journal(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.pairs[key] = prev
		} else {
			delete(m.pairs, key)
		}
	})
	return nil
}

func (m *MemoryRepository) ScoreForUpdate(ctx context.Context, _ pgx.Tx, participant string) (int64, error) {
	return m.Score(ctx, participant)
}

func (m *MemoryRepository) SetScore(_ context.Context, tx pgx.Tx, participant string, score int64, _ time.Time) error {
	m.mu.Lock()
	prev, existed := m.scores[participant]
	m.scores[participant] = score
	m.mu.Unlock()

	journal(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.scores[participant] = prev
		} else {
			delete(m.scores, participant)
		}
	})
	return nil
}

func (m *MemoryRepository) Score(_ context.Context, participant string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scores[participant], nil
}

func (m *MemoryRepository) DecayAll(ctx context.Context, tx pgx.Tx, points int64, at time.Time) ([]ScoreDelta, error) {
	m.mu.Lock()
	var out []ScoreDelta
	for p, s := range m.scores {
		if s <= 0 {
			continue
		}
		out = append(out, ScoreDelta{Participant: p, Before: s, After: max(s-points, 0)})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	for _, d := range out {
		if err := m.SetScore(ctx, tx, d.Participant, d.After, at); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func journal(tx pgx.Tx, fn func()) {
	if j, ok := tx.(rollbackJournal); ok {
		j.OnRollback(fn)
	}
}
