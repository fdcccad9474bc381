// Package fakes provides an in-memory stand-in for pgxpool.Pool so service
// logic can be exercised without PostgreSQL.
//
// Begin hands out a Tx and holds a pool-wide lock until the Tx is committed
// or rolled back, which gives tests the same serialisation PostgreSQL row
// locks give the real repositories. Fake repositories register undo
// functions on the Tx; Rollback replays them newest first.
package fakes

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool implements the TxBeginner interfaces used across the services.
type Pool struct {
	mu sync.Mutex

	statsMu   sync.Mutex
	begins    int
	commits   int
	rollbacks int

	// BeginErr, when set, is returned by Begin.
	BeginErr error
	// CommitErr, when set, makes Commit roll back and fail.
	CommitErr error
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{}
}

// Begin opens a serialised transaction.
func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	p.mu.Lock()
	p.statsMu.Lock()
	p.begins++
	p.statsMu.Unlock()
	return &Tx{pool: p}, nil
}

// Stats reports how many transactions were begun, committed and rolled back.
func (p *Pool) Stats() (begins, commits, rollbacks int) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.begins, p.commits, p.rollbacks
}

func (p *Pool) finish(committed bool) {
	p.statsMu.Lock()
	if committed {
		p.commits++
	} else {
		p.rollbacks++
	}
	p.statsMu.Unlock()
	p.mu.Unlock()
}

// Tx is a fake pgx.Tx. Only Commit and Rollback are functional.
type Tx struct {
	pool *Pool
	undo []func()
	done bool
}

// OnRollback registers fn to run if the transaction does not commit.
func (t *Tx) OnRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

// Journal registers fn on tx when tx is a *Tx. Fake repositories call it
// after every write so rollbacks restore prior state.
func Journal(tx pgx.Tx, fn func()) {
	if ft, ok := tx.(*Tx); ok {
		ft.OnRollback(fn)
	}
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakes: nested transactions not supported")
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	if err := t.pool.CommitErr; err != nil {
		t.replay()
		t.pool.finish(false)
		return err
	}
	t.undo = nil
	t.pool.finish(true)
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.replay()
	t.pool.finish(false)
	return nil
}

func (t *Tx) replay() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}
