// Package ledger moves fungible value between custody accounts.
//
// Every Transfer runs inside a transaction supplied by the caller, so the
// state change that authorises a movement and the movement itself commit or
// roll back together.
package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stakecourt/fault"
)

var (
	ErrInvalidAmount        = fault.New(fault.Validation, "ledger: amount must be positive")
	ErrInvalidAccount       = fault.New(fault.Validation, "ledger: account owner required")
	ErrSameAccount          = fault.New(fault.Validation, "ledger: source and destination are the same account")
	ErrDenominationMismatch = fault.New(fault.Validation, "ledger: denomination mismatch")
	ErrBurnIrreversible     = fault.New(fault.Validation, "ledger: burned value cannot move")
	ErrInsufficientFunds    = fault.New(fault.Economic, "ledger: insufficient funds")
	ErrBalanceOverflow      = fault.New(fault.Economic, "ledger: balance overflow")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository persists balances and entries.
type Repository interface {
	// Lock returns the balance of acct, creating a zero balance if needed,
	// and holds a row lock on it until tx ends.
	Lock(ctx context.Context, tx pgx.Tx, acct Account) (int64, error)
	SetBalance(ctx context.Context, tx pgx.Tx, acct Account, balance int64) error
	AppendEntry(ctx context.Context, tx pgx.Tx, entry Entry) error
	Balance(ctx context.Context, acct Account) (int64, error)
	EntriesForDispute(ctx context.Context, disputeID int64) ([]Entry, error)
}

// Ledger applies transfers.
type Ledger struct {
	pool  TxBeginner
	repo  Repository
	newID func() string
	now   func() time.Time
}

// New builds a Ledger. pool is only used by the self-contained Fund and
// Withdraw operations.
func New(pool TxBeginner, repo Repository) *Ledger {
	return &Ledger{
		pool:  pool,
		repo:  repo,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Transfer debits t.From and credits t.To inside tx.
func (l *Ledger) Transfer(ctx context.Context, tx pgx.Tx, t Transfer) error {
	if err := validate(t); err != nil {
		return err
	}

	// Lock in key order so opposing transfers cannot deadlock.
	first, second := t.From, t.To
	if second.Key() < first.Key() {
		first, second = second, first
	}
	firstBal, err := l.repo.Lock(ctx, tx, first)
	if err != nil {
		return fmt.Errorf("ledger: lock %s: %w", first, err)
	}
	secondBal, err := l.repo.Lock(ctx, tx, second)
	if err != nil {
		return fmt.Errorf("ledger: lock %s: %w", second, err)
	}
	fromBal, toBal := firstBal, secondBal
	if first != t.From {
		fromBal, toBal = secondBal, firstBal
	}

	if t.From.Kind != KindExternal && fromBal < t.Amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, t.From, fromBal, t.Amount)
	}
	if fromBal < math.MinInt64+t.Amount || toBal > math.MaxInt64-t.Amount {
		return ErrBalanceOverflow
	}

	if err := l.repo.SetBalance(ctx, tx, t.From, fromBal-t.Amount); err != nil {
		return fmt.Errorf("ledger: debit %s: %w", t.From, err)
	}
	if err := l.repo.SetBalance(ctx, tx, t.To, toBal+t.Amount); err != nil {
		return fmt.Errorf("ledger: credit %s: %w", t.To, err)
	}

	entry := Entry{
		ID:        l.newID(),
		From:      t.From.Key(),
		To:        t.To.Key(),
		Denom:     t.From.Denom,
		Amount:    t.Amount,
		Reason:    t.Reason,
		DisputeID: t.DisputeID,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.AppendEntry(ctx, tx, entry); err != nil {
		return fmt.Errorf("ledger: append entry: %w", err)
	}
	return nil
}

// Fund brings amount into custody for participant.
func (l *Ledger) Fund(ctx context.Context, participant string, denom Denomination, amount int64) error {
	return l.inTx(ctx, Transfer{
		From:   External(denom),
		To:     Participant(participant, denom),
		Amount: amount,
		Reason: ReasonFunding,
	})
}

// Withdraw releases amount from participant's free balance.
func (l *Ledger) Withdraw(ctx context.Context, participant string, denom Denomination, amount int64) error {
	return l.inTx(ctx, Transfer{
		From:   Participant(participant, denom),
		To:     External(denom),
		Amount: amount,
		Reason: ReasonWithdrawal,
	})
}

// Balance returns the committed balance of acct.
func (l *Ledger) Balance(ctx context.Context, acct Account) (int64, error) {
	return l.repo.Balance(ctx, acct)
}

// BalanceForUpdate returns the balance of acct inside tx and holds its row
// lock until tx ends, so a read that sizes a later Transfer stays valid.
func (l *Ledger) BalanceForUpdate(ctx context.Context, tx pgx.Tx, acct Account) (int64, error) {
	bal, err := l.repo.Lock(ctx, tx, acct)
	if err != nil {
		return 0, fmt.Errorf("ledger: lock %s: %w", acct, err)
	}
	return bal, nil
}

// DisputeEntries lists every movement tagged with disputeID.
func (l *Ledger) DisputeEntries(ctx context.Context, disputeID int64) ([]Entry, error) {
	return l.repo.EntriesForDispute(ctx, disputeID)
}

func (l *Ledger) inTx(ctx context.Context, t Transfer) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := l.Transfer(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit tx: %w", err)
	}
	return nil
}

func validate(t Transfer) error {
	if t.Amount <= 0 {
		return ErrInvalidAmount
	}
	if t.From.Owner == "" || t.To.Owner == "" || t.From.Denom == "" {
		return ErrInvalidAccount
	}
	if t.From.Denom != t.To.Denom {
		return fmt.Errorf("%w: %s -> %s", ErrDenominationMismatch, t.From.Denom, t.To.Denom)
	}
	if t.From.Key() == t.To.Key() {
		return ErrSameAccount
	}
	if t.From.Kind == KindBurn {
		return ErrBurnIrreversible
	}
	return nil
}
