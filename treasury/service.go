// Package treasury runs the subsidy pool that helps counterparties match a
// stake they could not otherwise afford.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"stakecourt/dispute"
	"stakecourt/fault"
	"stakecourt/ledger"
)

var (
	ErrInvalidAmount        = fault.New(fault.Validation, "treasury: amount must be positive")
	ErrInvalidConfig        = fault.New(fault.Validation, "treasury: invalid configuration")
	ErrAlreadyGranted       = fault.New(fault.Validation, "treasury: dispute already subsidised")
	ErrDisputeClosed        = fault.New(fault.Validation, "treasury: dispute resolved or already staked")
	ErrNotCaller            = fault.New(fault.Authorization, "treasury: caller must be the participant")
	ErrNotCounterparty      = fault.New(fault.Authorization, "treasury: participant is not the dispute counterparty")
	ErrBlocked              = fault.New(fault.Economic, "treasury: harassment score at or above block threshold")
	ErrCapExhausted         = fault.New(fault.Economic, "treasury: rolling allowance exhausted")
	ErrZeroSubsidy          = fault.New(fault.Economic, "treasury: subsidy rounds to zero")
	ErrInsufficientTreasury = fault.New(fault.Economic, "treasury: balance cannot cover subsidy")
	ErrUnknownDispute       = fault.New(fault.NotFound, "treasury: dispute not found")
	ErrDisputeUnavailable   = fault.New(fault.Unavailable, "treasury: dispute record unavailable")
	ErrScoreUnavailable     = fault.New(fault.Unavailable, "treasury: reputation unavailable")
)

// Event topics.
const (
	TopicDeposited      = "treasury.deposited"
	TopicSubsidyGranted = "treasury.subsidy_granted"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Usage is a participant's consumption in the current rolling window.
type Usage struct {
	Used        int64
	WindowStart time.Time
}

// Grant records the single subsidy a dispute may receive.
type Grant struct {
	DisputeID   int64
	Participant string
	Amount      int64
	GrantedAt   time.Time
}

type Repository interface {
	HasGrant(ctx context.Context, tx pgx.Tx, disputeID int64) (bool, error)
	// InsertGrant fails with ErrAlreadyGranted if the dispute has a grant.
	InsertGrant(ctx context.Context, tx pgx.Tx, g Grant) error
	// UsageForUpdate returns the participant's usage row, creating it if
	// needed, and holds its lock until tx ends.
	UsageForUpdate(ctx context.Context, tx pgx.Tx, participant string) (Usage, error)
	SaveUsage(ctx context.Context, tx pgx.Tx, participant string, u Usage) error
	Usage(ctx context.Context, participant string) (Usage, error)
}

type Ledger interface {
	Transfer(ctx context.Context, tx pgx.Tx, t ledger.Transfer) error
	Balance(ctx context.Context, acct ledger.Account) (int64, error)
	BalanceForUpdate(ctx context.Context, tx pgx.Tx, acct ledger.Account) (int64, error)
}

// DisputeReader loads the dispute a subsidy is requested for under its row
// lock, so the stake it is sized against cannot change before commit.
type DisputeReader interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (dispute.Dispute, error)
}

type ScoreReader interface {
	Score(ctx context.Context, participant string) (int64, error)
}

type EventWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Metrics interface {
	SubsidyGranted(amount int64)
	TreasuryDeposit(amount int64)
}

type nopMetrics struct{}

func (nopMetrics) SubsidyGranted(int64)  {}
func (nopMetrics) TreasuryDeposit(int64) {}

// SubsidyRequest asks for help matching a dispute stake.
type SubsidyRequest struct {
	Caller       string
	DisputeID    int64
	Participant  string
	AmountNeeded int64
}

// Status is the read-only view of the pool.
type Status struct {
	Denom        ledger.Denomination `json:"denom"`
	Balance      int64               `json:"balance"`
	EffectiveMax int64               `json:"effective_max_per_participant"`
	Config       Config              `json:"config"`
}

type Engine struct {
	pool     TxBeginner
	repo     Repository
	ledger   Ledger
	disputes DisputeReader
	scores   ScoreReader
	events   EventWriter
	cfg      Config
	now      func() time.Time
	log      *slog.Logger
	metrics  Metrics
}

func NewEngine(pool TxBeginner, repo Repository, l Ledger, disputes DisputeReader, scores ScoreReader, events EventWriter, cfg Config) *Engine {
	return &Engine{
		pool:     pool,
		repo:     repo,
		ledger:   l,
		disputes: disputes,
		scores:   scores,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:  nopMetrics{},
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) WithLogger(log *slog.Logger) *Engine {
	if log != nil {
		e.log = log
	}
	return e
}

func (e *Engine) WithMetrics(m Metrics) *Engine {
	if m != nil {
		e.metrics = m
	}
	return e
}

// Deposit moves amount from a participant's free balance into the pool.
func (e *Engine) Deposit(ctx context.Context, from string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("treasury: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.ledger.Transfer(ctx, tx, ledger.Transfer{
		From:   ledger.Participant(from, e.cfg.Denom),
		To:     ledger.Treasury(e.cfg.Denom),
		Amount: amount,
		Reason: ledger.ReasonTreasuryDeposit,
	}); err != nil {
		return err
	}
	if err := e.events.Enqueue(ctx, tx, TopicDeposited, map[string]any{
		"from":   from,
		"amount": amount,
	}); err != nil {
		return fmt.Errorf("treasury: enqueue deposit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("treasury: commit deposit: %w", err)
	}
	e.metrics.TreasuryDeposit(amount)
	e.log.InfoContext(ctx, "treasury deposit", "from", from, "amount", amount)
	return nil
}

// RequestSubsidy earmarks treasury value towards the counterparty stake of
// one dispute. The grant is never more than the stake still required and it
// lands in the dispute's subsidy account, which only DepositStake can spend.
// Every check fails closed: an unreadable dispute or score rejects the
// request.
func (e *Engine) RequestSubsidy(ctx context.Context, req SubsidyRequest) (Grant, error) {
	if req.Participant == "" || req.Caller != req.Participant {
		return Grant{}, ErrNotCaller
	}
	if req.AmountNeeded <= 0 {
		return Grant{}, ErrInvalidAmount
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Grant{}, fmt.Errorf("treasury: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock order: dispute row, usage row, ledger accounts. DepositStake and
	// resolution take the dispute row first as well.
	d, err := e.disputes.GetForUpdate(ctx, tx, req.DisputeID)
	switch {
	case errors.Is(err, dispute.ErrNotFound):
		return Grant{}, ErrUnknownDispute
	case err != nil:
		return Grant{}, fmt.Errorf("%w: %v", ErrDisputeUnavailable, err)
	}
	if d.Counterparty != req.Participant {
		return Grant{}, ErrNotCounterparty
	}
	if d.Resolved || d.CounterpartyStake > 0 {
		return Grant{}, ErrDisputeClosed
	}

	score, err := e.scores.Score(ctx, req.Participant)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrScoreUnavailable, err)
	}
	if score >= e.cfg.BlockThreshold {
		return Grant{}, ErrBlocked
	}

	granted, err := e.repo.HasGrant(ctx, tx, req.DisputeID)
	if err != nil {
		return Grant{}, fmt.Errorf("treasury: check grant: %w", err)
	}
	if granted {
		return Grant{}, ErrAlreadyGranted
	}

	now := e.now().UTC()
	usage, err := e.repo.UsageForUpdate(ctx, tx, req.Participant)
	if err != nil {
		return Grant{}, fmt.Errorf("treasury: load usage: %w", err)
	}
	if usage.WindowStart.IsZero() || now.Sub(usage.WindowStart) > e.cfg.Window {
		usage = Usage{WindowStart: now}
	}

	balance, err := e.ledger.BalanceForUpdate(ctx, tx, ledger.Treasury(e.cfg.Denom))
	if err != nil {
		return Grant{}, fmt.Errorf("treasury: read balance: %w", err)
	}
	remaining := e.cfg.EffectiveMax(balance) - usage.Used
	if remaining <= 0 {
		return Grant{}, ErrCapExhausted
	}
	required := d.InitiatorStake - d.CounterpartyStake
	base := min(req.AmountNeeded, required, e.cfg.MaxPerDispute, remaining)
	amount := mulDiv(base, e.cfg.Multiplier(score), 100)
	if amount <= 0 {
		return Grant{}, ErrZeroSubsidy
	}

	if err := e.ledger.Transfer(ctx, tx, ledger.Transfer{
		From:      ledger.Treasury(e.cfg.Denom),
		To:        ledger.Subsidy(req.DisputeID, e.cfg.Denom),
		Amount:    amount,
		Reason:    ledger.ReasonSubsidy,
		DisputeID: req.DisputeID,
	}); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return Grant{}, fmt.Errorf("%w: %v", ErrInsufficientTreasury, err)
		}
		return Grant{}, err
	}

	grant := Grant{
		DisputeID:   req.DisputeID,
		Participant: req.Participant,
		Amount:      amount,
		GrantedAt:   now,
	}
	if err := e.repo.InsertGrant(ctx, tx, grant); err != nil {
		return Grant{}, err
	}
	usage.Used += amount
	if err := e.repo.SaveUsage(ctx, tx, req.Participant, usage); err != nil {
		return Grant{}, fmt.Errorf("treasury: save usage: %w", err)
	}
	if err := e.events.Enqueue(ctx, tx, TopicSubsidyGranted, map[string]any{
		"dispute_id":     req.DisputeID,
		"participant":    req.Participant,
		"amount":         amount,
		"amount_needed":  req.AmountNeeded,
		"stake_required": required,
		"score":          score,
		"window_used":    usage.Used,
	}); err != nil {
		return Grant{}, fmt.Errorf("treasury: enqueue grant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Grant{}, fmt.Errorf("treasury: commit grant: %w", err)
	}
	e.metrics.SubsidyGranted(amount)
	e.log.InfoContext(ctx, "subsidy granted",
		"dispute_id", req.DisputeID, "participant", req.Participant, "amount", amount, "score", score)
	return grant, nil
}

// Status reports the pool balance and the allowance it currently supports.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	balance, err := e.ledger.Balance(ctx, ledger.Treasury(e.cfg.Denom))
	if err != nil {
		return Status{}, fmt.Errorf("treasury: read balance: %w", err)
	}
	return Status{
		Denom:        e.cfg.Denom,
		Balance:      balance,
		EffectiveMax: e.cfg.EffectiveMax(balance),
		Config:       e.cfg,
	}, nil
}

// UsageOf returns the participant's usage as of now, applying a lapsed
// window without writing it back.
func (e *Engine) UsageOf(ctx context.Context, participant string) (Usage, error) {
	u, err := e.repo.Usage(ctx, participant)
	if err != nil {
		return Usage{}, fmt.Errorf("treasury: usage: %w", err)
	}
	if !u.WindowStart.IsZero() && e.now().UTC().Sub(u.WindowStart) > e.cfg.Window {
		return Usage{}, nil
	}
	return u, nil
}
