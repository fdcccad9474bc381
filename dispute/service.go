package dispute

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"stakecourt/escrow"
	"stakecourt/ledger"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository persists dispute records.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error)
	// GetForUpdate loads a record and holds its row lock until tx ends.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Dispute, error)
	// Update writes every mutable field. It fails with ErrResolved when the
	// stored record is already resolved.
	Update(ctx context.Context, tx pgx.Tx, d Dispute) error
	Get(ctx context.Context, id int64) (Dispute, error)
	ListByParticipant(ctx context.Context, participant string) ([]Dispute, error)
}

// Ledger moves value inside the caller's transaction.
type Ledger interface {
	Transfer(ctx context.Context, tx pgx.Tx, t ledger.Transfer) error
	BalanceForUpdate(ctx context.Context, tx pgx.Tx, acct ledger.Account) (int64, error)
}

// CooldownStore tracks when a pair of participants last disputed.
type CooldownStore interface {
	LastDispute(ctx context.Context, tx pgx.Tx, a, b string) (time.Time, bool, error)
	RecordDispute(ctx context.Context, tx pgx.Tx, a, b string, at time.Time) error
}

// AssetRegistry freezes and licenses the disputed asset.
type AssetRegistry interface {
	Freeze(ctx context.Context, tx pgx.Tx, disputeID int64, owner string) error
	Unfreeze(ctx context.Context, tx pgx.Tx, disputeID int64, outcome AssetOutcome) error
	ApplyFallbackLicense(ctx context.Context, tx pgx.Tx, disputeID int64, terms FallbackTerms) error
}

// ProposalVerifier checks a proposer credential over (disputeID, hash of
// proposal) and returns the proposer identity.
type ProposalVerifier interface {
	Verify(ctx context.Context, credential string, disputeID int64, proposal []byte) (string, error)
}

// EventWriter enqueues an event in the same transaction as the change it
// describes.
type EventWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Metrics observes committed transitions.
type Metrics interface {
	DisputeInitiated(escalated bool)
	DisputeStaked()
	CounterProposed(fee int64)
	DisputeResolved(outcome string, burned int64)
}

type nopMetrics struct{}

func (nopMetrics) DisputeInitiated(bool)         {}
func (nopMetrics) DisputeStaked()                {}
func (nopMetrics) CounterProposed(int64)         {}
func (nopMetrics) DisputeResolved(string, int64) {}

// Deps are the collaborators of the state machine.
type Deps struct {
	Repo      Repository
	Ledger    Ledger
	Cooldowns CooldownStore
	Registry  AssetRegistry
	Verifier  ProposalVerifier
	Events    EventWriter
}

// Config holds the protocol constants the state machine enforces.
type Config struct {
	Denom             ledger.Denomination
	StakeWindow       time.Duration
	ResolutionTimeout time.Duration
	CounterExtension  time.Duration
	Policy            escrow.Policy
}

// DefaultConfig returns the reference protocol constants.
func DefaultConfig() Config {
	return Config{
		Denom:             "STK",
		StakeWindow:       3 * 24 * time.Hour,
		ResolutionTimeout: 7 * 24 * time.Hour,
		CounterExtension:  24 * time.Hour,
		Policy:            escrow.DefaultPolicy(),
	}
}

// Service drives the dispute lifecycle. Every operation runs in one
// transaction holding the dispute's row lock, so the state change, the value
// movements it authorises and the events it emits commit together.
type Service struct {
	pool    TxBeginner
	deps    Deps
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
	metrics Metrics
}

func NewService(pool TxBeginner, deps Deps, cfg Config) *Service {
	return &Service{
		pool:    pool,
		deps:    deps,
		cfg:     cfg,
		now:     time.Now,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: nopMetrics{},
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(log *slog.Logger) *Service {
	if log != nil {
		s.log = log
	}
	return s
}

func (s *Service) WithMetrics(m Metrics) *Service {
	if m != nil {
		s.metrics = m
	}
	return s
}

// Config returns the constants the service was built with.
func (s *Service) Config() Config {
	return s.cfg
}

// Initiate opens a dispute and locks the initiator's stake, escalated when the
// pair disputed within the cooldown period.
func (s *Service) Initiate(ctx context.Context, p InitiateParams) (Dispute, error) {
	if p.Initiator == "" || p.Counterparty == "" {
		return Dispute{}, ErrMissingParty
	}
	if p.Initiator == p.Counterparty {
		return Dispute{}, ErrSelfDispute
	}
	if p.Stake <= 0 {
		return Dispute{}, ErrZeroStake
	}
	if p.EvidenceRef == "" {
		return Dispute{}, ErrMissingEvidence
	}
	if err := validateTerms(p.FallbackTerms); err != nil {
		return Dispute{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now().UTC()
	last, seen, err := s.deps.Cooldowns.LastDispute(ctx, tx, p.Initiator, p.Counterparty)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: cooldown lookup: %w", err)
	}
	required, err := s.cfg.Policy.RequiredStake(p.Stake, last, seen, now)
	if err != nil {
		return Dispute{}, err
	}

	d, err := s.deps.Repo.Create(ctx, tx, Dispute{
		Initiator:      p.Initiator,
		Counterparty:   p.Counterparty,
		InitiatorStake: required,
		StartTime:      now,
		Deadline:       now.Add(s.cfg.ResolutionTimeout),
		EvidenceRef:    p.EvidenceRef,
		Outcome:        OutcomePending,
		FallbackTerms:  p.FallbackTerms,
		UpdatedAt:      now,
	})
	if err != nil {
		return Dispute{}, err
	}

	if err := s.deps.Ledger.Transfer(ctx, tx, ledger.Transfer{
		From:      ledger.Participant(p.Initiator, s.cfg.Denom),
		To:        ledger.Escrow(d.ID, s.cfg.Denom),
		Amount:    required,
		Reason:    ledger.ReasonStake,
		DisputeID: d.ID,
	}); err != nil {
		return Dispute{}, err
	}
	if err := s.deps.Registry.Freeze(ctx, tx, d.ID, p.Counterparty); err != nil {
		return Dispute{}, fmt.Errorf("dispute: freeze asset: %w", err)
	}
	if err := s.deps.Cooldowns.RecordDispute(ctx, tx, p.Initiator, p.Counterparty, now); err != nil {
		return Dispute{}, fmt.Errorf("dispute: record cooldown: %w", err)
	}

	escalated := required != p.Stake
	if err := s.emit(ctx, tx, TopicInitiated, d, map[string]any{
		"initiator":       d.Initiator,
		"counterparty":    d.Counterparty,
		"requested_stake": p.Stake,
		"stake":           required,
		"escalated":       escalated,
		"evidence_ref":    d.EvidenceRef,
		"deadline":        d.Deadline,
	}); err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit initiate: %w", err)
	}
	s.metrics.DisputeInitiated(escalated)
	s.log.InfoContext(ctx, "dispute initiated",
		"dispute_id", d.ID, "initiator", d.Initiator, "counterparty", d.Counterparty,
		"stake", required, "escalated", escalated)
	return d, nil
}

// DepositStake matches the initiator's stake on behalf of the counterparty.
// Any treasury earmark granted to the dispute is spent first and only the
// rest comes from the counterparty's free balance.
func (s *Service) DepositStake(ctx context.Context, id int64, caller string) (Dispute, error) {
	return s.mutate(ctx, id, "deposit stake", func(tx pgx.Tx, d *Dispute, now time.Time) error {
		if caller != d.Counterparty {
			return ErrNotCounterparty
		}
		if d.Resolved {
			return ErrResolved
		}
		if d.CounterpartyStake > 0 {
			return ErrAlreadyStaked
		}
		if !d.StakeWindowOpen(now, s.cfg.StakeWindow) {
			return ErrStakeWindowClosed
		}

		earmark, err := s.deps.Ledger.BalanceForUpdate(ctx, tx, ledger.Subsidy(d.ID, s.cfg.Denom))
		if err != nil {
			return err
		}
		subsidy := min(earmark, d.InitiatorStake)
		moves := []ledger.Transfer{
			{From: ledger.Subsidy(d.ID, s.cfg.Denom), Amount: subsidy, Reason: ledger.ReasonSubsidy},
			{From: ledger.Participant(caller, s.cfg.Denom), Amount: d.InitiatorStake - subsidy, Reason: ledger.ReasonStake},
		}
		for _, m := range moves {
			if m.Amount == 0 {
				continue
			}
			m.To = ledger.Escrow(d.ID, s.cfg.Denom)
			m.DisputeID = d.ID
			if err := s.deps.Ledger.Transfer(ctx, tx, m); err != nil {
				return err
			}
		}
		d.CounterpartyStake = d.InitiatorStake
		d.CounterpartySubsidy = subsidy
		if err := s.deps.Repo.Update(ctx, tx, *d); err != nil {
			return err
		}
		return s.emit(ctx, tx, TopicStaked, *d, map[string]any{
			"counterparty": caller,
			"stake":        d.CounterpartyStake,
			"subsidy":      d.CounterpartySubsidy,
		})
	}, func(d Dispute) {
		s.metrics.DisputeStaked()
		s.log.InfoContext(ctx, "dispute staked",
			"dispute_id", d.ID, "counterparty", caller, "stake", d.CounterpartyStake, "subsidy", d.CounterpartySubsidy)
	})
}

// SubmitProposal replaces the proposal under discussion. The credential must
// verify over the dispute id and the proposal hash.
func (s *Service) SubmitProposal(ctx context.Context, id int64, credential string, proposal []byte) (Dispute, error) {
	if credential == "" {
		return Dispute{}, ErrBadCredential
	}
	if len(proposal) == 0 {
		return Dispute{}, ErrEmptyProposal
	}
	proposer, err := s.deps.Verifier.Verify(ctx, credential, id, proposal)
	if err != nil {
		return Dispute{}, fmt.Errorf("%w: %v", ErrBadCredential, err)
	}

	return s.mutate(ctx, id, "submit proposal", func(tx pgx.Tx, d *Dispute, now time.Time) error {
		if d.Resolved {
			return ErrResolved
		}
		if d.CounterpartyStake == 0 {
			return ErrNotActive
		}
		if d.TimeoutDue(now) {
			return ErrDeadlinePassed
		}

		d.CurrentProposal = append([]byte(nil), proposal...)
		d.InitiatorAccepted = false
		d.CounterpartyAccepted = false
		if err := s.deps.Repo.Update(ctx, tx, *d); err != nil {
			return err
		}
		return s.emit(ctx, tx, TopicProposed, *d, map[string]any{
			"proposer":      proposer,
			"proposal_hash": ProposalHash(proposal),
		})
	}, func(d Dispute) {
		s.log.InfoContext(ctx, "proposal submitted", "dispute_id", d.ID, "proposer", proposer)
	})
}

// AcceptProposal records the caller's consent to the current proposal. The
// second consent resolves the dispute and refunds both stakes.
func (s *Service) AcceptProposal(ctx context.Context, id int64, caller string) (Dispute, error) {
	return s.mutate(ctx, id, "accept proposal", func(tx pgx.Tx, d *Dispute, now time.Time) error {
		if !d.IsParty(caller) {
			return ErrNotParty
		}
		if d.Resolved {
			return ErrResolved
		}
		if d.TimeoutDue(now) {
			return ErrDeadlinePassed
		}
		if len(d.CurrentProposal) == 0 {
			return ErrNoProposal
		}
		if caller == d.Initiator {
			if d.InitiatorAccepted {
				return ErrAlreadyAccepted
			}
			d.InitiatorAccepted = true
		} else {
			if d.CounterpartyAccepted {
				return ErrAlreadyAccepted
			}
			d.CounterpartyAccepted = true
		}

		if !(d.InitiatorAccepted && d.CounterpartyAccepted) {
			if err := s.deps.Repo.Update(ctx, tx, *d); err != nil {
				return err
			}
			return s.emit(ctx, tx, TopicAccepted, *d, map[string]any{"party": caller})
		}

		settlement := s.cfg.Policy.AcceptedSettlement(d.InitiatorStake, d.CounterpartyStake)
		if err := s.resolve(ctx, tx, d, OutcomeAcceptedProposal, settlement, now); err != nil {
			return err
		}
		if err := s.deps.Registry.Unfreeze(ctx, tx, d.ID, AssetOutcome{
			Outcome:    OutcomeAcceptedProposal,
			Terms:      d.CurrentProposal,
			ResolvedAt: now,
		}); err != nil {
			return fmt.Errorf("dispute: unfreeze asset: %w", err)
		}
		if err := s.emit(ctx, tx, TopicAccepted, *d, map[string]any{"party": caller}); err != nil {
			return err
		}
		return s.emitResolved(ctx, tx, *d, caller)
	}, func(d Dispute) {
		s.log.InfoContext(ctx, "proposal accepted", "dispute_id", d.ID, "party", caller, "resolved", d.Resolved)
		if d.Resolved {
			s.metrics.DisputeResolved(string(d.Outcome), 0)
		}
	})
}

// CounterPropose replaces the evidence under discussion for an escalating
// fee. The fee is burned and any excess is swept to the treasury.
func (s *Service) CounterPropose(ctx context.Context, p CounterParams) (Dispute, error) {
	if p.EvidenceRef == "" {
		return Dispute{}, ErrMissingEvidence
	}
	var charge escrow.CounterCharge

	return s.mutate(ctx, p.DisputeID, "counter propose", func(tx pgx.Tx, d *Dispute, now time.Time) error {
		if !d.IsParty(p.Caller) {
			return ErrNotParty
		}
		if d.Resolved {
			return ErrResolved
		}
		if d.CounterpartyStake == 0 {
			return ErrNotActive
		}
		if d.TimeoutDue(now) {
			return ErrDeadlinePassed
		}
		if d.CounterCount >= s.cfg.Policy.MaxCounters {
			return ErrCounterLimit
		}

		var err error
		charge, err = s.cfg.Policy.ChargeCounter(d.CounterCount, p.FeePaid)
		if err != nil {
			return err
		}
		if err := s.deps.Ledger.Transfer(ctx, tx, ledger.Transfer{
			From:      ledger.Participant(p.Caller, s.cfg.Denom),
			To:        ledger.Burn(s.cfg.Denom),
			Amount:    charge.Burn,
			Reason:    ledger.ReasonCounterFee,
			DisputeID: d.ID,
		}); err != nil {
			return err
		}
		if charge.Sweep > 0 {
			if err := s.deps.Ledger.Transfer(ctx, tx, ledger.Transfer{
				From:      ledger.Participant(p.Caller, s.cfg.Denom),
				To:        ledger.Treasury(s.cfg.Denom),
				Amount:    charge.Sweep,
				Reason:    ledger.ReasonFeeSweep,
				DisputeID: d.ID,
			}); err != nil {
				return err
			}
		}

		d.CounterCount++
		d.EvidenceRef = p.EvidenceRef
		d.CurrentProposal = nil
		d.InitiatorAccepted = false
		d.CounterpartyAccepted = false
		d.Deadline = d.Deadline.Add(s.cfg.CounterExtension)
		d.FeesBurned += charge.Burn
		d.FeesSwept += charge.Sweep
		if err := s.deps.Repo.Update(ctx, tx, *d); err != nil {
			return err
		}
		return s.emit(ctx, tx, TopicCountered, *d, map[string]any{
			"party":         p.Caller,
			"counter_count": d.CounterCount,
			"fee_required":  charge.Required,
			"fee_burned":    charge.Burn,
			"fee_swept":     charge.Sweep,
			"evidence_ref":  d.EvidenceRef,
			"deadline":      d.Deadline,
		})
	}, func(d Dispute) {
		s.metrics.CounterProposed(charge.Paid)
		s.log.InfoContext(ctx, "counter proposed",
			"dispute_id", d.ID, "party", p.Caller, "counter_count", d.CounterCount,
			"fee_burned", charge.Burn, "fee_swept", charge.Sweep)
	})
}

// EnforceTimeout resolves a dispute whose deadline has passed. Anyone may
// call it; calling early fails with ErrNotDue.
//
// When the counterparty never staked the initiator's stake is returned with
// an incentive paid from the treasury. If the treasury cannot pay the whole
// incentive the call fails and nothing changes.
func (s *Service) EnforceTimeout(ctx context.Context, id int64, caller string) (Dispute, error) {
	var burned int64

	return s.mutate(ctx, id, "enforce timeout", func(tx pgx.Tx, d *Dispute, now time.Time) error {
		if d.Resolved {
			return ErrResolved
		}
		if !d.TimeoutDue(now) {
			return ErrNotDue
		}

		var (
			outcome    Outcome
			settlement escrow.Settlement
			err        error
		)
		if d.CounterpartyStake == 0 {
			outcome = OutcomeDefaultLicense
			settlement, err = s.cfg.Policy.DefaultSettlement(d.InitiatorStake)
		} else {
			outcome = OutcomeTimeoutWithBurn
			settlement, err = s.cfg.Policy.TimeoutSettlement(d.InitiatorStake, d.CounterpartyStake)
		}
		if err != nil {
			return err
		}
		if err := s.resolve(ctx, tx, d, outcome, settlement, now); err != nil {
			return err
		}
		burned = settlement.Burned()

		if err := s.deps.Registry.ApplyFallbackLicense(ctx, tx, d.ID, d.FallbackTerms); err != nil {
			return fmt.Errorf("dispute: apply fallback license: %w", err)
		}
		if err := s.deps.Registry.Unfreeze(ctx, tx, d.ID, AssetOutcome{Outcome: outcome, ResolvedAt: now}); err != nil {
			return fmt.Errorf("dispute: unfreeze asset: %w", err)
		}
		return s.emitResolved(ctx, tx, *d, caller)
	}, func(d Dispute) {
		s.metrics.DisputeResolved(string(d.Outcome), burned)
		s.log.InfoContext(ctx, "timeout enforced",
			"dispute_id", d.ID, "caller", caller, "outcome", d.Outcome, "burned", burned)
	})
}

// Get returns one dispute.
func (s *Service) Get(ctx context.Context, id int64) (Dispute, error) {
	return s.deps.Repo.Get(ctx, id)
}

// GetForUpdate loads one dispute inside tx and holds its row lock until tx
// ends. Collaborators that size value against a dispute read it this way.
func (s *Service) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Dispute, error) {
	return s.deps.Repo.GetForUpdate(ctx, tx, id)
}

// List returns the disputes participant is a party to, newest first.
func (s *Service) List(ctx context.Context, participant string) ([]Dispute, error) {
	return s.deps.Repo.ListByParticipant(ctx, participant)
}

// StakeWindowOpen reports whether the counterparty can still stake. It is a
// pure function of the stored start time and the clock.
func (s *Service) StakeWindowOpen(ctx context.Context, id int64) (bool, error) {
	d, err := s.deps.Repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return !d.Resolved && d.CounterpartyStake == 0 && d.StakeWindowOpen(s.now().UTC(), s.cfg.StakeWindow), nil
}

// TimeoutDue reports whether EnforceTimeout would currently be accepted.
func (s *Service) TimeoutDue(ctx context.Context, id int64) (bool, error) {
	d, err := s.deps.Repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return !d.Resolved && d.TimeoutDue(s.now().UTC()), nil
}

// mutate loads the dispute under its row lock, applies fn and commits. after
// runs only once the transaction has committed.
func (s *Service) mutate(ctx context.Context, id int64, op string, fn func(tx pgx.Tx, d *Dispute, now time.Time) error, after func(Dispute)) (Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.deps.Repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Dispute{}, err
	}
	now := s.now().UTC()
	if err := fn(tx, &d, now); err != nil {
		return Dispute{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit %s: %w", op, err)
	}
	if after != nil {
		after(d)
	}
	return d, nil
}

// resolve sets the terminal guard and writes it before any value leaves
// escrow, then pays out the settlement. The subsidised share of the
// counterparty refund and any unspent earmark go back to the treasury.
func (s *Service) resolve(ctx context.Context, tx pgx.Tx, d *Dispute, outcome Outcome, st escrow.Settlement, now time.Time) error {
	st, err := st.ReturnSubsidy(d.CounterpartySubsidy, d.CounterpartyStake)
	if err != nil {
		return err
	}
	earmarkAcct := ledger.Subsidy(d.ID, s.cfg.Denom)
	if st.SubsidyReclaimed, err = s.deps.Ledger.BalanceForUpdate(ctx, tx, earmarkAcct); err != nil {
		return err
	}

	d.Resolved = true
	d.Outcome = outcome
	d.Settlement = &st
	d.ResolvedAt = &now
	if err := s.deps.Repo.Update(ctx, tx, *d); err != nil {
		return err
	}

	escrowAcct := ledger.Escrow(d.ID, s.cfg.Denom)
	moves := []ledger.Transfer{
		{From: escrowAcct, To: ledger.Participant(d.Initiator, s.cfg.Denom), Amount: st.InitiatorRefund, Reason: ledger.ReasonRefund},
		{From: escrowAcct, To: ledger.Participant(d.Counterparty, s.cfg.Denom), Amount: st.CounterpartyRefund, Reason: ledger.ReasonRefund},
		{From: escrowAcct, To: ledger.Treasury(s.cfg.Denom), Amount: st.SubsidyReturn, Reason: ledger.ReasonSubsidyReturn},
		{From: escrowAcct, To: ledger.Burn(s.cfg.Denom), Amount: st.Burned(), Reason: ledger.ReasonBurn},
		{From: earmarkAcct, To: ledger.Treasury(s.cfg.Denom), Amount: st.SubsidyReclaimed, Reason: ledger.ReasonSubsidyReturn},
		{From: ledger.Treasury(s.cfg.Denom), To: ledger.Participant(d.Initiator, s.cfg.Denom), Amount: st.Incentive, Reason: ledger.ReasonIncentive},
	}
	for _, m := range moves {
		if m.Amount == 0 {
			continue
		}
		m.DisputeID = d.ID
		if err := s.deps.Ledger.Transfer(ctx, tx, m); err != nil {
			if errors.Is(err, ledger.ErrInsufficientFunds) && m.Reason == ledger.ReasonIncentive {
				return fmt.Errorf("dispute: treasury cannot pay incentive of %d: %w", m.Amount, err)
			}
			return err
		}
	}
	return nil
}

func (s *Service) emitResolved(ctx context.Context, tx pgx.Tx, d Dispute, caller string) error {
	return s.emit(ctx, tx, TopicResolved, d, map[string]any{
		"outcome":     d.Outcome,
		"settlement":  d.Settlement,
		"resolved_by": caller,
		"resolved_at": d.ResolvedAt,
	})
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, topic string, d Dispute, payload map[string]any) error {
	payload["dispute_id"] = d.ID
	if err := s.deps.Events.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("dispute: enqueue %s: %w", topic, err)
	}
	return nil
}

// ProposalHash is the hex SHA-256 digest a proposer credential signs over.
func ProposalHash(proposal []byte) string {
	sum := sha256.Sum256(proposal)
	return hex.EncodeToString(sum[:])
}

func validateTerms(t FallbackTerms) error {
	if t.TermsRef == "" || t.Duration <= 0 || t.RoyaltyCapBps < 0 || t.RoyaltyCapBps > 10_000 {
		return ErrInvalidTerms
	}
	return nil
}
