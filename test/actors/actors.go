package actors

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakecourt/dispute"
	"stakecourt/escrow"
	"stakecourt/fault"
	"stakecourt/ledger"
	"stakecourt/oracle"
	"stakecourt/outbox"
	"stakecourt/registry"
	"stakecourt/reputation"
	"stakecourt/treasury"
)

const Denom ledger.Denomination = "STK"

// Stats counts what the actors saw. Rejections are expected under
// contention; Infra counts everything that was not a classified rejection.
type Stats struct {
	Committed atomic.Int64
	Rejected  atomic.Int64
	Infra     atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("committed=%d rejected=%d infra=%d", s.Committed.Load(), s.Rejected.Load(), s.Infra.Load())
}

func (s *Stats) record(err error) {
	switch {
	case err == nil:
		s.Committed.Add(1)
	case fault.KindOf(err) != fault.Unknown:
		s.Rejected.Add(1)
	default:
		s.Infra.Add(1)
	}
}

// World wires the real services over one pool with windows short enough for
// disputes to stake, counter and time out within a stress run.
type World struct {
	Pool         *pgxpool.Pool
	Ledger       *ledger.Ledger
	Disputes     *dispute.Service
	Treasury     *treasury.Engine
	Tracker      *reputation.Tracker
	Relay        *outbox.Relay
	Signer       *oracle.Signer
	Policy       escrow.Policy
	TreasuryCfg  treasury.Config
	Participants []string
	Stats        *Stats
}

// NewWorld builds the services. participants names the accounts the actors
// dispute between; Seed funds them.
func NewWorld(pool *pgxpool.Pool, participants []string) (*World, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := outbox.NewWriter()

	policy := escrow.DefaultPolicy()
	policy.CooldownPeriod = 2 * time.Second
	policy.CounterFeeBase = 10

	tcfg := treasury.DefaultConfig()
	tcfg.Denom = Denom
	tcfg.MaxPerDispute = 200
	tcfg.MaxPerParticipant = 1_000
	tcfg.Window = time.Minute

	book := ledger.New(pool, ledger.NewRepository(pool))
	tracker := reputation.NewTracker(pool, reputation.NewRepository(pool), events).WithLogger(log)
	disputes := dispute.NewService(pool, dispute.Deps{
		Repo:      dispute.NewRepository(pool),
		Ledger:    book,
		Cooldowns: tracker,
		Registry:  registry.NewOutbox(events),
		Verifier:  oracle.NewVerifier(map[string]ed25519.PublicKey{"stress": pub}),
		Events:    events,
	}, dispute.Config{
		Denom:             Denom,
		StakeWindow:       2 * time.Second,
		ResolutionTimeout: 3 * time.Second,
		CounterExtension:  500 * time.Millisecond,
		Policy:            policy,
	}).WithLogger(log)
	engine := treasury.NewEngine(pool, treasury.NewRepository(pool), book, disputes, tracker, events, tcfg).WithLogger(log)
	relay := outbox.NewRelay(outbox.NewStore(pool), outbox.NewLogPublisher(log), outbox.RelayConfig{
		Interval:    200 * time.Millisecond,
		BatchSize:   50,
		ClaimTTL:    5 * time.Second,
		MaxAttempts: 5,
	}, log)

	return &World{
		Pool:         pool,
		Ledger:       book,
		Disputes:     disputes,
		Treasury:     engine,
		Tracker:      tracker,
		Relay:        relay,
		Signer:       oracle.NewSigner("stress", priv),
		Policy:       policy,
		TreasuryCfg:  tcfg,
		Participants: participants,
		Stats:        &Stats{},
	}, nil
}

// Seed funds every participant and the treasury.
func (w *World) Seed(ctx context.Context, perParticipant, treasuryDeposit int64) error {
	for _, p := range w.Participants {
		if err := w.Ledger.Fund(ctx, p, Denom, perParticipant); err != nil {
			return fmt.Errorf("fund %s: %w", p, err)
		}
	}
	if len(w.Participants) == 0 || treasuryDeposit <= 0 {
		return nil
	}
	donor := w.Participants[0]
	if err := w.Ledger.Fund(ctx, donor, Denom, treasuryDeposit); err != nil {
		return fmt.Errorf("fund donor: %w", err)
	}
	return w.Treasury.Deposit(ctx, donor, treasuryDeposit)
}

func (w *World) pair() (string, string) {
	a := mrand.Intn(len(w.Participants))
	b := mrand.Intn(len(w.Participants) - 1)
	if b >= a {
		b++
	}
	return w.Participants[a], w.Participants[b]
}

// openDispute picks a random unresolved dispute, optionally only those whose
// counterparty has already staked.
func (w *World) openDispute(ctx context.Context, active bool) (dispute.Dispute, bool) {
	q := `SELECT id FROM disputes WHERE NOT resolved ORDER BY random() LIMIT 1`
	if active {
		q = `SELECT id FROM disputes WHERE NOT resolved AND counterparty_stake > 0 ORDER BY random() LIMIT 1`
	}
	var id int64
	if err := w.Pool.QueryRow(ctx, q).Scan(&id); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			w.Stats.record(err)
		}
		return dispute.Dispute{}, false
	}
	d, err := w.Disputes.Get(ctx, id)
	if err != nil {
		w.Stats.record(err)
		return dispute.Dispute{}, false
	}
	return d, true
}

func loop(ctx context.Context, stop <-chan struct{}, pause func() time.Duration, step func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		step()
		time.Sleep(pause())
	}
}

func jitter(base, spread int) func() time.Duration {
	return func() time.Duration {
		return time.Duration(base+mrand.Intn(spread)) * time.Millisecond
	}
}

// Initiator opens disputes between random pairs.
func Initiator(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(40, 60), func() {
		a, b := w.pair()
		_, err := w.Disputes.Initiate(ctx, dispute.InitiateParams{
			Initiator:    a,
			Counterparty: b,
			Stake:        int64(50 + mrand.Intn(150)),
			EvidenceRef:  fmt.Sprintf("ipfs://evidence/%d", mrand.Int63()),
			FallbackTerms: dispute.FallbackTerms{
				TermsRef:      "ipfs://terms/default",
				Duration:      24 * time.Hour,
				RoyaltyCapBps: 500,
			},
		})
		w.Stats.record(err)
	})
}

// Staker matches stakes on behalf of counterparties, racing the stake window.
func Staker(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(20, 40), func() {
		d, ok := w.openDispute(ctx, false)
		if !ok {
			return
		}
		_, err := w.Disputes.DepositStake(ctx, d.ID, d.Counterparty)
		w.Stats.record(err)
	})
}

// Subsidizer asks the treasury to cover counterparties before they stake.
func Subsidizer(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(60, 80), func() {
		d, ok := w.openDispute(ctx, false)
		if !ok {
			return
		}
		_, err := w.Treasury.RequestSubsidy(ctx, treasury.SubsidyRequest{
			Caller:       d.Counterparty,
			DisputeID:    d.ID,
			Participant:  d.Counterparty,
			AmountNeeded: d.InitiatorStake,
		})
		w.Stats.record(err)
	})
}

// Proposer signs and submits proposals for active disputes.
func Proposer(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(30, 50), func() {
		d, ok := w.openDispute(ctx, true)
		if !ok {
			return
		}
		proposal := []byte(fmt.Sprintf("split %d/%d", 50+mrand.Intn(40), 10+mrand.Intn(40)))
		cred, err := w.Signer.Sign(d.ID, proposal)
		if err != nil {
			w.Stats.record(err)
			return
		}
		_, err = w.Disputes.SubmitProposal(ctx, d.ID, cred, proposal)
		w.Stats.record(err)
	})
}

// Accepter accepts the current proposal as a random party.
func Accepter(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(30, 50), func() {
		d, ok := w.openDispute(ctx, true)
		if !ok {
			return
		}
		party := d.Initiator
		if mrand.Intn(2) == 0 {
			party = d.Counterparty
		}
		_, err := w.Disputes.AcceptProposal(ctx, d.ID, party)
		w.Stats.record(err)
	})
}

// Counterer pays the next counter fee, sometimes overpaying so the surplus
// is swept to the treasury.
func Counterer(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(50, 80), func() {
		d, ok := w.openDispute(ctx, true)
		if !ok {
			return
		}
		fee, err := w.Policy.CounterFee(d.CounterCount)
		if err != nil {
			fee = w.Policy.CounterFeeBase
		}
		if mrand.Intn(3) == 0 {
			fee += int64(mrand.Intn(5))
		}
		party := d.Initiator
		if mrand.Intn(2) == 0 {
			party = d.Counterparty
		}
		_, err = w.Disputes.CounterPropose(ctx, dispute.CounterParams{
			DisputeID:   d.ID,
			Caller:      party,
			EvidenceRef: fmt.Sprintf("ipfs://counter/%d", mrand.Int63()),
			FeePaid:     fee,
		})
		w.Stats.record(err)
	})
}

// TimeoutEnforcer enforces timeouts from an outside caller, racing accepters
// and late stakers.
func TimeoutEnforcer(ctx context.Context, w *World, caller string, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(25, 40), func() {
		d, ok := w.openDispute(ctx, false)
		if !ok {
			return
		}
		_, err := w.Disputes.EnforceTimeout(ctx, d.ID, caller)
		w.Stats.record(err)
	})
}

// Relay drains the outbox until stopped.
func Relay(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(100, 100), func() {
		if _, err := w.Relay.ProcessOnce(ctx); err != nil {
			w.Stats.Infra.Add(1)
		}
	})
}
