package test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"stakecourt/dispute"
	"stakecourt/ledger"
	"stakecourt/outbox"
	"stakecourt/test/actors"
	"stakecourt/test/infra"
	"stakecourt/test/oracles"
	"stakecourt/treasury"
)

var (
	harnessOnce sync.Once
	harness     *infra.Harness
	harnessErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if harness != nil {
		harness.Close(context.Background())
	}
	os.Exit(code)
}

// newLifecycleWorld shares one container across the lifecycle tests and
// truncates it before each.
func newLifecycleWorld(t *testing.T) *actors.World {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres lifecycle skipped in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if !dockerAvailable(ctx) {
		t.Skip("docker not available")
	}
	harnessOnce.Do(func() { harness, harnessErr = infra.NewHarness(ctx) })
	require.NoError(t, harnessErr)
	require.NoError(t, harness.Reset(ctx))

	w, err := actors.NewWorld(harness.Pool(), []string{"alice", "bob", "carol", "dave"})
	require.NoError(t, err)
	require.NoError(t, w.Seed(ctx, 10_000, 5_000))
	return w
}

func checkOracles(t *testing.T, ctx context.Context, w *actors.World) {
	t.Helper()
	name, row, err := oracles.Run(ctx, w.Pool, oracles.Limits{
		MaxCounters:       w.Policy.MaxCounters,
		MaxPerParticipant: w.TreasuryCfg.MaxPerParticipant,
	})
	require.NoError(t, err)
	require.Emptyf(t, name, "oracle %s failed: %s", name, row)
}

func balance(t *testing.T, ctx context.Context, w *actors.World, acct ledger.Account) int64 {
	t.Helper()
	b, err := w.Ledger.Balance(ctx, acct)
	require.NoError(t, err)
	return b
}

func TestLifecycleAcceptedProposal(t *testing.T) {
	w := newLifecycleWorld(t)
	ctx := context.Background()

	d, err := w.Disputes.Initiate(ctx, dispute.InitiateParams{
		Initiator:     "alice",
		Counterparty:  "bob",
		Stake:         100,
		EvidenceRef:   "ipfs://evidence/1",
		FallbackTerms: dispute.FallbackTerms{TermsRef: "ipfs://terms/1", Duration: time.Hour, RoyaltyCapBps: 250},
	})
	require.NoError(t, err)
	require.Equal(t, int64(100), balance(t, ctx, w, ledger.Escrow(d.ID, actors.Denom)))

	_, err = w.Disputes.DepositStake(ctx, d.ID, "bob")
	require.NoError(t, err)

	proposal := []byte("split 60/40")
	cred, err := w.Signer.Sign(d.ID, proposal)
	require.NoError(t, err)
	_, err = w.Disputes.SubmitProposal(ctx, d.ID, cred, proposal)
	require.NoError(t, err)

	_, err = w.Disputes.AcceptProposal(ctx, d.ID, "alice")
	require.NoError(t, err)
	got, err := w.Disputes.AcceptProposal(ctx, d.ID, "bob")
	require.NoError(t, err)

	require.True(t, got.Resolved)
	require.Equal(t, dispute.OutcomeAcceptedProposal, got.Outcome)
	require.Zero(t, balance(t, ctx, w, ledger.Escrow(d.ID, actors.Denom)))
	require.Equal(t, int64(10_000), balance(t, ctx, w, ledger.Participant("bob", actors.Denom)))

	_, err = w.Disputes.EnforceTimeout(ctx, d.ID, "carol")
	require.ErrorIs(t, err, dispute.ErrResolved)

	res, err := w.Relay.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Positive(t, res.Published)
	require.Zero(t, res.Failed)
	checkOracles(t, ctx, w)
}

func TestLifecycleDefaultAfterTimeout(t *testing.T) {
	w := newLifecycleWorld(t)
	ctx := context.Background()

	d, err := w.Disputes.Initiate(ctx, dispute.InitiateParams{
		Initiator:     "carol",
		Counterparty:  "dave",
		Stake:         1_000,
		EvidenceRef:   "ipfs://evidence/2",
		FallbackTerms: dispute.FallbackTerms{TermsRef: "ipfs://terms/2", Duration: time.Hour, RoyaltyCapBps: 100},
	})
	require.NoError(t, err)

	_, err = w.Disputes.EnforceTimeout(ctx, d.ID, "bob")
	require.ErrorIs(t, err, dispute.ErrNotDue)

	require.Eventually(t, func() bool {
		due, err := w.Disputes.TimeoutDue(ctx, d.ID)
		return err == nil && due
	}, 10*time.Second, 100*time.Millisecond)

	got, err := w.Disputes.EnforceTimeout(ctx, d.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, dispute.OutcomeDefaultLicense, got.Outcome)

	incentive := int64(1_000) * w.Policy.IncentiveBps / 10_000
	require.Equal(t, 10_000+incentive, balance(t, ctx, w, ledger.Participant("carol", actors.Denom)))

	status, err := w.Treasury.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 5_000-incentive, status.Balance)
	checkOracles(t, ctx, w)
}

func TestLifecycleSubsidyThenTimeoutBurn(t *testing.T) {
	w := newLifecycleWorld(t)
	ctx := context.Background()

	d, err := w.Disputes.Initiate(ctx, dispute.InitiateParams{
		Initiator:     "alice",
		Counterparty:  "carol",
		Stake:         150,
		EvidenceRef:   "ipfs://evidence/3",
		FallbackTerms: dispute.FallbackTerms{TermsRef: "ipfs://terms/3", Duration: time.Hour, RoyaltyCapBps: 0},
	})
	require.NoError(t, err)

	grant, err := w.Treasury.RequestSubsidy(ctx, treasury.SubsidyRequest{
		Caller: "carol", DisputeID: d.ID, Participant: "carol", AmountNeeded: 150,
	})
	require.NoError(t, err)
	require.Equal(t, int64(150), grant.Amount)

	_, err = w.Treasury.RequestSubsidy(ctx, treasury.SubsidyRequest{
		Caller: "carol", DisputeID: d.ID, Participant: "carol", AmountNeeded: 150,
	})
	require.ErrorIs(t, err, treasury.ErrAlreadyGranted)

	require.Equal(t, int64(10_000), balance(t, ctx, w, ledger.Participant("carol", actors.Denom)), "grant is earmarked, not paid out")
	require.ErrorIs(t, w.Ledger.Withdraw(ctx, "carol", actors.Denom, 10_001), ledger.ErrInsufficientFunds)

	staked, err := w.Disputes.DepositStake(ctx, d.ID, "carol")
	require.NoError(t, err)
	require.Equal(t, int64(150), staked.CounterpartySubsidy)
	require.Equal(t, int64(10_000), balance(t, ctx, w, ledger.Participant("carol", actors.Denom)))

	require.Eventually(t, func() bool {
		due, err := w.Disputes.TimeoutDue(ctx, d.ID)
		return err == nil && due
	}, 10*time.Second, 100*time.Millisecond)

	got, err := w.Disputes.EnforceTimeout(ctx, d.ID, "dave")
	require.NoError(t, err)
	require.Equal(t, dispute.OutcomeTimeoutWithBurn, got.Outcome)
	require.Equal(t, int64(150), balance(t, ctx, w, ledger.Burn(actors.Denom)))
	require.Equal(t, int64(75), got.Settlement.SubsidyReturn)
	require.Zero(t, got.Settlement.CounterpartyRefund)
	require.Equal(t, int64(10_000), balance(t, ctx, w, ledger.Participant("carol", actors.Denom)))

	status, err := w.Treasury.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5_000-150+75), status.Balance)
	checkOracles(t, ctx, w)
}

func TestSubsidyNeverExceedsRequiredStake(t *testing.T) {
	w := newLifecycleWorld(t)
	ctx := context.Background()

	d, err := w.Disputes.Initiate(ctx, dispute.InitiateParams{
		Initiator:     "alice",
		Counterparty:  "bob",
		Stake:         10,
		EvidenceRef:   "ipfs://evidence/4",
		FallbackTerms: dispute.FallbackTerms{TermsRef: "ipfs://terms/4", Duration: time.Hour, RoyaltyCapBps: 0},
	})
	require.NoError(t, err)

	grant, err := w.Treasury.RequestSubsidy(ctx, treasury.SubsidyRequest{
		Caller: "bob", DisputeID: d.ID, Participant: "bob", AmountNeeded: 1_000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), grant.Amount)
	require.Equal(t, int64(10), balance(t, ctx, w, ledger.Subsidy(d.ID, actors.Denom)))
	require.ErrorIs(t, w.Ledger.Withdraw(ctx, "bob", actors.Denom, 10_001), ledger.ErrInsufficientFunds)
	checkOracles(t, ctx, w)
}

func TestConcurrentFirstDisputesBetweenPairEscalate(t *testing.T) {
	w := newLifecycleWorld(t)
	ctx := context.Background()

	stakes := make([]int64, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		g.Go(func() error {
			d, err := w.Disputes.Initiate(gctx, dispute.InitiateParams{
				Initiator:     pair[0],
				Counterparty:  pair[1],
				Stake:         100,
				EvidenceRef:   "ipfs://evidence/race",
				FallbackTerms: dispute.FallbackTerms{TermsRef: "ipfs://terms/race", Duration: time.Hour},
			})
			stakes[i] = d.InitiatorStake
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.ElementsMatch(t, []int64{100, 150}, stakes, "the second dispute of a fresh pair sees the first")
	checkOracles(t, ctx, w)
}

func TestOutboxRelaysDisputeEventsInCommitOrder(t *testing.T) {
	w := newLifecycleWorld(t)
	ctx := context.Background()
	_, err := w.Pool.Exec(ctx, `UPDATE outbox SET published_at = now()`)
	require.NoError(t, err)

	writer := outbox.NewWriter()
	enqueue := func(topic string, payload map[string]any) {
		tx, err := w.Pool.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		require.NoError(t, writer.Enqueue(ctx, tx, topic, payload))
		require.NoError(t, tx.Commit(ctx))
	}
	enqueue(dispute.TopicInitiated, map[string]any{"dispute_id": int64(1)})
	enqueue(dispute.TopicStaked, map[string]any{"dispute_id": int64(1)})
	enqueue(treasury.TopicDeposited, map[string]any{"from": "alice", "amount": 5})
	enqueue(dispute.TopicResolved, map[string]any{"dispute_id": int64(1)})

	store := outbox.NewStore(w.Pool)
	until := time.Now().Add(time.Minute)
	topics := func(msgs []outbox.Message) []string {
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.Topic)
		}
		return out
	}

	batch, err := store.Claim(ctx, 10, "relay-1", until)
	require.NoError(t, err)
	require.Equal(t, []string{dispute.TopicInitiated, treasury.TopicDeposited}, topics(batch),
		"later events of a dispute wait for the earlier one")
	require.Equal(t, "dispute:1", batch[0].OrderingKey)
	require.Less(t, batch[0].Seq, batch[1].Seq)

	require.NoError(t, store.MarkFailed(ctx, batch[0].ID, "relay-1", "broker down", time.Now()))
	require.NoError(t, store.MarkPublished(ctx, batch[1].ID, "relay-1", time.Now()))
	batch, err = store.Claim(ctx, 10, "relay-2", until)
	require.NoError(t, err)
	require.Equal(t, []string{dispute.TopicInitiated}, topics(batch), "a failed head is retried before its successors")

	require.NoError(t, store.MarkDeadLettered(ctx, batch[0].ID, "relay-2", "poison", time.Now()))
	batch, err = store.Claim(ctx, 10, "relay-3", until)
	require.NoError(t, err)
	require.Equal(t, []string{dispute.TopicStaked}, topics(batch), "dead-lettering releases the next event")

	require.NoError(t, store.MarkPublished(ctx, batch[0].ID, "relay-3", time.Now()))
	batch, err = store.Claim(ctx, 10, "relay-4", until)
	require.NoError(t, err)
	require.Equal(t, []string{dispute.TopicResolved}, topics(batch))
}
