package reputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"stakecourt/auth"
	"stakecourt/test/fakes"
)

var (
	scorer      = auth.Principal{UserID: "scorer-1", Role: auth.RoleScorer}
	admin       = auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}
	participant = auth.Principal{UserID: "alice", Role: auth.RoleParticipant}
)

func newTracker() (*Tracker, *MemoryRepository, *fakes.Pool, *fakes.Outbox, *fakes.Clock) {
	pool := fakes.NewPool()
	repo := NewMemoryRepository()
	outbox := &fakes.Outbox{}
	clock := fakes.NewClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	return NewTracker(pool, repo, outbox).WithClock(clock.Now), repo, pool, outbox, clock
}

func TestCooldownIsPairSymmetric(t *testing.T) {
	tr, _, pool, _, clock := newTracker()
	ctx := context.Background()

	tx, _ := pool.Begin(ctx)
	if err := tr.RecordDispute(ctx, tx, "bob", "alice", clock.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx, _ = pool.Begin(ctx)
	defer tx.Rollback(ctx)
	at, ok, err := tr.LastDispute(ctx, tx, "alice", "bob")
	if err != nil || !ok || !at.Equal(clock.Now()) {
		t.Fatalf("expected cooldown at %s, got %s ok=%v err=%v", clock.Now(), at, ok, err)
	}
	if _, ok, _ := tr.LastDispute(ctx, tx, "alice", "carol"); ok {
		t.Fatalf("unrelated pair has a cooldown")
	}
	if _, _, err := tr.LastDispute(ctx, tx, "alice", "alice"); !errors.Is(err, ErrSamePair) {
		t.Fatalf("expected ErrSamePair, got %v", err)
	}
}

func TestRecordDisputeKeepsLatest(t *testing.T) {
	tr, repo, pool, _, clock := newTracker()
	ctx := context.Background()
	later := clock.Now().Add(time.Hour)

	tx, _ := pool.Begin(ctx)
	_ = tr.RecordDispute(ctx, tx, "alice", "bob", later)
	_ = tr.RecordDispute(ctx, tx, "alice", "bob", clock.Now())
	_ = tx.Commit(ctx)

	at, _, _ := repo.LastDispute(ctx, nil, NewPair("alice", "bob"))
	if !at.Equal(later) {
		t.Fatalf("cooldown moved backwards to %s", at)
	}
}

func TestSetScoreRequiresScorer(t *testing.T) {
	tr, _, _, outbox, _ := newTracker()
	ctx := context.Background()

	if _, err := tr.SetScore(ctx, participant, "bob", 10, ""); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if _, err := tr.SetScore(ctx, auth.Principal{Role: auth.RoleScorer}, "bob", 10, ""); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for anonymous scorer, got %v", err)
	}
	if _, err := tr.SetScore(ctx, scorer, "bob", -1, ""); !errors.Is(err, ErrNegativeScore) {
		t.Fatalf("expected ErrNegativeScore, got %v", err)
	}
	if len(outbox.Messages()) != 0 {
		t.Fatalf("rejected calls emitted events")
	}
}

func TestSetScoreEmitsDelta(t *testing.T) {
	tr, _, _, outbox, _ := newTracker()
	ctx := context.Background()

	if _, err := tr.SetScore(ctx, scorer, "bob", 20, "lost dispute 4"); err != nil {
		t.Fatalf("set: %v", err)
	}
	delta, err := tr.SetScore(ctx, admin, "bob", 55, "repeat filings")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if delta.Before != 20 || delta.After != 55 || delta.Actor != "admin-1" {
		t.Fatalf("unexpected delta %+v", delta)
	}
	score, _ := tr.Score(ctx, "bob")
	if score != 55 {
		t.Fatalf("score = %d", score)
	}

	msgs := outbox.Messages()
	if len(msgs) != 2 || msgs[1].Topic != TopicScoreUpdated {
		t.Fatalf("unexpected events %+v", msgs)
	}
	if msgs[1].Payload["delta"] != int64(35) {
		t.Fatalf("delta payload = %v", msgs[1].Payload["delta"])
	}
}

func TestSetScoreRollsBackOnEnqueueFailure(t *testing.T) {
	tr, _, _, outbox, _ := newTracker()
	ctx := context.Background()
	outbox.Err = errors.New("outbox unavailable")

	if _, err := tr.SetScore(ctx, scorer, "bob", 30, ""); err == nil {
		t.Fatalf("expected enqueue failure")
	}
	if score, _ := tr.Score(ctx, "bob"); score != 0 {
		t.Fatalf("score changed without its audit event: %d", score)
	}
}

func TestDecayIsExplicitAndFloored(t *testing.T) {
	tr, _, _, outbox, _ := newTracker()
	ctx := context.Background()
	_, _ = tr.SetScore(ctx, scorer, "alice", 5, "")
	_, _ = tr.SetScore(ctx, scorer, "bob", 40, "")

	if _, err := tr.Decay(ctx, scorer, 10); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected decay to be admin-only, got %v", err)
	}
	if _, err := tr.Decay(ctx, admin, 0); !errors.Is(err, ErrInvalidDecay) {
		t.Fatalf("expected ErrInvalidDecay, got %v", err)
	}

	deltas, err := tr.Decay(ctx, admin, 10)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(deltas))
	}
	if a, _ := tr.Score(ctx, "alice"); a != 0 {
		t.Fatalf("alice = %d, want 0", a)
	}
	if b, _ := tr.Score(ctx, "bob"); b != 30 {
		t.Fatalf("bob = %d, want 30", b)
	}
	if n := len(outbox.Messages()); n != 4 {
		t.Fatalf("expected 4 score events, got %d", n)
	}
}
