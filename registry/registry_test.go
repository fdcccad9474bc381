package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"stakecourt/dispute"
	"stakecourt/test/fakes"
)

func TestCommandsAreQueuedWithTransaction(t *testing.T) {
	ctx := context.Background()
	pool := fakes.NewPool()
	out := &fakes.Outbox{}
	reg := NewOutbox(out)

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := reg.Freeze(ctx, tx, 7, "bob"); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if n := len(out.Messages()); n != 0 {
		t.Fatalf("rolled back freeze left %d messages", n)
	}

	tx, _ = pool.Begin(ctx)
	if err := reg.Freeze(ctx, tx, 7, "bob"); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	terms := dispute.FallbackTerms{TermsRef: "ipfs://terms", Duration: 48 * time.Hour, RoyaltyCapBps: 500}
	if err := reg.ApplyFallbackLicense(ctx, tx, 7, terms); err != nil {
		t.Fatalf("license: %v", err)
	}
	resolved := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	if err := reg.Unfreeze(ctx, tx, 7, dispute.AssetOutcome{Outcome: dispute.OutcomeDefaultLicense, ResolvedAt: resolved}); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	msgs := out.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Topic != TopicFreeze || msgs[0].Payload["owner"] != "bob" {
		t.Fatalf("freeze message = %+v", msgs[0])
	}
	lic := msgs[1].Payload
	if msgs[1].Topic != TopicFallbackLicense || lic["terms_ref"] != "ipfs://terms" ||
		lic["duration_secs"] != int64(172800) || lic["royalty_cap_bps"] != int64(500) {
		t.Fatalf("license message = %+v", msgs[1])
	}
	if msgs[2].Topic != TopicUnfreeze || msgs[2].Payload["outcome"] != string(dispute.OutcomeDefaultLicense) {
		t.Fatalf("unfreeze message = %+v", msgs[2])
	}
	if _, ok := msgs[2].Payload["terms"]; ok {
		t.Fatalf("unfreeze without terms should omit them")
	}
}

func TestRejectsBadCommands(t *testing.T) {
	ctx := context.Background()
	pool := fakes.NewPool()
	out := &fakes.Outbox{}
	reg := NewOutbox(out)
	tx, _ := pool.Begin(ctx)
	defer tx.Rollback(ctx)

	if err := reg.Freeze(ctx, tx, 1, " "); !errors.Is(err, ErrMissingOwner) {
		t.Fatalf("freeze without owner: got %v", err)
	}
	if err := reg.Unfreeze(ctx, tx, 1, dispute.AssetOutcome{Outcome: dispute.OutcomePending}); !errors.Is(err, ErrUnknownOutcome) {
		t.Fatalf("pending outcome: got %v", err)
	}

	out.Err = errors.New("disk full")
	if err := reg.Freeze(ctx, tx, 1, "bob"); err == nil {
		t.Fatal("expected writer failure to surface")
	}
}
