// Package registry forwards asset commands to the external asset registry.
// Commands are written to the outbox inside the dispute transaction, so an
// asset is frozen or released exactly when the dispute change commits.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"stakecourt/dispute"
)

const (
	TopicFreeze          = "registry.freeze"
	TopicUnfreeze        = "registry.unfreeze"
	TopicFallbackLicense = "registry.apply_fallback_license"
)

var (
	ErrMissingOwner   = errors.New("registry: freeze requires an owner")
	ErrUnknownOutcome = errors.New("registry: unknown outcome")
)

// CommandWriter is the transactional outbox.
type CommandWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Outbox implements dispute.AssetRegistry on top of a CommandWriter.
type Outbox struct {
	w CommandWriter
}

func NewOutbox(w CommandWriter) *Outbox {
	return &Outbox{w: w}
}

func (o *Outbox) Freeze(ctx context.Context, tx pgx.Tx, disputeID int64, owner string) error {
	if strings.TrimSpace(owner) == "" {
		return ErrMissingOwner
	}
	return o.send(ctx, tx, TopicFreeze, map[string]any{
		"dispute_id": disputeID,
		"owner":      owner,
	})
}

func (o *Outbox) Unfreeze(ctx context.Context, tx pgx.Tx, disputeID int64, outcome dispute.AssetOutcome) error {
	if !outcome.Outcome.Valid() || outcome.Outcome == dispute.OutcomePending {
		return fmt.Errorf("%w: %q", ErrUnknownOutcome, outcome.Outcome)
	}
	payload := map[string]any{
		"dispute_id":  disputeID,
		"outcome":     string(outcome.Outcome),
		"resolved_at": outcome.ResolvedAt,
	}
	if len(outcome.Terms) > 0 {
		// Terms are opaque bytes; JSON carries them base64 encoded.
		payload["terms"] = outcome.Terms
	}
	return o.send(ctx, tx, TopicUnfreeze, payload)
}

func (o *Outbox) ApplyFallbackLicense(ctx context.Context, tx pgx.Tx, disputeID int64, terms dispute.FallbackTerms) error {
	return o.send(ctx, tx, TopicFallbackLicense, map[string]any{
		"dispute_id":      disputeID,
		"terms_ref":       terms.TermsRef,
		"duration_secs":   int64(terms.Duration / time.Second),
		"royalty_cap_bps": terms.RoyaltyCapBps,
	})
}

func (o *Outbox) send(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if err := o.w.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("registry: %s: %w", topic, err)
	}
	return nil
}
