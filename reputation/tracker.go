// Package reputation keeps pair cooldowns and per-participant harassment
// scores. Scores only change through an explicit, authorised call; there is
// no implicit decay.
package reputation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"stakecourt/auth"
	"stakecourt/fault"
)

var (
	ErrNotAuthorized      = fault.New(fault.Authorization, "reputation: caller may not adjust scores")
	ErrMissingParticipant = fault.New(fault.Validation, "reputation: participant required")
	ErrNegativeScore      = fault.New(fault.Validation, "reputation: score must not be negative")
	ErrInvalidDecay       = fault.New(fault.Validation, "reputation: decay must be positive")
	ErrSamePair           = fault.New(fault.Validation, "reputation: pair needs two distinct participants")
)

// TopicScoreUpdated carries a before/after delta for every score change.
const TopicScoreUpdated = "reputation.score_updated"

// ScoreDelta is the audit record of one score change.
type ScoreDelta struct {
	Participant string    `json:"participant"`
	Before      int64     `json:"before"`
	After       int64     `json:"after"`
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repository interface {
	// LastDispute holds the pair's lock until tx ends, including for a pair
	// that has never disputed.
	LastDispute(ctx context.Context, tx pgx.Tx, pair Pair) (time.Time, bool, error)
	// RecordDispute stores at unless a later time is already stored.
	RecordDispute(ctx context.Context, tx pgx.Tx, pair Pair, at time.Time) error
	ScoreForUpdate(ctx context.Context, tx pgx.Tx, participant string) (int64, error)
	SetScore(ctx context.Context, tx pgx.Tx, participant string, score int64, at time.Time) error
	Score(ctx context.Context, participant string) (int64, error)
	// DecayAll lowers every positive score by points, flooring at zero, and
	// returns the rows it changed.
	DecayAll(ctx context.Context, tx pgx.Tx, points int64, at time.Time) ([]ScoreDelta, error)
}

type EventWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Pair is an unordered pair of participants.
type Pair struct {
	A, B string
}

// NewPair orders a and b so (a, b) and (b, a) share one cooldown.
func NewPair(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

func (p Pair) Key() string {
	return p.A + "|" + p.B
}

// Tracker reads and writes reputation state.
type Tracker struct {
	pool   TxBeginner
	repo   Repository
	events EventWriter
	now    func() time.Time
	log    *slog.Logger
}

func NewTracker(pool TxBeginner, repo Repository, events EventWriter) *Tracker {
	return &Tracker{
		pool:   pool,
		repo:   repo,
		events: events,
		now:    time.Now,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) WithLogger(log *slog.Logger) *Tracker {
	if log != nil {
		t.log = log
	}
	return t
}

// LastDispute returns when a and b last disputed, inside the caller's
// transaction.
func (t *Tracker) LastDispute(ctx context.Context, tx pgx.Tx, a, b string) (time.Time, bool, error) {
	pair, err := pairOf(a, b)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.repo.LastDispute(ctx, tx, pair)
}

// RecordDispute stamps the pair's cooldown inside the caller's transaction.
func (t *Tracker) RecordDispute(ctx context.Context, tx pgx.Tx, a, b string, at time.Time) error {
	pair, err := pairOf(a, b)
	if err != nil {
		return err
	}
	return t.repo.RecordDispute(ctx, tx, pair, at.UTC())
}

// Score returns the participant's harassment score; unknown participants
// score zero.
func (t *Tracker) Score(ctx context.Context, participant string) (int64, error) {
	if participant == "" {
		return 0, ErrMissingParticipant
	}
	return t.repo.Score(ctx, participant)
}

// SetScore replaces a participant's score. Only scorers and admins may call
// it, and every change emits its before/after delta.
func (t *Tracker) SetScore(ctx context.Context, caller auth.Principal, participant string, score int64, reason string) (ScoreDelta, error) {
	if !caller.CanScore() {
		return ScoreDelta{}, ErrNotAuthorized
	}
	if participant == "" {
		return ScoreDelta{}, ErrMissingParticipant
	}
	if score < 0 {
		return ScoreDelta{}, ErrNegativeScore
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return ScoreDelta{}, fmt.Errorf("reputation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	before, err := t.repo.ScoreForUpdate(ctx, tx, participant)
	if err != nil {
		return ScoreDelta{}, fmt.Errorf("reputation: load score: %w", err)
	}
	now := t.now().UTC()
	if err := t.repo.SetScore(ctx, tx, participant, score, now); err != nil {
		return ScoreDelta{}, fmt.Errorf("reputation: set score: %w", err)
	}
	delta := ScoreDelta{
		Participant: participant,
		Before:      before,
		After:       score,
		Actor:       caller.UserID,
		Reason:      strings.TrimSpace(reason),
		At:          now,
	}
	if err := t.emit(ctx, tx, delta); err != nil {
		return ScoreDelta{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ScoreDelta{}, fmt.Errorf("reputation: commit score: %w", err)
	}
	t.log.InfoContext(ctx, "harassment score updated",
		"participant", participant, "before", before, "after", score, "actor", caller.UserID)
	return delta, nil
}

// Decay is the scheduled downward adjustment of every positive score. It is
// admin-only and never runs on its own.
func (t *Tracker) Decay(ctx context.Context, caller auth.Principal, points int64) ([]ScoreDelta, error) {
	if !caller.IsAdmin() {
		return nil, ErrNotAuthorized
	}
	if points <= 0 {
		return nil, ErrInvalidDecay
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("reputation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := t.now().UTC()
	deltas, err := t.repo.DecayAll(ctx, tx, points, now)
	if err != nil {
		return nil, fmt.Errorf("reputation: decay: %w", err)
	}
	for i := range deltas {
		deltas[i].Actor = caller.UserID
		deltas[i].Reason = "decay"
		deltas[i].At = now
		if err := t.emit(ctx, tx, deltas[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("reputation: commit decay: %w", err)
	}
	t.log.InfoContext(ctx, "harassment scores decayed", "points", points, "participants", len(deltas))
	return deltas, nil
}

func (t *Tracker) emit(ctx context.Context, tx pgx.Tx, d ScoreDelta) error {
	payload := map[string]any{
		"participant": d.Participant,
		"before":      d.Before,
		"after":       d.After,
		"delta":       d.After - d.Before,
		"actor":       d.Actor,
		"at":          d.At,
	}
	if d.Reason != "" {
		payload["reason"] = d.Reason
	}
	if err := t.events.Enqueue(ctx, tx, TopicScoreUpdated, payload); err != nil {
		return fmt.Errorf("reputation: enqueue delta: %w", err)
	}
	return nil
}

func pairOf(a, b string) (Pair, error) {
	if a == "" || b == "" || a == b {
		return Pair{}, ErrSamePair
	}
	return NewPair(a, b), nil
}
