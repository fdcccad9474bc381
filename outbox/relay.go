package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence the relay needs.
type Store interface {
	Claim(ctx context.Context, limit int, token string, until time.Time) ([]Message, error)
	MarkPublished(ctx context.Context, id, token string, at time.Time) error
	MarkFailed(ctx context.Context, id, token, reason string, at time.Time) error
	MarkDeadLettered(ctx context.Context, id, token, reason string, at time.Time) error
}

// Publisher delivers one event downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Metrics observes relay outcomes.
type Metrics interface {
	OutboxPublished(topic string)
	OutboxFailed(topic string, deadLettered bool)
}

type nopMetrics struct{}

func (nopMetrics) OutboxPublished(string)     {}
func (nopMetrics) OutboxFailed(string, bool) {}

// RelayConfig tunes the relay loop. Zero values take defaults.
type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	ClaimTTL    time.Duration
	MaxAttempts int
}

// BatchResult summarises one relay pass.
type BatchResult struct {
	Claimed      int
	Published    int
	Failed       int
	DeadLettered int
}

// Relay moves committed outbox rows to a Publisher.
type Relay struct {
	store     Store
	publisher Publisher
	cfg       RelayConfig
	log       *slog.Logger
	metrics   Metrics
	now       func() time.Time
	newToken  func() string
}

func NewRelay(store Store, publisher Publisher, cfg RelayConfig, log *slog.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		metrics:   nopMetrics{},
		now:       time.Now,
		newToken:  uuid.NewString,
	}
}

func (r *Relay) WithMetrics(m Metrics) *Relay {
	if m != nil {
		r.metrics = m
	}
	return r
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.ErrorContext(ctx, "outbox relay pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims one batch and publishes it. A row that keeps failing is
// dead-lettered once it reaches MaxAttempts.
func (r *Relay) ProcessOnce(ctx context.Context) (BatchResult, error) {
	token := r.newToken()
	msgs, err := r.store.Claim(ctx, r.cfg.BatchSize, token, r.now().UTC().Add(r.cfg.ClaimTTL))
	if err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Claimed: len(msgs)}
	for _, m := range msgs {
		now := r.now().UTC()
		if m.Attempts >= r.cfg.MaxAttempts {
			res.DeadLettered++
			r.settle(ctx, r.store.MarkDeadLettered(ctx, m.ID, token, "attempt limit reached before publish", now), m)
			r.metrics.OutboxFailed(m.Topic, true)
			continue
		}

		if err := r.publisher.Publish(ctx, m.Topic, m.Payload); err != nil {
			res.Failed++
			if m.Attempts+1 >= r.cfg.MaxAttempts {
				res.DeadLettered++
				r.log.ErrorContext(ctx, "outbox message dead-lettered",
					"outbox_id", m.ID, "topic", m.Topic, "attempts", m.Attempts+1, "error", err)
				r.settle(ctx, r.store.MarkDeadLettered(ctx, m.ID, token, err.Error(), now), m)
				r.metrics.OutboxFailed(m.Topic, true)
				continue
			}
			r.log.WarnContext(ctx, "outbox publish failed, will retry",
				"outbox_id", m.ID, "topic", m.Topic, "attempts", m.Attempts+1, "error", err)
			r.settle(ctx, r.store.MarkFailed(ctx, m.ID, token, err.Error(), now), m)
			r.metrics.OutboxFailed(m.Topic, false)
			continue
		}

		res.Published++
		r.settle(ctx, r.store.MarkPublished(ctx, m.ID, token, now), m)
		r.metrics.OutboxPublished(m.Topic)
	}

	if res.Claimed > 0 {
		r.log.InfoContext(ctx, "outbox batch relayed",
			"claimed", res.Claimed, "published", res.Published,
			"failed", res.Failed, "dead_lettered", res.DeadLettered)
	}
	return res, nil
}

// settle logs a failed status write. The lease expires on its own, so the
// row is retried later.
func (r *Relay) settle(ctx context.Context, err error, m Message) {
	if err != nil {
		r.log.ErrorContext(ctx, "outbox status update failed", "outbox_id", m.ID, "error", err)
	}
}
