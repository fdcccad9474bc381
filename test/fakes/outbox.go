package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// Message is an enqueued outbox entry.
type Message struct {
	Topic   string
	Payload map[string]any
}

// Outbox records enqueued messages, dropping them again on rollback.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (o *Outbox) Enqueue(_ context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if o.Err != nil {
		return o.Err
	}
	o.mu.Lock()
	o.messages = append(o.messages, Message{Topic: topic, Payload: payload})
	n := len(o.messages)
	o.mu.Unlock()
	Journal(tx, func() {
		o.mu.Lock()
		o.messages = o.messages[:n-1]
		o.mu.Unlock()
	})
	return nil
}

// Messages returns a copy of everything committed so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Topics lists the topics in enqueue order.
func (o *Outbox) Topics() []string {
	msgs := o.Messages()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Topic)
	}
	return out
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts the clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
