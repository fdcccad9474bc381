// Package outbox stores events in the same transaction as the change they
// describe and relays them to a publisher afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Message is a stored outbox row. Seq is the insertion order. Rows sharing
// an OrderingKey are relayed one at a time in Seq order.
type Message struct {
	ID          string
	Seq         int64
	OrderingKey string
	Topic       string
	Payload     []byte
	Attempts    int
	CreatedAt   time.Time
}

// Writer inserts outbox rows inside a caller's transaction.
type Writer struct {
	newID func() string
}

func NewWriter() *Writer {
	return &Writer{newID: uuid.NewString}
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const q = `INSERT INTO outbox (id, ordering_key, topic, payload) VALUES ($1, $2, $3, $4::jsonb)`
	if _, err := tx.Exec(ctx, q, w.newID(), orderingKey(payload), topic, string(body)); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}

// orderingKey groups every event about one dispute. Events without a
// dispute have no key and are relayed as soon as they are claimed.
func orderingKey(payload map[string]any) *string {
	id, ok := payload["dispute_id"]
	if !ok || id == nil {
		return nil
	}
	key := fmt.Sprintf("dispute:%v", id)
	return &key
}
