package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore claims and settles outbox rows.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Claim leases up to limit pending rows to token until the given time. Rows
// leased by a relay that died become claimable again once the lease lapses.
//
// Only the oldest pending row of each ordering key is claimable, so a
// dispute's events reach the publisher in the order they committed. A row
// that keeps failing holds back the rows after it until it is published or
// dead-lettered.
func (s *PGStore) Claim(ctx context.Context, limit int, token string, until time.Time) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		WITH heads AS (
			SELECT o.id
			FROM outbox o
			WHERE o.published_at IS NULL
			  AND o.dead_lettered_at IS NULL
			  AND (o.claim_until IS NULL OR o.claim_until < now())
			  AND (o.ordering_key IS NULL OR NOT EXISTS (
				SELECT 1
				FROM outbox p
				WHERE p.ordering_key = o.ordering_key
				  AND p.seq < o.seq
				  AND p.published_at IS NULL
				  AND p.dead_lettered_at IS NULL
			  ))
			ORDER BY o.seq
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		), claimed AS (
			UPDATE outbox
			SET claim_token = $2, claim_until = $3
			FROM heads
			WHERE outbox.id = heads.id
			RETURNING outbox.id, outbox.seq, COALESCE(outbox.ordering_key, ''),
			          outbox.topic, outbox.payload, outbox.attempts, outbox.created_at
		)
		SELECT * FROM claimed ORDER BY seq
	`, limit, token, until)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Seq, &m.OrderingKey, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan claim: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate claim: %w", err)
	}
	return out, nil
}

func (s *PGStore) MarkPublished(ctx context.Context, id, token string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET published_at = $3, claim_token = NULL, claim_until = NULL
		WHERE id = $1 AND claim_token = $2
	`, id, token, at)
	return err
}

func (s *PGStore) MarkFailed(ctx context.Context, id, token, reason string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $3, last_error_at = $4,
		    claim_token = NULL, claim_until = NULL
		WHERE id = $1 AND claim_token = $2
	`, id, token, reason, at)
	return err
}

func (s *PGStore) MarkDeadLettered(ctx context.Context, id, token, reason string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $3, last_error_at = $4,
		    dead_lettered_at = $4, claim_token = NULL, claim_until = NULL
		WHERE id = $1 AND claim_token = $2
	`, id, token, reason, at)
	return err
}
