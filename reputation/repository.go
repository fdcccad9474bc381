package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores cooldowns and scores in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// LastDispute creates the pair's row if it is missing so the lock below
// always has a row to hold. Two first disputes between the same pair then
// serialise here instead of both seeing no cooldown.
func (r *PGRepository) LastDispute(ctx context.Context, tx pgx.Tx, pair Pair) (time.Time, bool, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO reputation_pairs (pair_key, participant_a, participant_b, last_dispute_at)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (pair_key) DO NOTHING
	`, pair.Key(), pair.A, pair.B); err != nil {
		return time.Time{}, false, fmt.Errorf("reputation: ensure pair row: %w", err)
	}
	var at *time.Time
	if err := tx.QueryRow(ctx, `
		SELECT last_dispute_at
		FROM reputation_pairs
		WHERE pair_key = $1
		FOR UPDATE
	`, pair.Key()).Scan(&at); err != nil {
		return time.Time{}, false, fmt.Errorf("reputation: last dispute: %w", err)
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return *at, true, nil
}

func (r *PGRepository) RecordDispute(ctx context.Context, tx pgx.Tx, pair Pair, at time.Time) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO reputation_pairs (pair_key, participant_a, participant_b, last_dispute_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pair_key) DO UPDATE
		SET last_dispute_at = GREATEST(reputation_pairs.last_dispute_at, EXCLUDED.last_dispute_at)
	`, pair.Key(), pair.A, pair.B, at); err != nil {
		return fmt.Errorf("reputation: record dispute: %w", err)
	}
	return nil
}

func (r *PGRepository) ScoreForUpdate(ctx context.Context, tx pgx.Tx, participant string) (int64, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO reputation_scores (participant, score)
		VALUES ($1, 0)
		ON CONFLICT (participant) DO NOTHING
	`, participant); err != nil {
		return 0, fmt.Errorf("reputation: ensure score row: %w", err)
	}
	var score int64
	if err := tx.QueryRow(ctx, `
		SELECT score FROM reputation_scores WHERE participant = $1 FOR UPDATE
	`, participant).Scan(&score); err != nil {
		return 0, fmt.Errorf("reputation: lock score: %w", err)
	}
	return score, nil
}

func (r *PGRepository) SetScore(ctx context.Context, tx pgx.Tx, participant string, score int64, at time.Time) error {
	if _, err := tx.Exec(ctx, `
		UPDATE reputation_scores SET score = $2, updated_at = $3 WHERE participant = $1
	`, participant, score, at); err != nil {
		return fmt.Errorf("reputation: update score: %w", err)
	}
	return nil
}

func (r *PGRepository) Score(ctx context.Context, participant string) (int64, error) {
	var score int64
	err := r.pool.QueryRow(ctx, `SELECT score FROM reputation_scores WHERE participant = $1`, participant).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reputation: score: %w", err)
	}
	return score, nil
}

func (r *PGRepository) DecayAll(ctx context.Context, tx pgx.Tx, points int64, at time.Time) ([]ScoreDelta, error) {
	rows, err := tx.Query(ctx, `
		WITH prev AS (
			SELECT participant, score
			FROM reputation_scores
			WHERE score > 0
			FOR UPDATE
		)
		UPDATE reputation_scores s
		SET score = GREATEST(s.score - $1, 0),
		    updated_at = $2
		FROM prev
		WHERE s.participant = prev.participant
		RETURNING s.participant, prev.score, s.score
	`, points, at)
	if err != nil {
		return nil, fmt.Errorf("reputation: decay scores: %w", err)
	}
	defer rows.Close()

	var out []ScoreDelta
	for rows.Next() {
		var d ScoreDelta
		if err := rows.Scan(&d.Participant, &d.Before, &d.After); err != nil {
			return nil, fmt.Errorf("reputation: scan decay: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
