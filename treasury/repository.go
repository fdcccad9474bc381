package treasury

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores grants and rolling usage in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) HasGrant(ctx context.Context, tx pgx.Tx, disputeID int64) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM treasury_grants WHERE dispute_id = $1)
	`, disputeID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PGRepository) InsertGrant(ctx context.Context, tx pgx.Tx, g Grant) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO treasury_grants (dispute_id, participant, amount, granted_at)
		VALUES ($1, $2, $3, $4)
	`, g.DisputeID, g.Participant, g.Amount, g.GrantedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyGranted
		}
		return fmt.Errorf("treasury: insert grant: %w", err)
	}
	return nil
}

func (r *PGRepository) UsageForUpdate(ctx context.Context, tx pgx.Tx, participant string) (Usage, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO treasury_usage (participant, used, window_start)
		VALUES ($1, 0, NULL)
		ON CONFLICT (participant) DO NOTHING
	`, participant); err != nil {
		return Usage{}, err
	}
	return scanUsage(tx.QueryRow(ctx, `
		SELECT used, window_start FROM treasury_usage WHERE participant = $1 FOR UPDATE
	`, participant))
}

func (r *PGRepository) SaveUsage(ctx context.Context, tx pgx.Tx, participant string, u Usage) error {
	_, err := tx.Exec(ctx, `
		UPDATE treasury_usage SET used = $2, window_start = $3 WHERE participant = $1
	`, participant, u.Used, u.WindowStart)
	return err
}

func (r *PGRepository) Usage(ctx context.Context, participant string) (Usage, error) {
	u, err := scanUsage(r.pool.QueryRow(ctx, `
		SELECT used, window_start FROM treasury_usage WHERE participant = $1
	`, participant))
	if errors.Is(err, pgx.ErrNoRows) {
		return Usage{}, nil
	}
	return u, err
}

func scanUsage(row pgx.Row) (Usage, error) {
	var (
		u     Usage
		start *time.Time
	)
	if err := row.Scan(&u.Used, &start); err != nil {
		return Usage{}, err
	}
	if start != nil {
		u.WindowStart = start.UTC()
	}
	return u, nil
}
