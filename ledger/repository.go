package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Lock(ctx context.Context, tx pgx.Tx, acct Account) (int64, error) {
	const ensureSQL = `
		INSERT INTO ledger_accounts (key, kind, owner, denom)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
	`
	if _, err := tx.Exec(ctx, ensureSQL, acct.Key(), acct.Kind, acct.Owner, acct.Denom); err != nil {
		return 0, fmt.Errorf("ensure account: %w", err)
	}

	var balance int64
	if err := tx.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE key = $1 FOR UPDATE`, acct.Key()).Scan(&balance); err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return balance, nil
}

func (r *PGRepository) SetBalance(ctx context.Context, tx pgx.Tx, acct Account, balance int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET balance = $2, updated_at = now()
		WHERE key = $1
	`, acct.Key(), balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("account %s missing", acct)
	}
	return nil
}

func (r *PGRepository) AppendEntry(ctx context.Context, tx pgx.Tx, e Entry) error {
	var disputeID any
	if e.DisputeID != 0 {
		disputeID = e.DisputeID
	}
	const insertSQL = `
		INSERT INTO ledger_entries (id, from_key, to_key, denom, amount, reason, dispute_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, insertSQL, e.ID, e.From, e.To, e.Denom, e.Amount, e.Reason, disputeID, e.CreatedAt)
	return err
}

func (r *PGRepository) Balance(ctx context.Context, acct Account) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE key = $1`, acct.Key()).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return balance, nil
}

func (r *PGRepository) EntriesForDispute(ctx context.Context, disputeID int64) ([]Entry, error) {
	const query = `
		SELECT id::text, from_key, to_key, denom, amount, reason, dispute_id, created_at
		FROM ledger_entries
		WHERE dispute_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 8)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.Denom, &e.Amount, &e.Reason, &e.DisputeID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return out, nil
}
