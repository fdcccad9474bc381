package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakecourt/escrow"
)

// PGRepository stores disputes in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const disputeColumns = `
	id, initiator, counterparty, initiator_stake, counterparty_stake,
	counterparty_subsidy, start_time, deadline, evidence_ref, current_proposal,
	initiator_accepted, counterparty_accepted, resolved, outcome,
	fallback_terms, counter_count, fees_burned, fees_swept,
	settlement, resolved_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	terms, err := json.Marshal(d.FallbackTerms)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: encode terms: %w", err)
	}
	query := `
		INSERT INTO disputes (
			initiator, counterparty, initiator_stake, counterparty_stake,
			start_time, deadline, evidence_ref, outcome, fallback_terms, updated_at
		)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8::jsonb, $4)
		RETURNING ` + disputeColumns

	row := tx.QueryRow(ctx, query,
		d.Initiator,
		d.Counterparty,
		d.InitiatorStake,
		d.StartTime,
		d.Deadline,
		d.EvidenceRef,
		string(OutcomePending),
		string(terms),
	)
	out, err := scanDispute(row)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Dispute, error) {
	row := tx.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: load for update: %w", err)
	}
	return d, nil
}

// Update only matches rows that are still unresolved, so a second
// resolution can never overwrite the first.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, d Dispute) error {
	var settlement *string
	if d.Settlement != nil {
		b, err := json.Marshal(d.Settlement)
		if err != nil {
			return fmt.Errorf("dispute: encode settlement: %w", err)
		}
		s := string(b)
		settlement = &s
	}

	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET counterparty_stake = $2,
		    deadline = $3,
		    evidence_ref = $4,
		    current_proposal = $5,
		    initiator_accepted = $6,
		    counterparty_accepted = $7,
		    resolved = $8,
		    outcome = $9,
		    counter_count = $10,
		    fees_burned = $11,
		    fees_swept = $12,
		    settlement = $13::jsonb,
		    resolved_at = $14,
		    counterparty_subsidy = $15,
		    updated_at = now()
		WHERE id = $1 AND resolved = false
	`,
		d.ID,
		d.CounterpartyStake,
		d.Deadline,
		d.EvidenceRef,
		d.CurrentProposal,
		d.InitiatorAccepted,
		d.CounterpartyAccepted,
		d.Resolved,
		string(d.Outcome),
		d.CounterCount,
		d.FeesBurned,
		d.FeesSwept,
		settlement,
		d.ResolvedAt,
		d.CounterpartySubsidy,
	)
	if err != nil {
		return fmt.Errorf("dispute: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrResolved
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Dispute, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}
	return d, nil
}

func (r *PGRepository) ListByParticipant(ctx context.Context, participant string) ([]Dispute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE initiator = $1 OR counterparty = $1
		ORDER BY id DESC
	`, participant)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d          Dispute
		outcome    string
		terms      []byte
		settlement []byte
	)
	if err := row.Scan(
		&d.ID,
		&d.Initiator,
		&d.Counterparty,
		&d.InitiatorStake,
		&d.CounterpartyStake,
		&d.CounterpartySubsidy,
		&d.StartTime,
		&d.Deadline,
		&d.EvidenceRef,
		&d.CurrentProposal,
		&d.InitiatorAccepted,
		&d.CounterpartyAccepted,
		&d.Resolved,
		&outcome,
		&terms,
		&d.CounterCount,
		&d.FeesBurned,
		&d.FeesSwept,
		&settlement,
		&d.ResolvedAt,
		&d.UpdatedAt,
	); err != nil {
		return Dispute{}, err
	}
	d.Outcome = Outcome(outcome)
	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &d.FallbackTerms); err != nil {
			return Dispute{}, fmt.Errorf("decode terms: %w", err)
		}
	}
	if len(settlement) > 0 {
		var st escrow.Settlement
		if err := json.Unmarshal(settlement, &st); err != nil {
			return Dispute{}, fmt.Errorf("decode settlement: %w", err)
		}
		d.Settlement = &st
	}
	return d, nil
}
