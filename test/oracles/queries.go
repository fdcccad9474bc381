package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
	Args []any
}

// Limits are the configured bounds the oracles check against.
type Limits struct {
	MaxCounters       int
	MaxPerParticipant int64
}

// All returns the invariants that must hold at every committed snapshot.
func All(l Limits) []Oracle {
	return []Oracle{
		{
			Name: "O1_ledger_zero_sum",
			SQL: `SELECT denom, SUM(balance) FROM ledger_accounts
                  GROUP BY denom HAVING SUM(balance) <> 0`,
		},
		{
			Name: "O2_no_negative_custody",
			SQL:  `SELECT key, balance FROM ledger_accounts WHERE kind <> 'external' AND balance < 0`,
		},
		{
			Name: "O3_burn_receive_only",
			SQL: `SELECT e.id FROM ledger_entries e
                  JOIN ledger_accounts a ON a.key = e.from_key
                  WHERE a.kind = 'burn'`,
		},
		{
			Name: "O4_escrow_matches_open_stakes",
			SQL: `SELECT d.id, COALESCE(SUM(a.balance), 0) AS escrow
                  FROM disputes d
                  LEFT JOIN ledger_accounts a ON a.kind = 'escrow' AND a.owner = d.id::text
                  GROUP BY d.id, d.resolved, d.initiator_stake, d.counterparty_stake
                  HAVING COALESCE(SUM(a.balance), 0) <>
                         CASE WHEN d.resolved THEN 0 ELSE d.initiator_stake + d.counterparty_stake END`,
		},
		{
			Name: "O5_settlement_conserves_stakes",
			SQL: `SELECT id FROM disputes
                  WHERE resolved
                    AND (settlement IS NULL
                         OR resolved_at IS NULL
                         OR (settlement->>'initiator_refund')::bigint
                          + (settlement->>'counterparty_refund')::bigint
                          + COALESCE((settlement->>'subsidy_return')::bigint, 0)
                          + (settlement->>'burn')::bigint
                          + (settlement->>'dust')::bigint
                          <> initiator_stake + counterparty_stake)`,
		},
		{
			Name: "O6_counter_limit",
			SQL:  `SELECT id, counter_count FROM disputes WHERE counter_count > $1`,
			Args: []any{l.MaxCounters},
		},
		{
			Name: "O7_single_resolution_event",
			SQL: `SELECT payload->>'dispute_id', COUNT(*) FROM outbox
                  WHERE topic = 'dispute.resolved'
                  GROUP BY 1 HAVING COUNT(*) > 1`,
		},
		{
			Name: "O8_subsidy_within_window_cap",
			SQL:  `SELECT participant, used FROM treasury_usage WHERE used > $1`,
			Args: []any{l.MaxPerParticipant},
		},
		{
			Name: "O9_subsidy_only_to_counterparty",
			SQL: `SELECT g.dispute_id FROM treasury_grants g
                  JOIN disputes d ON d.id = g.dispute_id
                  WHERE g.participant <> d.counterparty`,
		},
		{
			Name: "O11_subsidy_never_exceeds_stake",
			SQL: `SELECT g.dispute_id, g.amount FROM treasury_grants g
                  JOIN disputes d ON d.id = g.dispute_id
                  WHERE g.amount > d.initiator_stake
                     OR d.counterparty_subsidy > d.counterparty_stake`,
		},
		{
			Name: "O12_resolved_disputes_hold_no_earmark",
			SQL: `SELECT d.id, a.balance FROM disputes d
                  JOIN ledger_accounts a ON a.kind = 'subsidy' AND a.owner = d.id::text
                  WHERE d.resolved AND a.balance <> 0`,
		},
		{
			Name: "O10_outbox_drains",
			SQL: `SELECT id FROM outbox
                  WHERE published_at IS NULL AND dead_lettered_at IS NULL
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool, l Limits) (string, string, error) {
	for _, o := range All(l) {
		rows, err := pool.Query(ctx, o.SQL, o.Args...)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
