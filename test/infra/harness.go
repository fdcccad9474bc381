package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"stakecourt/db"
)

// Harness owns the lifecycle of the Postgres test container and pgx pool.
type Harness struct {
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
}

// NewHarness boots a Postgres 16 container and applies the embedded migrations.
func NewHarness(ctx context.Context) (*Harness, error) {
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("stakecourt"),
		postgres.WithUsername("stakecourt"),
		postgres.WithPassword("stakecourt"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("resolve connection string: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	cfg.MaxConns = 64
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("create pool: %w", err)
	}

	h := &Harness{
		container: pgContainer,
		pool:      pool,
	}

	if err := db.Migrate(ctx, pool); err != nil {
		h.Close(ctx)
		return nil, err
	}

	return h, nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.container != nil {
		_ = h.container.Terminate(ctx)
	}
}

// Reset truncates every table so the next scenario starts from zero balances.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"outbox",
		"treasury_grants",
		"treasury_usage",
		"reputation_scores",
		"reputation_pairs",
		"ledger_entries",
		"ledger_accounts",
		"disputes",
		"users",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" RESTART IDENTITY CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}

	return nil
}
