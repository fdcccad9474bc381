package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend kills a random backend of the current database now
// and then, so services see connections drop mid-transaction.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) == 0 {
				_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
                                       WHERE datname = current_database() AND pid <> pg_backend_pid()
                                       ORDER BY random() LIMIT 1`)
			}
		}
	}
}

// StallOutboxClaims holds row locks on a few pending outbox rows for a short
// while, forcing relays to skip past them.
func StallOutboxClaims(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			tx, err := pool.Begin(ctx)
			if err != nil {
				continue
			}
			_, _ = tx.Exec(ctx, `SELECT id FROM outbox WHERE published_at IS NULL
                                 ORDER BY created_at LIMIT 5 FOR UPDATE SKIP LOCKED`)
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
			_ = tx.Rollback(ctx)
		}
	}
}
