package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"stakecourt/auth"
	"stakecourt/config"
	"stakecourt/db"
	"stakecourt/dispute"
	"stakecourt/ledger"
	"stakecourt/metrics"
	"stakecourt/oracle"
	"stakecourt/outbox"
	"stakecourt/registry"
	"stakecourt/reputation"
	"stakecourt/treasury"
)

func main() {
	if err := run(); err != nil {
		slog.Error("stakecourt api exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	keys, err := cfg.Keys()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		log.Warn("no proposer keys configured; every proposal will be rejected")
	}
	tcfg, err := cfg.TreasuryConfig()
	if err != nil {
		return err
	}

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	if err := bootstrapAdmin(ctx, authService, cfg, log); err != nil {
		return err
	}

	collector := metrics.New()
	events := outbox.NewWriter()

	book := ledger.New(pool, ledger.NewRepository(pool))
	tracker := reputation.NewTracker(pool, reputation.NewRepository(pool), events).
		WithLogger(log)
	disputes := dispute.NewService(pool, dispute.Deps{
		Repo:      dispute.NewRepository(pool),
		Ledger:    book,
		Cooldowns: tracker,
		Registry:  registry.NewOutbox(events),
		Verifier:  oracle.NewVerifier(keys),
		Events:    events,
	}, cfg.DisputeConfig()).
		WithLogger(log).
		WithMetrics(collector)
	engine := treasury.NewEngine(pool, treasury.NewRepository(pool), book, disputes, tracker, events, tcfg).
		WithLogger(log).
		WithMetrics(collector)

	publisher, closePublisher, err := newPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()
	relay := outbox.NewRelay(outbox.NewStore(pool), publisher, cfg.RelayConfig(), log).
		WithMetrics(collector)

	server := &Server{
		authService:       authService,
		disputeService:    disputes,
		treasuryService:   engine,
		reputationService: tracker,
		ledgerService:     book,
		denom:             ledger.Denomination(cfg.Denom),
		metrics:           collector,
		log:               log,
		validate:          validator.New(),
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// bootstrapAdmin creates the administrator named by ADMIN_EMAIL. Privileged
// roles can only be granted by an admin, so without it no scorer, proposer
// or funding call is reachable.
func bootstrapAdmin(ctx context.Context, svc *auth.Service, cfg config.Config, log *slog.Logger) error {
	if cfg.AdminEmail == "" {
		log.Warn("ADMIN_EMAIL not set; no administrator will be bootstrapped")
		return nil
	}
	admin, created, err := svc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		return err
	}
	if created {
		log.Info("bootstrapped administrator", "user_id", admin.ID, "email", admin.Email)
	}
	return nil
}

// newPublisher picks the Redis stream when REDIS_URL is set and the log
// otherwise.
func newPublisher(ctx context.Context, cfg config.Config, log *slog.Logger) (outbox.Publisher, func(), error) {
	if cfg.RedisURL == "" {
		return outbox.NewLogPublisher(log), func() {}, nil
	}
	client, err := outbox.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Info("publishing events to redis stream", "stream", cfg.EventStream)
	return outbox.NewRedisPublisher(client, cfg.EventStream, cfg.EventStreamMaxLen), func() { _ = client.Close() }, nil
}
