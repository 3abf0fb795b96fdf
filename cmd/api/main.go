package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadmarket/internal/adapters"
	"leadmarket/internal/allocation"
	"leadmarket/internal/events"
	apphttp "leadmarket/internal/http"
	"leadmarket/internal/http/router"
	"leadmarket/internal/leads"
	"leadmarket/internal/notification"
	"leadmarket/internal/offers"
	offersvc "leadmarket/internal/offers/service"
	"leadmarket/internal/providers"
	"leadmarket/internal/scheduler"
	"leadmarket/internal/settlement"
	"leadmarket/platform/config"
	"leadmarket/platform/db"
	"leadmarket/platform/logger"
	"leadmarket/platform/payments"
	"leadmarket/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	expiryScheduler, closeScheduler := initExpiryScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	gateway := payments.NewClient(cfg, log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	providersModule := providers.NewModule(pool, val, log)
	leadsModule := leads.NewModule(pool, eventBus, val, log)
	offersModule := offers.NewModule(pool, providersModule.Service(), expiryScheduler, eventBus, cfg, log)
	settlementModule := settlement.NewModule(
		pool,
		leadsModule.Repository(),
		offersModule.Repository(),
		gateway,
		providersModule.Service(),
		eventBus,
		cfg,
		val,
		log,
	)

	// Coordinator subscribes to lead/offer events and drives the cascade
	allocation.NewModule(
		leadsModule.Repository(),
		offersModule.Service(),
		providersModule.Service(),
		allocation.NewRepository(pool),
		providersModule.Service(),
		settlementModule.Service(),
		eventBus,
		cfg.GetMaxOffersPerLead(),
		log,
	)

	directory := adapters.NewProviderDirectory(providersModule.Service())
	notification.NewModule(pool, directory, eventBus, cfg, cfg, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			providersModule,
			leadsModule,
			offersModule,
			settlementModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownCtx
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initExpiryScheduler(cfg config.SchedulerConfig, log *logger.Logger) (offersvc.ExpiryScheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; offer expiry relies on the periodic sweep")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}
