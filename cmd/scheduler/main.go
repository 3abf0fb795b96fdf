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
	"leadmarket/internal/leads"
	"leadmarket/internal/notification"
	"leadmarket/internal/offers"
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
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)
	gateway := payments.NewClient(cfg, log)
	val := validator.New()

	// The bus is in-process: expiring an offer here must advance the cascade
	// and hand accepted offers to settlement, so the worker carries the full
	// domain module graph.
	expiryClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer expiryClient.Close()

	providersModule := providers.NewModule(pool, val, log)
	leadsModule := leads.NewModule(pool, eventBus, val, log)
	offersModule := offers.NewModule(pool, providersModule.Service(), expiryClient, eventBus, cfg, log)
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
	notificationModule := notification.NewModule(pool, directory, eventBus, cfg, cfg, log)

	dispatcher, err := scheduler.NewNotificationOutboxDispatcher(cfg, pool, log)
	if err != nil {
		log.Error("failed to initialize outbox dispatcher", "error", err)
		panic("failed to initialize outbox dispatcher: " + err.Error())
	}
	defer dispatcher.Close()
	go dispatcher.Run(ctx)

	sweeper := scheduler.NewExpirySweeper(offersModule.Service(), time.Minute, log)
	go sweeper.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, pool, offersModule.Service(), notificationModule.Service(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	log.Info("scheduler worker running")
	worker.Run(ctx)
	log.Info("scheduler stopped")
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
