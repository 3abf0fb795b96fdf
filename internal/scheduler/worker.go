package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadmarket/internal/notification"
	offerrepo "leadmarket/internal/offers/repository"
	offersvc "leadmarket/internal/offers/service"
	"leadmarket/platform/apperr"
	"leadmarket/platform/config"
	"leadmarket/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Worker consumes scheduled tasks: per-offer expiry checks, expiry warnings,
// and due outbox deliveries.
type Worker struct {
	server        *asynq.Server
	mux           *asynq.ServeMux
	offers        *offersvc.Service
	offerRepo     *offerrepo.Repository
	notifications *notification.Service
	log           *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, pool *pgxpool.Pool, offers *offersvc.Service, notifications *notification.Service, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:        server,
		mux:           mux,
		offers:        offers,
		offerRepo:     offerrepo.New(pool),
		notifications: notifications,
		log:           log,
	}

	mux.HandleFunc(TaskOfferExpiry, w.handleOfferExpiry)
	mux.HandleFunc(TaskOfferExpiryWarning, w.handleOfferExpiryWarning)
	mux.HandleFunc(TaskNotificationOutboxDue, w.handleNotificationOutboxDue)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleOfferExpiry runs at the offer's window boundary. Expire is
// idempotent, so racing the sweep or a lazy check is harmless.
func (w *Worker) handleOfferExpiry(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOfferExpiryPayload(task)
	if err != nil {
		return err
	}

	offerID, err := uuid.Parse(payload.OfferID)
	if err != nil {
		return err
	}

	if err := w.offers.Expire(ctx, offerID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// handleOfferExpiryWarning notifies the provider ahead of expiry, but only
// while the offer is still open.
func (w *Worker) handleOfferExpiryWarning(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOfferExpiryWarningPayload(task)
	if err != nil {
		return err
	}

	offerID, err := uuid.Parse(payload.OfferID)
	if err != nil {
		return err
	}

	offer, err := w.offerRepo.GetByID(ctx, offerID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}
	if offer.Status != offerrepo.StatusPending || time.Now().After(offer.ExpiresAt) {
		return nil
	}

	w.notifications.EnqueueOfferExpiring(ctx, offer.ProviderID, notification.LeadOfferedPayload{
		OfferID:    offer.ID,
		PriceCents: offer.PriceCents,
		ExpiresAt:  offer.ExpiresAt,
	})
	return nil
}

func (w *Worker) handleNotificationOutboxDue(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseNotificationOutboxDuePayload(task)
	if err != nil {
		return err
	}

	outboxID, err := uuid.Parse(payload.OutboxID)
	if err != nil {
		return err
	}

	return w.notifications.Deliver(ctx, outboxID)
}

// ExpirySweeper is the safety net behind the per-offer expiry tasks: it
// periodically expires every pending offer past its window, covering tasks
// lost to a redis outage.
type ExpirySweeper struct {
	offers   *offersvc.Service
	interval time.Duration
	log      *logger.Logger
}

// NewExpirySweeper creates a sweeper with the given interval.
func NewExpirySweeper(offers *offersvc.Service, interval time.Duration, log *logger.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{offers: offers, interval: interval, log: log}
}

func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := s.offers.ExpireDue(ctx)
		if err != nil {
			s.log.Warn("offer expiry sweep failed", "error", err)
			continue
		}
		if n > 0 {
			s.log.Info("offer expiry sweep", "expired", n)
		}
	}
}
