package notification

import (
	"context"

	"leadmarket/internal/events"
	"leadmarket/internal/notification/email"
	"leadmarket/internal/notification/outbox"
	"leadmarket/platform/config"
	"leadmarket/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module wires the outbox, the sender, and the event subscriptions.
type Module struct {
	service *Service
	outbox  *outbox.Repository
}

// NewModule creates the notification module and subscribes it to the bus.
// With email disabled the outbox still fills; delivery just logs.
func NewModule(pool *pgxpool.Pool, directory Directory, bus events.Bus, emailCfg config.EmailConfig, notifyCfg config.NotificationConfig, log *logger.Logger) *Module {
	var sender email.Sender
	if emailCfg.GetEmailEnabled() {
		sender = email.NewSMTPSender(emailCfg)
	} else {
		sender = email.NewNoopSender(log)
	}

	repo := outbox.New(pool)
	svc := NewService(repo, directory, sender, notifyCfg.GetAppBaseURL(), log)

	m := &Module{service: svc, outbox: repo}
	m.subscribe(bus, log)
	return m
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "notification"
}

// Service returns the service layer for scheduler wiring.
func (m *Module) Service() *Service {
	return m.service
}

// Outbox returns the repository for the dispatcher.
func (m *Module) Outbox() *outbox.Repository {
	return m.outbox
}

func (m *Module) subscribe(bus events.Bus, log *logger.Logger) {
	bus.Subscribe(events.OfferCreated{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.OfferCreated)
		if !ok {
			return nil
		}
		m.service.Enqueue(ctx, e.ProviderID, EventLeadOffered, LeadOfferedPayload{
			OfferID:    e.OfferID,
			PriceCents: e.PriceCents,
			ExpiresAt:  e.ExpiresAt,
		}, e.OccurredAt())
		return nil
	}))

	bus.Subscribe(events.LeadSold{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadSold)
		if !ok {
			return nil
		}
		m.service.Enqueue(ctx, e.OriginatorID, EventLeadSold, LeadSoldPayload{
			LeadID:     e.LeadID,
			ProviderID: e.ProviderID,
		}, e.OccurredAt())
		return nil
	}))

	bus.Subscribe(events.LeadExpired{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadExpired)
		if !ok {
			return nil
		}
		m.service.Enqueue(ctx, e.OriginatorID, EventLeadUnsold, nil, e.OccurredAt())
		return nil
	}))

	bus.Subscribe(events.PurchaseFailed{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.PurchaseFailed)
		if !ok {
			return nil
		}
		m.service.Enqueue(ctx, e.ProviderID, EventPurchaseFailed, PurchaseFailedPayload{
			LeadID: e.LeadID,
			Reason: e.Reason,
		}, e.OccurredAt())
		return nil
	}))

	log.Info("notification module subscribed to domain events")
}
