// Package notification turns domain events into outbox entries and delivers
// them as email. Delivery is fire-and-forget from the domain's point of
// view; failures never propagate back into the allocation flow.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leadmarket/internal/notification/email"
	"leadmarket/internal/notification/outbox"
	"leadmarket/platform/logger"

	"github.com/google/uuid"
)

// Notification event types stored in the outbox.
const (
	EventLeadOffered    = "lead_offered"
	EventOfferExpiring  = "offer_expiring"
	EventLeadSold       = "lead_sold"
	EventLeadUnsold     = "lead_unsold"
	EventPurchaseFailed = "purchase_failed"
)

const maxDeliveryAttempts = 5

// Directory resolves a recipient id to contact details. Homeowner identity
// lives in an external subsystem, so a recipient without a known address is
// a valid outcome, not an error.
type Directory interface {
	EmailFor(ctx context.Context, recipientID uuid.UUID) (string, bool)
	DisplayNameFor(ctx context.Context, recipientID uuid.UUID) (string, bool)
}

// LeadOfferedPayload is stored for lead_offered and offer_expiring rows.
type LeadOfferedPayload struct {
	OfferID     uuid.UUID `json:"offerId"`
	ProjectType string    `json:"projectType"`
	PriceCents  int64     `json:"priceCents"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// LeadSoldPayload is stored for lead_sold rows.
type LeadSoldPayload struct {
	LeadID     uuid.UUID `json:"leadId"`
	ProviderID uuid.UUID `json:"providerId"`
}

// PurchaseFailedPayload is stored for purchase_failed rows.
type PurchaseFailedPayload struct {
	LeadID uuid.UUID `json:"leadId"`
	Reason string    `json:"reason"`
}

// Service enqueues and delivers notifications.
type Service struct {
	outbox     *outbox.Repository
	directory  Directory
	sender     email.Sender
	appBaseURL string
	log        *logger.Logger
}

// NewService creates a notification service.
func NewService(repo *outbox.Repository, directory Directory, sender email.Sender, appBaseURL string, log *logger.Logger) *Service {
	return &Service{
		outbox:     repo,
		directory:  directory,
		sender:     sender,
		appBaseURL: appBaseURL,
		log:        log,
	}
}

// Enqueue inserts an outbox row. A zero runAt means deliver as soon as the
// dispatcher sees it.
func (s *Service) Enqueue(ctx context.Context, recipientID uuid.UUID, eventType string, payload any, runAt time.Time) {
	id, err := s.outbox.Insert(ctx, outbox.InsertParams{
		RecipientID: recipientID,
		EventType:   eventType,
		Template:    eventType,
		Payload:     payload,
		RunAt:       runAt,
	})
	if err != nil {
		s.log.Error("failed to enqueue notification", "event_type", eventType, "recipient_id", recipientID, "error", err)
		return
	}
	s.log.Debug("notification enqueued", "outbox_id", id, "event_type", eventType)
}

// EnqueueOfferExpiring records the advance warning for a still-pending offer.
// Called by the scheduler's warning task.
func (s *Service) EnqueueOfferExpiring(ctx context.Context, providerID uuid.UUID, payload LeadOfferedPayload) {
	s.Enqueue(ctx, providerID, EventOfferExpiring, payload, time.Time{})
}

// Deliver sends one claimed outbox record. Transient send failures put the
// row back to pending for a later dispatch cycle; the attempt budget caps
// retries.
func (s *Service) Deliver(ctx context.Context, id uuid.UUID) error {
	rec, err := s.outbox.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load outbox record: %w", err)
	}
	if rec.Status == outbox.StatusSucceeded || rec.Status == outbox.StatusFailed {
		return nil
	}

	if err := s.outbox.MarkProcessing(ctx, rec.ID); err != nil {
		return err
	}
	rec.Attempts++

	if err := s.send(ctx, rec); err != nil {
		s.log.Warn("notification delivery failed", "outbox_id", rec.ID, "event_type", rec.EventType, "attempt", rec.Attempts, "error", err)
		msg := err.Error()
		if rec.Attempts >= maxDeliveryAttempts {
			return s.outbox.MarkFailed(ctx, rec.ID, msg)
		}
		return s.outbox.MarkPending(ctx, rec.ID, &msg)
	}

	return s.outbox.MarkSucceeded(ctx, rec.ID)
}

func (s *Service) send(ctx context.Context, rec outbox.Record) error {
	toEmail, ok := s.directory.EmailFor(ctx, rec.RecipientID)
	if !ok {
		// homeowner contact details live outside this system
		s.log.Info("no known address for recipient, skipping delivery", "outbox_id", rec.ID, "recipient_id", rec.RecipientID)
		return nil
	}

	switch rec.EventType {
	case EventLeadOffered:
		var p LeadOfferedPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return s.sender.SendOfferReceived(ctx, toEmail, projectTypeOrDefault(p.ProjectType), p.PriceCents, p.ExpiresAt, s.offerURL(p.OfferID))

	case EventOfferExpiring:
		var p LeadOfferedPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return s.sender.SendOfferExpiring(ctx, toEmail, projectTypeOrDefault(p.ProjectType), p.ExpiresAt, s.offerURL(p.OfferID))

	case EventLeadSold:
		var p LeadSoldPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		name, _ := s.directory.DisplayNameFor(ctx, p.ProviderID)
		if name == "" {
			name = "A builder"
		}
		return s.sender.SendLeadSold(ctx, toEmail, name)

	case EventLeadUnsold:
		return s.sender.SendLeadUnsold(ctx, toEmail)

	case EventPurchaseFailed:
		var p PurchaseFailedPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return s.sender.SendPurchaseFailed(ctx, toEmail, p.Reason)

	default:
		return fmt.Errorf("unknown notification event type %q", rec.EventType)
	}
}

func (s *Service) offerURL(offerID uuid.UUID) string {
	return fmt.Sprintf("%s/offers/%s", s.appBaseURL, offerID)
}

func projectTypeOrDefault(projectType string) string {
	if projectType == "" {
		return "home improvement"
	}
	return projectType
}
