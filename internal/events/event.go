// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"leadmarket/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadCreated is published when a project reaches the ready-for-quoting
// milestone and a priced lead is created. The allocation coordinator
// subscribes to start the offer cascade.
type LeadCreated struct {
	BaseEvent
	LeadID       uuid.UUID `json:"leadId"`
	ProjectID    uuid.UUID `json:"projectId"`
	OriginatorID uuid.UUID `json:"originatorId"`
	ProjectType  string    `json:"projectType"`
	LocationKey  string    `json:"locationKey"`
	PriceCents   int64     `json:"priceCents"`
}

func (e LeadCreated) EventName() string { return "leads.created" }

// LeadSold is published exactly once, when settlement completes for a lead.
type LeadSold struct {
	BaseEvent
	LeadID       uuid.UUID `json:"leadId"`
	OriginatorID uuid.UUID `json:"originatorId"`
	ProviderID   uuid.UUID `json:"providerId"`
	AmountCents  int64     `json:"amountCents"`
}

func (e LeadSold) EventName() string { return "leads.sold" }

// LeadExpired is published when the candidate pool is exhausted without a sale.
type LeadExpired struct {
	BaseEvent
	LeadID       uuid.UUID `json:"leadId"`
	OriginatorID uuid.UUID `json:"originatorId"`
	OffersMade   int       `json:"offersMade"`
}

func (e LeadExpired) EventName() string { return "leads.expired" }

// =============================================================================
// Offer Domain Events
// =============================================================================

// OfferCreated is published when a provider receives a new exclusive offer.
type OfferCreated struct {
	BaseEvent
	OfferID    uuid.UUID `json:"offerId"`
	LeadID     uuid.UUID `json:"leadId"`
	ProviderID uuid.UUID `json:"providerId"`
	PriceCents int64     `json:"priceCents"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (e OfferCreated) EventName() string { return "offers.created" }

// OfferAccepted is published when a provider accepts their pending offer.
// The allocation coordinator subscribes to hand off to settlement.
type OfferAccepted struct {
	BaseEvent
	OfferID    uuid.UUID `json:"offerId"`
	LeadID     uuid.UUID `json:"leadId"`
	ProviderID uuid.UUID `json:"providerId"`
	PriceCents int64     `json:"priceCents"`
}

func (e OfferAccepted) EventName() string { return "offers.accepted" }

// OfferDeclined is published when a provider declines their pending offer.
type OfferDeclined struct {
	BaseEvent
	OfferID    uuid.UUID `json:"offerId"`
	LeadID     uuid.UUID `json:"leadId"`
	ProviderID uuid.UUID `json:"providerId"`
}

func (e OfferDeclined) EventName() string { return "offers.declined" }

// OfferExpired is published when a pending offer passes its expiry window.
type OfferExpired struct {
	BaseEvent
	OfferID    uuid.UUID `json:"offerId"`
	LeadID     uuid.UUID `json:"leadId"`
	ProviderID uuid.UUID `json:"providerId"`
}

func (e OfferExpired) EventName() string { return "offers.expired" }

// OfferSuperseded is published when an offer is withdrawn because the lead
// was sold through another path or withdrawn entirely.
type OfferSuperseded struct {
	BaseEvent
	OfferID    uuid.UUID `json:"offerId"`
	LeadID     uuid.UUID `json:"leadId"`
	ProviderID uuid.UUID `json:"providerId"`
}

func (e OfferSuperseded) EventName() string { return "offers.superseded" }

// =============================================================================
// Settlement Domain Events
// =============================================================================

// PurchaseCompleted is published when a purchase attempt settles successfully
// and the access grant has been written.
type PurchaseCompleted struct {
	BaseEvent
	AttemptID   uuid.UUID `json:"attemptId"`
	LeadID      uuid.UUID `json:"leadId"`
	OfferID     uuid.UUID `json:"offerId"`
	ProviderID  uuid.UUID `json:"providerId"`
	AmountCents int64     `json:"amountCents"`
}

func (e PurchaseCompleted) EventName() string { return "settlement.purchase.completed" }

// PurchaseFailed is published when payment initiation or confirmation fails.
// The allocation coordinator subscribes to resume the cascade.
type PurchaseFailed struct {
	BaseEvent
	AttemptID  uuid.UUID `json:"attemptId"`
	LeadID     uuid.UUID `json:"leadId"`
	OfferID    uuid.UUID `json:"offerId"`
	ProviderID uuid.UUID `json:"providerId"`
	Reason     string    `json:"reason"`
}

func (e PurchaseFailed) EventName() string { return "settlement.purchase.failed" }
