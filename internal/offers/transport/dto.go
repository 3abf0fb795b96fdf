// Package transport defines API DTOs for offers.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// OfferResponse is the provider-facing view of an offer.
type OfferResponse struct {
	ID          uuid.UUID  `json:"id"`
	LeadID      uuid.UUID  `json:"leadId"`
	PriceCents  int64      `json:"priceCents"`
	Status      string     `json:"status"`
	OfferedAt   time.Time  `json:"offeredAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
}
