// Package transport defines API DTOs for settlement.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// PaymentWebhookPayload is the gateway's settlement callback body.
type PaymentWebhookPayload struct {
	IntentRef string `json:"intentRef" validate:"required"`
	Outcome   string `json:"outcome" validate:"required,oneof=succeeded failed"`
	Reason    string `json:"reason"`
}

// PurchaseResponse is the provider-facing view of a purchase attempt.
type PurchaseResponse struct {
	ID            uuid.UUID `json:"id"`
	LeadID        uuid.UUID `json:"leadId"`
	AmountCents   int64     `json:"amountCents"`
	Status        string    `json:"status"`
	FailureReason *string   `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
