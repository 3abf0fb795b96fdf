// Package transport defines request/response DTOs for the leads API.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// CreateLeadRequest turns a quoting-ready project into a sellable lead.
type CreateLeadRequest struct {
	ProjectID           uuid.UUID `json:"projectId" validate:"required"`
	OriginatorID        uuid.UUID `json:"originatorId" validate:"required"`
	ProjectType         string    `json:"projectType" validate:"required,min=2,max=64"`
	LocationKey         string    `json:"locationKey" validate:"required,min=2,max=16"`
	EstimatedValueCents int64     `json:"estimatedValueCents" validate:"gte=0"`
}

// LeadResponse is the API representation of a lead.
type LeadResponse struct {
	ID                  uuid.UUID `json:"id"`
	ProjectID           uuid.UUID `json:"projectId"`
	OriginatorID        uuid.UUID `json:"originatorId"`
	ProjectType         string    `json:"projectType"`
	LocationKey         string    `json:"locationKey"`
	EstimatedValueCents int64     `json:"estimatedValueCents"`
	PriceCents          int64     `json:"priceCents"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"createdAt"`
}
