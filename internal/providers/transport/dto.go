// Package transport defines request/response DTOs for the providers API.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// RegisterProviderRequest registers a new provider in the directory.
type RegisterProviderRequest struct {
	BusinessName          string     `json:"businessName" validate:"required,min=2,max=200"`
	ContactEmail          string     `json:"contactEmail" validate:"required,email"`
	ContactPhone          string     `json:"contactPhone" validate:"required,min=5,max=32"`
	Specializations       []string   `json:"specializations" validate:"required,min=1,dive,min=2,max=64"`
	ServiceAreas          []string   `json:"serviceAreas" validate:"required,min=1,dive,min=2,max=16"`
	OffersEnabled         *bool      `json:"offersEnabled"`
	PurchasesEnabled      *bool      `json:"purchasesEnabled"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt"`
}

// ProviderResponse is the API representation of a provider.
type ProviderResponse struct {
	ID                    uuid.UUID  `json:"id"`
	BusinessName          string     `json:"businessName"`
	ContactEmail          string     `json:"contactEmail"`
	ContactPhone          string     `json:"contactPhone"`
	Rating                float64    `json:"rating"`
	CompletedJobs         int        `json:"completedJobs"`
	LastActiveAt          time.Time  `json:"lastActiveAt"`
	OffersEnabled         bool       `json:"offersEnabled"`
	PurchasesEnabled      bool       `json:"purchasesEnabled"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt,omitempty"`
	Specializations       []string   `json:"specializations"`
	ServiceAreas          []string   `json:"serviceAreas"`
	CreatedAt             time.Time  `json:"createdAt"`
}
