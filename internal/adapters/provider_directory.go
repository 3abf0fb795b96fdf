// Package adapters contains thin cross-module adapters wired at the
// composition root, keeping modules dependent on their own interfaces.
package adapters

import (
	"context"

	providersvc "leadmarket/internal/providers/service"

	"github.com/google/uuid"
)

// ProviderDirectory resolves notification recipients against the provider
// directory. Originator (homeowner) identity lives in an external subsystem,
// so unknown recipients report no address rather than an error.
type ProviderDirectory struct {
	providers *providersvc.Service
}

// NewProviderDirectory creates a directory adapter over the providers service.
func NewProviderDirectory(providers *providersvc.Service) *ProviderDirectory {
	return &ProviderDirectory{providers: providers}
}

func (d *ProviderDirectory) EmailFor(ctx context.Context, recipientID uuid.UUID) (string, bool) {
	provider, err := d.providers.GetByID(ctx, recipientID)
	if err != nil || provider.ContactEmail == "" {
		return "", false
	}
	return provider.ContactEmail, true
}

func (d *ProviderDirectory) DisplayNameFor(ctx context.Context, recipientID uuid.UUID) (string, bool) {
	provider, err := d.providers.GetByID(ctx, recipientID)
	if err != nil || provider.BusinessName == "" {
		return "", false
	}
	return provider.BusinessName, true
}
