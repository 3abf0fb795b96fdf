// Package service implements provider directory operations and the
// capability gate consulted by allocation and settlement.
package service

import (
	"context"
	"time"

	"leadmarket/internal/providers/repository"
	"leadmarket/internal/providers/transport"
	"leadmarket/platform/logger"
	"leadmarket/platform/phone"

	"github.com/google/uuid"
)

// Service provides provider directory operations.
type Service struct {
	repo *repository.Repository
	log  *logger.Logger
}

// New creates a new providers service.
func New(repo *repository.Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Register adds a provider to the directory. Contact phone is normalized to
// E.164; a duplicate contact email fails fast with a conflict.
func (s *Service) Register(ctx context.Context, req transport.RegisterProviderRequest) (transport.ProviderResponse, error) {
	offersEnabled := true
	if req.OffersEnabled != nil {
		offersEnabled = *req.OffersEnabled
	}
	purchasesEnabled := true
	if req.PurchasesEnabled != nil {
		purchasesEnabled = *req.PurchasesEnabled
	}

	provider, err := s.repo.Create(ctx, repository.Provider{
		BusinessName:          req.BusinessName,
		ContactEmail:          req.ContactEmail,
		ContactPhone:          phone.NormalizeE164(req.ContactPhone),
		LastActiveAt:          time.Now().UTC(),
		OffersEnabled:         offersEnabled,
		PurchasesEnabled:      purchasesEnabled,
		SubscriptionExpiresAt: req.SubscriptionExpiresAt,
		Specializations:       req.Specializations,
		ServiceAreas:          req.ServiceAreas,
	})
	if err != nil {
		return transport.ProviderResponse{}, err
	}

	s.log.Info("provider registered", "provider_id", provider.ID, "business_name", provider.BusinessName)

	return toResponse(provider), nil
}

// GetByID retrieves a provider.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (transport.ProviderResponse, error) {
	provider, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return transport.ProviderResponse{}, err
	}
	return toResponse(provider), nil
}

// List returns all registered providers.
func (s *Service) List(ctx context.Context) ([]transport.ProviderResponse, error) {
	providers, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	responses := make([]transport.ProviderResponse, 0, len(providers))
	for _, p := range providers {
		responses = append(responses, toResponse(p))
	}
	return responses, nil
}

// ListCandidates returns the directory's candidate pool for a lead.
func (s *Service) ListCandidates(ctx context.Context, locationKey, projectType string) ([]repository.Candidate, error) {
	return s.repo.ListCandidates(ctx, locationKey, projectType)
}

// TouchActivity records provider activity for ranking recency.
func (s *Service) TouchActivity(ctx context.Context, id uuid.UUID) error {
	return s.repo.TouchActivity(ctx, id)
}

// CanReceiveOffers reports whether the provider may currently receive offers.
// A false answer is a hard skip for the cascade, never an error.
func (s *Service) CanReceiveOffers(ctx context.Context, providerID uuid.UUID) bool {
	offersEnabled, _, expiresAt, err := s.repo.GetCapabilities(ctx, providerID)
	if err != nil {
		s.log.Error("capability check failed", "provider_id", providerID, "error", err)
		return false
	}
	return offersEnabled && subscriptionActive(expiresAt)
}

// CanPurchase reports whether the provider may currently complete a purchase.
func (s *Service) CanPurchase(ctx context.Context, providerID uuid.UUID) bool {
	_, purchasesEnabled, expiresAt, err := s.repo.GetCapabilities(ctx, providerID)
	if err != nil {
		s.log.Error("capability check failed", "provider_id", providerID, "error", err)
		return false
	}
	return purchasesEnabled && subscriptionActive(expiresAt)
}

func subscriptionActive(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return expiresAt.After(time.Now())
}

func toResponse(p repository.Provider) transport.ProviderResponse {
	return transport.ProviderResponse{
		ID:                    p.ID,
		BusinessName:          p.BusinessName,
		ContactEmail:          p.ContactEmail,
		ContactPhone:          p.ContactPhone,
		Rating:                float64(p.RatingBps) / 100,
		CompletedJobs:         p.CompletedJobs,
		LastActiveAt:          p.LastActiveAt,
		OffersEnabled:         p.OffersEnabled,
		PurchasesEnabled:      p.PurchasesEnabled,
		SubscriptionExpiresAt: p.SubscriptionExpiresAt,
		Specializations:       p.Specializations,
		ServiceAreas:          p.ServiceAreas,
		CreatedAt:             p.CreatedAt,
	}
}
