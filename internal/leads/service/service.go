// Package service implements the lead lifecycle: creation with a one-time
// computed price, and the read API for originators and admins.
package service

import (
	"context"

	"leadmarket/internal/events"
	"leadmarket/internal/leads/repository"
	"leadmarket/internal/leads/transport"
	"leadmarket/internal/pricing"
	"leadmarket/platform/apperr"
	"leadmarket/platform/logger"

	"github.com/google/uuid"
)

// Service provides lead lifecycle operations.
type Service struct {
	repo       *repository.Repository
	calculator *pricing.Calculator
	bus        events.Bus
	log        *logger.Logger
}

// New creates a new leads service.
func New(repo *repository.Repository, calculator *pricing.Calculator, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, calculator: calculator, bus: bus, log: log}
}

// Create prices the project and records it as a sellable lead. The price is
// computed exactly once here; it is never recomputed for the lifetime of the
// lead. Publishing LeadCreated starts the offer cascade.
func (s *Service) Create(ctx context.Context, req transport.CreateLeadRequest) (transport.LeadResponse, error) {
	price, err := s.calculator.Compute(req.ProjectType, req.EstimatedValueCents)
	if err != nil {
		return transport.LeadResponse{}, err
	}

	lead, err := s.repo.Create(ctx, repository.Lead{
		ProjectID:           req.ProjectID,
		OriginatorID:        req.OriginatorID,
		ProjectType:         req.ProjectType,
		LocationKey:         req.LocationKey,
		EstimatedValueCents: req.EstimatedValueCents,
		PriceCents:          price,
	})
	if err != nil {
		return transport.LeadResponse{}, err
	}

	s.log.Info("lead created", "lead_id", lead.ID, "project_type", lead.ProjectType, "price_cents", lead.PriceCents)

	s.bus.Publish(ctx, events.LeadCreated{
		BaseEvent:    events.NewBaseEvent(),
		LeadID:       lead.ID,
		ProjectID:    lead.ProjectID,
		OriginatorID: lead.OriginatorID,
		ProjectType:  lead.ProjectType,
		LocationKey:  lead.LocationKey,
		PriceCents:   lead.PriceCents,
	})

	return toResponse(lead), nil
}

// GetStatus returns a lead for its originator or an admin.
func (s *Service) GetStatus(ctx context.Context, leadID, callerID uuid.UUID, isAdmin bool) (transport.LeadResponse, error) {
	lead, err := s.repo.GetByID(ctx, leadID)
	if err != nil {
		return transport.LeadResponse{}, err
	}

	if !isAdmin && lead.OriginatorID != callerID {
		return transport.LeadResponse{}, apperr.Forbidden("lead belongs to another originator")
	}

	return toResponse(lead), nil
}

// ListByOriginator returns the caller's leads.
func (s *Service) ListByOriginator(ctx context.Context, originatorID uuid.UUID) ([]transport.LeadResponse, error) {
	leads, err := s.repo.ListByOriginator(ctx, originatorID)
	if err != nil {
		return nil, err
	}

	responses := make([]transport.LeadResponse, 0, len(leads))
	for _, l := range leads {
		responses = append(responses, toResponse(l))
	}
	return responses, nil
}

func toResponse(l repository.Lead) transport.LeadResponse {
	return transport.LeadResponse{
		ID:                  l.ID,
		ProjectID:           l.ProjectID,
		OriginatorID:        l.OriginatorID,
		ProjectType:         l.ProjectType,
		LocationKey:         l.LocationKey,
		EstimatedValueCents: l.EstimatedValueCents,
		PriceCents:          l.PriceCents,
		Status:              l.Status,
		CreatedAt:           l.CreatedAt,
	}
}
