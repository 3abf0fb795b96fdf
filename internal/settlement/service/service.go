// Package service implements the settlement ledger. The conditional claim on
// the lead row is the only mechanism preventing a double sale; payment runs
// strictly after a successful claim, and any payment failure rolls the claim
// back so the cascade can continue.
package service

import (
	"context"

	"leadmarket/internal/events"
	leadrepo "leadmarket/internal/leads/repository"
	offerrepo "leadmarket/internal/offers/repository"
	"leadmarket/internal/settlement/repository"
	"leadmarket/platform/apperr"
	"leadmarket/platform/logger"
	"leadmarket/platform/payments"

	"github.com/google/uuid"
)

const settlementCurrency = "GBP"

// Ledger is the persistence the settlement service needs. Implemented by
// repository.Repository.
type Ledger interface {
	Create(ctx context.Context, attempt repository.PurchaseAttempt) (repository.PurchaseAttempt, error)
	SetIntentRef(ctx context.Context, id uuid.UUID, intentRef string) error
	GetByIntentRef(ctx context.Context, intentRef string) (repository.PurchaseAttempt, error)
	Complete(ctx context.Context, id uuid.UUID) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	GrantAccess(ctx context.Context, leadID, providerID uuid.UUID) (bool, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]repository.PurchaseAttempt, error)
}

// LeadStore is the slice of the leads repository holding the claim.
type LeadStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (leadrepo.Lead, error)
	ClaimForSale(ctx context.Context, id uuid.UUID) error
	ReleaseClaim(ctx context.Context, id uuid.UUID) error
}

// OfferStore reads the accepted offer being settled and withdraws it when
// settlement fails.
type OfferStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (offerrepo.Offer, error)
	SupersedeAccepted(ctx context.Context, id uuid.UUID) (bool, error)
}

// CapabilityGate is consulted before a provider may complete a purchase.
type CapabilityGate interface {
	CanPurchase(ctx context.Context, providerID uuid.UUID) bool
}

// Service drives claims, payment initiation, and settlement callbacks.
type Service struct {
	ledger  Ledger
	leads   LeadStore
	offers  OfferStore
	gateway payments.Gateway
	gate    CapabilityGate
	bus     events.Bus
	log     *logger.Logger
}

// New creates a new settlement service.
func New(ledger Ledger, leads LeadStore, offers OfferStore, gateway payments.Gateway, gate CapabilityGate, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		ledger:  ledger,
		leads:   leads,
		offers:  offers,
		gateway: gateway,
		gate:    gate,
		bus:     bus,
		log:     log,
	}
}

// BeginSettlement claims the lead for an accepted offer and initiates
// payment. The claim happens first: losing it means the lead is already
// sold and payment must never start. A payment initiation failure releases
// the claim and reports the attempt as failed so the cascade resumes.
func (s *Service) BeginSettlement(ctx context.Context, offerID uuid.UUID) error {
	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.Status != offerrepo.StatusAccepted {
		return apperr.Conflict("offer is not accepted").WithOp("settlement.BeginSettlement")
	}

	if !s.gate.CanPurchase(ctx, offer.ProviderID) {
		s.log.Warn("purchase capability denied", "offer_id", offerID, "provider_id", offer.ProviderID)
		s.withdrawOffer(ctx, offer.ID, offer.LeadID, offer.ProviderID)
		s.bus.Publish(ctx, events.PurchaseFailed{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     offer.LeadID,
			OfferID:    offer.ID,
			ProviderID: offer.ProviderID,
			Reason:     "purchase capability denied",
		})
		return apperr.Forbidden("provider cannot currently complete purchases")
	}

	if err := s.leads.ClaimForSale(ctx, offer.LeadID); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return apperr.Conflict("lead already sold").WithOp("settlement.BeginSettlement")
		}
		return err
	}

	// amount frozen here; later pricing changes never alter a settled ledger row
	attempt, err := s.ledger.Create(ctx, repository.PurchaseAttempt{
		LeadID:      offer.LeadID,
		OfferID:     offer.ID,
		ProviderID:  offer.ProviderID,
		AmountCents: offer.PriceCents,
	})
	if err != nil {
		if _, relErr := s.releaseClaim(ctx, offer.LeadID); relErr != nil {
			s.log.Error("failed to release lead claim", "lead_id", offer.LeadID, "error", relErr)
		}
		return err
	}

	reservation, err := s.gateway.CreateReservation(ctx, payments.ReservationRequest{
		AmountCents: attempt.AmountCents,
		Currency:    settlementCurrency,
		Reference:   attempt.ID.String(),
		Description: "lead purchase " + offer.LeadID.String(),
	})
	if err != nil {
		s.failAttempt(ctx, attempt, "payment initiation failed")
		return apperr.Upstream("payment initiation failed").WithOp("settlement.BeginSettlement")
	}

	if err := s.ledger.SetIntentRef(ctx, attempt.ID, reservation.IntentRef); err != nil {
		s.failAttempt(ctx, attempt, "failed to record payment intent")
		return err
	}

	s.log.SettlementEvent("payment_initiated", offer.LeadID.String(), reservation.IntentRef)
	return nil
}

// ConfirmSettlement is the idempotent payment callback. Delivering the same
// outcome twice completes exactly one attempt, grants access once, and
// publishes each event once.
func (s *Service) ConfirmSettlement(ctx context.Context, intentRef string, succeeded bool, reason string) error {
	attempt, err := s.ledger.GetByIntentRef(ctx, intentRef)
	if err != nil {
		return err
	}

	if !succeeded {
		return s.settleFailed(ctx, attempt, reason)
	}

	applied, err := s.ledger.Complete(ctx, attempt.ID)
	if err != nil {
		return err
	}
	if !applied && attempt.Status != repository.StatusCompleted {
		// the attempt already failed; a late success callback loses
		return nil
	}

	// Re-assert the grant on every delivery of the success outcome: a
	// delivery interrupted between Complete and GrantAccess leaves a
	// completed attempt without a grant, and the next delivery must finish
	// the job. The grant insert is the publish gate, so the events still
	// fire exactly once.
	granted, err := s.ledger.GrantAccess(ctx, attempt.LeadID, attempt.ProviderID)
	if err != nil {
		return err
	}
	if !granted {
		// duplicate delivery, the first one already granted and announced
		return nil
	}

	lead, err := s.leads.GetByID(ctx, attempt.LeadID)
	if err != nil {
		return err
	}

	s.log.SettlementEvent("settlement_completed", attempt.LeadID.String(), intentRef)

	s.bus.Publish(ctx, events.PurchaseCompleted{
		BaseEvent:   events.NewBaseEvent(),
		AttemptID:   attempt.ID,
		LeadID:      attempt.LeadID,
		OfferID:     attempt.OfferID,
		ProviderID:  attempt.ProviderID,
		AmountCents: attempt.AmountCents,
	})
	s.bus.Publish(ctx, events.LeadSold{
		BaseEvent:    events.NewBaseEvent(),
		LeadID:       attempt.LeadID,
		OriginatorID: lead.OriginatorID,
		ProviderID:   attempt.ProviderID,
		AmountCents:  attempt.AmountCents,
	})

	return nil
}

// ListPurchases returns the provider's own purchase history.
func (s *Service) ListPurchases(ctx context.Context, providerID uuid.UUID) ([]repository.PurchaseAttempt, error) {
	return s.ledger.ListByProvider(ctx, providerID)
}

func (s *Service) settleFailed(ctx context.Context, attempt repository.PurchaseAttempt, reason string) error {
	if reason == "" {
		reason = "payment declined"
	}

	applied, err := s.ledger.Fail(ctx, attempt.ID, reason)
	if err != nil {
		return err
	}
	if !applied && attempt.Status != repository.StatusFailed {
		// the attempt already completed; a late failure callback loses
		return nil
	}

	// Re-run the rollback on every delivery of the failure outcome; each
	// step is a guarded transition, so a delivery interrupted mid-rollback
	// is finished by the next one. The claim release is the publish gate:
	// whichever delivery performs it announces the failure, exactly once.
	s.withdrawOffer(ctx, attempt.OfferID, attempt.LeadID, attempt.ProviderID)

	released, err := s.releaseClaim(ctx, attempt.LeadID)
	if err != nil {
		return err
	}
	if !released {
		return nil
	}

	s.log.SettlementEvent("settlement_failed", attempt.LeadID.String(), attempt.IntentRef)

	s.bus.Publish(ctx, events.PurchaseFailed{
		BaseEvent:  events.NewBaseEvent(),
		AttemptID:  attempt.ID,
		LeadID:     attempt.LeadID,
		OfferID:    attempt.OfferID,
		ProviderID: attempt.ProviderID,
		Reason:     reason,
	})

	return nil
}

// failAttempt marks the attempt failed, withdraws the offer, releases the
// claim, and announces the failure so the cascade advances past this
// provider.
func (s *Service) failAttempt(ctx context.Context, attempt repository.PurchaseAttempt, reason string) {
	if _, err := s.ledger.Fail(ctx, attempt.ID, reason); err != nil {
		s.log.Error("failed to mark purchase attempt failed", "attempt_id", attempt.ID, "error", err)
	}
	s.withdrawOffer(ctx, attempt.OfferID, attempt.LeadID, attempt.ProviderID)
	if _, err := s.releaseClaim(ctx, attempt.LeadID); err != nil {
		s.log.Error("failed to release lead claim", "lead_id", attempt.LeadID, "error", err)
	}

	s.bus.Publish(ctx, events.PurchaseFailed{
		BaseEvent:  events.NewBaseEvent(),
		AttemptID:  attempt.ID,
		LeadID:     attempt.LeadID,
		OfferID:    attempt.OfferID,
		ProviderID: attempt.ProviderID,
		Reason:     reason,
	})
}

// withdrawOffer supersedes the accepted offer behind a failed settlement,
// freeing the lead's live-offer slot before the cascade is told to advance.
func (s *Service) withdrawOffer(ctx context.Context, offerID, leadID, providerID uuid.UUID) {
	applied, err := s.offers.SupersedeAccepted(ctx, offerID)
	if err != nil {
		s.log.Error("failed to withdraw offer after settlement failure", "offer_id", offerID, "error", err)
		return
	}
	if !applied {
		return
	}

	s.log.OfferTransition(offerID.String(), leadID.String(), offerrepo.StatusAccepted, offerrepo.StatusSuperseded)
	s.bus.Publish(ctx, events.OfferSuperseded{
		BaseEvent:  events.NewBaseEvent(),
		OfferID:    offerID,
		LeadID:     leadID,
		ProviderID: providerID,
	})
}

// releaseClaim rolls the lead back to offered. Reports false without error
// when the claim was already released.
func (s *Service) releaseClaim(ctx context.Context, leadID uuid.UUID) (bool, error) {
	err := s.leads.ReleaseClaim(ctx, leadID)
	if err == nil {
		return true, nil
	}
	if apperr.Is(err, apperr.KindConflict) {
		return false, nil
	}
	return false, err
}
