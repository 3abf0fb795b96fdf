// Package service implements the offer state machine. An offer moves from
// pending to exactly one terminal state (accepted, declined, expired,
// superseded); the winner of any race is decided by a conditional update on
// the pending status, and expiry is enforced lazily on every mutation so a
// stale offer fails even before the sweep has run.
package service

import (
	"context"
	"time"

	"leadmarket/internal/events"
	"leadmarket/internal/offers/repository"
	"leadmarket/platform/apperr"
	"leadmarket/platform/config"
	"leadmarket/platform/logger"

	"github.com/google/uuid"
)

// Store is the persistence the state machine needs. Implemented by
// repository.Repository; narrowed to an interface so transition logic is
// testable against an in-memory fake.
type Store interface {
	Create(ctx context.Context, offer repository.Offer) (repository.Offer, error)
	GetByID(ctx context.Context, id uuid.UUID) (repository.Offer, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]repository.Offer, error)
	Accept(ctx context.Context, id uuid.UUID) (bool, error)
	Decline(ctx context.Context, id uuid.UUID) (bool, error)
	Expire(ctx context.Context, id uuid.UUID) (bool, error)
	SupersedePending(ctx context.Context, leadID uuid.UUID) ([]repository.Offer, error)
	ExpireDue(ctx context.Context) ([]repository.Offer, error)
}

// CapabilityGate is consulted before a provider may receive an offer.
type CapabilityGate interface {
	CanReceiveOffers(ctx context.Context, providerID uuid.UUID) bool
}

// ExpiryScheduler schedules the wall-clock expiry check and the advance
// warning for a new offer. Nil-safe; scheduling failures never fail the
// offer because the periodic sweep covers missed tasks.
type ExpiryScheduler interface {
	ScheduleOfferExpiry(ctx context.Context, offerID uuid.UUID, runAt time.Time) error
	ScheduleOfferExpiryWarning(ctx context.Context, offerID uuid.UUID, runAt time.Time) error
}

// Service drives offer lifecycle transitions.
type Service struct {
	store         Store
	gate          CapabilityGate
	sched         ExpiryScheduler
	bus           events.Bus
	log           *logger.Logger
	offerWindow   time.Duration
	expiryWarning time.Duration
	now           func() time.Time
}

// New creates a new offers service.
func New(store Store, gate CapabilityGate, sched ExpiryScheduler, bus events.Bus, cfg config.AllocationConfig, log *logger.Logger) *Service {
	return &Service{
		store:         store,
		gate:          gate,
		sched:         sched,
		bus:           bus,
		log:           log,
		offerWindow:   cfg.GetOfferWindow(),
		expiryWarning: cfg.GetOfferExpiryWarning(),
		now:           time.Now,
	}
}

// Create opens a new pending offer for a provider on a lead. The exclusivity
// window is fixed at creation; the capability gate is consulted at this
// moment, not at ranking time.
func (s *Service) Create(ctx context.Context, leadID, providerID uuid.UUID, priceCents int64) (repository.Offer, error) {
	if !s.gate.CanReceiveOffers(ctx, providerID) {
		return repository.Offer{}, apperr.Forbidden("provider cannot currently receive offers").WithOp("offers.Create")
	}

	offeredAt := s.now().UTC()
	offer, err := s.store.Create(ctx, repository.Offer{
		LeadID:     leadID,
		ProviderID: providerID,
		PriceCents: priceCents,
		OfferedAt:  offeredAt,
		ExpiresAt:  offeredAt.Add(s.offerWindow),
	})
	if err != nil {
		return repository.Offer{}, err
	}

	s.log.OfferTransition(offer.ID.String(), leadID.String(), "", repository.StatusPending)

	s.bus.Publish(ctx, events.OfferCreated{
		BaseEvent:  events.NewBaseEvent(),
		OfferID:    offer.ID,
		LeadID:     offer.LeadID,
		ProviderID: offer.ProviderID,
		PriceCents: offer.PriceCents,
		ExpiresAt:  offer.ExpiresAt,
	})

	s.scheduleExpiry(ctx, offer)

	return offer, nil
}

// Accept transitions pending -> accepted for the offer's own provider.
// A request arriving after the window fails as expired even if the sweep has
// not yet observed the offer.
func (s *Service) Accept(ctx context.Context, offerID, providerID uuid.UUID) (repository.Offer, error) {
	offer, err := s.guardMutation(ctx, offerID, providerID)
	if err != nil {
		return repository.Offer{}, err
	}

	applied, err := s.store.Accept(ctx, offerID)
	if err != nil {
		return repository.Offer{}, err
	}
	if !applied {
		return repository.Offer{}, s.loseRace(ctx, offerID)
	}

	s.log.OfferTransition(offer.ID.String(), offer.LeadID.String(), repository.StatusPending, repository.StatusAccepted)

	s.bus.Publish(ctx, events.OfferAccepted{
		BaseEvent:  events.NewBaseEvent(),
		OfferID:    offer.ID,
		LeadID:     offer.LeadID,
		ProviderID: offer.ProviderID,
		PriceCents: offer.PriceCents,
	})

	return s.store.GetByID(ctx, offerID)
}

// Decline transitions pending -> declined for the offer's own provider.
func (s *Service) Decline(ctx context.Context, offerID, providerID uuid.UUID) (repository.Offer, error) {
	offer, err := s.guardMutation(ctx, offerID, providerID)
	if err != nil {
		return repository.Offer{}, err
	}

	applied, err := s.store.Decline(ctx, offerID)
	if err != nil {
		return repository.Offer{}, err
	}
	if !applied {
		return repository.Offer{}, s.loseRace(ctx, offerID)
	}

	s.log.OfferTransition(offer.ID.String(), offer.LeadID.String(), repository.StatusPending, repository.StatusDeclined)

	s.bus.Publish(ctx, events.OfferDeclined{
		BaseEvent:  events.NewBaseEvent(),
		OfferID:    offer.ID,
		LeadID:     offer.LeadID,
		ProviderID: offer.ProviderID,
	})

	return s.store.GetByID(ctx, offerID)
}

// Expire transitions pending -> expired. Idempotent: expiring an already
// terminal offer is a no-op, so the scheduled task, the sweep, and lazy
// checks can all call it without coordination.
func (s *Service) Expire(ctx context.Context, offerID uuid.UUID) error {
	offer, err := s.store.GetByID(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.Status != repository.StatusPending {
		return nil
	}

	applied, err := s.store.Expire(ctx, offerID)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.publishExpired(ctx, offer)
	return nil
}

// ExpireDue sweeps every pending offer past its window. Each expiry event
// advances that lead's cascade.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireDue(ctx)
	if err != nil {
		return 0, err
	}

	for _, offer := range expired {
		s.publishExpired(ctx, offer)
	}

	return len(expired), nil
}

// SupersedeForLead withdraws any pending offer on a lead that was sold
// through another path or withdrawn entirely.
func (s *Service) SupersedeForLead(ctx context.Context, leadID uuid.UUID) error {
	superseded, err := s.store.SupersedePending(ctx, leadID)
	if err != nil {
		return err
	}

	for _, offer := range superseded {
		s.log.OfferTransition(offer.ID.String(), offer.LeadID.String(), repository.StatusPending, repository.StatusSuperseded)
		s.bus.Publish(ctx, events.OfferSuperseded{
			BaseEvent:  events.NewBaseEvent(),
			OfferID:    offer.ID,
			LeadID:     offer.LeadID,
			ProviderID: offer.ProviderID,
		})
	}

	return nil
}

// GetForProvider returns an offer visible to its recipient, applying the
// lazy expiry check on read.
func (s *Service) GetForProvider(ctx context.Context, offerID, providerID uuid.UUID) (repository.Offer, error) {
	offer, err := s.store.GetByID(ctx, offerID)
	if err != nil {
		return repository.Offer{}, err
	}
	if offer.ProviderID != providerID {
		return repository.Offer{}, apperr.Unauthorized("offer belongs to another provider")
	}

	if offer.Status == repository.StatusPending && s.now().After(offer.ExpiresAt) {
		if applied, err := s.store.Expire(ctx, offerID); err == nil && applied {
			s.publishExpired(ctx, offer)
			offer.Status = repository.StatusExpired
		}
	}

	return offer, nil
}

// ListForProvider returns all offers made to the provider.
func (s *Service) ListForProvider(ctx context.Context, providerID uuid.UUID) ([]repository.Offer, error) {
	return s.store.ListByProvider(ctx, providerID)
}

// guardMutation runs the shared accept/decline preconditions: the offer must
// exist, belong to the caller, still be pending, and still be inside its
// window. An observed stale offer is expired as a side effect.
func (s *Service) guardMutation(ctx context.Context, offerID, providerID uuid.UUID) (repository.Offer, error) {
	offer, err := s.store.GetByID(ctx, offerID)
	if err != nil {
		return repository.Offer{}, err
	}
	if offer.ProviderID != providerID {
		return repository.Offer{}, apperr.Unauthorized("offer belongs to another provider")
	}
	if offer.Status != repository.StatusPending {
		return repository.Offer{}, apperr.Conflict("offer is no longer pending")
	}
	if s.now().After(offer.ExpiresAt) {
		if applied, expireErr := s.store.Expire(ctx, offerID); expireErr == nil && applied {
			s.publishExpired(ctx, offer)
		}
		return repository.Offer{}, apperr.Gone("offer has expired")
	}

	return offer, nil
}

// loseRace maps a failed conditional update to the typed outcome the caller
// lost to.
func (s *Service) loseRace(ctx context.Context, offerID uuid.UUID) error {
	offer, err := s.store.GetByID(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.Status == repository.StatusExpired || (offer.Status == repository.StatusPending && s.now().After(offer.ExpiresAt)) {
		return apperr.Gone("offer has expired")
	}
	return apperr.Conflict("offer is no longer pending")
}

func (s *Service) publishExpired(ctx context.Context, offer repository.Offer) {
	s.log.OfferTransition(offer.ID.String(), offer.LeadID.String(), repository.StatusPending, repository.StatusExpired)
	s.bus.Publish(ctx, events.OfferExpired{
		BaseEvent:  events.NewBaseEvent(),
		OfferID:    offer.ID,
		LeadID:     offer.LeadID,
		ProviderID: offer.ProviderID,
	})
}

func (s *Service) scheduleExpiry(ctx context.Context, offer repository.Offer) {
	if s.sched == nil {
		return
	}

	if err := s.sched.ScheduleOfferExpiry(ctx, offer.ID, offer.ExpiresAt); err != nil {
		s.log.Warn("failed to schedule offer expiry", "offer_id", offer.ID, "error", err)
	}

	warnAt := offer.ExpiresAt.Add(-s.expiryWarning)
	if s.expiryWarning > 0 && warnAt.After(s.now()) {
		if err := s.sched.ScheduleOfferExpiryWarning(ctx, offer.ID, warnAt); err != nil {
			s.log.Warn("failed to schedule offer expiry warning", "offer_id", offer.ID, "error", err)
		}
	}
}
