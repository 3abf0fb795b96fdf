package allocation

import (
	"context"
	"fmt"

	"leadmarket/internal/events"
	leadrepo "leadmarket/internal/leads/repository"
	offerrepo "leadmarket/internal/offers/repository"
	providerrepo "leadmarket/internal/providers/repository"
	"leadmarket/platform/apperr"
	"leadmarket/platform/logger"

	"github.com/google/uuid"
)

// LeadStore is the slice of the leads repository the coordinator mutates.
type LeadStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (leadrepo.Lead, error)
	MarkOffered(ctx context.Context, id uuid.UUID) error
	MarkExpired(ctx context.Context, id uuid.UUID) error
}

// OfferCreator opens a pending offer for a candidate.
type OfferCreator interface {
	Create(ctx context.Context, leadID, providerID uuid.UUID, priceCents int64) (offerrepo.Offer, error)
}

// CandidateSource lists providers matching a lead's area and project type.
type CandidateSource interface {
	ListCandidates(ctx context.Context, locationKey, projectType string) ([]providerrepo.Candidate, error)
}

// SnapshotStore persists the ranking computed at initiate time.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, leadID uuid.UUID, providerIDs []uuid.UUID) error
	NextUnoffered(ctx context.Context, leadID uuid.UUID) (SnapshotEntry, bool, error)
	MarkOffered(ctx context.Context, leadID uuid.UUID, position int) error
	CountOffered(ctx context.Context, leadID uuid.UUID) (int, error)
}

// Settler receives an accepted offer and drives the claim and payment.
type Settler interface {
	BeginSettlement(ctx context.Context, offerID uuid.UUID) error
}

// Coordinator runs the sequential cascade for each lead. The ranking is
// computed once at initiate time and never recomputed; every advance consumes
// the next snapshot position, so a provider is approached at most once per
// lead, payment failures included.
type Coordinator struct {
	leads      LeadStore
	offers     OfferCreator
	candidates CandidateSource
	snapshot   SnapshotStore
	ranker     *Ranker
	settler    Settler
	bus        events.Bus
	log        *logger.Logger
	maxOffers  int
}

// NewCoordinator creates a new allocation coordinator.
func NewCoordinator(leads LeadStore, offers OfferCreator, candidates CandidateSource, snapshot SnapshotStore, ranker *Ranker, settler Settler, bus events.Bus, maxOffers int, log *logger.Logger) *Coordinator {
	return &Coordinator{
		leads:      leads,
		offers:     offers,
		candidates: candidates,
		snapshot:   snapshot,
		ranker:     ranker,
		settler:    settler,
		bus:        bus,
		log:        log,
		maxOffers:  maxOffers,
	}
}

// Initiate ranks the candidate pool for a fresh lead, freezes the ranking,
// and offers to the top candidate.
func (c *Coordinator) Initiate(ctx context.Context, leadID uuid.UUID) error {
	lead, err := c.leads.GetByID(ctx, leadID)
	if err != nil {
		return err
	}
	if lead.Status != leadrepo.StatusAvailable {
		c.log.Info("allocation skipped, lead not available", "lead_id", leadID, "status", lead.Status)
		return nil
	}

	pool, err := c.candidates.ListCandidates(ctx, lead.LocationKey, lead.ProjectType)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}

	ranked := c.ranker.Rank(ctx, pool, c.maxOffers)
	ids := make([]uuid.UUID, 0, len(ranked))
	for _, candidate := range ranked {
		ids = append(ids, candidate.ProviderID)
	}

	if err := c.snapshot.SaveSnapshot(ctx, leadID, ids); err != nil {
		return err
	}

	c.log.Info("allocation initiated", "lead_id", leadID, "candidates", len(ids))
	return c.offerNext(ctx, lead)
}

// OnOfferTerminal advances the cascade after a decline, expiry, or payment
// failure. A lead that was sold or expired in the meantime is left alone.
func (c *Coordinator) OnOfferTerminal(ctx context.Context, leadID uuid.UUID) error {
	lead, err := c.leads.GetByID(ctx, leadID)
	if err != nil {
		return err
	}
	if lead.Status != leadrepo.StatusAvailable && lead.Status != leadrepo.StatusOffered {
		return nil
	}

	return c.offerNext(ctx, lead)
}

// OnOfferAccepted hands the accepted offer to the settlement ledger. A
// settlement failure is reported back through the purchase.failed event,
// which resumes the cascade.
func (c *Coordinator) OnOfferAccepted(ctx context.Context, offerID uuid.UUID) error {
	return c.settler.BeginSettlement(ctx, offerID)
}

// offerNext consumes snapshot positions until an offer is created or the
// snapshot runs out. Candidates that turned ineligible since ranking are
// skipped; their position is still consumed.
func (c *Coordinator) offerNext(ctx context.Context, lead leadrepo.Lead) error {
	for {
		entry, ok, err := c.snapshot.NextUnoffered(ctx, lead.ID)
		if err != nil {
			return err
		}
		if !ok {
			return c.exhaust(ctx, lead)
		}

		if err := c.leads.MarkOffered(ctx, lead.ID); err != nil {
			if apperr.Is(err, apperr.KindConflict) {
				// lead was sold or expired under us, stop the cascade
				return nil
			}
			return err
		}

		if err := c.snapshot.MarkOffered(ctx, lead.ID, entry.Position); err != nil {
			return err
		}

		offer, err := c.offers.Create(ctx, lead.ID, entry.ProviderID, lead.PriceCents)
		switch {
		case err == nil:
			c.log.Info("offer extended", "lead_id", lead.ID, "offer_id", offer.ID, "provider_id", entry.ProviderID, "position", entry.Position)
			return nil
		case apperr.Is(err, apperr.KindForbidden):
			c.log.Info("candidate no longer eligible, skipping", "lead_id", lead.ID, "provider_id", entry.ProviderID, "position", entry.Position)
			continue
		case apperr.Is(err, apperr.KindConflict):
			// a live offer already exists for this lead
			return nil
		default:
			return err
		}
	}
}

// exhaust marks the lead expired after the snapshot is used up.
func (c *Coordinator) exhaust(ctx context.Context, lead leadrepo.Lead) error {
	if err := c.leads.MarkExpired(ctx, lead.ID); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return nil
		}
		return err
	}

	offersMade, err := c.snapshot.CountOffered(ctx, lead.ID)
	if err != nil {
		c.log.Warn("failed to count offered candidates", "lead_id", lead.ID, "error", err)
	}

	c.log.Info("candidate pool exhausted, lead expired", "lead_id", lead.ID, "offers_made", offersMade)

	c.bus.Publish(ctx, events.LeadExpired{
		BaseEvent:    events.NewBaseEvent(),
		LeadID:       lead.ID,
		OriginatorID: lead.OriginatorID,
		OffersMade:   offersMade,
	})

	return nil
}
