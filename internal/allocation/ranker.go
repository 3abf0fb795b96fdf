// Package allocation selects providers for a lead and drives the sequential
// offer cascade until the lead is sold or the candidate pool is exhausted.
package allocation

import (
	"context"
	"sort"

	providerrepo "leadmarket/internal/providers/repository"

	"github.com/google/uuid"
)

// Providers below this rating never receive offers. rating_bps stores the
// 0-5 star rating times 100, so 300 is three stars.
const minRatingBps = 300

// CapabilityGate is consulted per candidate during ranking and again by the
// offer state machine at creation time.
type CapabilityGate interface {
	CanReceiveOffers(ctx context.Context, providerID uuid.UUID) bool
}

// Ranker orders the candidate pool for a lead. The pool arrives already
// filtered on service area and specialization; the ranker applies the rating
// floor and the capability gate, then sorts.
type Ranker struct {
	gate CapabilityGate
}

// NewRanker creates a new ranker.
func NewRanker(gate CapabilityGate) *Ranker {
	return &Ranker{gate: gate}
}

// Rank filters and orders candidates, best first: rating, then completed
// volume, then most recent activity. Ties keep the pool's original order so
// repeated runs over the same pool produce the same list. Returns at most
// maxOffers candidates; an empty result is a valid outcome.
func (r *Ranker) Rank(ctx context.Context, pool []providerrepo.Candidate, maxOffers int) []providerrepo.Candidate {
	eligible := make([]providerrepo.Candidate, 0, len(pool))
	for _, c := range pool {
		if c.RatingBps < minRatingBps {
			continue
		}
		if !r.gate.CanReceiveOffers(ctx, c.ProviderID) {
			continue
		}
		eligible = append(eligible, c)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.RatingBps != b.RatingBps {
			return a.RatingBps > b.RatingBps
		}
		if a.CompletedJobs != b.CompletedJobs {
			return a.CompletedJobs > b.CompletedJobs
		}
		return a.LastActiveAt.After(b.LastActiveAt)
	})

	if maxOffers > 0 && len(eligible) > maxOffers {
		eligible = eligible[:maxOffers]
	}

	return eligible
}
