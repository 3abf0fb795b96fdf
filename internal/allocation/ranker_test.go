package allocation

import (
	"context"
	"testing"
	"time"

	providerrepo "leadmarket/internal/providers/repository"

	"github.com/google/uuid"
)

type fakeGate struct {
	denied map[uuid.UUID]bool
}

func (g fakeGate) CanReceiveOffers(ctx context.Context, providerID uuid.UUID) bool {
	return !g.denied[providerID]
}

func candidate(rating, jobs int, lastActive time.Time) providerrepo.Candidate {
	return providerrepo.Candidate{
		ProviderID:    uuid.New(),
		RatingBps:     rating,
		CompletedJobs: jobs,
		LastActiveAt:  lastActive,
	}
}

func TestRankOrdersByRatingThenVolumeThenRecency(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	low := candidate(400, 50, base)
	highFewJobs := candidate(480, 10, base)
	highManyJobs := candidate(480, 30, base)
	highManyJobsStale := candidate(480, 30, base.Add(-24*time.Hour))

	ranker := NewRanker(fakeGate{})
	ranked := ranker.Rank(context.Background(), []providerrepo.Candidate{low, highFewJobs, highManyJobsStale, highManyJobs}, 10)

	want := []uuid.UUID{highManyJobs.ProviderID, highManyJobsStale.ProviderID, highFewJobs.ProviderID, low.ProviderID}
	if len(ranked) != len(want) {
		t.Fatalf("expected %d candidates, got %d", len(want), len(ranked))
	}
	for i, id := range want {
		if ranked[i].ProviderID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, ranked[i].ProviderID)
		}
	}
}

func TestRankFiltersBelowRatingFloor(t *testing.T) {
	ok := candidate(minRatingBps, 5, time.Now())
	tooLow := candidate(minRatingBps-1, 500, time.Now())

	ranker := NewRanker(fakeGate{})
	ranked := ranker.Rank(context.Background(), []providerrepo.Candidate{tooLow, ok}, 10)

	if len(ranked) != 1 || ranked[0].ProviderID != ok.ProviderID {
		t.Fatalf("expected only the candidate at the floor, got %v", ranked)
	}
}

func TestRankFiltersGateDenied(t *testing.T) {
	allowed := candidate(450, 5, time.Now())
	denied := candidate(500, 50, time.Now())

	ranker := NewRanker(fakeGate{denied: map[uuid.UUID]bool{denied.ProviderID: true}})
	ranked := ranker.Rank(context.Background(), []providerrepo.Candidate{denied, allowed}, 10)

	if len(ranked) != 1 || ranked[0].ProviderID != allowed.ProviderID {
		t.Fatalf("expected gate-denied candidate removed, got %v", ranked)
	}
}

func TestRankTiesKeepPoolOrder(t *testing.T) {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	first := candidate(450, 20, at)
	second := candidate(450, 20, at)

	ranker := NewRanker(fakeGate{})

	for run := 0; run < 5; run++ {
		ranked := ranker.Rank(context.Background(), []providerrepo.Candidate{first, second}, 10)
		if ranked[0].ProviderID != first.ProviderID || ranked[1].ProviderID != second.ProviderID {
			t.Fatalf("run %d: tie order not stable: %v", run, ranked)
		}
	}
}

func TestRankCapsAtMaxOffers(t *testing.T) {
	pool := make([]providerrepo.Candidate, 8)
	for i := range pool {
		pool[i] = candidate(400+i*10, i, time.Now())
	}

	ranker := NewRanker(fakeGate{})
	ranked := ranker.Rank(context.Background(), pool, 3)

	if len(ranked) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(ranked))
	}
	if ranked[0].RatingBps != 470 {
		t.Fatalf("expected best-rated first, got %d bps", ranked[0].RatingBps)
	}
}

func TestRankEmptyPoolIsValid(t *testing.T) {
	ranker := NewRanker(fakeGate{})
	if got := ranker.Rank(context.Background(), nil, 5); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}
