package allocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadmarket/internal/events"
	leadrepo "leadmarket/internal/leads/repository"
	offerrepo "leadmarket/internal/offers/repository"
	providerrepo "leadmarket/internal/providers/repository"
	"leadmarket/platform/apperr"
	"leadmarket/platform/logger"

	"github.com/google/uuid"
)

type fakeLeadStore struct {
	mu    sync.Mutex
	leads map[uuid.UUID]leadrepo.Lead
}

func (f *fakeLeadStore) GetByID(ctx context.Context, id uuid.UUID) (leadrepo.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return leadrepo.Lead{}, apperr.NotFound("lead not found")
	}
	return l, nil
}

func (f *fakeLeadStore) MarkOffered(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	if l.Status != leadrepo.StatusAvailable && l.Status != leadrepo.StatusOffered {
		return apperr.Conflict("lead is no longer available for offers")
	}
	l.Status = leadrepo.StatusOffered
	f.leads[id] = l
	return nil
}

func (f *fakeLeadStore) MarkExpired(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	if l.Status != leadrepo.StatusAvailable && l.Status != leadrepo.StatusOffered {
		return apperr.Conflict("lead is not in an expirable state")
	}
	l.Status = leadrepo.StatusExpired
	f.leads[id] = l
	return nil
}

// fakeOfferCreator enforces the same one-live-offer rule the partial unique
// index does: a second offer for a lead with a pending or accepted one is a
// conflict.
type fakeOfferCreator struct {
	mu      sync.Mutex
	created []uuid.UUID
	order   []uuid.UUID
	offers  map[uuid.UUID]offerrepo.Offer
	deny    map[uuid.UUID]bool
}

func newFakeOfferCreator() *fakeOfferCreator {
	return &fakeOfferCreator{
		offers: map[uuid.UUID]offerrepo.Offer{},
		deny:   map[uuid.UUID]bool{},
	}
}

func (f *fakeOfferCreator) Create(ctx context.Context, leadID, providerID uuid.UUID, priceCents int64) (offerrepo.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny[providerID] {
		return offerrepo.Offer{}, apperr.Forbidden("provider cannot currently receive offers")
	}
	for _, o := range f.offers {
		if o.LeadID == leadID && (o.Status == offerrepo.StatusPending || o.Status == offerrepo.StatusAccepted) {
			return offerrepo.Offer{}, apperr.Conflict("lead already has a live offer")
		}
	}
	o := offerrepo.Offer{ID: uuid.New(), LeadID: leadID, ProviderID: providerID, PriceCents: priceCents, Status: offerrepo.StatusPending}
	f.offers[o.ID] = o
	f.order = append(f.order, o.ID)
	f.created = append(f.created, providerID)
	return o, nil
}

func (f *fakeOfferCreator) finishLast(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.order) == 0 {
		return
	}
	id := f.order[len(f.order)-1]
	o := f.offers[id]
	o.Status = status
	f.offers[id] = o
}

type fakeCandidateSource struct {
	pool []providerrepo.Candidate
}

func (f *fakeCandidateSource) ListCandidates(ctx context.Context, locationKey, projectType string) ([]providerrepo.Candidate, error) {
	return f.pool, nil
}

type fakeSnapshotStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]SnapshotEntry
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{entries: map[uuid.UUID][]SnapshotEntry{}}
}

func (f *fakeSnapshotStore) SaveSnapshot(ctx context.Context, leadID uuid.UUID, providerIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[leadID]; ok {
		return nil
	}
	for i, id := range providerIDs {
		f.entries[leadID] = append(f.entries[leadID], SnapshotEntry{LeadID: leadID, Position: i, ProviderID: id})
	}
	return nil
}

func (f *fakeSnapshotStore) NextUnoffered(ctx context.Context, leadID uuid.UUID) (SnapshotEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries[leadID] {
		if !e.Offered {
			return e, true, nil
		}
	}
	return SnapshotEntry{}, false, nil
}

func (f *fakeSnapshotStore) MarkOffered(ctx context.Context, leadID uuid.UUID, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entries[leadID] {
		if e.Position == position {
			f.entries[leadID][i].Offered = true
		}
	}
	return nil
}

func (f *fakeSnapshotStore) CountOffered(ctx context.Context, leadID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries[leadID] {
		if e.Offered {
			n++
		}
	}
	return n, nil
}

type fakeSettler struct {
	mu     sync.Mutex
	offers []uuid.UUID
}

func (f *fakeSettler) BeginSettlement(ctx context.Context, offerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, offerID)
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(ctx context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(eventName string, handler events.Handler) {}

func (b *recordingBus) leadExpired() (events.LeadExpired, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if le, ok := e.(events.LeadExpired); ok {
			return le, true
		}
	}
	return events.LeadExpired{}, false
}

type coordFixture struct {
	coordinator *Coordinator
	leads       *fakeLeadStore
	offers      *fakeOfferCreator
	snapshot    *fakeSnapshotStore
	settler     *fakeSettler
	bus         *recordingBus
	lead        leadrepo.Lead
	pool        []providerrepo.Candidate
}

func newCoordFixture(t *testing.T, poolSize int) *coordFixture {
	t.Helper()

	lead := leadrepo.Lead{
		ID:           uuid.New(),
		OriginatorID: uuid.New(),
		ProjectType:  "kitchen_full_refit",
		LocationKey:  "SW1",
		PriceCents:   3750,
		Status:       leadrepo.StatusAvailable,
	}

	pool := make([]providerrepo.Candidate, poolSize)
	for i := range pool {
		// descending rating so pool order equals rank order
		pool[i] = providerrepo.Candidate{
			ProviderID:    uuid.New(),
			RatingBps:     500 - i*10,
			CompletedJobs: 10,
			LastActiveAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		}
	}

	f := &coordFixture{
		leads:    &fakeLeadStore{leads: map[uuid.UUID]leadrepo.Lead{lead.ID: lead}},
		offers:   newFakeOfferCreator(),
		snapshot: newFakeSnapshotStore(),
		settler:  &fakeSettler{},
		bus:      &recordingBus{},
		lead:     lead,
		pool:     pool,
	}
	f.coordinator = NewCoordinator(
		f.leads, f.offers, &fakeCandidateSource{pool: pool}, f.snapshot,
		NewRanker(fakeGate{}), f.settler, f.bus, 5, logger.New("test"),
	)
	return f
}

func TestInitiateOffersToTopCandidate(t *testing.T) {
	f := newCoordFixture(t, 3)

	if err := f.coordinator.Initiate(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if len(f.offers.created) != 1 {
		t.Fatalf("expected one offer, got %d", len(f.offers.created))
	}
	if f.offers.created[0] != f.pool[0].ProviderID {
		t.Fatalf("expected top-ranked provider first")
	}

	lead, _ := f.leads.GetByID(context.Background(), f.lead.ID)
	if lead.Status != leadrepo.StatusOffered {
		t.Fatalf("expected lead offered, got %s", lead.Status)
	}
}

func TestCascadeExhaustsAfterExactlyKOffers(t *testing.T) {
	const k = 3
	f := newCoordFixture(t, k)

	if err := f.coordinator.Initiate(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// every offer ends terminal without acceptance
	for i := 0; i < k; i++ {
		f.offers.finishLast(offerrepo.StatusDeclined)
		if err := f.coordinator.OnOfferTerminal(context.Background(), f.lead.ID); err != nil {
			t.Fatalf("terminal advance %d: %v", i, err)
		}
	}

	if len(f.offers.created) != k {
		t.Fatalf("expected exactly %d offers, got %d", k, len(f.offers.created))
	}

	lead, _ := f.leads.GetByID(context.Background(), f.lead.ID)
	if lead.Status != leadrepo.StatusExpired {
		t.Fatalf("expected lead expired after pool exhaustion, got %s", lead.Status)
	}

	expired, ok := f.bus.leadExpired()
	if !ok {
		t.Fatal("expected a leads.expired event")
	}
	if expired.OffersMade != k {
		t.Fatalf("expected %d offers made, got %d", k, expired.OffersMade)
	}

	// a further terminal signal after exhaustion must not restart anything
	if err := f.coordinator.OnOfferTerminal(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("post-exhaustion advance: %v", err)
	}
	if len(f.offers.created) != k {
		t.Fatalf("cascade restarted after exhaustion: %d offers", len(f.offers.created))
	}
}

func TestCascadeSkipsMidCascadeIneligible(t *testing.T) {
	f := newCoordFixture(t, 3)
	f.offers.deny[f.pool[1].ProviderID] = true

	if err := f.coordinator.Initiate(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.offers.finishLast(offerrepo.StatusExpired)
	if err := f.coordinator.OnOfferTerminal(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// candidate 1 was skipped, candidate 2 got the second offer
	if len(f.offers.created) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(f.offers.created))
	}
	if f.offers.created[1] != f.pool[2].ProviderID {
		t.Fatalf("expected third candidate after skip, got %s", f.offers.created[1])
	}
}

func TestCascadeStopsWhenLeadSold(t *testing.T) {
	f := newCoordFixture(t, 3)

	if err := f.coordinator.Initiate(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.leads.mu.Lock()
	lead := f.leads.leads[f.lead.ID]
	lead.Status = leadrepo.StatusSold
	f.leads.leads[f.lead.ID] = lead
	f.leads.mu.Unlock()

	if err := f.coordinator.OnOfferTerminal(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("advance on sold lead: %v", err)
	}
	if len(f.offers.created) != 1 {
		t.Fatalf("sold lead must not receive further offers, got %d", len(f.offers.created))
	}
}

func TestEmptyPoolExpiresLeadImmediately(t *testing.T) {
	f := newCoordFixture(t, 0)

	if err := f.coordinator.Initiate(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	lead, _ := f.leads.GetByID(context.Background(), f.lead.ID)
	if lead.Status != leadrepo.StatusExpired {
		t.Fatalf("expected expired, got %s", lead.Status)
	}
	expired, ok := f.bus.leadExpired()
	if !ok {
		t.Fatal("expected a leads.expired event")
	}
	if expired.OffersMade != 0 {
		t.Fatalf("expected 0 offers made, got %d", expired.OffersMade)
	}
}

func TestOnOfferAcceptedHandsOffToSettlement(t *testing.T) {
	f := newCoordFixture(t, 1)
	offerID := uuid.New()

	if err := f.coordinator.OnOfferAccepted(context.Background(), offerID); err != nil {
		t.Fatalf("accepted handoff: %v", err)
	}
	if len(f.settler.offers) != 1 || f.settler.offers[0] != offerID {
		t.Fatalf("expected settlement to receive the offer, got %v", f.settler.offers)
	}
}

func TestPaymentFailureAdvancesToNextCandidate(t *testing.T) {
	f := newCoordFixture(t, 2)

	if err := f.coordinator.Initiate(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// the provider accepted and the payment failed: settlement withdrew
	// the accepted offer and released the claim before signalling
	f.offers.finishLast(offerrepo.StatusAccepted)
	f.offers.finishLast(offerrepo.StatusSuperseded)

	if err := f.coordinator.OnOfferTerminal(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("advance after payment failure: %v", err)
	}

	if len(f.offers.created) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(f.offers.created))
	}
	if f.offers.created[0] == f.offers.created[1] {
		t.Fatal("failed provider must not be re-offered the same lead")
	}
}

func TestAdvanceWithLiveOfferCreatesNothing(t *testing.T) {
	f := newCoordFixture(t, 2)

	if err := f.coordinator.Initiate(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// a stray terminal signal while the first offer is still live must
	// neither error nor open a second offer
	if err := f.coordinator.OnOfferTerminal(context.Background(), f.lead.ID); err != nil {
		t.Fatalf("advance with live offer: %v", err)
	}
	if len(f.offers.created) != 1 {
		t.Fatalf("expected the live offer to block a second one, got %d", len(f.offers.created))
	}
}
