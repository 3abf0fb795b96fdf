package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"leadmarket/internal/events"
	leadrepo "leadmarket/internal/leads/repository"
	offerrepo "leadmarket/internal/offers/repository"
	"leadmarket/internal/settlement/repository"
	"leadmarket/platform/apperr"
	"leadmarket/platform/logger"
	"leadmarket/platform/payments"

	"github.com/google/uuid"
)

type fakeLedger struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]repository.PurchaseAttempt
	grants   map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		attempts: map[uuid.UUID]repository.PurchaseAttempt{},
		grants:   map[string]bool{},
	}
}

func (f *fakeLedger) Create(ctx context.Context, attempt repository.PurchaseAttempt) (repository.PurchaseAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt.ID = uuid.New()
	attempt.Status = repository.StatusPending
	f.attempts[attempt.ID] = attempt
	return attempt, nil
}

func (f *fakeLedger) SetIntentRef(ctx context.Context, id uuid.UUID, intentRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.attempts[id]
	a.IntentRef = intentRef
	f.attempts[id] = a
	return nil
}

func (f *fakeLedger) GetByIntentRef(ctx context.Context, intentRef string) (repository.PurchaseAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.IntentRef == intentRef {
			return a, nil
		}
	}
	return repository.PurchaseAttempt{}, apperr.NotFound("purchase attempt not found")
}

func (f *fakeLedger) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	return f.transition(id, repository.StatusCompleted, nil)
}

func (f *fakeLedger) Fail(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return f.transition(id, repository.StatusFailed, &reason)
}

func (f *fakeLedger) transition(id uuid.UUID, to string, reason *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok || a.Status != repository.StatusPending {
		return false, nil
	}
	a.Status = to
	a.FailureReason = reason
	f.attempts[id] = a
	return true, nil
}

func (f *fakeLedger) GrantAccess(ctx context.Context, leadID, providerID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := leadID.String() + "/" + providerID.String()
	if f.grants[key] {
		return false, nil
	}
	f.grants[key] = true
	return true, nil
}

func (f *fakeLedger) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]repository.PurchaseAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.PurchaseAttempt
	for _, a := range f.attempts {
		if a.ProviderID == providerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeLedger) countStatus(status string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attempts {
		if a.Status == status {
			n++
		}
	}
	return n
}

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

func (f *fakeLeadStore) ClaimForSale(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	if l.Status != leadrepo.StatusAvailable && l.Status != leadrepo.StatusOffered {
		return apperr.Conflict("lead already sold")
	}
	l.Status = leadrepo.StatusSold
	f.leads[id] = l
	return nil
}

func (f *fakeLeadStore) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.leads[id]
	if l.Status != leadrepo.StatusSold {
		return apperr.Conflict("lead is not in a claimed state")
	}
	l.Status = leadrepo.StatusOffered
	f.leads[id] = l
	return nil
}

func (f *fakeLeadStore) status(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leads[id].Status
}

type fakeOfferStore struct {
	mu     sync.Mutex
	offers map[uuid.UUID]offerrepo.Offer
}

func (f *fakeOfferStore) GetByID(ctx context.Context, id uuid.UUID) (offerrepo.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return offerrepo.Offer{}, apperr.NotFound("offer not found")
	}
	return o, nil
}

func (f *fakeOfferStore) SupersedeAccepted(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok || o.Status != offerrepo.StatusAccepted {
		return false, nil
	}
	o.Status = offerrepo.StatusSuperseded
	f.offers[id] = o
	return true, nil
}

func (f *fakeOfferStore) status(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers[id].Status
}

type fakeGateway struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeGateway) CreateReservation(ctx context.Context, req payments.ReservationRequest) (*payments.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("gateway unavailable")
	}
	return &payments.Reservation{IntentRef: "intent_" + req.Reference, Status: "requires_confirmation"}, nil
}

type fakeGate struct{ denyPurchase bool }

func (g fakeGate) CanPurchase(ctx context.Context, providerID uuid.UUID) bool {
	return !g.denyPurchase
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

func (b *recordingBus) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

type settlementFixture struct {
	svc     *Service
	ledger  *fakeLedger
	leads   *fakeLeadStore
	offers  *fakeOfferStore
	gateway *fakeGateway
	bus     *recordingBus
	lead    leadrepo.Lead
	offer   offerrepo.Offer
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()

	lead := leadrepo.Lead{
		ID:           uuid.New(),
		OriginatorID: uuid.New(),
		PriceCents:   3750,
		Status:       leadrepo.StatusOffered,
	}
	offer := offerrepo.Offer{
		ID:         uuid.New(),
		LeadID:     lead.ID,
		ProviderID: uuid.New(),
		PriceCents: 3750,
		Status:     offerrepo.StatusAccepted,
	}

	f := &settlementFixture{
		ledger:  newFakeLedger(),
		leads:   &fakeLeadStore{leads: map[uuid.UUID]leadrepo.Lead{lead.ID: lead}},
		gateway: &fakeGateway{},
		bus:     &recordingBus{},
		lead:    lead,
		offer:   offer,
	}
	f.offers = &fakeOfferStore{offers: map[uuid.UUID]offerrepo.Offer{offer.ID: offer}}
	f.svc = New(f.ledger, f.leads, f.offers, f.gateway, fakeGate{}, f.bus, logger.New("test"))
	return f
}

func (f *settlementFixture) intentRef(t *testing.T) string {
	t.Helper()
	f.ledger.mu.Lock()
	defer f.ledger.mu.Unlock()
	for _, a := range f.ledger.attempts {
		if a.IntentRef != "" {
			return a.IntentRef
		}
	}
	t.Fatal("no attempt with an intent ref")
	return ""
}

func TestBeginSettlementClaimsAndInitiatesPayment(t *testing.T) {
	f := newSettlementFixture(t)

	if err := f.svc.BeginSettlement(context.Background(), f.offer.ID); err != nil {
		t.Fatalf("begin settlement: %v", err)
	}

	if got := f.leads.status(f.lead.ID); got != leadrepo.StatusSold {
		t.Fatalf("expected lead sold after claim, got %s", got)
	}
	if f.gateway.calls != 1 {
		t.Fatalf("expected one reservation call, got %d", f.gateway.calls)
	}
	if f.ledger.countStatus(repository.StatusPending) != 1 {
		t.Fatal("expected one pending attempt awaiting confirmation")
	}
}

func TestBeginSettlementAmountFrozenFromOffer(t *testing.T) {
	f := newSettlementFixture(t)

	if err := f.svc.BeginSettlement(context.Background(), f.offer.ID); err != nil {
		t.Fatalf("begin settlement: %v", err)
	}

	for _, a := range f.ledger.attempts {
		if a.AmountCents != f.offer.PriceCents {
			t.Fatalf("expected amount %d, got %d", f.offer.PriceCents, a.AmountCents)
		}
	}
}

func TestBeginSettlementRejectsUnacceptedOffer(t *testing.T) {
	f := newSettlementFixture(t)
	pending := offerrepo.Offer{ID: uuid.New(), LeadID: f.lead.ID, ProviderID: uuid.New(), Status: offerrepo.StatusPending}
	offers := &fakeOfferStore{offers: map[uuid.UUID]offerrepo.Offer{pending.ID: pending}}
	f.svc = New(f.ledger, f.leads, offers, f.gateway, fakeGate{}, f.bus, logger.New("test"))

	err := f.svc.BeginSettlement(context.Background(), pending.ID)
	if apperr.GetKind(err) != apperr.KindConflict {
		t.Fatalf("expected conflict for unaccepted offer, got %v", err)
	}
	if f.gateway.calls != 0 {
		t.Fatal("payment must not start for an unaccepted offer")
	}
}

func TestBeginSettlementCapabilityDenied(t *testing.T) {
	f := newSettlementFixture(t)
	f.svc = New(f.ledger, f.leads, f.offers, f.gateway, fakeGate{denyPurchase: true}, f.bus, logger.New("test"))

	err := f.svc.BeginSettlement(context.Background(), f.offer.ID)
	if apperr.GetKind(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if got := f.leads.status(f.lead.ID); got != leadrepo.StatusOffered {
		t.Fatalf("denied purchase must not claim the lead, got %s", got)
	}
	if got := f.offers.status(f.offer.ID); got != offerrepo.StatusSuperseded {
		t.Fatalf("expected the offer withdrawn, got %s", got)
	}
	if f.bus.count("settlement.purchase.failed") != 1 {
		t.Fatal("expected a purchase.failed event to advance the cascade")
	}
}

func TestConcurrentClaimsExactlyOneWinner(t *testing.T) {
	const n = 10
	f := newSettlementFixture(t)

	// n accepted offers on the same lead all racing to settle
	offers := &fakeOfferStore{offers: map[uuid.UUID]offerrepo.Offer{}}
	ids := make([]uuid.UUID, n)
	for i := range ids {
		o := offerrepo.Offer{ID: uuid.New(), LeadID: f.lead.ID, ProviderID: uuid.New(), PriceCents: 3750, Status: offerrepo.StatusAccepted}
		offers.offers[o.ID] = o
		ids[i] = o.ID
	}
	f.svc = New(f.ledger, f.leads, offers, f.gateway, fakeGate{}, f.bus, logger.New("test"))

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.BeginSettlement(context.Background(), ids[i])
		}(i)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case apperr.GetKind(err) == apperr.KindConflict:
			losers++
		default:
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
	if winners != 1 || losers != n-1 {
		t.Fatalf("expected 1 winner and %d losers, got %d and %d", n-1, winners, losers)
	}
	if f.gateway.calls != 1 {
		t.Fatalf("losers must never reach the gateway, got %d calls", f.gateway.calls)
	}
}

func TestPaymentInitiationFailureRollsBackClaim(t *testing.T) {
	f := newSettlementFixture(t)
	f.gateway.fail = true

	err := f.svc.BeginSettlement(context.Background(), f.offer.ID)
	if apperr.GetKind(err) != apperr.KindUpstream {
		t.Fatalf("expected upstream failure, got %v", err)
	}

	if got := f.leads.status(f.lead.ID); got != leadrepo.StatusOffered {
		t.Fatalf("expected claim rolled back to offered, got %s", got)
	}
	if got := f.offers.status(f.offer.ID); got != offerrepo.StatusSuperseded {
		t.Fatalf("expected the offer withdrawn so the cascade can reoffer, got %s", got)
	}
	if f.ledger.countStatus(repository.StatusFailed) != 1 {
		t.Fatal("expected the attempt marked failed")
	}
	if f.bus.count("settlement.purchase.failed") != 1 {
		t.Fatal("expected a purchase.failed event")
	}
}

func TestConfirmSettlementSuccess(t *testing.T) {
	f := newSettlementFixture(t)

	if err := f.svc.BeginSettlement(context.Background(), f.offer.ID); err != nil {
		t.Fatalf("begin settlement: %v", err)
	}

	var intentRef string
	for _, a := range f.ledger.attempts {
		intentRef = a.IntentRef
	}

	if err := f.svc.ConfirmSettlement(context.Background(), intentRef, true, ""); err != nil {
		t.Fatalf("confirm settlement: %v", err)
	}

	if f.ledger.countStatus(repository.StatusCompleted) != 1 {
		t.Fatal("expected one completed attempt")
	}
	if len(f.ledger.grants) != 1 {
		t.Fatalf("expected one access grant, got %d", len(f.ledger.grants))
	}
	if f.bus.count("leads.sold") != 1 {
		t.Fatal("expected one leads.sold event")
	}
	if got := f.leads.status(f.lead.ID); got != leadrepo.StatusSold {
		t.Fatalf("lead must stay sold, got %s", got)
	}
}

func TestConfirmSettlementIdempotent(t *testing.T) {
	f := newSettlementFixture(t)

	if err := f.svc.BeginSettlement(context.Background(), f.offer.ID); err != nil {
		t.Fatalf("begin settlement: %v", err)
	}
	var intentRef string
	for _, a := range f.ledger.attempts {
		intentRef = a.IntentRef
	}

	for i := 0; i < 3; i++ {
		if err := f.svc.ConfirmSettlement(context.Background(), intentRef, true, ""); err != nil {
			t.Fatalf("confirm delivery %d: %v", i, err)
		}
	}

	if f.ledger.countStatus(repository.StatusCompleted) != 1 {
		t.Fatal("expected exactly one completed attempt")
	}
	if len(f.ledger.grants) != 1 {
		t.Fatalf("expected exactly one access grant, got %d", len(f.ledger.grants))
	}
	if f.bus.count("leads.sold") != 1 {
		t.Fatalf("expected exactly one leads.sold event, got %d", f.bus.count("leads.sold"))
	}
	if f.bus.count("settlement.purchase.completed") != 1 {
		t.Fatal("expected exactly one purchase.completed event")
	}
}

func TestConfirmSettlementDeclineRollsBack(t *testing.T) {
	f := newSettlementFixture(t)

	if err := f.svc.BeginSettlement(context.Background(), f.offer.ID); err != nil {
		t.Fatalf("begin settlement: %v", err)
	}
	var intentRef string
	for _, a := range f.ledger.attempts {
		intentRef = a.IntentRef
	}

	if err := f.svc.ConfirmSettlement(context.Background(), intentRef, false, "card declined"); err != nil {
		t.Fatalf("confirm decline: %v", err)
	}

	if got := f.leads.status(f.lead.ID); got != leadrepo.StatusOffered {
		t.Fatalf("expected claim released for cascade, got %s", got)
	}
	if got := f.offers.status(f.offer.ID); got != offerrepo.StatusSuperseded {
		t.Fatalf("expected the offer withdrawn so the cascade can reoffer, got %s", got)
	}
	if f.ledger.countStatus(repository.StatusFailed) != 1 {
		t.Fatal("expected the attempt marked failed")
	}
	if f.bus.count("settlement.purchase.failed") != 1 {
		t.Fatal("expected one purchase.failed event")
	}

	// duplicate failure delivery settles nothing twice
	if err := f.svc.ConfirmSettlement(context.Background(), intentRef, false, "card declined"); err != nil {
		t.Fatalf("duplicate decline: %v", err)
	}
	if f.bus.count("settlement.purchase.failed") != 1 {
		t.Fatal("duplicate delivery must not publish again")
	}
}

func TestConfirmSettlementRedeliveryFinishesInterruptedGrant(t *testing.T) {
	f := newSettlementFixture(t)

	if err := f.svc.BeginSettlement(context.Background(), f.offer.ID); err != nil {
		t.Fatalf("begin settlement: %v", err)
	}
	intentRef := f.intentRef(t)

	// First delivery died between completing the attempt and granting
	// access: the attempt is completed but no grant exists yet.
	attempt, err := f.ledger.GetByIntentRef(context.Background(), intentRef)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if applied, _ := f.ledger.Complete(context.Background(), attempt.ID); !applied {
		t.Fatal("expected the attempt to complete")
	}

	if err := f.svc.ConfirmSettlement(context.Background(), intentRef, true, ""); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if len(f.ledger.grants) != 1 {
		t.Fatalf("redelivery must finish the grant, got %d", len(f.ledger.grants))
	}
	if f.bus.count("leads.sold") != 1 {
		t.Fatalf("expected exactly one leads.sold event, got %d", f.bus.count("leads.sold"))
	}

	// further deliveries change nothing
	if err := f.svc.ConfirmSettlement(context.Background(), intentRef, true, ""); err != nil {
		t.Fatalf("extra redelivery: %v", err)
	}
	if len(f.ledger.grants) != 1 || f.bus.count("leads.sold") != 1 {
		t.Fatal("extra redelivery must not grant or publish again")
	}
}

func TestConfirmSettlementRedeliveryFinishesInterruptedRollback(t *testing.T) {
	f := newSettlementFixture(t)

	if err := f.svc.BeginSettlement(context.Background(), f.offer.ID); err != nil {
		t.Fatalf("begin settlement: %v", err)
	}
	intentRef := f.intentRef(t)

	// First delivery died between failing the attempt and rolling back:
	// the lead is still claimed and the offer still accepted.
	attempt, err := f.ledger.GetByIntentRef(context.Background(), intentRef)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if applied, _ := f.ledger.Fail(context.Background(), attempt.ID, "card declined"); !applied {
		t.Fatal("expected the attempt to fail")
	}

	if err := f.svc.ConfirmSettlement(context.Background(), intentRef, false, "card declined"); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if got := f.leads.status(f.lead.ID); got != leadrepo.StatusOffered {
		t.Fatalf("redelivery must release the claim, got %s", got)
	}
	if got := f.offers.status(f.offer.ID); got != offerrepo.StatusSuperseded {
		t.Fatalf("redelivery must withdraw the offer, got %s", got)
	}
	if f.bus.count("settlement.purchase.failed") != 1 {
		t.Fatalf("expected exactly one purchase.failed event, got %d", f.bus.count("settlement.purchase.failed"))
	}

	// further deliveries change nothing
	if err := f.svc.ConfirmSettlement(context.Background(), intentRef, false, "card declined"); err != nil {
		t.Fatalf("extra redelivery: %v", err)
	}
	if f.bus.count("settlement.purchase.failed") != 1 {
		t.Fatal("extra redelivery must not publish again")
	}
}

func TestConfirmSettlementUnknownIntent(t *testing.T) {
	f := newSettlementFixture(t)

	err := f.svc.ConfirmSettlement(context.Background(), "intent_unknown", true, "")
	if apperr.GetKind(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
