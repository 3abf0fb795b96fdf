package allocation

import (
	"context"

	"leadmarket/internal/events"
	"leadmarket/platform/logger"
)

// Module owns the coordinator and its event subscriptions. Allocation has no
// HTTP surface; it reacts to lead and offer events.
type Module struct {
	coordinator *Coordinator
}

// NewModule wires the coordinator and subscribes it to the event bus.
func NewModule(leads LeadStore, offers OfferCreator, candidates CandidateSource, snapshot SnapshotStore, gate CapabilityGate, settler Settler, bus events.Bus, maxOffers int, log *logger.Logger) *Module {
	coordinator := NewCoordinator(leads, offers, candidates, snapshot, NewRanker(gate), settler, bus, maxOffers, log)
	m := &Module{coordinator: coordinator}
	m.subscribe(bus, log)
	return m
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "allocation"
}

// Coordinator returns the coordinator for scheduler wiring.
func (m *Module) Coordinator() *Coordinator {
	return m.coordinator
}

func (m *Module) subscribe(bus events.Bus, log *logger.Logger) {
	bus.Subscribe(events.LeadCreated{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadCreated)
		if !ok {
			return nil
		}
		return m.coordinator.Initiate(ctx, e.LeadID)
	}))

	bus.Subscribe(events.OfferDeclined{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.OfferDeclined)
		if !ok {
			return nil
		}
		return m.coordinator.OnOfferTerminal(ctx, e.LeadID)
	}))

	bus.Subscribe(events.OfferExpired{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.OfferExpired)
		if !ok {
			return nil
		}
		return m.coordinator.OnOfferTerminal(ctx, e.LeadID)
	}))

	bus.Subscribe(events.OfferAccepted{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.OfferAccepted)
		if !ok {
			return nil
		}
		return m.coordinator.OnOfferAccepted(ctx, e.OfferID)
	}))

	bus.Subscribe(events.PurchaseFailed{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.PurchaseFailed)
		if !ok {
			return nil
		}
		return m.coordinator.OnOfferTerminal(ctx, e.LeadID)
	}))

	log.Info("allocation coordinator subscribed to lead and offer events")
}
