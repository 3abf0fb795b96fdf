// Package offers provides the offers bounded context module.
package offers

import (
	"context"

	"leadmarket/internal/events"
	apphttp "leadmarket/internal/http"
	"leadmarket/internal/offers/handler"
	"leadmarket/internal/offers/repository"
	"leadmarket/internal/offers/service"
	"leadmarket/platform/config"
	"leadmarket/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the offers bounded context module implementing http.Module.
type Module struct {
	handler    *handler.Handler
	service    *service.Service
	repository *repository.Repository
}

// NewModule creates and initializes the offers module. The scheduler may be
// nil; expiry then relies on the periodic sweep alone.
func NewModule(pool *pgxpool.Pool, gate service.CapabilityGate, sched service.ExpiryScheduler, bus events.Bus, cfg config.AllocationConfig, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, gate, sched, bus, cfg, log)
	h := handler.New(svc)

	m := &Module{handler: h, service: svc, repository: repo}
	m.subscribe(bus)
	return m
}

// subscribe withdraws any pending offer the moment its lead sells through
// another path.
func (m *Module) subscribe(bus events.Bus) {
	bus.Subscribe(events.LeadSold{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadSold)
		if !ok {
			return nil
		}
		return m.service.SupersedeForLead(ctx, e.LeadID)
	}))
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "offers"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the repository for cross-module wiring at the
// composition root (settlement reads the accepted offer).
func (m *Module) Repository() *repository.Repository {
	return m.repository
}

// RegisterRoutes mounts offer routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/offers"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
