// Package leads provides the leads bounded context module.
package leads

import (
	"leadmarket/internal/events"
	apphttp "leadmarket/internal/http"
	"leadmarket/internal/leads/handler"
	"leadmarket/internal/leads/repository"
	"leadmarket/internal/leads/service"
	"leadmarket/internal/pricing"
	"leadmarket/platform/logger"
	"leadmarket/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler    *handler.Handler
	service    *service.Service
	repository *repository.Repository
}

// NewModule creates and initializes the leads module with all its dependencies.
func NewModule(pool *pgxpool.Pool, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, pricing.NewCalculator(), bus, log)
	h := handler.New(svc, val)

	return &Module{handler: h, service: svc, repository: repo}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the repository for cross-module wiring at the
// composition root (allocation and settlement share the lead row).
func (m *Module) Repository() *repository.Repository {
	return m.repository
}

// RegisterRoutes mounts lead routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/leads"))
	m.handler.RegisterAdminRoutes(ctx.Admin.Group("/leads"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
