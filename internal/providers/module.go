// Package providers provides the provider directory bounded context module.
package providers

import (
	apphttp "leadmarket/internal/http"
	"leadmarket/internal/providers/handler"
	"leadmarket/internal/providers/repository"
	"leadmarket/internal/providers/service"
	"leadmarket/platform/logger"
	"leadmarket/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the providers bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the providers module with all its dependencies.
func NewModule(pool *pgxpool.Pool, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, log)
	h := handler.New(svc, val)

	return &Module{handler: h, service: svc}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "providers"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts provider directory routes on the admin group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Admin.Group("/providers"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
