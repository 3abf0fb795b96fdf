// Package settlement provides the settlement ledger bounded context module.
package settlement

import (
	"leadmarket/internal/events"
	apphttp "leadmarket/internal/http"
	"leadmarket/internal/settlement/handler"
	"leadmarket/internal/settlement/repository"
	"leadmarket/internal/settlement/service"
	"leadmarket/platform/config"
	"leadmarket/platform/logger"
	"leadmarket/platform/payments"
	"leadmarket/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the settlement bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the settlement module.
func NewModule(pool *pgxpool.Pool, leads service.LeadStore, offers service.OfferStore, gateway payments.Gateway, gate service.CapabilityGate, bus events.Bus, cfg config.PaymentConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, leads, offers, gateway, gate, bus, log)
	h := handler.New(svc, val, cfg.GetPaymentWebhookSecret(), log)

	return &Module{handler: h, service: svc}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "settlement"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the purchase history and the gateway webhook.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/purchases"))
	m.handler.RegisterWebhookRoutes(ctx.V1.Group("/webhooks"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
