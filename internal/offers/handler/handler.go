// Package handler exposes the provider-facing offers API.
package handler

import (
	"net/http"

	"leadmarket/internal/offers/repository"
	"leadmarket/internal/offers/service"
	"leadmarket/internal/offers/transport"
	"leadmarket/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgInvalidRequest = "invalid request"

// Handler handles HTTP requests for offers.
type Handler struct {
	svc *service.Service
}

// New creates a new offers handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers offer routes on the authenticated group. Every
// route acts on behalf of the calling provider.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.ListMine)
	rg.GET("/:id", h.GetByID)
	rg.POST("/:id/accept", h.Accept)
	rg.POST("/:id/decline", h.Decline)
}

func (h *Handler) ListMine(c *gin.Context) {
	providerID, ok := h.providerID(c)
	if !ok {
		return
	}

	offers, err := h.svc.ListForProvider(c.Request.Context(), providerID)
	if httpkit.HandleError(c, err) {
		return
	}

	responses := make([]transport.OfferResponse, 0, len(offers))
	for _, o := range offers {
		responses = append(responses, toResponse(o))
	}
	httpkit.OK(c, responses)
}

func (h *Handler) GetByID(c *gin.Context) {
	providerID, ok := h.providerID(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	offer, err := h.svc.GetForProvider(c.Request.Context(), id, providerID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, toResponse(offer))
}

func (h *Handler) Accept(c *gin.Context) {
	providerID, ok := h.providerID(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	offer, err := h.svc.Accept(c.Request.Context(), id, providerID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, toResponse(offer))
}

func (h *Handler) Decline(c *gin.Context) {
	providerID, ok := h.providerID(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	offer, err := h.svc.Decline(c.Request.Context(), id, providerID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, toResponse(offer))
}

func (h *Handler) providerID(c *gin.Context) (uuid.UUID, bool) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return uuid.Nil, false
	}
	providerID := identity.ProviderID()
	if providerID == uuid.Nil {
		httpkit.Error(c, http.StatusForbidden, "caller is not a provider", nil)
		return uuid.Nil, false
	}
	return providerID, true
}

func toResponse(o repository.Offer) transport.OfferResponse {
	return transport.OfferResponse{
		ID:          o.ID,
		LeadID:      o.LeadID,
		PriceCents:  o.PriceCents,
		Status:      o.Status,
		OfferedAt:   o.OfferedAt,
		ExpiresAt:   o.ExpiresAt,
		RespondedAt: o.RespondedAt,
	}
}
