// Package handler exposes the purchase history API and the payment
// gateway's settlement webhook.
package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"leadmarket/internal/settlement/repository"
	"leadmarket/internal/settlement/service"
	"leadmarket/internal/settlement/transport"
	"leadmarket/platform/httpkit"
	"leadmarket/platform/logger"
	"leadmarket/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const signatureHeader = "X-Signature"

// Handler handles settlement HTTP requests.
type Handler struct {
	svc           *service.Service
	val           *validator.Validator
	webhookSecret []byte
	log           *logger.Logger
}

// New creates a new settlement handler.
func New(svc *service.Service, val *validator.Validator, webhookSecret string, log *logger.Logger) *Handler {
	return &Handler{svc: svc, val: val, webhookSecret: []byte(webhookSecret), log: log}
}

// RegisterRoutes registers the provider-facing purchase history.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.ListMine)
}

// RegisterWebhookRoutes registers the unauthenticated, signature-verified
// gateway callback.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments", h.PaymentWebhook)
}

func (h *Handler) ListMine(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	providerID := identity.ProviderID()
	if providerID == uuid.Nil {
		httpkit.Error(c, http.StatusForbidden, "caller is not a provider", nil)
		return
	}

	attempts, err := h.svc.ListPurchases(c.Request.Context(), providerID)
	if httpkit.HandleError(c, err) {
		return
	}

	responses := make([]transport.PurchaseResponse, 0, len(attempts))
	for _, a := range attempts {
		responses = append(responses, toResponse(a))
	}
	httpkit.OK(c, responses)
}

// PaymentWebhook verifies the HMAC-SHA256 signature over the raw body before
// trusting the payload. Duplicate deliveries are accepted and settle nothing
// twice.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unable to read request body", nil)
		return
	}

	if !h.verifySignature(body, c.GetHeader(signatureHeader)) {
		h.log.Warn("payment webhook signature mismatch", "client_ip", c.ClientIP())
		httpkit.Error(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	var payload transport.PaymentWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", nil)
		return
	}
	if err := h.val.Struct(payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	err = h.svc.ConfirmSettlement(c.Request.Context(), payload.IntentRef, payload.Outcome == "succeeded", payload.Reason)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"received": true})
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.webhookSecret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

func toResponse(a repository.PurchaseAttempt) transport.PurchaseResponse {
	return transport.PurchaseResponse{
		ID:            a.ID,
		LeadID:        a.LeadID,
		AmountCents:   a.AmountCents,
		Status:        a.Status,
		FailureReason: a.FailureReason,
		CreatedAt:     a.CreatedAt,
	}
}
