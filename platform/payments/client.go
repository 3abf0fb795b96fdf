// Package payments provides the HTTP client for the external payment gateway.
// This is part of the platform layer and contains no business logic.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"leadmarket/platform/apperr"
	"leadmarket/platform/config"
	"leadmarket/platform/logger"

	"github.com/google/uuid"
)

const defaultHTTPTimeout = 15 * time.Second

// Reservation is the result of initiating a payment with the gateway.
// IntentRef identifies the payment across callbacks.
type Reservation struct {
	IntentRef    string `json:"intent_ref"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// Gateway initiates payment reservations.
type Gateway interface {
	CreateReservation(ctx context.Context, req ReservationRequest) (*Reservation, error)
}

// ReservationRequest describes the payment to reserve.
type ReservationRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

// Client is an HTTP client for the payment gateway API.
// In mock mode, no network calls are made and every reservation succeeds.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	mockMode   bool
	log        *logger.Logger
}

// NewClient creates a payment gateway client from config.
func NewClient(cfg config.PaymentConfig, log *logger.Logger) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		baseURL:    cfg.GetPaymentAPIURL(),
		apiKey:     cfg.GetPaymentAPIKey(),
		mockMode:   cfg.IsPaymentMockEnabled(),
		log:        log,
	}
	if c.mockMode {
		log.Info("payment gateway mock mode enabled")
	}
	return c
}

// CreateReservation asks the gateway to reserve a payment for the given amount.
// Gateway failures surface as upstream errors so callers can roll back.
func (c *Client) CreateReservation(ctx context.Context, req ReservationRequest) (*Reservation, error) {
	if c.mockMode {
		return c.mockReservation(req), nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/reservations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Error("payment reservation request failed", "error", err)
		return nil, apperr.Upstream("payment gateway unreachable").WithOp("payments.CreateReservation")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Error("payment reservation rejected", "status", resp.StatusCode, "reference", req.Reference)
		return nil, apperr.Upstream(fmt.Sprintf("payment gateway status %d", resp.StatusCode)).WithOp("payments.CreateReservation")
	}

	var reservation Reservation
	if err := json.NewDecoder(resp.Body).Decode(&reservation); err != nil {
		c.log.Error("payment reservation decode failed", "error", err)
		return nil, apperr.Upstream("invalid payment gateway response").WithOp("payments.CreateReservation")
	}

	if reservation.IntentRef == "" {
		return nil, apperr.Upstream("payment gateway returned empty intent ref").WithOp("payments.CreateReservation")
	}

	return &reservation, nil
}

func (c *Client) mockReservation(req ReservationRequest) *Reservation {
	intentRef := "mock_" + uuid.NewString()
	c.log.Info("mock payment reservation created",
		"intent_ref", intentRef,
		"amount_cents", req.AmountCents,
		"reference", req.Reference,
	)
	return &Reservation{
		IntentRef:    intentRef,
		ClientSecret: "mock_secret_" + uuid.NewString(),
		Status:       "requires_confirmation",
	}
}
