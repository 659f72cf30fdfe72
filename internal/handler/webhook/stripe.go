// Package webhook is the HTTP edge for provider webhook deliveries. It owns
// signature verification and status-code mapping; everything after the
// envelope is decoded belongs to the dispatcher.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/vanir/internal/billing"
	"github.com/dukerupert/vanir/internal/domain"
	"github.com/labstack/echo/v4"
)

// Dispatcher processes one verified event envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.WebhookEvent) error
}

// StripeHandler handles Stripe webhook deliveries.
type StripeHandler struct {
	provider      billing.Provider
	dispatcher    Dispatcher
	webhookSecret string
	logger        *slog.Logger
}

// NewStripeHandler creates a new Stripe webhook handler.
func NewStripeHandler(provider billing.Provider, dispatcher Dispatcher, webhookSecret string, logger *slog.Logger) *StripeHandler {
	return &StripeHandler{
		provider:      provider,
		dispatcher:    dispatcher,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// stripeEnvelope is the slice of the Stripe event we forward.
type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// HandleWebhook verifies and dispatches one delivery.
//
// 2xx acknowledges the event; any other status makes Stripe redeliver, so
// only errors the dispatcher classes as transient return 5xx.
func (h *StripeHandler) HandleWebhook(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unable to read request body"})
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if signature == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing Stripe-Signature header"})
	}

	if err := h.provider.VerifyWebhookSignature(payload, signature, h.webhookSecret); err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	// Past the signature check, a payload Stripe cannot change is a payload
	// redelivery cannot fix: malformed or invalid events are acknowledged so
	// they leave the retry queue.
	var envelope stripeEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.logger.Warn("acknowledged malformed webhook payload", "error", err)
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}

	event := domain.WebhookEvent{
		ID:     envelope.ID,
		Type:   envelope.Type,
		Object: envelope.Data.Object,
	}
	if err := h.dispatcher.Dispatch(c.Request().Context(), event); err != nil {
		if domain.ErrorCode(err) == domain.EINVALID {
			h.logger.Warn("acknowledged invalid webhook event",
				"event_id", event.ID,
				"event_type", event.Type,
				"error", err)
			return c.JSON(http.StatusOK, map[string]bool{"received": true})
		}
		// Transient: tell Stripe to redeliver.
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "event processing failed"})
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
