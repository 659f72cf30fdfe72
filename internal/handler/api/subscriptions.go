// Package api is the JSON surface consumed by the merchant UI. Handlers
// translate between HTTP and the service layer; business rules live in
// internal/service.
package api

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// SubscriptionHandler handles subscription lifecycle requests.
type SubscriptionHandler struct {
	subscriptions service.SubscriptionService
	logger        *slog.Logger
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(subscriptions service.SubscriptionService, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// RegisterRoutes mounts the subscription API under the given group.
func (h *SubscriptionHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/subscriptions", h.Create)
	g.GET("/subscriptions/:id", h.Get)
	g.POST("/subscriptions/:id/preview", h.PreviewUpdate)
	g.PATCH("/subscriptions/:id", h.Update)
	g.POST("/subscriptions/:id/cancel", h.Cancel)
	g.POST("/subscriptions/:id/reactivate", h.Reactivate)
}

type createSubscriptionRequest struct {
	CustomerID      uuid.UUID `json:"customer_id"`
	PlanID          uuid.UUID `json:"plan_id"`
	Quantity        int32     `json:"quantity"`
	Jurisdiction    string    `json:"jurisdiction"`
	Currency        string    `json:"currency"`
	PaymentMethodID string    `json:"payment_method_id"`
	ProviderPriceID string    `json:"provider_price_id"`
	TrialDays       *int32    `json:"trial_days"`
	PromoCode       string    `json:"promo_code"`
}

// Create handles POST /api/subscriptions.
func (h *SubscriptionHandler) Create(c echo.Context) error {
	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, domain.Invalid("api.createSubscription", "malformed request body"))
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	sub, err := h.subscriptions.Create(c.Request().Context(), service.CreateSubscriptionParams{
		CustomerID:      req.CustomerID,
		PlanID:          req.PlanID,
		Quantity:        req.Quantity,
		Jurisdiction:    req.Jurisdiction,
		Currency:        req.Currency,
		PaymentMethodID: req.PaymentMethodID,
		ProviderPriceID: req.ProviderPriceID,
		TrialDays:       req.TrialDays,
		PromoCode:       req.PromoCode,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, sub)
}

// Get handles GET /api/subscriptions/:id.
func (h *SubscriptionHandler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	sub, err := h.subscriptions.GetSubscription(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sub)
}

type updateSubscriptionRequest struct {
	PlanID          *uuid.UUID `json:"plan_id,omitempty"`
	Quantity        *int32     `json:"quantity,omitempty"`
	ProviderPriceID string     `json:"provider_price_id,omitempty"`
	ProrationPolicy string     `json:"proration_policy,omitempty"`
}

func (r updateSubscriptionRequest) params() service.UpdateSubscriptionParams {
	return service.UpdateSubscriptionParams{
		PlanID:          r.PlanID,
		Quantity:        r.Quantity,
		ProviderPriceID: r.ProviderPriceID,
		ProrationPolicy: r.ProrationPolicy,
	}
}

// PreviewUpdate handles POST /api/subscriptions/:id/preview. It computes the
// remaining-period cost of a change without committing anything.
func (h *SubscriptionHandler) PreviewUpdate(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req updateSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, domain.Invalid("api.previewUpdate", "malformed request body"))
	}

	preview, err := h.subscriptions.PreviewUpdate(c.Request().Context(), id, req.params())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, preview)
}

// Update handles PATCH /api/subscriptions/:id.
func (h *SubscriptionHandler) Update(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req updateSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, domain.Invalid("api.updateSubscription", "malformed request body"))
	}

	sub, err := h.subscriptions.CommitUpdate(c.Request().Context(), id, req.params())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sub)
}

type cancelSubscriptionRequest struct {
	AtPeriodEnd bool   `json:"at_period_end"`
	Reason      string `json:"reason,omitempty"`
}

// Cancel handles POST /api/subscriptions/:id/cancel.
func (h *SubscriptionHandler) Cancel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req cancelSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, domain.Invalid("api.cancelSubscription", "malformed request body"))
	}

	sub, err := h.subscriptions.Cancel(c.Request().Context(), id, service.CancelParams{
		AtPeriodEnd: req.AtPeriodEnd,
		Reason:      req.Reason,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sub)
}

// Reactivate handles POST /api/subscriptions/:id/reactivate.
func (h *SubscriptionHandler) Reactivate(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	sub, err := h.subscriptions.Reactivate(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sub)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, domain.Invalid("api.pathID", "invalid subscription id")
	}
	return id, nil
}

// errorResponse maps domain error codes onto HTTP statuses.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch domain.ErrorCode(err) {
	case domain.EINVALID:
		status = http.StatusBadRequest
	case domain.ENOTFOUND:
		status = http.StatusNotFound
	case domain.ECONFLICT:
		status = http.StatusConflict
	case domain.EPAYMENT:
		status = http.StatusPaymentRequired
	}
	return c.JSON(status, map[string]string{"error": domain.ErrorMessage(err)})
}
