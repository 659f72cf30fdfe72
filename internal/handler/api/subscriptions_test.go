package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService lets each test pin down just the method it exercises.
type stubService struct {
	CreateFunc        func(ctx context.Context, params service.CreateSubscriptionParams) (*domain.Subscription, error)
	GetFunc           func(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	PreviewUpdateFunc func(ctx context.Context, id uuid.UUID, params service.UpdateSubscriptionParams) (*service.UpdatePreview, error)
	CommitUpdateFunc  func(ctx context.Context, id uuid.UUID, params service.UpdateSubscriptionParams) (*domain.Subscription, error)
	CancelFunc        func(ctx context.Context, id uuid.UUID, params service.CancelParams) (*domain.Subscription, error)
	ReactivateFunc    func(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
}

func (s *stubService) Create(ctx context.Context, params service.CreateSubscriptionParams) (*domain.Subscription, error) {
	return s.CreateFunc(ctx, params)
}

func (s *stubService) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return s.GetFunc(ctx, id)
}

func (s *stubService) PreviewUpdate(ctx context.Context, id uuid.UUID, params service.UpdateSubscriptionParams) (*service.UpdatePreview, error) {
	return s.PreviewUpdateFunc(ctx, id, params)
}

func (s *stubService) CommitUpdate(ctx context.Context, id uuid.UUID, params service.UpdateSubscriptionParams) (*domain.Subscription, error) {
	return s.CommitUpdateFunc(ctx, id, params)
}

func (s *stubService) Cancel(ctx context.Context, id uuid.UUID, params service.CancelParams) (*domain.Subscription, error) {
	return s.CancelFunc(ctx, id, params)
}

func (s *stubService) Reactivate(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return s.ReactivateFunc(ctx, id)
}

func (s *stubService) OnInvoicePaymentFailed(ctx context.Context, params service.InvoiceEventParams) error {
	return nil
}

func (s *stubService) OnInvoicePaymentSucceeded(ctx context.Context, params service.InvoiceEventParams) error {
	return nil
}

func (s *stubService) ApplySubscriptionUpdated(ctx context.Context, params service.ProviderSubscriptionUpdate) error {
	return nil
}

func (s *stubService) ApplySubscriptionDeleted(ctx context.Context, providerSubscriptionID string) error {
	return nil
}

func perform(t *testing.T, svc service.SubscriptionService, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	h := NewSubscriptionHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e := echo.New()
	h.RegisterRoutes(e.Group("/api"))

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSubscriptionHandler_Create(t *testing.T) {
	planID := uuid.New()
	var got service.CreateSubscriptionParams
	svc := &stubService{
		CreateFunc: func(ctx context.Context, params service.CreateSubscriptionParams) (*domain.Subscription, error) {
			got = params
			return &domain.Subscription{ID: uuid.New(), PlanID: params.PlanID, Status: domain.SubscriptionStatusActive}, nil
		},
	}

	body, err := json.Marshal(map[string]any{
		"customer_id":       uuid.New(),
		"plan_id":           planID,
		"jurisdiction":      "ON",
		"currency":          "CAD",
		"payment_method_id": "pm_123",
		"provider_price_id": "price_123",
		"trial_days":        0,
		"promo_code":        "LAUNCH20",
	})
	require.NoError(t, err)

	rec := perform(t, svc, http.MethodPost, "/api/subscriptions", string(body))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, planID, got.PlanID)
	// Quantity defaults to 1 when omitted.
	assert.Equal(t, int32(1), got.Quantity)
	// An explicit zero trial stays distinguishable from an absent one.
	require.NotNil(t, got.TrialDays)
	assert.Equal(t, int32(0), *got.TrialDays)
	assert.Equal(t, "LAUNCH20", got.PromoCode)
}

func TestSubscriptionHandler_GetNotFound(t *testing.T) {
	svc := &stubService{
		GetFunc: func(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
			return nil, domain.ErrSubscriptionNotFound
		},
	}

	rec := perform(t, svc, http.MethodGet, "/api/subscriptions/"+uuid.New().String(), "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscriptionHandler_CancelConflict(t *testing.T) {
	svc := &stubService{
		CancelFunc: func(ctx context.Context, id uuid.UUID, params service.CancelParams) (*domain.Subscription, error) {
			return nil, domain.ErrSubscriptionCancelled
		},
	}

	rec := perform(t, svc, http.MethodPost, "/api/subscriptions/"+uuid.New().String()+"/cancel", `{"at_period_end":false}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubscriptionHandler_InvalidID(t *testing.T) {
	rec := perform(t, &stubService{}, http.MethodGet, "/api/subscriptions/not-a-uuid", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscriptionHandler_PreviewPassesParams(t *testing.T) {
	var got service.UpdateSubscriptionParams
	svc := &stubService{
		PreviewUpdateFunc: func(ctx context.Context, id uuid.UUID, params service.UpdateSubscriptionParams) (*service.UpdatePreview, error) {
			got = params
			return &service.UpdatePreview{SubtotalCents: 1500, TaxCents: 195, TotalCents: 1695}, nil
		},
	}

	rec := perform(t, svc, http.MethodPost, "/api/subscriptions/"+uuid.New().String()+"/preview",
		`{"quantity": 2, "proration_policy": "create_prorations"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.Quantity)
	assert.Equal(t, int32(2), *got.Quantity)
	assert.Equal(t, "create_prorations", got.ProrationPolicy)
}
