package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/vanir/internal/billing"
	"github.com/dukerupert/vanir/internal/domain"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDispatcher struct {
	DispatchFunc func(ctx context.Context, event domain.WebhookEvent) error
	Events       []domain.WebhookEvent
}

func (s *stubDispatcher) Dispatch(ctx context.Context, event domain.WebhookEvent) error {
	s.Events = append(s.Events, event)
	if s.DispatchFunc != nil {
		return s.DispatchFunc(ctx, event)
	}
	return nil
}

func perform(t *testing.T, h *StripeHandler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, h.HandleWebhook(e.NewContext(req, rec)))
	return rec
}

func newHandler(dispatcher *stubDispatcher, provider *billing.MockProvider) *StripeHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStripeHandler(provider, dispatcher, "whsec_test", logger)
}

func TestStripeHandler_DispatchesVerifiedEvent(t *testing.T) {
	dispatcher := &stubDispatcher{}
	h := newHandler(dispatcher, billing.NewMockProvider())

	body := `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_abc"}}}`
	rec := perform(t, h, body, "t=1,v1=sig")

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, dispatcher.Events, 1)
	assert.Equal(t, "evt_1", dispatcher.Events[0].ID)
	assert.Equal(t, "payment_intent.succeeded", dispatcher.Events[0].Type)
	assert.JSONEq(t, `{"id":"pi_abc"}`, string(dispatcher.Events[0].Object))
}

func TestStripeHandler_MissingSignature(t *testing.T) {
	dispatcher := &stubDispatcher{}
	h := newHandler(dispatcher, billing.NewMockProvider())

	rec := perform(t, h, `{"id":"evt_1","type":"x"}`, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, dispatcher.Events)
}

func TestStripeHandler_InvalidSignature(t *testing.T) {
	dispatcher := &stubDispatcher{}
	provider := billing.NewMockProvider()
	provider.VerifyWebhookSignatureFunc = func(payload []byte, signature, secret string) error {
		return billing.ErrInvalidWebhookSignature
	}
	h := newHandler(dispatcher, provider)

	rec := perform(t, h, `{"id":"evt_1","type":"x"}`, "t=1,v1=bad")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, dispatcher.Events)
}

func TestStripeHandler_TransientFailureReturns500(t *testing.T) {
	dispatcher := &stubDispatcher{
		DispatchFunc: func(ctx context.Context, event domain.WebhookEvent) error {
			return domain.Internal(assert.AnError, "test", "store unavailable")
		},
	}
	h := newHandler(dispatcher, billing.NewMockProvider())

	rec := perform(t, h, `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`, "t=1,v1=sig")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStripeHandler_InvalidEnvelopeAcknowledged(t *testing.T) {
	// A signed event Stripe cannot change is one redelivery cannot fix, so the
	// handler acknowledges it to stop the retry cycle.
	dispatcher := &stubDispatcher{
		DispatchFunc: func(ctx context.Context, event domain.WebhookEvent) error {
			return domain.ErrEventMissingID
		},
	}
	h := newHandler(dispatcher, billing.NewMockProvider())

	rec := perform(t, h, `{"type":"payment_intent.succeeded","data":{"object":{}}}`, "t=1,v1=sig")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStripeHandler_MalformedBodyAcknowledged(t *testing.T) {
	dispatcher := &stubDispatcher{}
	h := newHandler(dispatcher, billing.NewMockProvider())

	rec := perform(t, h, `not-json`, "t=1,v1=sig")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, dispatcher.Events)
}
