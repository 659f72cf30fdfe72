package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memEventStore is an in-memory EventStore.
type memEventStore struct {
	mu      sync.Mutex
	records map[string]*domain.WebhookEventRecord
}

func newMemEventStore() *memEventStore {
	return &memEventStore{records: make(map[string]*domain.WebhookEventRecord)}
}

func (m *memEventStore) ClaimWebhookEvent(_ context.Context, record *domain.WebhookEventRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[record.ProviderEventID]
	if ok && (existing.Processed || existing.ErrorDetail == "") {
		return false, nil
	}
	clone := *record
	clone.Processed = false
	clone.ErrorDetail = ""
	m.records[record.ProviderEventID] = &clone
	return true, nil
}

func (m *memEventStore) GetWebhookEvent(_ context.Context, providerEventID string) (*domain.WebhookEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[providerEventID]
	if !ok {
		return nil, domain.Errorf(domain.ENOTFOUND, "test", "webhook event not found")
	}
	clone := *record
	return &clone, nil
}

func (m *memEventStore) UpsertWebhookEvent(_ context.Context, record *domain.WebhookEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.records[record.ProviderEventID] = &clone
	return nil
}

// mockOrderService records calls and delegates to optional func fields.
type mockOrderService struct {
	ApplyPaymentSucceededFunc func(ctx context.Context, providerPaymentID string) error

	SucceededCalls []string
	FailedCalls    []string
	RefundCalls    []service.ApplyRefundParams
}

func (m *mockOrderService) CreateOrder(ctx context.Context, params service.CreateOrderParams) (*domain.Order, error) {
	return nil, nil
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return nil, nil
}

func (m *mockOrderService) ApplyPaymentSucceeded(ctx context.Context, providerPaymentID string) error {
	m.SucceededCalls = append(m.SucceededCalls, providerPaymentID)
	if m.ApplyPaymentSucceededFunc != nil {
		return m.ApplyPaymentSucceededFunc(ctx, providerPaymentID)
	}
	return nil
}

func (m *mockOrderService) ApplyPaymentFailed(ctx context.Context, providerPaymentID, failureCode, failureMessage string) error {
	m.FailedCalls = append(m.FailedCalls, providerPaymentID)
	return nil
}

func (m *mockOrderService) ApplyRefund(ctx context.Context, params service.ApplyRefundParams) error {
	m.RefundCalls = append(m.RefundCalls, params)
	return nil
}

// mockSubscriptionService records webhook-driven calls.
type mockSubscriptionService struct {
	FailedInvoices    []service.InvoiceEventParams
	SucceededInvoices []service.InvoiceEventParams
	Updates           []service.ProviderSubscriptionUpdate
	Deletions         []string
}

func (m *mockSubscriptionService) Create(ctx context.Context, params service.CreateSubscriptionParams) (*domain.Subscription, error) {
	return nil, nil
}

func (m *mockSubscriptionService) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return nil, nil
}

func (m *mockSubscriptionService) PreviewUpdate(ctx context.Context, id uuid.UUID, params service.UpdateSubscriptionParams) (*service.UpdatePreview, error) {
	return nil, nil
}

func (m *mockSubscriptionService) CommitUpdate(ctx context.Context, id uuid.UUID, params service.UpdateSubscriptionParams) (*domain.Subscription, error) {
	return nil, nil
}

func (m *mockSubscriptionService) Cancel(ctx context.Context, id uuid.UUID, params service.CancelParams) (*domain.Subscription, error) {
	return nil, nil
}

func (m *mockSubscriptionService) Reactivate(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return nil, nil
}

func (m *mockSubscriptionService) OnInvoicePaymentFailed(ctx context.Context, params service.InvoiceEventParams) error {
	m.FailedInvoices = append(m.FailedInvoices, params)
	return nil
}

func (m *mockSubscriptionService) OnInvoicePaymentSucceeded(ctx context.Context, params service.InvoiceEventParams) error {
	m.SucceededInvoices = append(m.SucceededInvoices, params)
	return nil
}

func (m *mockSubscriptionService) ApplySubscriptionUpdated(ctx context.Context, params service.ProviderSubscriptionUpdate) error {
	m.Updates = append(m.Updates, params)
	return nil
}

func (m *mockSubscriptionService) ApplySubscriptionDeleted(ctx context.Context, providerSubscriptionID string) error {
	m.Deletions = append(m.Deletions, providerSubscriptionID)
	return nil
}

type dispatcherFixture struct {
	store  *memEventStore
	orders *mockOrderService
	subs   *mockSubscriptionService
	d      *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		store:  newMemEventStore(),
		orders: &mockOrderService{},
		subs:   &mockSubscriptionService{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.d = NewDispatcher(f.store, f.orders, f.subs, logger)
	return f
}

func event(id, eventType, object string) domain.WebhookEvent {
	return domain.WebhookEvent{ID: id, Type: eventType, Object: json.RawMessage(object)}
}

func TestDispatcher_PaymentIntentSucceeded(t *testing.T) {
	f := newDispatcherFixture(t)

	err := f.d.Dispatch(context.Background(), event("evt_1", EventPaymentIntentSucceeded, `{"id":"pi_abc"}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"pi_abc"}, f.orders.SucceededCalls)

	record, err := f.store.GetWebhookEvent(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, record.Processed)
	assert.NotNil(t, record.ProcessedAt)
}

func TestDispatcher_DuplicateDeliveryInvokesHandlerOnce(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	evt := event("evt_dup", EventPaymentIntentSucceeded, `{"id":"pi_abc"}`)

	require.NoError(t, f.d.Dispatch(ctx, evt))
	require.NoError(t, f.d.Dispatch(ctx, evt))
	require.NoError(t, f.d.Dispatch(ctx, evt))

	assert.Len(t, f.orders.SucceededCalls, 1, "handler invoked exactly once across duplicate deliveries")
}

func TestDispatcher_ConcurrentDuplicateDeliveries(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	f.orders.ApplyPaymentSucceededFunc = func(ctx context.Context, providerPaymentID string) error {
		close(entered)
		<-release
		return nil
	}

	evt := event("evt_race", EventPaymentIntentSucceeded, `{"id":"pi_abc"}`)
	winner := make(chan error, 1)
	go func() { winner <- f.d.Dispatch(ctx, evt) }()
	<-entered

	// The losing delivery must not reach a handler while the claim is held;
	// it signals the provider to redeliver later.
	err := f.d.Dispatch(ctx, evt)
	require.Error(t, err)
	assert.Len(t, f.orders.SucceededCalls, 1)

	close(release)
	require.NoError(t, <-winner)

	// Once the winner has recorded its outcome a duplicate is acknowledged
	// without re-running anything.
	require.NoError(t, f.d.Dispatch(ctx, evt))
	assert.Len(t, f.orders.SucceededCalls, 1)
}

func TestDispatcher_TransientFailurePropagates(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	f.orders.ApplyPaymentSucceededFunc = func(ctx context.Context, providerPaymentID string) error {
		return domain.Internal(assert.AnError, "test", "database unavailable")
	}

	evt := event("evt_fail", EventPaymentIntentSucceeded, `{"id":"pi_abc"}`)
	err := f.d.Dispatch(ctx, evt)
	require.Error(t, err, "transient failures must surface so the provider redelivers")

	record, err := f.store.GetWebhookEvent(ctx, "evt_fail")
	require.NoError(t, err)
	assert.False(t, record.Processed)
	assert.NotEmpty(t, record.ErrorDetail)

	// The gate does not block redelivery of an unprocessed event.
	f.orders.ApplyPaymentSucceededFunc = nil
	require.NoError(t, f.d.Dispatch(ctx, evt))
	assert.Len(t, f.orders.SucceededCalls, 2)

	record, err = f.store.GetWebhookEvent(ctx, "evt_fail")
	require.NoError(t, err)
	assert.True(t, record.Processed)
}

func TestDispatcher_NotFoundIsAcknowledged(t *testing.T) {
	f := newDispatcherFixture(t)
	f.orders.ApplyPaymentSucceededFunc = func(ctx context.Context, providerPaymentID string) error {
		return domain.ErrOrderNotFound
	}

	err := f.d.Dispatch(context.Background(), event("evt_nf", EventPaymentIntentSucceeded, `{"id":"pi_missing"}`))
	assert.NoError(t, err, "redelivery cannot fix a missing order")
}

func TestDispatcher_UnknownTypeAcknowledged(t *testing.T) {
	f := newDispatcherFixture(t)

	err := f.d.Dispatch(context.Background(), event("evt_odd", "account.updated", `{}`))
	require.NoError(t, err)

	assert.Empty(t, f.orders.SucceededCalls)
	assert.Empty(t, f.subs.Updates)

	record, err := f.store.GetWebhookEvent(context.Background(), "evt_odd")
	require.NoError(t, err)
	assert.True(t, record.Processed)
}

func TestDispatcher_InvalidEnvelope(t *testing.T) {
	f := newDispatcherFixture(t)

	err := f.d.Dispatch(context.Background(), event("", EventPaymentIntentSucceeded, `{"id":"pi_abc"}`))
	require.ErrorIs(t, err, domain.ErrEventMissingID)

	err = f.d.Dispatch(context.Background(), event("evt_x", "", `{}`))
	require.ErrorIs(t, err, domain.ErrEventMissingType)
}

func TestDispatcher_MalformedPayloadAcknowledged(t *testing.T) {
	f := newDispatcherFixture(t)

	// Missing payment intent id decodes but fails validation: EINVALID, acked.
	err := f.d.Dispatch(context.Background(), event("evt_bad", EventPaymentIntentSucceeded, `{}`))
	assert.NoError(t, err)
	assert.Empty(t, f.orders.SucceededCalls)
}

func TestDispatcher_RoutesInvoiceEvents(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	object := `{"id":"in_1","subscription":"sub_1","payment_intent":"pi_cycle","subtotal":3000,"tax":390,"total":3390,"period_start":1756166400,"period_end":1758844800}`
	require.NoError(t, f.d.Dispatch(ctx, event("evt_if", EventInvoicePaymentFailed, object)))
	require.NoError(t, f.d.Dispatch(ctx, event("evt_is", EventInvoicePaymentSucceeded, object)))

	require.Len(t, f.subs.FailedInvoices, 1)
	assert.Equal(t, "sub_1", f.subs.FailedInvoices[0].ProviderSubscriptionID)
	assert.Equal(t, int32(3390), f.subs.FailedInvoices[0].TotalCents)
	assert.False(t, f.subs.FailedInvoices[0].PeriodStart.IsZero())

	require.Len(t, f.subs.SucceededInvoices, 1)
	assert.Equal(t, "pi_cycle", f.subs.SucceededInvoices[0].ProviderPaymentID)
}

func TestDispatcher_RoutesSubscriptionEvents(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	object := `{"id":"sub_1","status":"active","cancel_at_period_end":true,"current_period_start":1756166400,"current_period_end":1758844800}`
	require.NoError(t, f.d.Dispatch(ctx, event("evt_su", EventSubscriptionUpdated, object)))
	require.NoError(t, f.d.Dispatch(ctx, event("evt_sd", EventSubscriptionDeleted, `{"id":"sub_1"}`)))

	require.Len(t, f.subs.Updates, 1)
	assert.Equal(t, "sub_1", f.subs.Updates[0].ProviderSubscriptionID)
	assert.True(t, f.subs.Updates[0].CancelAtPeriodEnd)

	assert.Equal(t, []string{"sub_1"}, f.subs.Deletions)
}

func TestDispatcher_RoutesChargeRefunded(t *testing.T) {
	f := newDispatcherFixture(t)

	object := `{"id":"ch_1","payment_intent":"pi_abc","amount_refunded":11300,"refunds":{"data":[{"id":"re_1","reason":"requested_by_customer"}]}}`
	require.NoError(t, f.d.Dispatch(context.Background(), event("evt_rf", EventChargeRefunded, object)))

	require.Len(t, f.orders.RefundCalls, 1)
	assert.Equal(t, "pi_abc", f.orders.RefundCalls[0].ProviderPaymentID)
	assert.Equal(t, "re_1", f.orders.RefundCalls[0].ProviderRefundID)
	assert.Equal(t, int32(11300), f.orders.RefundCalls[0].AmountCents)
}
