package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Simulates successful provider calls without touching the Stripe API.
type MockProvider struct {
	// CreatePaymentIntentFunc allows customizing payment intent creation behavior
	CreatePaymentIntentFunc func(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error)

	// VerifyWebhookSignatureFunc allows customizing webhook verification behavior
	VerifyWebhookSignatureFunc func(payload []byte, signature string, secret string) error

	// CreateSubscriptionFunc allows customizing subscription creation behavior
	CreateSubscriptionFunc func(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)

	// UpdateSubscriptionFunc allows customizing subscription update behavior
	UpdateSubscriptionFunc func(ctx context.Context, params UpdateSubscriptionParams) (*Subscription, error)

	// CancelSubscriptionFunc allows customizing subscription cancel behavior
	CancelSubscriptionFunc func(ctx context.Context, params CancelSubscriptionParams) error

	// RefundPaymentFunc allows customizing refund behavior
	RefundPaymentFunc func(ctx context.Context, params RefundParams) (*Refund, error)

	// RetryInvoicePaymentFunc allows customizing invoice retry behavior
	RetryInvoicePaymentFunc func(ctx context.Context, providerInvoiceID string) error

	// Refunds stores issued refunds for assertions
	Refunds []RefundParams

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallLog: []string{},
	}
}

// CreatePaymentIntent creates a mock payment intent.
func (m *MockProvider) CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreatePaymentIntent(%d, %s)", params.AmountCents, params.Currency))

	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, params)
	}

	return &PaymentIntent{
		ID:           "pi_" + uuid.New().String(),
		ClientSecret: "pi_secret_" + uuid.New().String(),
		AmountCents:  params.AmountCents,
		Currency:     params.Currency,
		Status:       "requires_payment_method",
		Metadata:     params.Metadata,
		CreatedAt:    time.Now(),
	}, nil
}

// VerifyWebhookSignature verifies a mock webhook signature.
func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	m.CallLog = append(m.CallLog, "VerifyWebhookSignature")

	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature, secret)
	}

	return nil
}

// CreateSubscription creates a mock subscription.
func (m *MockProvider) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateSubscription(%s, %d)", params.PriceID, params.Quantity))

	if m.CreateSubscriptionFunc != nil {
		return m.CreateSubscriptionFunc(ctx, params)
	}

	status := "active"
	if params.TrialDays > 0 {
		status = "trialing"
	}

	return &Subscription{
		ID:        "sub_" + uuid.New().String(),
		Status:    status,
		CreatedAt: time.Now(),
	}, nil
}

// UpdateSubscription updates a mock subscription.
func (m *MockProvider) UpdateSubscription(ctx context.Context, params UpdateSubscriptionParams) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("UpdateSubscription(%s, %d)", params.ProviderSubscriptionID, params.Quantity))

	if m.UpdateSubscriptionFunc != nil {
		return m.UpdateSubscriptionFunc(ctx, params)
	}

	return &Subscription{
		ID:        params.ProviderSubscriptionID,
		Status:    "active",
		CreatedAt: time.Now(),
	}, nil
}

// CancelSubscription cancels a mock subscription.
func (m *MockProvider) CancelSubscription(ctx context.Context, params CancelSubscriptionParams) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CancelSubscription(%s, at_period_end=%t)", params.ProviderSubscriptionID, params.CancelAtPeriodEnd))

	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, params)
	}

	return nil
}

// ReactivateSubscription reactivates a mock subscription.
func (m *MockProvider) ReactivateSubscription(ctx context.Context, providerSubscriptionID string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("ReactivateSubscription(%s)", providerSubscriptionID))

	return &Subscription{
		ID:        providerSubscriptionID,
		Status:    "active",
		CreatedAt: time.Now(),
	}, nil
}

// RefundPayment issues a mock refund.
func (m *MockProvider) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("RefundPayment(%s, %d)", params.ProviderPaymentID, params.AmountCents))
	m.Refunds = append(m.Refunds, params)

	if m.RefundPaymentFunc != nil {
		return m.RefundPaymentFunc(ctx, params)
	}

	return &Refund{
		ID:          "re_" + uuid.New().String(),
		AmountCents: params.AmountCents,
		Status:      "succeeded",
		CreatedAt:   time.Now(),
	}, nil
}

// RetryInvoicePayment records a mock invoice retry.
func (m *MockProvider) RetryInvoicePayment(ctx context.Context, providerInvoiceID string) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("RetryInvoicePayment(%s)", providerInvoiceID))

	if m.RetryInvoicePaymentFunc != nil {
		return m.RetryInvoicePaymentFunc(ctx, providerInvoiceID)
	}

	return nil
}
