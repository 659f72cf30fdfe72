package billing

import (
	"context"
	"time"
)

// Provider defines the interface to the remote payment provider.
// The reconciliation core only ever calls the provider for outbound
// commands; all inbound state comes back through webhooks.
type Provider interface {
	// CreatePaymentIntent creates a payment intent for a one-time charge.
	// Checkout initiation attaches the returned ID to the pending order.
	CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error)

	// VerifyWebhookSignature verifies that a webhook request is authentic.
	// Runs at the HTTP edge, before the dispatcher sees the envelope.
	VerifyWebhookSignature(payload []byte, signature string, secret string) error

	// CreateSubscription creates a recurring subscription with the provider.
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)

	// UpdateSubscription changes price or quantity on an existing subscription.
	UpdateSubscription(ctx context.Context, params UpdateSubscriptionParams) (*Subscription, error)

	// CancelSubscription cancels a subscription, either at period end or
	// immediately.
	CancelSubscription(ctx context.Context, params CancelSubscriptionParams) error

	// ReactivateSubscription clears a pending at-period-end cancellation.
	ReactivateSubscription(ctx context.Context, providerSubscriptionID string) (*Subscription, error)

	// RefundPayment refunds a completed payment, fully or partially.
	RefundPayment(ctx context.Context, params RefundParams) (*Refund, error)

	// RetryInvoicePayment asks the provider to re-attempt collection on an
	// open invoice. Used by dunning retries; the outcome arrives as a webhook.
	RetryInvoicePayment(ctx context.Context, providerInvoiceID string) error
}

// CreatePaymentIntentParams contains parameters for creating a payment intent.
type CreatePaymentIntentParams struct {
	// AmountCents is the amount in smallest currency unit.
	AmountCents int32

	// Currency code (ISO 4217) - e.g., "cad".
	Currency string

	// Description appears on the customer's statement.
	Description string

	// Metadata for filtering and reporting (always include order_id).
	Metadata map[string]string

	// IdempotencyKey prevents duplicate payment intents. Typically the order ID.
	IdempotencyKey string
}

// PaymentIntent represents a provider payment intent.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	AmountCents  int32
	Currency     string
	Status       string
	Metadata     map[string]string
	CreatedAt    time.Time
}

// CreateSubscriptionParams contains parameters for creating a subscription.
type CreateSubscriptionParams struct {
	CustomerID      string
	PriceID         string
	Quantity        int32
	TrialDays       int32
	PaymentMethodID string

	// PromoCode is a provider promotion code to apply at creation.
	PromoCode string

	Metadata map[string]string
}

// UpdateSubscriptionParams contains parameters for updating a subscription.
type UpdateSubscriptionParams struct {
	ProviderSubscriptionID string
	PriceID                string
	Quantity               int32

	// ProrationPolicy: "create_prorations", "none", or "always_invoice".
	ProrationPolicy string
}

// CancelSubscriptionParams contains parameters for cancelling a subscription.
type CancelSubscriptionParams struct {
	ProviderSubscriptionID string

	// CancelAtPeriodEnd controls cancellation timing:
	// true leaves the subscription running until the period closes,
	// false ends it immediately.
	CancelAtPeriodEnd bool

	Reason string
}

// Subscription represents a provider subscription.
type Subscription struct {
	ID                string
	Status            string
	CancelAtPeriodEnd bool
	CreatedAt         time.Time
}

// RefundParams contains parameters for refunding a payment.
type RefundParams struct {
	// ProviderPaymentID is the payment intent to refund against.
	ProviderPaymentID string

	// AmountCents to refund. Zero refunds the full charge.
	AmountCents int32

	// Reason: "requested_by_customer", "duplicate", or "fraudulent".
	Reason string

	Metadata map[string]string
}

// Refund represents a provider refund object.
type Refund struct {
	ID          string
	AmountCents int32
	Status      string
	CreatedAt   time.Time
}
