package service

import (
	"context"
	"time"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/tax"
	"github.com/google/uuid"
)

// Proration policies accepted on subscription updates.
const (
	ProrationCreateProrations = "create_prorations"
	ProrationNone             = "none"
	ProrationAlwaysInvoice    = "always_invoice"
)

// ReactivationGraceWindow is how long after an immediate cancellation a
// subscription may still be administratively reactivated.
const ReactivationGraceWindow = 30 * 24 * time.Hour

// SubscriptionService drives one subscription through its billing lifecycle.
// User-driven operations (Create, CommitUpdate, Cancel, Reactivate) and
// webhook-driven operations (OnInvoice*, ApplySubscription*) mutate the same
// row; the store serializes them per subscription.
type SubscriptionService interface {
	// Create establishes a new subscription from an active plan. The
	// subscription starts TRIALING when the plan carries a trial, ACTIVE
	// otherwise, and a welcome notification is emitted either way.
	Create(ctx context.Context, params CreateSubscriptionParams) (*domain.Subscription, error)

	// GetSubscription retrieves a single subscription.
	GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// PreviewUpdate computes the remaining-period cost of a plan or quantity
	// change without committing anything. Callers show the preview and then
	// call CommitUpdate; the two are deliberately separate calls.
	PreviewUpdate(ctx context.Context, id uuid.UUID, params UpdateSubscriptionParams) (*UpdatePreview, error)

	// CommitUpdate applies a previously previewed plan or quantity change:
	// the provider subscription is updated, then the local price/quantity
	// snapshot and period bounds follow.
	CommitUpdate(ctx context.Context, id uuid.UUID, params UpdateSubscriptionParams) (*domain.Subscription, error)

	// Cancel ends a subscription. With AtPeriodEnd the flag is set and the
	// status is left untouched until the provider closes the period; an
	// immediate cancel transitions to CANCELLED now and refunds the unused
	// remainder of the period pro rata.
	Cancel(ctx context.Context, id uuid.UUID, params CancelParams) (*domain.Subscription, error)

	// Reactivate restores a subscription to ACTIVE. Legal only while a
	// pending at-period-end cancellation has not yet taken effect, or within
	// ReactivationGraceWindow of an immediate cancellation.
	Reactivate(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// OnInvoicePaymentFailed records a failed cycle charge: the subscription
	// moves to PAST_DUE and the dunning policy decides the next action,
	// either one scheduled retry or the terminal cancellation.
	OnInvoicePaymentFailed(ctx context.Context, params InvoiceEventParams) error

	// OnInvoicePaymentSucceeded records a paid cycle charge: a PAST_DUE
	// subscription recovers to ACTIVE and every pending dunning attempt is
	// resolved, so no further retries run.
	OnInvoicePaymentSucceeded(ctx context.Context, params InvoiceEventParams) error

	// ApplySubscriptionUpdated reconciles provider-side lifecycle changes
	// (status, period bounds, cancel flag) into the local row.
	ApplySubscriptionUpdated(ctx context.Context, params ProviderSubscriptionUpdate) error

	// ApplySubscriptionDeleted finalizes a provider-side termination, such as
	// an at-period-end cancellation whose period has now closed.
	ApplySubscriptionDeleted(ctx context.Context, providerSubscriptionID string) error
}

// CreateSubscriptionParams contains parameters for creating a subscription.
type CreateSubscriptionParams struct {
	CustomerID      uuid.UUID `validate:"required"`
	PlanID          uuid.UUID `validate:"required"`
	Quantity        int32     `validate:"gte=1"`
	Jurisdiction    string    `validate:"required"`
	Currency        string    `validate:"required,len=3"`
	PaymentMethodID string    `validate:"required"`

	// ProviderPriceID is the provider's price reference for the plan.
	ProviderPriceID string `validate:"required"`

	// TrialDays overrides the plan's trial length when set. Zero is a valid
	// override and disables the trial entirely.
	TrialDays *int32 `validate:"omitempty,gte=0"`

	// PromoCode is an optional provider promotion code. It is forwarded to
	// the provider, which prices the discount, and recorded on the
	// subscription for audit.
	PromoCode string
}

// UpdateSubscriptionParams contains a plan and/or quantity change request.
// Nil fields keep the current value.
type UpdateSubscriptionParams struct {
	PlanID   *uuid.UUID
	Quantity *int32

	// ProviderPriceID must accompany a plan change.
	ProviderPriceID string

	ProrationPolicy string
}

// UpdatePreview is the remaining-period cost of an update before commit.
type UpdatePreview struct {
	SubtotalCents int32
	TaxCents      int32
	TotalCents    int32
	Breakdown     []tax.TaxBreakdown

	RemainingDays   int32
	TotalPeriodDays int32
	PeriodEnd       time.Time
}

// CancelParams contains parameters for cancelling a subscription.
type CancelParams struct {
	// AtPeriodEnd leaves the subscription running until the period closes.
	AtPeriodEnd bool

	Reason string
}

// InvoiceEventParams carries the invoice detail from a provider
// invoice.payment_* event.
type InvoiceEventParams struct {
	ProviderSubscriptionID string
	ProviderInvoiceID      string

	// ProviderPaymentID is set on payment_succeeded events; it is the charge
	// a later pro-rated refund would be issued against.
	ProviderPaymentID string

	SubtotalCents int32
	TaxCents      int32
	TotalCents    int32

	PeriodStart time.Time
	PeriodEnd   time.Time

	FailureCode    string
	FailureMessage string
}

// ProviderSubscriptionUpdate carries the subscription detail from a provider
// customer.subscription.updated event.
type ProviderSubscriptionUpdate struct {
	ProviderSubscriptionID string

	// Status is the provider's status string ("canceled", not "cancelled").
	Status string

	CancelAtPeriodEnd bool

	PeriodStart time.Time
	PeriodEnd   time.Time
}
