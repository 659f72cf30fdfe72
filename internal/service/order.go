package service

import (
	"context"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/google/uuid"
)

// OrderService drives one order and its payments through completion, failure,
// and refund. Webhook-driven operations follow a strict three-phase shape:
// compute the next state, persist it in a single transaction, then enqueue
// external side effects. No I/O other than the store happens inside the
// transaction.
type OrderService interface {
	// CreateOrder initiates checkout: prices the line items, computes the tax
	// breakdown for the customer's jurisdiction, creates a payment intent with
	// the provider, and persists the order in PENDING with one unresolved
	// payment attached.
	CreateOrder(ctx context.Context, params CreateOrderParams) (*domain.Order, error)

	// GetOrder retrieves a single order.
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)

	// ApplyPaymentSucceeded transitions the order to COMPLETED and the
	// matching unresolved payment to SUCCEEDED. Emits exactly one digital
	// access grant and one confirmation notification per order.
	//
	// Returns domain.ErrOrderNotFound when no order matches the provider
	// payment reference; the caller acknowledges (another integration may
	// own the payment).
	ApplyPaymentSucceeded(ctx context.Context, providerPaymentID string) error

	// ApplyPaymentFailed transitions the order to CANCELLED, marks the
	// payment FAILED with the provider's failure detail, and emits one
	// failure notification.
	ApplyPaymentFailed(ctx context.Context, providerPaymentID, failureCode, failureMessage string) error

	// ApplyRefund records a provider refund against the order's succeeded
	// payment and transitions the order to REFUNDED or PARTIALLY_REFUNDED.
	// A full refund revokes all digital access granted for the order.
	//
	// A refund amount exceeding the original charge is a data-integrity
	// error (EINVALID), surfaced and never retried.
	ApplyRefund(ctx context.Context, params ApplyRefundParams) error
}

// CreateOrderParams contains parameters for initiating checkout.
type CreateOrderParams struct {
	CustomerID   uuid.UUID
	Jurisdiction string
	Currency     string
	Items        []CreateOrderItem
}

// CreateOrderItem is one requested line.
type CreateOrderItem struct {
	ProductID      uuid.UUID
	Description    string
	Quantity       int32
	UnitPriceCents int32
}

// ApplyRefundParams contains the refund detail from the provider event.
type ApplyRefundParams struct {
	// ProviderPaymentID identifies the refunded charge.
	ProviderPaymentID string

	// ProviderRefundID is the provider's refund object reference.
	ProviderRefundID string

	// AmountCents is the refunded amount.
	AmountCents int32

	// Reason is the provider's refund reason, if any.
	Reason string
}
