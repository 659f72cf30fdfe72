package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order-related domain errors.
var (
	ErrOrderNotFound        = &Error{Code: ENOTFOUND, Message: "Order not found"}
	ErrPaymentNotFound      = &Error{Code: ENOTFOUND, Message: "Payment not found"}
	ErrOrderNotPending      = &Error{Code: ECONFLICT, Message: "Order is not awaiting payment"}
	ErrOrderNotCompleted    = &Error{Code: ECONFLICT, Message: "Order has not been completed"}
	ErrOrderCancelled       = &Error{Code: ECONFLICT, Message: "Order has been cancelled"}
	ErrPaymentResolved      = &Error{Code: ECONFLICT, Message: "Payment already resolved"}
	ErrRefundAmountMismatch = &Error{Code: EINVALID, Message: "Refund amount does not match original charge"}
	ErrEmptyLineItems       = &Error{Code: EINVALID, Message: "Order must contain at least one line item"}
)

// Order statuses. Transitions are monotonic except the refund paths:
//
//	pending -> completed -> refunded
//	pending -> completed -> partially_refunded -> refunded
//	pending -> cancelled
//
// An order may take several partial refunds before the cumulative refunded
// amount reaches the full charge. There is no transition out of cancelled or
// refunded, and no transition out of completed except via a refund event.
const (
	OrderStatusPending           = "pending"
	OrderStatusCompleted         = "completed"
	OrderStatusCancelled         = "cancelled"
	OrderStatusRefunded          = "refunded"
	OrderStatusPartiallyRefunded = "partially_refunded"
)

// orderTransitions is the closed set of legal order status transitions.
var orderTransitions = map[string][]string{
	OrderStatusPending:           {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:         {OrderStatusRefunded, OrderStatusPartiallyRefunded},
	OrderStatusPartiallyRefunded: {OrderStatusPartiallyRefunded, OrderStatusRefunded},
}

// CanTransitionOrder reports whether an order may move from one status to another.
func CanTransitionOrder(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is the merchant's record of a single checkout. It is created at
// checkout initiation and mutated only through the order state machine;
// orders are never deleted, only status-terminated.
//
// Invariant: TotalCents == SubtotalCents + TaxCents.
type Order struct {
	ID         uuid.UUID
	CustomerID uuid.UUID

	Status       string
	Jurisdiction string
	Currency     string

	SubtotalCents int32
	TaxCents      int32
	TotalCents    int32

	// ProviderPaymentID is the provider payment reference the checkout
	// flow attached to this order (pi_... for Stripe).
	ProviderPaymentID string

	Items []OrderItem

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem is one ordered line.
type OrderItem struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	ProductID      uuid.UUID
	Description    string
	Quantity       int32
	UnitPriceCents int32
	TotalCents     int32
}

// Payment statuses. At most one payment per order may be succeeded.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Payment records one attempted charge against an order. Retries create
// new rows rather than mutating old ones.
type Payment struct {
	ID      uuid.UUID
	OrderID uuid.UUID

	// ProviderPaymentID is the provider's charge reference.
	ProviderPaymentID string

	Status      string
	AmountCents int32

	FailureCode    string
	FailureMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Refund statuses mirror the provider's refund object lifecycle.
const (
	RefundStatusPending   = "pending"
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"
)

// Refund records one provider refund object against a payment. Append-only.
type Refund struct {
	ID        uuid.UUID
	PaymentID uuid.UUID
	OrderID   uuid.UUID

	ProviderRefundID string

	AmountCents int32
	Reason      string
	Status      string

	CreatedAt time.Time
}
