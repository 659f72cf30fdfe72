package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription-related domain errors.
var (
	ErrSubscriptionNotFound    = &Error{Code: ENOTFOUND, Message: "Subscription not found"}
	ErrPlanNotFound            = &Error{Code: ENOTFOUND, Message: "Plan not found"}
	ErrPlanInactive            = &Error{Code: EINVALID, Message: "Plan is not active"}
	ErrInvalidPaymentMethod    = &Error{Code: EINVALID, Message: "Payment method is missing or invalid"}
	ErrSubscriptionCancelled   = &Error{Code: ECONFLICT, Message: "Subscription already cancelled"}
	ErrSubscriptionNotBillable = &Error{Code: ECONFLICT, Message: "Subscription is not in a billable state"}
	ErrReactivateNotAllowed    = &Error{Code: ECONFLICT, Message: "Subscription cannot be reactivated"}
	ErrInvoiceNotFound         = &Error{Code: ENOTFOUND, Message: "Invoice not found"}
	ErrInvoiceAlreadyPaid      = &Error{Code: ECONFLICT, Message: "Invoice already paid"}
)

// Subscription statuses.
const (
	SubscriptionStatusTrialing  = "trialing"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusUnpaid    = "unpaid"
	SubscriptionStatusPaused    = "paused"
)

// subscriptionTransitions is the closed set of legal subscription status
// transitions. Cancelled is terminal: nothing leaves it via webhook events;
// Reactivate handles the narrow administrative grace-window path explicitly.
var subscriptionTransitions = map[string][]string{
	SubscriptionStatusTrialing: {SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCancelled, SubscriptionStatusPaused},
	SubscriptionStatusActive:   {SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCancelled, SubscriptionStatusPaused},
	SubscriptionStatusPastDue:  {SubscriptionStatusActive, SubscriptionStatusUnpaid, SubscriptionStatusCancelled},
	SubscriptionStatusUnpaid:   {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusPaused:   {SubscriptionStatusActive, SubscriptionStatusCancelled},
}

// CanTransitionSubscription reports whether a subscription may move between statuses.
func CanTransitionSubscription(from, to string) bool {
	for _, next := range subscriptionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Subscription tracks one recurring billing relationship through its lifecycle.
// It is mutated by both webhook-driven and user-driven transitions and is
// logically terminated (never deleted) on cancellation.
//
// Invariants:
//   - CurrentPeriodStart < CurrentPeriodEnd
//   - CancelAtPeriodEnd and an immediate cancellation (CancelledAt set while the
//     period is still open) are mutually exclusive terminal paths.
type Subscription struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	PlanID     uuid.UUID

	Status string

	// Price/quantity snapshot at the most recent commit.
	Quantity       int32
	UnitPriceCents int32
	Currency       string
	Jurisdiction   string

	// PromoCode is the promotion code applied at creation, if any. The
	// provider owns the discount pricing; the code is recorded for audit.
	PromoCode string

	ProviderSubscriptionID string

	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time

	TrialStart *time.Time
	TrialEnd   *time.Time

	CancelAtPeriodEnd  bool
	CancelledAt        *time.Time
	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Plan is the catalog entry a subscription is priced from. Catalog CRUD is an
// external collaborator; the core only reads plans during create/update.
type Plan struct {
	ID             uuid.UUID
	Name           string
	UnitPriceCents int32
	Currency       string
	Interval       string // "month" or "week"
	TrialDays      int32
	Active         bool
}

// Invoice statuses.
const (
	InvoiceStatusOpen   = "open"
	InvoiceStatusPaid   = "paid"
	InvoiceStatusFailed = "failed"
	InvoiceStatusVoid   = "void"
)

// Invoice records one billing-cycle charge attempt on a subscription.
// Append-only: a new row per cycle, never mutated once paid.
type Invoice struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID

	ProviderInvoiceID string

	// ProviderPaymentID is the charge that paid this invoice, recorded when
	// the payment-succeeded event arrives. Pro-rated cancellation refunds
	// are issued against it.
	ProviderPaymentID string

	SubtotalCents int32
	TaxCents      int32
	TotalCents    int32
	PaidCents     int32
	DueCents      int32

	Status string

	PeriodStart time.Time
	PeriodEnd   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
