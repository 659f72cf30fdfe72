package notify

import (
	"context"

	"github.com/dukerupert/vanir/internal/domain"
)

// Notification kinds. Each logical event produces at most one notification,
// even under duplicate webhook delivery; the dispatcher's idempotency gate
// guarantees the services emit only on the first processing.
const (
	KindOrderConfirmed            = "order_confirmed"
	KindOrderPaymentFailed        = "order_payment_failed"
	KindOrderRefunded             = "order_refunded"
	KindSubscriptionWelcome       = "subscription_welcome"
	KindSubscriptionPaymentFailed = "subscription_payment_failed"
	KindSubscriptionRecovered     = "subscription_recovered"
	KindSubscriptionCancelled     = "subscription_cancelled"
	KindDunningFinalNotice        = "dunning_final_notice"
)

// Notification is a customer-facing message request. Rendering and delivery
// (email/SMS) belong to the external notification layer.
type Notification struct {
	Kind       string            `json:"kind"`
	CustomerID string            `json:"customer_id"`
	Entity     string            `json:"entity"`
	EntityID   string            `json:"entity_id"`
	Data       map[string]string `json:"data,omitempty"`
}

// Sink is the boundary to the external audit/notification collaborator.
// Implementations must be fire-and-forget or queued: state machines call the
// sink after their transaction commits, never inside it.
type Sink interface {
	// Notify requests one customer notification.
	Notify(ctx context.Context, n Notification) error

	// Audit records one state transition.
	Audit(ctx context.Context, entry domain.AuditEntry) error
}
