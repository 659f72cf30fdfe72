package domain

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence boundary for the reconciliation core. The postgres
// package provides the production implementation; tests use in-memory fakes.
//
// Entity-fetching methods that feed a state transition lock the underlying row
// for the duration of the enclosing transaction, so concurrent deliveries that
// reference the same order or subscription under different event identifiers
// are serialized per entity.
type Store interface {
	// RunInTx executes fn inside a single transaction. The Store passed to fn
	// is scoped to that transaction; the webhook dispatcher wraps each event's
	// state-mutating work in exactly one RunInTx call so a handler failing
	// partway leaves no partial effects.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Orders and payments.
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByProviderPaymentID(ctx context.Context, providerPaymentID string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status string) error

	CreatePayment(ctx context.Context, payment *Payment) error
	GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*Payment, error)
	UpdatePayment(ctx context.Context, payment *Payment) error

	CreateRefund(ctx context.Context, refund *Refund) error

	// Subscriptions, plans, and invoices.
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)

	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	CreateInvoice(ctx context.Context, invoice *Invoice) error
	GetInvoiceByProviderID(ctx context.Context, providerInvoiceID string) (*Invoice, error)
	GetLatestPaidInvoice(ctx context.Context, subscriptionID uuid.UUID) (*Invoice, error)
	UpdateInvoice(ctx context.Context, invoice *Invoice) error

	// Dunning attempts. CreateDunningAttempt returns ErrDuplicateDunningAttempt
	// when a pending attempt with the same (SubscriptionID, AttemptNumber)
	// already exists.
	CreateDunningAttempt(ctx context.Context, attempt *DunningAttempt) error
	GetDunningAttempt(ctx context.Context, id uuid.UUID) (*DunningAttempt, error)
	ListPendingDunningAttempts(ctx context.Context, subscriptionID uuid.UUID) ([]DunningAttempt, error)
	CountResolvedDunningAttempts(ctx context.Context, subscriptionID, invoiceID uuid.UUID) (int32, error)
	ResolveDunningAttempt(ctx context.Context, id uuid.UUID, outcome string) error

	// Webhook event records (the idempotency gate).
	//
	// ClaimWebhookEvent inserts an in-flight record for a provider event ID
	// before any handler runs, so concurrent deliveries of the same event
	// race on the primary key rather than on a read. It returns false when
	// the event is already processed or another delivery holds a live claim;
	// a claim whose prior attempt recorded an error, or whose holder went
	// silent past the claim lease, may be taken over.
	ClaimWebhookEvent(ctx context.Context, record *WebhookEventRecord) (bool, error)
	GetWebhookEvent(ctx context.Context, providerEventID string) (*WebhookEventRecord, error)
	UpsertWebhookEvent(ctx context.Context, record *WebhookEventRecord) error

	// Jobs (the scheduling substrate executing dunning retries).
	EnqueueJob(ctx context.Context, job *Job) error
	ClaimNextJob(ctx context.Context, workerID, queue string) (*Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	FailJob(ctx context.Context, id uuid.UUID, errorMessage string) error
}
