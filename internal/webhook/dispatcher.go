// Package webhook turns the provider's at-least-once event deliveries into
// exactly-once state effects. The dispatcher owns the idempotency gate and
// the ack/redeliver decision; the services own the state machines.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/service"
	"github.com/dukerupert/vanir/internal/telemetry"
)

// Handled event types. Anything else is logged and acknowledged.
const (
	EventPaymentIntentSucceeded  = "payment_intent.succeeded"
	EventPaymentIntentFailed     = "payment_intent.payment_failed"
	EventChargeRefunded          = "charge.refunded"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
)

// EventStore is the slice of the store the dispatcher needs for its gate.
type EventStore interface {
	ClaimWebhookEvent(ctx context.Context, record *domain.WebhookEventRecord) (bool, error)
	GetWebhookEvent(ctx context.Context, providerEventID string) (*domain.WebhookEventRecord, error)
	UpsertWebhookEvent(ctx context.Context, record *domain.WebhookEventRecord) error
}

// Dispatcher routes verified provider events to the order and subscription
// state machines.
type Dispatcher struct {
	store         EventStore
	orders        service.OrderService
	subscriptions service.SubscriptionService
	logger        *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(store EventStore, orders service.OrderService, subscriptions service.SubscriptionService, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:         store,
		orders:        orders,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// Dispatch processes one event envelope.
//
// A nil return acknowledges the delivery; a non-nil return tells the caller
// to signal failure so the provider redelivers. Handler errors classed as
// EINVALID, ENOTFOUND, or ECONFLICT are logged and acknowledged, since
// redelivery cannot fix them; everything else is treated as transient.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.WebhookEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	start := time.Now()
	if telemetry.Business != nil {
		telemetry.Business.WebhooksReceived.WithLabelValues(event.Type).Inc()
	}

	// Claim the event before routing. The claim insert races on the primary
	// key, so of any number of concurrent deliveries exactly one reaches a
	// handler; the rest see either a processed record (duplicate, ack) or a
	// live claim (back off and let the provider redeliver).
	claimed, err := d.store.ClaimWebhookEvent(ctx, &domain.WebhookEventRecord{
		ProviderEventID: event.ID,
		EventType:       event.Type,
		ReceivedAt:      start,
	})
	if err != nil {
		return fmt.Errorf("failed to claim webhook event: %w", err)
	}
	if !claimed {
		record, err := d.store.GetWebhookEvent(ctx, event.ID)
		if err != nil {
			return fmt.Errorf("failed to look up webhook event: %w", err)
		}
		if record.Processed {
			d.logger.Debug("duplicate webhook delivery acknowledged", "event_id", event.ID, "event_type", event.Type)
			return nil
		}
		d.logger.Debug("webhook event already in flight", "event_id", event.ID, "event_type", event.Type)
		return fmt.Errorf("webhook event %s is already in flight", event.ID)
	}

	handlerErr := d.route(ctx, event)

	now := time.Now()
	record := &domain.WebhookEventRecord{
		ProviderEventID: event.ID,
		EventType:       event.Type,
		Processed:       handlerErr == nil,
		ReceivedAt:      start,
	}
	if handlerErr == nil {
		record.ProcessedAt = &now
	} else {
		record.ErrorDetail = handlerErr.Error()
	}
	if err := d.store.UpsertWebhookEvent(ctx, record); err != nil {
		// Without a durable record the gate cannot hold; ask for redelivery.
		return fmt.Errorf("failed to persist webhook event record: %w", err)
	}

	if telemetry.Business != nil {
		telemetry.Business.WebhookDuration.WithLabelValues(event.Type).Observe(time.Since(start).Seconds())
	}

	if handlerErr == nil {
		if telemetry.Business != nil {
			telemetry.Business.WebhooksProcessed.WithLabelValues(event.Type).Inc()
		}
		return nil
	}

	switch domain.ErrorCode(handlerErr) {
	case domain.EINVALID, domain.ENOTFOUND, domain.ECONFLICT:
		// Redelivering the same payload cannot change the outcome.
		d.logger.Warn("webhook handler rejected event",
			"event_id", event.ID,
			"event_type", event.Type,
			"code", domain.ErrorCode(handlerErr),
			"error", handlerErr)
		return nil
	default:
		if telemetry.Business != nil {
			telemetry.Business.WebhooksFailed.WithLabelValues(event.Type).Inc()
		}
		d.logger.Error("webhook handler failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", handlerErr)
		return handlerErr
	}
}

// route maps each event type to exactly one handler.
func (d *Dispatcher) route(ctx context.Context, event domain.WebhookEvent) error {
	switch event.Type {
	case EventPaymentIntentSucceeded:
		payload, err := decodePaymentIntent(event.Object)
		if err != nil {
			return err
		}
		return d.orders.ApplyPaymentSucceeded(ctx, payload.ID)

	case EventPaymentIntentFailed:
		payload, err := decodePaymentIntent(event.Object)
		if err != nil {
			return err
		}
		return d.orders.ApplyPaymentFailed(ctx, payload.ID, payload.FailureCode(), payload.FailureMessage())

	case EventChargeRefunded:
		payload, err := decodeCharge(event.Object)
		if err != nil {
			return err
		}
		return d.orders.ApplyRefund(ctx, service.ApplyRefundParams{
			ProviderPaymentID: payload.PaymentIntent,
			ProviderRefundID:  payload.RefundID(),
			AmountCents:       payload.AmountRefunded,
			Reason:            payload.RefundReason(),
		})

	case EventInvoicePaymentSucceeded:
		payload, err := decodeInvoice(event.Object)
		if err != nil {
			return err
		}
		return d.subscriptions.OnInvoicePaymentSucceeded(ctx, payload.toParams())

	case EventInvoicePaymentFailed:
		payload, err := decodeInvoice(event.Object)
		if err != nil {
			return err
		}
		return d.subscriptions.OnInvoicePaymentFailed(ctx, payload.toParams())

	case EventSubscriptionUpdated:
		payload, err := decodeSubscription(event.Object)
		if err != nil {
			return err
		}
		return d.subscriptions.ApplySubscriptionUpdated(ctx, service.ProviderSubscriptionUpdate{
			ProviderSubscriptionID: payload.ID,
			Status:                 payload.Status,
			CancelAtPeriodEnd:      payload.CancelAtPeriodEnd,
			PeriodStart:            payload.periodStart(),
			PeriodEnd:              payload.periodEnd(),
		})

	case EventSubscriptionDeleted:
		payload, err := decodeSubscription(event.Object)
		if err != nil {
			return err
		}
		return d.subscriptions.ApplySubscriptionDeleted(ctx, payload.ID)

	default:
		d.logger.Info("unhandled webhook event type acknowledged", "event_id", event.ID, "event_type", event.Type)
		return nil
	}
}
