package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/vanir/internal/billing"
	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/fulfillment"
	"github.com/dukerupert/vanir/internal/notify"
	"github.com/dukerupert/vanir/internal/tax"
	"github.com/dukerupert/vanir/internal/telemetry"
	"github.com/google/uuid"
)

// orderService implements OrderService.
type orderService struct {
	store           domain.Store
	taxCalc         tax.Calculator
	billingProvider billing.Provider
	sink            notify.Sink
	access          fulfillment.Manager
	logger          *slog.Logger
}

// NewOrderService creates a new OrderService instance.
func NewOrderService(store domain.Store, taxCalc tax.Calculator, billingProvider billing.Provider, sink notify.Sink, access fulfillment.Manager, logger *slog.Logger) OrderService {
	return &orderService{
		store:           store,
		taxCalc:         taxCalc,
		billingProvider: billingProvider,
		sink:            sink,
		access:          access,
		logger:          logger,
	}
}

// orderEffects collects side effects computed during the transaction and
// emitted only after it commits, so no lock is ever held across I/O.
type orderEffects struct {
	notifications []notify.Notification
	audits        []domain.AuditEntry
	grantOrder    *domain.Order
	revokeOrderID *uuid.UUID
}

// emit dispatches collected effects. Delivery is fire-and-forget: failures
// are logged, never propagated, because the state transition is already
// durable.
func (s *orderService) emit(ctx context.Context, fx *orderEffects) {
	if fx.grantOrder != nil {
		if err := s.access.GrantAccess(ctx, fx.grantOrder.ID, fx.grantOrder.Items); err != nil {
			s.logger.Warn("failed to grant digital access", "order_id", fx.grantOrder.ID, "error", err)
		}
	}
	if fx.revokeOrderID != nil {
		if err := s.access.RevokeAccess(ctx, *fx.revokeOrderID); err != nil {
			s.logger.Warn("failed to revoke digital access", "order_id", *fx.revokeOrderID, "error", err)
		}
	}
	for _, n := range fx.notifications {
		if err := s.sink.Notify(ctx, n); err != nil {
			s.logger.Warn("failed to send notification", "kind", n.Kind, "entity_id", n.EntityID, "error", err)
		}
	}
	for _, entry := range fx.audits {
		if err := s.sink.Audit(ctx, entry); err != nil {
			s.logger.Warn("failed to record audit entry", "entity", entry.Entity, "entity_id", entry.EntityID, "error", err)
		}
	}
}

// orderAudit builds the transition audit entry for an order.
func orderAudit(orderID uuid.UUID, oldStatus, newStatus, description string) domain.AuditEntry {
	return domain.AuditEntry{
		Entity:      "order",
		EntityID:    orderID.String(),
		OldValue:    oldStatus,
		NewValue:    newStatus,
		Description: description,
	}
}

// CreateOrder initiates checkout for a customer.
func (s *orderService) CreateOrder(ctx context.Context, params CreateOrderParams) (*domain.Order, error) {
	if len(params.Items) == 0 {
		return nil, domain.ErrEmptyLineItems
	}
	if !tax.IsValidJurisdiction(params.Jurisdiction) {
		return nil, ErrInvalidJurisdiction
	}

	var subtotal int32
	for _, item := range params.Items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		subtotal += item.Quantity * item.UnitPriceCents
	}

	taxResult, err := s.taxCalc.CalculateTax(ctx, tax.TaxParams{
		SubtotalCents: subtotal,
		Jurisdiction:  params.Jurisdiction,
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, "order.create", "tax calculation failed")
	}

	orderID := uuid.New()
	order := &domain.Order{
		ID:            orderID,
		CustomerID:    params.CustomerID,
		Status:        domain.OrderStatusPending,
		Jurisdiction:  params.Jurisdiction,
		Currency:      params.Currency,
		SubtotalCents: subtotal,
		TaxCents:      taxResult.TotalTaxCents,
		TotalCents:    taxResult.TotalCents,
	}
	for _, item := range params.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:             uuid.New(),
			OrderID:        orderID,
			ProductID:      item.ProductID,
			Description:    item.Description,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     item.Quantity * item.UnitPriceCents,
		})
	}

	// The provider call stays outside the transaction; the order ID doubles
	// as the idempotency key so a crash between the two cannot double-charge.
	intent, err := s.billingProvider.CreatePaymentIntent(ctx, billing.CreatePaymentIntentParams{
		AmountCents:    order.TotalCents,
		Currency:       params.Currency,
		Description:    fmt.Sprintf("Order %s", orderID),
		Metadata:       map[string]string{"order_id": orderID.String()},
		IdempotencyKey: orderID.String(),
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "order.create", "failed to create payment intent")
	}
	order.ProviderPaymentID = intent.ID

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		return tx.CreatePayment(ctx, &domain.Payment{
			ID:                uuid.New(),
			OrderID:           orderID,
			ProviderPaymentID: intent.ID,
			Status:            domain.PaymentStatusPending,
			AmountCents:       order.TotalCents,
		})
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "order.create", "failed to persist order")
	}

	s.emit(ctx, &orderEffects{
		audits: []domain.AuditEntry{orderAudit(orderID, "", domain.OrderStatusPending, "order created at checkout")},
	})

	return order, nil
}

// GetOrder retrieves a single order.
func (s *orderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// ApplyPaymentSucceeded completes the order for a succeeded provider payment.
func (s *orderService) ApplyPaymentSucceeded(ctx context.Context, providerPaymentID string) error {
	fx := &orderEffects{}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		order, err := tx.GetOrderByProviderPaymentID(ctx, providerPaymentID)
		if err != nil {
			return err
		}
		payment, err := tx.GetPaymentByProviderID(ctx, providerPaymentID)
		if err != nil {
			return err
		}

		if !domain.CanTransitionOrder(order.Status, domain.OrderStatusCompleted) {
			return domain.Conflict("order.applyPaymentSucceeded",
				fmt.Sprintf("order %s cannot complete from status %s", order.ID, order.Status))
		}
		if payment.Status != domain.PaymentStatusPending {
			return domain.ErrPaymentResolved
		}

		payment.Status = domain.PaymentStatusSucceeded
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCompleted); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		fx.grantOrder = order
		fx.notifications = append(fx.notifications, notify.Notification{
			Kind:       notify.KindOrderConfirmed,
			CustomerID: order.CustomerID.String(),
			Entity:     "order",
			EntityID:   order.ID.String(),
		})
		fx.audits = append(fx.audits, orderAudit(order.ID, order.Status, domain.OrderStatusCompleted, "payment succeeded"))
		return nil
	})
	if err != nil {
		return err
	}

	if telemetry.Business != nil {
		telemetry.Business.PaymentsSucceeded.WithLabelValues("one_time").Inc()
	}
	s.emit(ctx, fx)
	return nil
}

// ApplyPaymentFailed cancels the order for a failed provider payment.
func (s *orderService) ApplyPaymentFailed(ctx context.Context, providerPaymentID, failureCode, failureMessage string) error {
	fx := &orderEffects{}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		order, err := tx.GetOrderByProviderPaymentID(ctx, providerPaymentID)
		if err != nil {
			return err
		}
		payment, err := tx.GetPaymentByProviderID(ctx, providerPaymentID)
		if err != nil {
			return err
		}

		if !domain.CanTransitionOrder(order.Status, domain.OrderStatusCancelled) {
			return domain.Conflict("order.applyPaymentFailed",
				fmt.Sprintf("order %s cannot cancel from status %s", order.ID, order.Status))
		}

		payment.Status = domain.PaymentStatusFailed
		payment.FailureCode = failureCode
		payment.FailureMessage = failureMessage
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCancelled); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		fx.notifications = append(fx.notifications, notify.Notification{
			Kind:       notify.KindOrderPaymentFailed,
			CustomerID: order.CustomerID.String(),
			Entity:     "order",
			EntityID:   order.ID.String(),
			Data:       map[string]string{"failure_code": failureCode},
		})
		fx.audits = append(fx.audits, orderAudit(order.ID, order.Status, domain.OrderStatusCancelled,
			fmt.Sprintf("payment failed: %s", failureCode)))
		return nil
	})
	if err != nil {
		return err
	}

	if telemetry.Business != nil {
		telemetry.Business.PaymentsFailed.WithLabelValues("one_time", failureCode).Inc()
	}
	s.emit(ctx, fx)
	return nil
}

// ApplyRefund records a provider refund and moves the order to a refund state.
func (s *orderService) ApplyRefund(ctx context.Context, params ApplyRefundParams) error {
	fx := &orderEffects{}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		order, err := tx.GetOrderByProviderPaymentID(ctx, params.ProviderPaymentID)
		if err != nil {
			return err
		}
		payment, err := tx.GetPaymentByProviderID(ctx, params.ProviderPaymentID)
		if err != nil {
			return err
		}

		if payment.Status != domain.PaymentStatusSucceeded {
			return domain.ErrOrderNotCompleted
		}
		if params.AmountCents > payment.AmountCents {
			return ErrRefundExceedsCharge
		}

		newStatus := domain.OrderStatusPartiallyRefunded
		if params.AmountCents == payment.AmountCents {
			newStatus = domain.OrderStatusRefunded
		}
		if !domain.CanTransitionOrder(order.Status, newStatus) {
			return domain.Conflict("order.applyRefund",
				fmt.Sprintf("order %s cannot refund from status %s", order.ID, order.Status))
		}

		if err := tx.CreateRefund(ctx, &domain.Refund{
			ID:               uuid.New(),
			PaymentID:        payment.ID,
			OrderID:          order.ID,
			ProviderRefundID: params.ProviderRefundID,
			AmountCents:      params.AmountCents,
			Reason:           params.Reason,
			Status:           domain.RefundStatusSucceeded,
			CreatedAt:        time.Now(),
		}); err != nil {
			return fmt.Errorf("failed to create refund: %w", err)
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, newStatus); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		if newStatus == domain.OrderStatusRefunded {
			fx.revokeOrderID = &order.ID
		}
		fx.notifications = append(fx.notifications, notify.Notification{
			Kind:       notify.KindOrderRefunded,
			CustomerID: order.CustomerID.String(),
			Entity:     "order",
			EntityID:   order.ID.String(),
			Data:       map[string]string{"amount_cents": fmt.Sprintf("%d", params.AmountCents)},
		})
		fx.audits = append(fx.audits, orderAudit(order.ID, order.Status, newStatus, "provider refund applied"))
		return nil
	})
	if err != nil {
		return err
	}

	if telemetry.Business != nil {
		scope := "partial"
		if fx.revokeOrderID != nil {
			scope = "full"
		}
		telemetry.Business.RefundsIssued.WithLabelValues(scope).Inc()
	}
	s.emit(ctx, fx)
	return nil
}
