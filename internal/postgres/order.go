package postgres

import (
	"context"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/google/uuid"
)

const orderColumns = `id, customer_id, status, jurisdiction, currency,
	subtotal_cents, tax_cents, total_cents, provider_payment_id,
	created_at, updated_at`

// CreateOrder inserts an order and its line items.
func (s *Store) CreateOrder(ctx context.Context, order *domain.Order) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (id, customer_id, status, jurisdiction, currency,
			subtotal_cents, tax_cents, total_cents, provider_payment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.CustomerID, order.Status, order.Jurisdiction, order.Currency,
		order.SubtotalCents, order.TaxCents, order.TotalCents, order.ProviderPaymentID)
	if err != nil {
		if isUniqueViolation(err, "") {
			return domain.Conflict("store.createOrder", "order already exists")
		}
		return internalf(err, "store.createOrder", "failed to insert order")
	}

	for _, item := range order.Items {
		_, err := s.db.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, description, quantity,
				unit_price_cents, total_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, order.ID, item.ProductID, item.Description, item.Quantity,
			item.UnitPriceCents, item.TotalCents)
		if err != nil {
			return internalf(err, "store.createOrder", "failed to insert order item")
		}
	}
	return nil
}

func (s *Store) scanOrder(ctx context.Context, where string, arg any, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var order domain.Order
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&order.ID, &order.CustomerID, &order.Status, &order.Jurisdiction, &order.Currency,
		&order.SubtotalCents, &order.TaxCents, &order.TotalCents, &order.ProviderPaymentID,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if noRows(err) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, internalf(err, "store.getOrder", "failed to query order")
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, product_id, description, quantity, unit_price_cents, total_cents
		FROM order_items WHERE order_id = $1 ORDER BY created_at`, order.ID)
	if err != nil {
		return nil, internalf(err, "store.getOrder", "failed to query order items")
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Description,
			&item.Quantity, &item.UnitPriceCents, &item.TotalCents); err != nil {
			return nil, internalf(err, "store.getOrder", "failed to scan order item")
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, internalf(err, "store.getOrder", "failed to read order items")
	}
	return &order, nil
}

// GetOrder fetches an order by ID, locking it for the enclosing transaction.
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.scanOrder(ctx, "id = $1", id, s.pool == nil)
}

// GetOrderByProviderPaymentID fetches the order a provider payment belongs
// to, locking it for the enclosing transaction.
func (s *Store) GetOrderByProviderPaymentID(ctx context.Context, providerPaymentID string) (*domain.Order, error) {
	return s.scanOrder(ctx, "provider_payment_id = $1", providerPaymentID, s.pool == nil)
}

// UpdateOrderStatus sets the order's status.
func (s *Store) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return internalf(err, "store.updateOrderStatus", "failed to update order status")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// CreatePayment inserts a payment row.
func (s *Store) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO payments (id, order_id, provider_payment_id, status, amount_cents,
			failure_code, failure_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		payment.ID, payment.OrderID, payment.ProviderPaymentID, payment.Status,
		payment.AmountCents, payment.FailureCode, payment.FailureMessage)
	if err != nil {
		return internalf(err, "store.createPayment", "failed to insert payment")
	}
	return nil
}

// GetPaymentByProviderID fetches the payment for a provider charge reference,
// locking it for the enclosing transaction.
func (s *Store) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*domain.Payment, error) {
	query := `
		SELECT id, order_id, provider_payment_id, status, amount_cents,
			failure_code, failure_message, created_at, updated_at
		FROM payments WHERE provider_payment_id = $1`
	if s.pool == nil {
		query += ` FOR UPDATE`
	}

	var p domain.Payment
	err := s.db.QueryRow(ctx, query, providerPaymentID).Scan(
		&p.ID, &p.OrderID, &p.ProviderPaymentID, &p.Status, &p.AmountCents,
		&p.FailureCode, &p.FailureMessage, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if noRows(err) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, internalf(err, "store.getPayment", "failed to query payment")
	}
	return &p, nil
}

// UpdatePayment persists a payment's status and failure detail.
func (s *Store) UpdatePayment(ctx context.Context, payment *domain.Payment) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE payments
		SET status = $2, failure_code = $3, failure_message = $4, updated_at = now()
		WHERE id = $1`,
		payment.ID, payment.Status, payment.FailureCode, payment.FailureMessage)
	if err != nil {
		return internalf(err, "store.updatePayment", "failed to update payment")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// CreateRefund appends a refund row.
func (s *Store) CreateRefund(ctx context.Context, refund *domain.Refund) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO refunds (id, payment_id, order_id, provider_refund_id,
			amount_cents, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		refund.ID, refund.PaymentID, refund.OrderID, refund.ProviderRefundID,
		refund.AmountCents, refund.Reason, refund.Status)
	if err != nil {
		if isUniqueViolation(err, "") {
			return domain.Conflict("store.createRefund", "refund already recorded")
		}
		return internalf(err, "store.createRefund", "failed to insert refund")
	}
	return nil
}
