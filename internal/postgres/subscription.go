package postgres

import (
	"context"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/google/uuid"
)

const subscriptionColumns = `id, customer_id, plan_id, status, quantity,
	unit_price_cents, currency, jurisdiction, promo_code, provider_subscription_id,
	current_period_start, current_period_end, trial_start, trial_end,
	cancel_at_period_end, cancelled_at, cancellation_reason,
	created_at, updated_at`

// GetPlan fetches a plan from the catalog.
func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	var plan domain.Plan
	err := s.db.QueryRow(ctx, `
		SELECT id, name, unit_price_cents, currency, interval, trial_days, active
		FROM plans WHERE id = $1`, id).Scan(
		&plan.ID, &plan.Name, &plan.UnitPriceCents, &plan.Currency,
		&plan.Interval, &plan.TrialDays, &plan.Active)
	if err != nil {
		if noRows(err) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, internalf(err, "store.getPlan", "failed to query plan")
	}
	return &plan, nil
}

// CreateSubscription inserts a subscription row.
func (s *Store) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (id, customer_id, plan_id, status, quantity,
			unit_price_cents, currency, jurisdiction, promo_code, provider_subscription_id,
			current_period_start, current_period_end, trial_start, trial_end,
			cancel_at_period_end, cancellation_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		sub.ID, sub.CustomerID, sub.PlanID, sub.Status, sub.Quantity,
		sub.UnitPriceCents, sub.Currency, sub.Jurisdiction, sub.PromoCode, sub.ProviderSubscriptionID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CancellationReason)
	if err != nil {
		if isUniqueViolation(err, "") {
			return domain.Conflict("store.createSubscription", "subscription already exists")
		}
		return internalf(err, "store.createSubscription", "failed to insert subscription")
	}
	return nil
}

func (s *Store) scanSubscription(ctx context.Context, where string, arg any) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + where
	if s.pool == nil {
		query += ` FOR UPDATE`
	}

	var sub domain.Subscription
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&sub.ID, &sub.CustomerID, &sub.PlanID, &sub.Status, &sub.Quantity,
		&sub.UnitPriceCents, &sub.Currency, &sub.Jurisdiction, &sub.PromoCode, &sub.ProviderSubscriptionID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialStart, &sub.TrialEnd,
		&sub.CancelAtPeriodEnd, &sub.CancelledAt, &sub.CancellationReason,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if noRows(err) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, internalf(err, "store.getSubscription", "failed to query subscription")
	}
	return &sub, nil
}

// GetSubscription fetches a subscription by ID, locking it for the enclosing
// transaction.
func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return s.scanSubscription(ctx, "id = $1", id)
}

// GetSubscriptionByProviderID fetches a subscription by the provider's
// reference, locking it for the enclosing transaction.
func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*domain.Subscription, error) {
	return s.scanSubscription(ctx, "provider_subscription_id = $1", providerSubscriptionID)
}

// UpdateSubscription persists the mutable subscription fields.
func (s *Store) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscriptions
		SET plan_id = $2, status = $3, quantity = $4, unit_price_cents = $5,
			current_period_start = $6, current_period_end = $7,
			cancel_at_period_end = $8, cancelled_at = $9, cancellation_reason = $10,
			updated_at = now()
		WHERE id = $1`,
		sub.ID, sub.PlanID, sub.Status, sub.Quantity, sub.UnitPriceCents,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CancelledAt, sub.CancellationReason)
	if err != nil {
		return internalf(err, "store.updateSubscription", "failed to update subscription")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

const invoiceColumns = `id, subscription_id, provider_invoice_id, provider_payment_id,
	subtotal_cents, tax_cents, total_cents, paid_cents, due_cents, status,
	period_start, period_end, created_at, updated_at`

// CreateInvoice appends an invoice row for a billing cycle.
func (s *Store) CreateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO invoices (id, subscription_id, provider_invoice_id, provider_payment_id,
			subtotal_cents, tax_cents, total_cents, paid_cents, due_cents, status,
			period_start, period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		invoice.ID, invoice.SubscriptionID, invoice.ProviderInvoiceID, invoice.ProviderPaymentID,
		invoice.SubtotalCents, invoice.TaxCents, invoice.TotalCents, invoice.PaidCents,
		invoice.DueCents, invoice.Status, invoice.PeriodStart, invoice.PeriodEnd)
	if err != nil {
		if isUniqueViolation(err, "") {
			return domain.Conflict("store.createInvoice", "invoice already recorded")
		}
		return internalf(err, "store.createInvoice", "failed to insert invoice")
	}
	return nil
}

func (s *Store) scanInvoice(row interface{ Scan(...any) error }) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(
		&inv.ID, &inv.SubscriptionID, &inv.ProviderInvoiceID, &inv.ProviderPaymentID,
		&inv.SubtotalCents, &inv.TaxCents, &inv.TotalCents, &inv.PaidCents,
		&inv.DueCents, &inv.Status, &inv.PeriodStart, &inv.PeriodEnd,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if noRows(err) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, internalf(err, "store.getInvoice", "failed to query invoice")
	}
	return &inv, nil
}

// GetInvoiceByProviderID fetches an invoice by the provider's reference.
func (s *Store) GetInvoiceByProviderID(ctx context.Context, providerInvoiceID string) (*domain.Invoice, error) {
	return s.scanInvoice(s.db.QueryRow(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE provider_invoice_id = $1`,
		providerInvoiceID))
}

// GetLatestPaidInvoice fetches the most recent paid invoice on a subscription.
func (s *Store) GetLatestPaidInvoice(ctx context.Context, subscriptionID uuid.UUID) (*domain.Invoice, error) {
	return s.scanInvoice(s.db.QueryRow(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE subscription_id = $1 AND status = 'paid'
		ORDER BY period_start DESC LIMIT 1`,
		subscriptionID))
}

// UpdateInvoice persists the mutable invoice fields.
func (s *Store) UpdateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE invoices
		SET provider_payment_id = $2, paid_cents = $3, due_cents = $4, status = $5,
			updated_at = now()
		WHERE id = $1`,
		invoice.ID, invoice.ProviderPaymentID, invoice.PaidCents, invoice.DueCents, invoice.Status)
	if err != nil {
		return internalf(err, "store.updateInvoice", "failed to update invoice")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvoiceNotFound
	}
	return nil
}
