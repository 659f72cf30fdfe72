package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dukerupert/vanir/internal/billing"
	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/dunning"
	"github.com/dukerupert/vanir/internal/jobs"
	"github.com/dukerupert/vanir/internal/notify"
	"github.com/dukerupert/vanir/internal/tax"
	"github.com/dukerupert/vanir/internal/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// subscriptionService implements SubscriptionService.
type subscriptionService struct {
	store           domain.Store
	taxCalc         tax.Calculator
	billingProvider billing.Provider
	policy          dunning.Policy
	sink            notify.Sink
	logger          *slog.Logger
}

// NewSubscriptionService creates a new SubscriptionService instance.
func NewSubscriptionService(store domain.Store, taxCalc tax.Calculator, billingProvider billing.Provider, policy dunning.Policy, sink notify.Sink, logger *slog.Logger) SubscriptionService {
	return &subscriptionService{
		store:           store,
		taxCalc:         taxCalc,
		billingProvider: billingProvider,
		policy:          policy,
		sink:            sink,
		logger:          logger,
	}
}

// subscriptionEffects collects side effects for emission after commit.
type subscriptionEffects struct {
	notifications []notify.Notification
	audits        []domain.AuditEntry

	// cancelAtProvider and refund are provider commands the terminal
	// transitions issue once the local row is durable.
	cancelAtProvider string
	refund           *billing.RefundParams
}

func (s *subscriptionService) emit(ctx context.Context, fx *subscriptionEffects) {
	if fx.cancelAtProvider != "" {
		err := s.billingProvider.CancelSubscription(ctx, billing.CancelSubscriptionParams{
			ProviderSubscriptionID: fx.cancelAtProvider,
			CancelAtPeriodEnd:      false,
		})
		if err != nil {
			s.logger.Error("failed to cancel subscription at provider", "provider_subscription_id", fx.cancelAtProvider, "error", err)
		}
	}
	if fx.refund != nil {
		if _, err := s.billingProvider.RefundPayment(ctx, *fx.refund); err != nil {
			s.logger.Error("failed to issue prorated refund", "provider_payment_id", fx.refund.ProviderPaymentID, "error", err)
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

func subscriptionAudit(subID uuid.UUID, oldStatus, newStatus, description string) domain.AuditEntry {
	return domain.AuditEntry{
		Entity:      "subscription",
		EntityID:    subID.String(),
		OldValue:    oldStatus,
		NewValue:    newStatus,
		Description: description,
	}
}

// prorate computes round(amount * remaining / total) in cents.
func prorate(amountCents int32, remainingDays, totalDays int32) int32 {
	if totalDays <= 0 || remainingDays <= 0 {
		return 0
	}
	if remainingDays > totalDays {
		remainingDays = totalDays
	}
	return int32(math.Floor(float64(amountCents)*float64(remainingDays)/float64(totalDays) + 0.5))
}

// periodDays counts whole days between two instants, rounding up so a
// partially elapsed day still counts as remaining.
func periodDays(from, to time.Time) int32 {
	if !from.Before(to) {
		return 0
	}
	return int32(math.Ceil(to.Sub(from).Hours() / 24))
}

// periodEndFor advances a period start by one plan interval.
func periodEndFor(start time.Time, interval string) time.Time {
	if interval == "week" {
		return start.AddDate(0, 0, 7)
	}
	return start.AddDate(0, 1, 0)
}

// Create establishes a new subscription from an active plan.
func (s *subscriptionService) Create(ctx context.Context, params CreateSubscriptionParams) (*domain.Subscription, error) {
	if err := validate.Struct(params); err != nil {
		if params.PaymentMethodID == "" {
			return nil, domain.ErrInvalidPaymentMethod
		}
		return nil, domain.WrapError(err, domain.EINVALID, "subscription.create", "invalid subscription parameters")
	}
	if !tax.IsValidJurisdiction(params.Jurisdiction) {
		return nil, ErrInvalidJurisdiction
	}

	plan, err := s.store.GetPlan(ctx, params.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, domain.ErrPlanInactive
	}

	// Initial tax preview; also validates the amount for the jurisdiction.
	subtotal := plan.UnitPriceCents * params.Quantity
	taxResult, err := s.taxCalc.CalculateTax(ctx, tax.TaxParams{
		SubtotalCents: subtotal,
		Jurisdiction:  params.Jurisdiction,
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, "subscription.create", "tax calculation failed")
	}

	// The plan's trial is the default; an explicit TrialDays wins, including
	// an explicit zero to skip the trial.
	trialDays := plan.TrialDays
	if params.TrialDays != nil {
		trialDays = *params.TrialDays
	}

	providerSub, err := s.billingProvider.CreateSubscription(ctx, billing.CreateSubscriptionParams{
		CustomerID:      params.CustomerID.String(),
		PriceID:         params.ProviderPriceID,
		Quantity:        params.Quantity,
		TrialDays:       trialDays,
		PaymentMethodID: params.PaymentMethodID,
		PromoCode:       params.PromoCode,
		Metadata:        map[string]string{"plan_id": plan.ID.String()},
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EPAYMENT, "subscription.create", "provider rejected subscription")
	}

	now := time.Now()
	sub := &domain.Subscription{
		ID:                     uuid.New(),
		CustomerID:             params.CustomerID,
		PlanID:                 plan.ID,
		Status:                 domain.SubscriptionStatusActive,
		Quantity:               params.Quantity,
		UnitPriceCents:         plan.UnitPriceCents,
		Currency:               params.Currency,
		Jurisdiction:           params.Jurisdiction,
		PromoCode:              params.PromoCode,
		ProviderSubscriptionID: providerSub.ID,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       periodEndFor(now, plan.Interval),
	}
	if trialDays > 0 {
		trialEnd := now.AddDate(0, 0, int(trialDays))
		sub.Status = domain.SubscriptionStatusTrialing
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodEnd = trialEnd
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		return tx.CreateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "subscription.create", "failed to persist subscription")
	}

	if telemetry.Business != nil {
		telemetry.Business.SubscriptionsCreated.WithLabelValues(sub.Status).Inc()
	}
	s.emit(ctx, &subscriptionEffects{
		notifications: []notify.Notification{{
			Kind:       notify.KindSubscriptionWelcome,
			CustomerID: params.CustomerID.String(),
			Entity:     "subscription",
			EntityID:   sub.ID.String(),
			Data: map[string]string{
				"plan":        plan.Name,
				"total_cents": fmt.Sprintf("%d", taxResult.TotalCents),
			},
		}},
		audits: []domain.AuditEntry{subscriptionAudit(sub.ID, "", sub.Status, "subscription created")},
	})

	return sub, nil
}

// GetSubscription retrieves a single subscription.
func (s *subscriptionService) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// resolveUpdate applies UpdateSubscriptionParams to the current snapshot and
// returns the effective unit price and quantity.
func (s *subscriptionService) resolveUpdate(ctx context.Context, store domain.Store, sub *domain.Subscription, params UpdateSubscriptionParams) (unitPrice, quantity int32, planID uuid.UUID, err error) {
	unitPrice = sub.UnitPriceCents
	quantity = sub.Quantity
	planID = sub.PlanID

	if params.PlanID != nil {
		plan, err := store.GetPlan(ctx, *params.PlanID)
		if err != nil {
			return 0, 0, uuid.Nil, err
		}
		if !plan.Active {
			return 0, 0, uuid.Nil, domain.ErrPlanInactive
		}
		unitPrice = plan.UnitPriceCents
		planID = plan.ID
	}
	if params.Quantity != nil {
		if *params.Quantity < 1 {
			return 0, 0, uuid.Nil, ErrInvalidQuantity
		}
		quantity = *params.Quantity
	}
	return unitPrice, quantity, planID, nil
}

func validProrationPolicy(policy string) bool {
	switch policy {
	case ProrationCreateProrations, ProrationNone, ProrationAlwaysInvoice:
		return true
	}
	return false
}

// PreviewUpdate computes the remaining-period cost of an update.
func (s *subscriptionService) PreviewUpdate(ctx context.Context, id uuid.UUID, params UpdateSubscriptionParams) (*UpdatePreview, error) {
	if !validProrationPolicy(params.ProrationPolicy) {
		return nil, ErrInvalidProrationPolicy
	}

	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		return nil, domain.ErrSubscriptionCancelled
	}

	unitPrice, quantity, _, err := s.resolveUpdate(ctx, s.store, sub, params)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	totalDays := periodDays(sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	remainingDays := periodDays(now, sub.CurrentPeriodEnd)
	subtotal := prorate(unitPrice*quantity, remainingDays, totalDays)

	taxResult, err := s.taxCalc.CalculateTax(ctx, tax.TaxParams{
		SubtotalCents: subtotal,
		Jurisdiction:  sub.Jurisdiction,
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, "subscription.previewUpdate", "tax calculation failed")
	}

	return &UpdatePreview{
		SubtotalCents:   subtotal,
		TaxCents:        taxResult.TotalTaxCents,
		TotalCents:      taxResult.TotalCents,
		Breakdown:       taxResult.Breakdown,
		RemainingDays:   remainingDays,
		TotalPeriodDays: totalDays,
		PeriodEnd:       sub.CurrentPeriodEnd,
	}, nil
}

// CommitUpdate applies a plan or quantity change.
func (s *subscriptionService) CommitUpdate(ctx context.Context, id uuid.UUID, params UpdateSubscriptionParams) (*domain.Subscription, error) {
	if !validProrationPolicy(params.ProrationPolicy) {
		return nil, ErrInvalidProrationPolicy
	}

	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		return nil, domain.ErrSubscriptionCancelled
	}

	unitPrice, quantity, planID, err := s.resolveUpdate(ctx, s.store, sub, params)
	if err != nil {
		return nil, err
	}

	priceID := params.ProviderPriceID
	if params.PlanID != nil && priceID == "" {
		return nil, domain.Invalid("subscription.commitUpdate", "provider price reference required for a plan change")
	}

	if _, err := s.billingProvider.UpdateSubscription(ctx, billing.UpdateSubscriptionParams{
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		PriceID:                priceID,
		Quantity:               quantity,
		ProrationPolicy:        params.ProrationPolicy,
	}); err != nil {
		return nil, domain.WrapError(err, domain.EPAYMENT, "subscription.commitUpdate", "provider rejected subscription update")
	}

	var updated *domain.Subscription
	fx := &subscriptionEffects{}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		sub, err := tx.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		if sub.Status == domain.SubscriptionStatusCancelled {
			return domain.ErrSubscriptionCancelled
		}

		oldStatus := sub.Status
		sub.UnitPriceCents = unitPrice
		sub.Quantity = quantity
		sub.PlanID = planID

		// always_invoice restarts the billing cycle at the commit instant.
		if params.ProrationPolicy == ProrationAlwaysInvoice {
			plan, err := tx.GetPlan(ctx, planID)
			if err != nil {
				return err
			}
			now := time.Now()
			sub.CurrentPeriodStart = now
			sub.CurrentPeriodEnd = periodEndFor(now, plan.Interval)
		}

		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}

		updated = sub
		fx.audits = append(fx.audits, subscriptionAudit(sub.ID, oldStatus, sub.Status,
			fmt.Sprintf("update committed: quantity=%d unit_price_cents=%d", quantity, unitPrice)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, fx)
	return updated, nil
}

// Cancel ends a subscription at period end or immediately.
func (s *subscriptionService) Cancel(ctx context.Context, id uuid.UUID, params CancelParams) (*domain.Subscription, error) {
	var updated *domain.Subscription
	fx := &subscriptionEffects{}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		sub, err := tx.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		if sub.Status == domain.SubscriptionStatusCancelled {
			return domain.ErrSubscriptionCancelled
		}
		oldStatus := sub.Status

		if params.AtPeriodEnd {
			sub.CancelAtPeriodEnd = true
			sub.CancellationReason = params.Reason
			if err := tx.UpdateSubscription(ctx, sub); err != nil {
				return fmt.Errorf("failed to update subscription: %w", err)
			}
			updated = sub
			fx.audits = append(fx.audits, subscriptionAudit(sub.ID, oldStatus, sub.Status, "cancellation scheduled for period end"))
			return nil
		}

		if !domain.CanTransitionSubscription(sub.Status, domain.SubscriptionStatusCancelled) {
			return domain.Conflict("subscription.cancel",
				fmt.Sprintf("subscription %s cannot cancel from status %s", sub.ID, sub.Status))
		}

		now := time.Now()
		totalDays := periodDays(sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		remainingDays := periodDays(now, sub.CurrentPeriodEnd)
		refundCents := prorate(sub.UnitPriceCents*sub.Quantity, remainingDays, totalDays)

		// Abandon any recovery in flight; a cancelled subscription is never retried.
		pending, err := tx.ListPendingDunningAttempts(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("failed to list dunning attempts: %w", err)
		}
		for _, attempt := range pending {
			if err := tx.ResolveDunningAttempt(ctx, attempt.ID, domain.DunningOutcomeAbandoned); err != nil {
				return fmt.Errorf("failed to abandon dunning attempt: %w", err)
			}
		}

		sub.Status = domain.SubscriptionStatusCancelled
		sub.CancelAtPeriodEnd = false
		sub.CancelledAt = &now
		sub.CancellationReason = params.Reason
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}

		fx.cancelAtProvider = sub.ProviderSubscriptionID
		if refundCents > 0 {
			// The refund targets the charge that paid the current period.
			invoice, err := tx.GetLatestPaidInvoice(ctx, sub.ID)
			if err == nil && invoice.ProviderPaymentID != "" {
				fx.refund = &billing.RefundParams{
					ProviderPaymentID: invoice.ProviderPaymentID,
					AmountCents:       refundCents,
					Reason:            "requested_by_customer",
					Metadata:          map[string]string{"subscription_id": sub.ID.String()},
				}
			} else {
				s.logger.Warn("no paid invoice to refund against", "subscription_id", sub.ID, "refund_cents", refundCents)
			}
		}

		updated = sub
		fx.notifications = append(fx.notifications, notify.Notification{
			Kind:       notify.KindSubscriptionCancelled,
			CustomerID: sub.CustomerID.String(),
			Entity:     "subscription",
			EntityID:   sub.ID.String(),
			Data:       map[string]string{"refund_cents": fmt.Sprintf("%d", refundCents)},
		})
		fx.audits = append(fx.audits, subscriptionAudit(sub.ID, oldStatus, domain.SubscriptionStatusCancelled, "cancelled immediately"))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if telemetry.Business != nil && updated.Status == domain.SubscriptionStatusCancelled {
		telemetry.Business.SubscriptionsCancelled.WithLabelValues("requested").Inc()
		if fx.refund != nil {
			telemetry.Business.RefundsIssued.WithLabelValues("proration").Inc()
		}
	}
	s.emit(ctx, fx)
	return updated, nil
}

// Reactivate restores a subscription to ACTIVE.
func (s *subscriptionService) Reactivate(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	var updated *domain.Subscription
	fx := &subscriptionEffects{}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		sub, err := tx.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		now := time.Now()
		oldStatus := sub.Status

		switch {
		case sub.Status != domain.SubscriptionStatusCancelled && sub.CancelAtPeriodEnd && now.Before(sub.CurrentPeriodEnd):
			// Pending at-period-end cancellation: clear the flag.
			sub.CancelAtPeriodEnd = false
			sub.CancellationReason = ""
			if sub.Status != domain.SubscriptionStatusActive {
				if !domain.CanTransitionSubscription(sub.Status, domain.SubscriptionStatusActive) {
					return domain.ErrReactivateNotAllowed
				}
				sub.Status = domain.SubscriptionStatusActive
			}

		case sub.Status == domain.SubscriptionStatusCancelled && sub.CancelledAt != nil:
			// Administrative reactivation after an immediate cancel.
			if now.Sub(*sub.CancelledAt) > ReactivationGraceWindow {
				return ErrReactivateWindowExpired
			}
			plan, err := tx.GetPlan(ctx, sub.PlanID)
			if err != nil {
				return err
			}
			sub.Status = domain.SubscriptionStatusActive
			sub.CancelledAt = nil
			sub.CancellationReason = ""
			sub.CurrentPeriodStart = now
			sub.CurrentPeriodEnd = periodEndFor(now, plan.Interval)

		default:
			return domain.ErrReactivateNotAllowed
		}

		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		updated = sub
		fx.audits = append(fx.audits, subscriptionAudit(sub.ID, oldStatus, sub.Status, "subscription reactivated"))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.billingProvider.ReactivateSubscription(ctx, updated.ProviderSubscriptionID); err != nil {
		s.logger.Error("failed to reactivate subscription at provider", "provider_subscription_id", updated.ProviderSubscriptionID, "error", err)
	}
	s.emit(ctx, fx)
	return updated, nil
}

// OnInvoicePaymentFailed moves the subscription into arrears and lets the
// dunning policy decide between one more retry and the terminal cancel.
func (s *subscriptionService) OnInvoicePaymentFailed(ctx context.Context, params InvoiceEventParams) error {
	fx := &subscriptionEffects{}
	var scheduledAttempt int32
	exhausted := false

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		sub, err := tx.GetSubscriptionByProviderID(ctx, params.ProviderSubscriptionID)
		if err != nil {
			return err
		}
		if sub.Status == domain.SubscriptionStatusCancelled {
			return domain.ErrSubscriptionCancelled
		}
		oldStatus := sub.Status
		now := time.Now()

		invoice, err := s.upsertInvoice(ctx, tx, sub, params, domain.InvoiceStatusFailed)
		if err != nil {
			return err
		}

		// The attempt that just failed (if any) is abandoned before counting,
		// so the count reflects every failure so far for this invoice.
		pending, err := tx.ListPendingDunningAttempts(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("failed to list dunning attempts: %w", err)
		}
		for _, attempt := range pending {
			if err := tx.ResolveDunningAttempt(ctx, attempt.ID, domain.DunningOutcomeAbandoned); err != nil {
				return fmt.Errorf("failed to abandon dunning attempt: %w", err)
			}
		}
		failedAttempts, err := tx.CountResolvedDunningAttempts(ctx, sub.ID, invoice.ID)
		if err != nil {
			return fmt.Errorf("failed to count dunning attempts: %w", err)
		}

		action := s.policy.Decide(failedAttempts, now)

		if action.Type == dunning.ActionCancelSubscription {
			if !domain.CanTransitionSubscription(sub.Status, domain.SubscriptionStatusCancelled) {
				return domain.Conflict("subscription.onInvoicePaymentFailed",
					fmt.Sprintf("subscription %s cannot cancel from status %s", sub.ID, sub.Status))
			}
			sub.Status = domain.SubscriptionStatusCancelled
			sub.CancelAtPeriodEnd = false
			sub.CancelledAt = &now
			sub.CancellationReason = "payment_recovery_exhausted"
			if err := tx.UpdateSubscription(ctx, sub); err != nil {
				return fmt.Errorf("failed to update subscription: %w", err)
			}

			exhausted = true
			fx.cancelAtProvider = sub.ProviderSubscriptionID
			fx.notifications = append(fx.notifications, notify.Notification{
				Kind:       notify.KindDunningFinalNotice,
				CustomerID: sub.CustomerID.String(),
				Entity:     "subscription",
				EntityID:   sub.ID.String(),
			})
			fx.audits = append(fx.audits, subscriptionAudit(sub.ID, oldStatus, domain.SubscriptionStatusCancelled, "payment recovery exhausted"))
			return nil
		}

		attempt := &domain.DunningAttempt{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			InvoiceID:      invoice.ID,
			AttemptNumber:  action.AttemptNumber,
			ScheduledFor:   action.RetryAt,
			Outcome:        domain.DunningOutcomePending,
		}
		if err := tx.CreateDunningAttempt(ctx, attempt); err != nil {
			return err
		}
		scheduledAttempt = attempt.AttemptNumber
		if err := jobs.EnqueueDunningRetry(ctx, tx, jobs.DunningRetryPayload{
			SubscriptionID:    sub.ID,
			AttemptID:         attempt.ID,
			AttemptNumber:     attempt.AttemptNumber,
			ProviderInvoiceID: params.ProviderInvoiceID,
		}, action.RetryAt); err != nil {
			return fmt.Errorf("failed to enqueue dunning retry: %w", err)
		}

		if sub.Status != domain.SubscriptionStatusPastDue {
			if !domain.CanTransitionSubscription(sub.Status, domain.SubscriptionStatusPastDue) {
				return domain.Conflict("subscription.onInvoicePaymentFailed",
					fmt.Sprintf("subscription %s cannot enter past_due from status %s", sub.ID, sub.Status))
			}
			sub.Status = domain.SubscriptionStatusPastDue
			if err := tx.UpdateSubscription(ctx, sub); err != nil {
				return fmt.Errorf("failed to update subscription: %w", err)
			}
		}

		fx.notifications = append(fx.notifications, notify.Notification{
			Kind:       notify.KindSubscriptionPaymentFailed,
			CustomerID: sub.CustomerID.String(),
			Entity:     "subscription",
			EntityID:   sub.ID.String(),
			Data: map[string]string{
				"attempt_number": fmt.Sprintf("%d", attempt.AttemptNumber),
				"retry_at":       action.RetryAt.Format(time.RFC3339),
			},
		})
		fx.audits = append(fx.audits, subscriptionAudit(sub.ID, oldStatus, sub.Status,
			fmt.Sprintf("invoice payment failed, retry %d scheduled", attempt.AttemptNumber)))
		return nil
	})
	if err != nil {
		return err
	}

	if telemetry.Business != nil {
		telemetry.Business.PaymentsFailed.WithLabelValues("subscription", params.FailureCode).Inc()
		if exhausted {
			telemetry.Business.DunningExhausted.WithLabelValues().Inc()
			telemetry.Business.SubscriptionsCancelled.WithLabelValues("dunning_exhausted").Inc()
		} else {
			telemetry.Business.DunningAttemptsScheduled.WithLabelValues(fmt.Sprintf("%d", scheduledAttempt)).Inc()
		}
	}
	s.emit(ctx, fx)
	return nil
}

// OnInvoicePaymentSucceeded records a paid cycle charge and clears any
// recovery in flight.
func (s *subscriptionService) OnInvoicePaymentSucceeded(ctx context.Context, params InvoiceEventParams) error {
	fx := &subscriptionEffects{}
	var recoveredAttempt int32

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		sub, err := tx.GetSubscriptionByProviderID(ctx, params.ProviderSubscriptionID)
		if err != nil {
			return err
		}
		if sub.Status == domain.SubscriptionStatusCancelled {
			return domain.ErrSubscriptionCancelled
		}
		oldStatus := sub.Status

		invoice, err := s.upsertInvoice(ctx, tx, sub, params, domain.InvoiceStatusPaid)
		if err != nil {
			return err
		}
		invoice.Status = domain.InvoiceStatusPaid
		invoice.PaidCents = invoice.TotalCents
		invoice.DueCents = 0
		invoice.ProviderPaymentID = params.ProviderPaymentID
		if err := tx.UpdateInvoice(ctx, invoice); err != nil {
			return fmt.Errorf("failed to update invoice: %w", err)
		}

		// Success at attempt k: k succeeds, k+1..N never run.
		pending, err := tx.ListPendingDunningAttempts(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("failed to list dunning attempts: %w", err)
		}
		for i, attempt := range pending {
			outcome := domain.DunningOutcomeAbandoned
			if i == 0 {
				outcome = domain.DunningOutcomeSucceeded
				recoveredAttempt = attempt.AttemptNumber
			}
			if err := tx.ResolveDunningAttempt(ctx, attempt.ID, outcome); err != nil {
				return fmt.Errorf("failed to resolve dunning attempt: %w", err)
			}
		}

		recovered := sub.Status == domain.SubscriptionStatusPastDue || sub.Status == domain.SubscriptionStatusUnpaid
		if sub.Status != domain.SubscriptionStatusActive {
			if !domain.CanTransitionSubscription(sub.Status, domain.SubscriptionStatusActive) {
				return domain.Conflict("subscription.onInvoicePaymentSucceeded",
					fmt.Sprintf("subscription %s cannot activate from status %s", sub.ID, sub.Status))
			}
			sub.Status = domain.SubscriptionStatusActive
		}
		if !params.PeriodStart.IsZero() && params.PeriodStart.Before(params.PeriodEnd) {
			sub.CurrentPeriodStart = params.PeriodStart
			sub.CurrentPeriodEnd = params.PeriodEnd
		}
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}

		if recovered {
			fx.notifications = append(fx.notifications, notify.Notification{
				Kind:       notify.KindSubscriptionRecovered,
				CustomerID: sub.CustomerID.String(),
				Entity:     "subscription",
				EntityID:   sub.ID.String(),
			})
		}
		fx.audits = append(fx.audits, subscriptionAudit(sub.ID, oldStatus, sub.Status, "invoice paid"))
		return nil
	})
	if err != nil {
		return err
	}

	if telemetry.Business != nil {
		telemetry.Business.PaymentsSucceeded.WithLabelValues("subscription").Inc()
		if len(fx.notifications) > 0 {
			telemetry.Business.SubscriptionsRecovered.WithLabelValues(fmt.Sprintf("%d", recoveredAttempt)).Inc()
		}
	}
	s.emit(ctx, fx)
	return nil
}

// upsertInvoice loads the invoice for a provider reference or creates a new
// row for the cycle. A paid invoice is never mutated again.
func (s *subscriptionService) upsertInvoice(ctx context.Context, tx domain.Store, sub *domain.Subscription, params InvoiceEventParams, status string) (*domain.Invoice, error) {
	invoice, err := tx.GetInvoiceByProviderID(ctx, params.ProviderInvoiceID)
	if err == nil {
		if invoice.Status == domain.InvoiceStatusPaid {
			return nil, domain.ErrInvoiceAlreadyPaid
		}
		if invoice.Status != status {
			invoice.Status = status
			if err := tx.UpdateInvoice(ctx, invoice); err != nil {
				return nil, fmt.Errorf("failed to update invoice: %w", err)
			}
		}
		return invoice, nil
	}
	if domain.ErrorCode(err) != domain.ENOTFOUND {
		return nil, err
	}

	invoice = &domain.Invoice{
		ID:                uuid.New(),
		SubscriptionID:    sub.ID,
		ProviderInvoiceID: params.ProviderInvoiceID,
		SubtotalCents:     params.SubtotalCents,
		TaxCents:          params.TaxCents,
		TotalCents:        params.TotalCents,
		DueCents:          params.TotalCents,
		Status:            status,
		PeriodStart:       params.PeriodStart,
		PeriodEnd:         params.PeriodEnd,
	}
	if err := tx.CreateInvoice(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	return invoice, nil
}

// ApplySubscriptionUpdated reconciles provider-side lifecycle changes.
func (s *subscriptionService) ApplySubscriptionUpdated(ctx context.Context, params ProviderSubscriptionUpdate) error {
	fx := &subscriptionEffects{}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		sub, err := tx.GetSubscriptionByProviderID(ctx, params.ProviderSubscriptionID)
		if err != nil {
			return err
		}
		if sub.Status == domain.SubscriptionStatusCancelled {
			return domain.ErrSubscriptionCancelled
		}
		oldStatus := sub.Status

		newStatus := mapProviderStatus(params.Status)
		if newStatus != "" && newStatus != sub.Status {
			if !domain.CanTransitionSubscription(sub.Status, newStatus) {
				return domain.Conflict("subscription.applyUpdated",
					fmt.Sprintf("subscription %s cannot move from %s to %s", sub.ID, sub.Status, newStatus))
			}
			sub.Status = newStatus
		}
		sub.CancelAtPeriodEnd = params.CancelAtPeriodEnd
		if !params.PeriodStart.IsZero() && params.PeriodStart.Before(params.PeriodEnd) {
			sub.CurrentPeriodStart = params.PeriodStart
			sub.CurrentPeriodEnd = params.PeriodEnd
		}
		if newStatus == domain.SubscriptionStatusCancelled {
			now := time.Now()
			sub.CancelledAt = &now
		}

		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		if oldStatus != sub.Status {
			fx.audits = append(fx.audits, subscriptionAudit(sub.ID, oldStatus, sub.Status, "provider subscription update applied"))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, fx)
	return nil
}

// ApplySubscriptionDeleted finalizes a provider-side termination.
func (s *subscriptionService) ApplySubscriptionDeleted(ctx context.Context, providerSubscriptionID string) error {
	fx := &subscriptionEffects{}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Store) error {
		sub, err := tx.GetSubscriptionByProviderID(ctx, providerSubscriptionID)
		if err != nil {
			return err
		}
		if sub.Status == domain.SubscriptionStatusCancelled {
			return domain.ErrSubscriptionCancelled
		}
		oldStatus := sub.Status

		if !domain.CanTransitionSubscription(sub.Status, domain.SubscriptionStatusCancelled) {
			return domain.Conflict("subscription.applyDeleted",
				fmt.Sprintf("subscription %s cannot cancel from status %s", sub.ID, sub.Status))
		}

		pending, err := tx.ListPendingDunningAttempts(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("failed to list dunning attempts: %w", err)
		}
		for _, attempt := range pending {
			if err := tx.ResolveDunningAttempt(ctx, attempt.ID, domain.DunningOutcomeAbandoned); err != nil {
				return fmt.Errorf("failed to abandon dunning attempt: %w", err)
			}
		}

		now := time.Now()
		reason := sub.CancellationReason
		if reason == "" && sub.CancelAtPeriodEnd {
			reason = "cancelled_at_period_end"
		}
		sub.Status = domain.SubscriptionStatusCancelled
		sub.CancelAtPeriodEnd = false
		sub.CancelledAt = &now
		sub.CancellationReason = reason
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}

		fx.notifications = append(fx.notifications, notify.Notification{
			Kind:       notify.KindSubscriptionCancelled,
			CustomerID: sub.CustomerID.String(),
			Entity:     "subscription",
			EntityID:   sub.ID.String(),
		})
		fx.audits = append(fx.audits, subscriptionAudit(sub.ID, oldStatus, domain.SubscriptionStatusCancelled, "provider subscription deleted"))
		return nil
	})
	if err != nil {
		return err
	}

	if telemetry.Business != nil {
		telemetry.Business.SubscriptionsCancelled.WithLabelValues("period_end").Inc()
	}
	s.emit(ctx, fx)
	return nil
}

// mapProviderStatus converts the provider's status vocabulary to ours.
func mapProviderStatus(status string) string {
	switch status {
	case "active":
		return domain.SubscriptionStatusActive
	case "trialing":
		return domain.SubscriptionStatusTrialing
	case "past_due":
		return domain.SubscriptionStatusPastDue
	case "canceled", "cancelled":
		return domain.SubscriptionStatusCancelled
	case "unpaid":
		return domain.SubscriptionStatusUnpaid
	case "paused":
		return domain.SubscriptionStatusPaused
	}
	return ""
}
