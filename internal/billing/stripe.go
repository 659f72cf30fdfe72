package billing

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider using the Stripe Go SDK.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a new Stripe billing provider.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = 30
	}

	stripe.Key = config.APIKey

	return &StripeProvider{config: config}, nil
}

// wrapStripeError converts an SDK error into a StripeError for callers.
func wrapStripeError(err error) error {
	if err == nil {
		return nil
	}

	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return &StripeError{
			Message:       sErr.Msg,
			Code:          string(sErr.Code),
			DeclineCode:   string(sErr.DeclineCode),
			RequestID:     sErr.RequestID,
			OriginalError: err,
		}
	}

	return err
}

// CreatePaymentIntent creates a Stripe payment intent for a one-time charge.
func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	piParams := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(int64(params.AmountCents)),
		Currency:    stripe.String(params.Currency),
		Description: stripe.String(params.Description),
	}
	piParams.Context = ctx

	if params.IdempotencyKey != "" {
		piParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	for k, v := range params.Metadata {
		piParams.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  int32(pi.Amount),
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		Metadata:     pi.Metadata,
		CreatedAt:    time.Unix(pi.Created, 0),
	}, nil
}

// VerifyWebhookSignature verifies a Stripe webhook signature.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	if _, err := webhook.ConstructEvent(payload, signature, secret); err != nil {
		return ErrInvalidWebhookSignature
	}
	return nil
}

// CreateSubscription creates a Stripe subscription.
func (s *StripeProvider) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	subParams := &stripe.SubscriptionParams{
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(int64(params.Quantity)),
			},
		},
	}
	subParams.Context = ctx

	if params.TrialDays > 0 {
		subParams.TrialPeriodDays = stripe.Int64(int64(params.TrialDays))
	}
	if params.PaymentMethodID != "" {
		subParams.DefaultPaymentMethod = stripe.String(params.PaymentMethodID)
	}
	if params.PromoCode != "" {
		subParams.Discounts = []*stripe.SubscriptionDiscountParams{
			{PromotionCode: stripe.String(params.PromoCode)},
		}
	}
	for k, v := range params.Metadata {
		subParams.AddMetadata(k, v)
	}

	sub, err := subscription.New(subParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return toSubscription(sub), nil
}

// UpdateSubscription changes price or quantity on an existing subscription.
// The first (only) subscription item carries the price snapshot.
func (s *StripeProvider) UpdateSubscription(ctx context.Context, params UpdateSubscriptionParams) (*Subscription, error) {
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx

	current, err := subscription.Get(params.ProviderSubscriptionID, getParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	if len(current.Items.Data) == 0 {
		return nil, ErrSubscriptionNotFound
	}

	item := &stripe.SubscriptionItemsParams{
		ID:       stripe.String(current.Items.Data[0].ID),
		Quantity: stripe.Int64(int64(params.Quantity)),
	}
	if params.PriceID != "" {
		item.Price = stripe.String(params.PriceID)
	}

	updParams := &stripe.SubscriptionParams{
		Items:             []*stripe.SubscriptionItemsParams{item},
		ProrationBehavior: stripe.String(params.ProrationPolicy),
	}
	updParams.Context = ctx

	sub, err := subscription.Update(params.ProviderSubscriptionID, updParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return toSubscription(sub), nil
}

// CancelSubscription cancels a Stripe subscription.
func (s *StripeProvider) CancelSubscription(ctx context.Context, params CancelSubscriptionParams) error {
	if params.CancelAtPeriodEnd {
		updParams := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		updParams.Context = ctx
		if params.Reason != "" {
			updParams.AddMetadata("cancellation_reason", params.Reason)
		}

		_, err := subscription.Update(params.ProviderSubscriptionID, updParams)
		return wrapStripeError(err)
	}

	cancelParams := &stripe.SubscriptionCancelParams{}
	cancelParams.Context = ctx

	_, err := subscription.Cancel(params.ProviderSubscriptionID, cancelParams)
	return wrapStripeError(err)
}

// ReactivateSubscription clears a pending at-period-end cancellation.
func (s *StripeProvider) ReactivateSubscription(ctx context.Context, providerSubscriptionID string) (*Subscription, error) {
	updParams := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	updParams.Context = ctx

	sub, err := subscription.Update(providerSubscriptionID, updParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return toSubscription(sub), nil
}

// RefundPayment refunds a Stripe payment, fully or partially.
func (s *StripeProvider) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	refParams := &stripe.RefundParams{
		PaymentIntent: stripe.String(params.ProviderPaymentID),
	}
	refParams.Context = ctx

	if params.AmountCents > 0 {
		refParams.Amount = stripe.Int64(int64(params.AmountCents))
	}
	if params.Reason != "" {
		refParams.Reason = stripe.String(params.Reason)
	}
	for k, v := range params.Metadata {
		refParams.AddMetadata(k, v)
	}

	ref, err := refund.New(refParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &Refund{
		ID:          ref.ID,
		AmountCents: int32(ref.Amount),
		Status:      string(ref.Status),
		CreatedAt:   time.Unix(ref.Created, 0),
	}, nil
}

// RetryInvoicePayment asks Stripe to re-attempt collection on an open invoice.
func (s *StripeProvider) RetryInvoicePayment(ctx context.Context, providerInvoiceID string) error {
	payParams := &stripe.InvoicePayParams{}
	payParams.Context = ctx

	_, err := invoice.Pay(providerInvoiceID, payParams)
	return wrapStripeError(err)
}

func toSubscription(sub *stripe.Subscription) *Subscription {
	return &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CreatedAt:         time.Unix(sub.Created, 0),
	}
}
