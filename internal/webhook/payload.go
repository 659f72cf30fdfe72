package webhook

import (
	"encoding/json"
	"time"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/service"
)

// The payload structs mirror the slices of Stripe objects the handlers read.
// Unknown fields are ignored; missing identifiers are validation errors so
// malformed payloads are rejected rather than redelivered forever.

type paymentIntentPayload struct {
	ID               string `json:"id"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (p paymentIntentPayload) FailureCode() string {
	if p.LastPaymentError == nil {
		return ""
	}
	return p.LastPaymentError.Code
}

func (p paymentIntentPayload) FailureMessage() string {
	if p.LastPaymentError == nil {
		return ""
	}
	return p.LastPaymentError.Message
}

func decodePaymentIntent(raw json.RawMessage) (*paymentIntentPayload, error) {
	var p paymentIntentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, "webhook.decode", "malformed payment intent payload")
	}
	if p.ID == "" {
		return nil, domain.Invalid("webhook.decode", "payment intent payload missing id")
	}
	return &p, nil
}

type chargePayload struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	AmountRefunded int32  `json:"amount_refunded"`
	Refunds        struct {
		Data []struct {
			ID     string `json:"id"`
			Reason string `json:"reason"`
		} `json:"data"`
	} `json:"refunds"`
}

func (c chargePayload) RefundID() string {
	if len(c.Refunds.Data) == 0 {
		return ""
	}
	return c.Refunds.Data[0].ID
}

func (c chargePayload) RefundReason() string {
	if len(c.Refunds.Data) == 0 {
		return ""
	}
	return c.Refunds.Data[0].Reason
}

func decodeCharge(raw json.RawMessage) (*chargePayload, error) {
	var c chargePayload
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, "webhook.decode", "malformed charge payload")
	}
	if c.PaymentIntent == "" {
		return nil, domain.Invalid("webhook.decode", "charge payload missing payment intent reference")
	}
	return &c, nil
}

type invoicePayload struct {
	ID            string `json:"id"`
	Subscription  string `json:"subscription"`
	PaymentIntent string `json:"payment_intent"`

	Subtotal int32 `json:"subtotal"`
	Tax      int32 `json:"tax"`
	Total    int32 `json:"total"`

	PeriodStart int64 `json:"period_start"`
	PeriodEnd   int64 `json:"period_end"`

	LastFinalizationError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_finalization_error"`
}

func (i invoicePayload) toParams() service.InvoiceEventParams {
	params := service.InvoiceEventParams{
		ProviderSubscriptionID: i.Subscription,
		ProviderInvoiceID:      i.ID,
		ProviderPaymentID:      i.PaymentIntent,
		SubtotalCents:          i.Subtotal,
		TaxCents:               i.Tax,
		TotalCents:             i.Total,
	}
	if i.PeriodStart > 0 {
		params.PeriodStart = time.Unix(i.PeriodStart, 0).UTC()
	}
	if i.PeriodEnd > 0 {
		params.PeriodEnd = time.Unix(i.PeriodEnd, 0).UTC()
	}
	if i.LastFinalizationError != nil {
		params.FailureCode = i.LastFinalizationError.Code
		params.FailureMessage = i.LastFinalizationError.Message
	}
	return params
}

func decodeInvoice(raw json.RawMessage) (*invoicePayload, error) {
	var i invoicePayload
	if err := json.Unmarshal(raw, &i); err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, "webhook.decode", "malformed invoice payload")
	}
	if i.ID == "" || i.Subscription == "" {
		return nil, domain.Invalid("webhook.decode", "invoice payload missing id or subscription reference")
	}
	return &i, nil
}

type subscriptionPayload struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
}

func (s subscriptionPayload) periodStart() time.Time {
	if s.CurrentPeriodStart <= 0 {
		return time.Time{}
	}
	return time.Unix(s.CurrentPeriodStart, 0).UTC()
}

func (s subscriptionPayload) periodEnd() time.Time {
	if s.CurrentPeriodEnd <= 0 {
		return time.Time{}
	}
	return time.Unix(s.CurrentPeriodEnd, 0).UTC()
}

func decodeSubscription(raw json.RawMessage) (*subscriptionPayload, error) {
	var s subscriptionPayload
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, "webhook.decode", "malformed subscription payload")
	}
	if s.ID == "" {
		return nil, domain.Invalid("webhook.decode", "subscription payload missing id")
	}
	return &s, nil
}
