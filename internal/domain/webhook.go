package domain

import (
	"encoding/json"
	"time"
)

// Webhook-related domain errors.
var (
	ErrEventMissingID   = &Error{Code: EINVALID, Message: "Webhook event is missing an identifier"}
	ErrEventMissingType = &Error{Code: EINVALID, Message: "Webhook event is missing a type"}
)

// WebhookEvent is the provider's event envelope after signature verification.
// The dispatcher deduplicates on ID; the provider may deliver an event any
// number of times.
type WebhookEvent struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

// Validate checks the envelope carries the fields dispatch depends on.
func (e WebhookEvent) Validate() error {
	if e.ID == "" {
		return ErrEventMissingID
	}
	if e.Type == "" {
		return ErrEventMissingType
	}
	return nil
}

// WebhookEventRecord is the persisted processing record for one provider
// event identifier, and the idempotency gate. A record is inserted as an
// in-flight claim before any handler runs, then updated with the outcome:
// Processed == true means every effect has been applied and any further
// delivery is acknowledged without re-invoking a handler, while an in-flight
// claim turns concurrent duplicates away until an outcome is recorded.
type WebhookEventRecord struct {
	ProviderEventID string
	EventType       string
	Processed       bool
	ErrorDetail     string
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}
