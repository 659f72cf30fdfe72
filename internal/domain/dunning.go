package domain

import (
	"time"

	"github.com/google/uuid"
)

// Dunning-related domain errors.
var (
	ErrDuplicateDunningAttempt = &Error{Code: ECONFLICT, Message: "Dunning attempt already scheduled for this number"}
)

// Dunning attempt outcomes. An attempt is immutable once its outcome is recorded.
const (
	DunningOutcomePending   = "pending"
	DunningOutcomeSucceeded = "succeeded"
	DunningOutcomeAbandoned = "abandoned"
)

// DunningAttempt is one scheduled recovery attempt for a subscription in
// arrears. Attempts form an ordered sequence per subscription; the store
// enforces uniqueness on (SubscriptionID, AttemptNumber) so concurrent
// webhook processing cannot double-schedule.
type DunningAttempt struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	InvoiceID      uuid.UUID

	AttemptNumber int32
	ScheduledFor  time.Time
	Outcome       string

	CreatedAt  time.Time
	ResolvedAt *time.Time
}
