package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/google/uuid"
)

// Job type constants for dunning jobs
const (
	JobTypeDunningRetry = "dunning:retry"
)

// QueueDunning is the queue the dunning worker polls.
const QueueDunning = "dunning"

// DunningRetryPayload represents the payload for one scheduled payment retry.
// The worker re-checks the attempt is still pending before acting: a payment
// success between scheduling and execution resolves the attempt, and the job
// then no-ops.
type DunningRetryPayload struct {
	SubscriptionID    uuid.UUID `json:"subscription_id"`
	AttemptID         uuid.UUID `json:"attempt_id"`
	AttemptNumber     int32     `json:"attempt_number"`
	ProviderInvoiceID string    `json:"provider_invoice_id"`
}

// EnqueueDunningRetry enqueues a payment retry to run at runAt.
func EnqueueDunningRetry(ctx context.Context, store domain.Store, payload DunningRetryPayload, runAt time.Time) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return store.EnqueueJob(ctx, &domain.Job{
		ID:             uuid.New(),
		JobType:        JobTypeDunningRetry,
		Queue:          QueueDunning,
		Payload:        payloadJSON,
		Status:         domain.JobStatusPending,
		MaxRetries:     3,
		ScheduledAt:    runAt,
		TimeoutSeconds: 60,
	})
}
