// Package worker executes the deferred work the reconciliation core
// schedules, most importantly dunning payment retries. The worker never
// mutates subscription state itself: it asks the provider to re-attempt
// collection and the resulting webhook closes the loop.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/vanir/internal/billing"
	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/jobs"
	"github.com/dukerupert/vanir/internal/telemetry"
	"github.com/google/uuid"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// PollInterval is how often to check for new jobs
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of jobs to process concurrently
	MaxConcurrency int

	// Queue name to process
	Queue string
}

// Worker processes background jobs
type Worker struct {
	config          Config
	store           domain.Store
	billingProvider billing.Provider
	logger          *slog.Logger
}

// NewWorker creates a new background job worker
func NewWorker(store domain.Store, billingProvider billing.Provider, config Config, logger *slog.Logger) *Worker {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if config.Queue == "" {
		config.Queue = jobs.QueueDunning
	}

	return &Worker{
		config:          config,
		store:           store,
		billingProvider: billingProvider,
		logger:          logger,
	}
}

// Start begins processing jobs until the context is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"worker_id", w.config.WorkerID,
		"queue", w.config.Queue,
		"poll_interval", w.config.PollInterval,
		"max_concurrency", w.config.MaxConcurrency,
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Semaphore for concurrency control
	sem := make(chan struct{}, w.config.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down", "worker_id", w.config.WorkerID)
			return ctx.Err()

		case <-ticker.C:
			select {
			case sem <- struct{}{}:
				go func() {
					defer func() { <-sem }()
					w.claimAndProcess(ctx)
				}()
			default:
				// At max concurrency, skip this poll
			}
		}
	}
}

// claimAndProcess claims and processes a single job
func (w *Worker) claimAndProcess(ctx context.Context) {
	job, err := w.store.ClaimNextJob(ctx, w.config.WorkerID, w.config.Queue)
	if err != nil {
		if domain.ErrorCode(err) != domain.ENOTFOUND {
			w.logger.Error("failed to claim job", "worker_id", w.config.WorkerID, "error", err)
		}
		return
	}

	start := time.Now()
	jobCtx := ctx
	if job.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	err = w.processJob(jobCtx, job)

	if telemetry.Business != nil {
		telemetry.Business.JobDuration.WithLabelValues(job.JobType).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		w.logger.Error("job failed",
			"worker_id", w.config.WorkerID,
			"job_id", job.ID,
			"job_type", job.JobType,
			"retry_count", job.RetryCount,
			"error", err)
		if telemetry.Business != nil {
			telemetry.Business.JobsFailed.WithLabelValues(job.JobType).Inc()
		}
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return
	}

	if telemetry.Business != nil {
		telemetry.Business.JobsProcessed.WithLabelValues(job.JobType).Inc()
	}
	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		w.logger.Error("failed to complete job", "job_id", job.ID, "error", err)
	}
}

// processJob dispatches a claimed job by type.
func (w *Worker) processJob(ctx context.Context, job *domain.Job) error {
	switch job.JobType {
	case jobs.JobTypeDunningRetry:
		return w.processDunningRetry(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

// processDunningRetry executes one scheduled payment retry. If the attempt
// was resolved between scheduling and execution (the customer paid, or the
// subscription was cancelled) the job is a no-op.
func (w *Worker) processDunningRetry(ctx context.Context, job *domain.Job) error {
	var payload jobs.DunningRetryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	attempt, err := w.store.GetDunningAttempt(ctx, payload.AttemptID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			w.logger.Warn("dunning attempt vanished, skipping retry", "attempt_id", payload.AttemptID)
			return nil
		}
		return err
	}
	if attempt.Outcome != domain.DunningOutcomePending {
		w.logger.Info("dunning attempt already resolved, skipping retry",
			"attempt_id", attempt.ID,
			"attempt_number", attempt.AttemptNumber,
			"outcome", attempt.Outcome)
		return nil
	}

	w.logger.Info("executing dunning retry",
		"subscription_id", payload.SubscriptionID,
		"attempt_number", payload.AttemptNumber,
		"provider_invoice_id", payload.ProviderInvoiceID)

	// The outcome of this retry arrives later as an invoice.payment_* webhook.
	if err := w.billingProvider.RetryInvoicePayment(ctx, payload.ProviderInvoiceID); err != nil {
		return fmt.Errorf("failed to retry invoice payment: %w", err)
	}
	return nil
}
