package postgres

import (
	"context"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/google/uuid"
)

// EnqueueJob inserts a pending job.
func (s *Store) EnqueueJob(ctx context.Context, job *domain.Job) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO jobs (id, job_type, queue, payload, status, retry_count, max_retries,
			scheduled_at, timeout_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.JobType, job.Queue, job.Payload, job.Status, job.RetryCount,
		job.MaxRetries, job.ScheduledAt, job.TimeoutSeconds)
	if err != nil {
		return internalf(err, "store.enqueueJob", "failed to insert job")
	}
	return nil
}

// ClaimNextJob atomically claims the oldest due pending job on a queue.
// SKIP LOCKED lets multiple workers poll the same queue without contention.
func (s *Store) ClaimNextJob(ctx context.Context, workerID, queue string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'running', worker_id = $1, started_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $2 AND status = 'pending' AND scheduled_at <= now()
			ORDER BY scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_type, queue, payload, status, retry_count, max_retries,
			scheduled_at, timeout_seconds, error_message, created_at, updated_at`,
		workerID, queue).Scan(
		&job.ID, &job.JobType, &job.Queue, &job.Payload, &job.Status, &job.RetryCount,
		&job.MaxRetries, &job.ScheduledAt, &job.TimeoutSeconds, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if noRows(err) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, internalf(err, "store.claimNextJob", "failed to claim job")
	}
	return &job, nil
}

// CompleteJob marks a running job completed.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return internalf(err, "store.completeJob", "failed to complete job")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("store.completeJob", "job", id.String())
	}
	return nil
}

// FailJob records a failure. Jobs with retries left return to pending with a
// short backoff; otherwise the job is terminal.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, errorMessage string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = CASE WHEN retry_count + 1 < max_retries THEN 'pending' ELSE 'failed' END,
			retry_count = retry_count + 1,
			scheduled_at = CASE WHEN retry_count + 1 < max_retries
				THEN now() + interval '1 minute' * (retry_count + 1)
				ELSE scheduled_at END,
			error_message = $2,
			updated_at = now()
		WHERE id = $1`, id, errorMessage)
	if err != nil {
		return internalf(err, "store.failJob", "failed to record job failure")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("store.failJob", "job", id.String())
	}
	return nil
}
