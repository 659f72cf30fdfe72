package postgres

import (
	"context"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/google/uuid"
)

// CreateDunningAttempt inserts a pending attempt. The partial unique index on
// pending (subscription_id, attempt_number) rejects concurrent duplicates.
func (s *Store) CreateDunningAttempt(ctx context.Context, attempt *domain.DunningAttempt) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO dunning_attempts (id, subscription_id, invoice_id, attempt_number,
			scheduled_for, outcome)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		attempt.ID, attempt.SubscriptionID, attempt.InvoiceID, attempt.AttemptNumber,
		attempt.ScheduledFor, attempt.Outcome)
	if err != nil {
		if isUniqueViolation(err, "dunning_attempts_pending_unique") {
			return domain.ErrDuplicateDunningAttempt
		}
		return internalf(err, "store.createDunningAttempt", "failed to insert dunning attempt")
	}
	return nil
}

// GetDunningAttempt fetches one attempt, locking it for the enclosing
// transaction.
func (s *Store) GetDunningAttempt(ctx context.Context, id uuid.UUID) (*domain.DunningAttempt, error) {
	query := `
		SELECT id, subscription_id, invoice_id, attempt_number, scheduled_for,
			outcome, created_at, resolved_at
		FROM dunning_attempts WHERE id = $1`
	if s.pool == nil {
		query += ` FOR UPDATE`
	}

	var a domain.DunningAttempt
	err := s.db.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.SubscriptionID, &a.InvoiceID, &a.AttemptNumber, &a.ScheduledFor,
		&a.Outcome, &a.CreatedAt, &a.ResolvedAt)
	if err != nil {
		if noRows(err) {
			return nil, domain.NotFound("store.getDunningAttempt", "dunning attempt", id.String())
		}
		return nil, internalf(err, "store.getDunningAttempt", "failed to query dunning attempt")
	}
	return &a, nil
}

// ListPendingDunningAttempts returns the unresolved attempts on a
// subscription in attempt order.
func (s *Store) ListPendingDunningAttempts(ctx context.Context, subscriptionID uuid.UUID) ([]domain.DunningAttempt, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, subscription_id, invoice_id, attempt_number, scheduled_for,
			outcome, created_at, resolved_at
		FROM dunning_attempts
		WHERE subscription_id = $1 AND outcome = 'pending'
		ORDER BY attempt_number`, subscriptionID)
	if err != nil {
		return nil, internalf(err, "store.listDunningAttempts", "failed to query dunning attempts")
	}
	defer rows.Close()

	var out []domain.DunningAttempt
	for rows.Next() {
		var a domain.DunningAttempt
		if err := rows.Scan(&a.ID, &a.SubscriptionID, &a.InvoiceID, &a.AttemptNumber,
			&a.ScheduledFor, &a.Outcome, &a.CreatedAt, &a.ResolvedAt); err != nil {
			return nil, internalf(err, "store.listDunningAttempts", "failed to scan dunning attempt")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, internalf(err, "store.listDunningAttempts", "failed to read dunning attempts")
	}
	return out, nil
}

// CountResolvedDunningAttempts counts the attempts on an invoice that have
// reached an outcome.
func (s *Store) CountResolvedDunningAttempts(ctx context.Context, subscriptionID, invoiceID uuid.UUID) (int32, error) {
	var n int32
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM dunning_attempts
		WHERE subscription_id = $1 AND invoice_id = $2 AND outcome <> 'pending'`,
		subscriptionID, invoiceID).Scan(&n)
	if err != nil {
		return 0, internalf(err, "store.countDunningAttempts", "failed to count dunning attempts")
	}
	return n, nil
}

// ResolveDunningAttempt records an attempt's outcome. Outcomes are write-once.
func (s *Store) ResolveDunningAttempt(ctx context.Context, id uuid.UUID, outcome string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE dunning_attempts
		SET outcome = $2, resolved_at = now()
		WHERE id = $1 AND outcome = 'pending'`, id, outcome)
	if err != nil {
		return internalf(err, "store.resolveDunningAttempt", "failed to resolve dunning attempt")
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflict("store.resolveDunningAttempt", "dunning attempt missing or already resolved")
	}
	return nil
}
