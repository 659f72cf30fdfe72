package postgres

import (
	"context"

	"github.com/dukerupert/vanir/internal/domain"
)

// ClaimWebhookEvent inserts an in-flight processing record for a provider
// event ID. The insert races on the primary key: exactly one concurrent
// delivery wins. A conflicting row blocks the claim unless its prior attempt
// recorded an error or its claim is older than five minutes, in which case the
// record is taken over; a processed row never yields.
func (s *Store) ClaimWebhookEvent(ctx context.Context, record *domain.WebhookEventRecord) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO webhook_events (provider_event_id, event_type, processed, error_detail,
			received_at, processed_at)
		VALUES ($1, $2, false, '', $3, NULL)
		ON CONFLICT (provider_event_id) DO UPDATE
		SET received_at = EXCLUDED.received_at,
			error_detail = ''
		WHERE webhook_events.processed = false
			AND (webhook_events.error_detail <> ''
				OR webhook_events.received_at < EXCLUDED.received_at - interval '5 minutes')`,
		record.ProviderEventID, record.EventType, record.ReceivedAt)
	if err != nil {
		return false, internalf(err, "store.claimWebhookEvent", "failed to claim webhook event")
	}
	return tag.RowsAffected() == 1, nil
}

// GetWebhookEvent fetches the processing record for a provider event ID.
func (s *Store) GetWebhookEvent(ctx context.Context, providerEventID string) (*domain.WebhookEventRecord, error) {
	var r domain.WebhookEventRecord
	err := s.db.QueryRow(ctx, `
		SELECT provider_event_id, event_type, processed, error_detail, received_at, processed_at
		FROM webhook_events WHERE provider_event_id = $1`, providerEventID).Scan(
		&r.ProviderEventID, &r.EventType, &r.Processed, &r.ErrorDetail,
		&r.ReceivedAt, &r.ProcessedAt)
	if err != nil {
		if noRows(err) {
			return nil, domain.NotFound("store.getWebhookEvent", "webhook event", providerEventID)
		}
		return nil, internalf(err, "store.getWebhookEvent", "failed to query webhook event")
	}
	return &r, nil
}

// UpsertWebhookEvent inserts or replaces the processing record for a provider
// event ID. The primary key on provider_event_id keeps one record per event.
func (s *Store) UpsertWebhookEvent(ctx context.Context, record *domain.WebhookEventRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO webhook_events (provider_event_id, event_type, processed, error_detail,
			received_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_event_id) DO UPDATE
		SET processed = EXCLUDED.processed,
			error_detail = EXCLUDED.error_detail,
			processed_at = EXCLUDED.processed_at`,
		record.ProviderEventID, record.EventType, record.Processed, record.ErrorDetail,
		record.ReceivedAt, record.ProcessedAt)
	if err != nil {
		return internalf(err, "store.upsertWebhookEvent", "failed to upsert webhook event")
	}
	return nil
}
