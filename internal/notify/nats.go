package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/nats-io/nats.go"
)

// Subject layout for the external consumers.
const (
	subjectNotifyPrefix = "vanir.notify."
	subjectAudit        = "vanir.audit"
)

// NatsSink publishes notifications and audit entries to NATS subjects.
// Publishing is asynchronous at the client level, so callers never block on
// the downstream consumers.
type NatsSink struct {
	conn *nats.Conn
}

// NewNatsSink wraps an existing NATS connection.
func NewNatsSink(conn *nats.Conn) *NatsSink {
	return &NatsSink{conn: conn}
}

// Notify publishes one notification to vanir.notify.<kind>.
func (s *NatsSink) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := s.conn.Publish(subjectNotifyPrefix+n.Kind, payload); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Audit publishes one state transition to vanir.audit.
func (s *NatsSink) Audit(ctx context.Context, entry domain.AuditEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	if err := s.conn.Publish(subjectAudit, payload); err != nil {
		return fmt.Errorf("failed to publish audit entry: %w", err)
	}
	return nil
}

// Close drains the connection, flushing buffered publishes.
func (s *NatsSink) Close() error {
	return s.conn.Drain()
}
