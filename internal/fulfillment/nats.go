package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	subjectGrant  = "vanir.fulfillment.grant"
	subjectRevoke = "vanir.fulfillment.revoke"
)

// grantCommand is the wire shape consumed by the delivery worker.
type grantCommand struct {
	OrderID string   `json:"order_id"`
	Items   []string `json:"item_ids"`
}

type revokeCommand struct {
	OrderID string `json:"order_id"`
}

// NatsManager publishes grant/revoke commands for the external delivery worker.
type NatsManager struct {
	conn *nats.Conn
}

// NewNatsManager wraps an existing NATS connection.
func NewNatsManager(conn *nats.Conn) *NatsManager {
	return &NatsManager{conn: conn}
}

// GrantAccess publishes a grant command for the order's items.
func (m *NatsManager) GrantAccess(ctx context.Context, orderID uuid.UUID, items []domain.OrderItem) error {
	cmd := grantCommand{OrderID: orderID.String()}
	for _, item := range items {
		cmd.Items = append(cmd.Items, item.ProductID.String())
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal grant command: %w", err)
	}
	if err := m.conn.Publish(subjectGrant, payload); err != nil {
		return fmt.Errorf("failed to publish grant command: %w", err)
	}
	return nil
}

// RevokeAccess publishes a revoke command for the order.
func (m *NatsManager) RevokeAccess(ctx context.Context, orderID uuid.UUID) error {
	payload, err := json.Marshal(revokeCommand{OrderID: orderID.String()})
	if err != nil {
		return fmt.Errorf("failed to marshal revoke command: %w", err)
	}
	if err := m.conn.Publish(subjectRevoke, payload); err != nil {
		return fmt.Errorf("failed to publish revoke command: %w", err)
	}
	return nil
}
