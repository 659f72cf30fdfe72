package fulfillment

import (
	"context"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/google/uuid"
)

// Manager is the boundary to the digital-access collaborator. Download
// delivery mechanics are external; the core only commands grant and revoke.
type Manager interface {
	// GrantAccess grants the customer access to every item on the order.
	// Called exactly once per completed order, never per webhook delivery.
	GrantAccess(ctx context.Context, orderID uuid.UUID, items []domain.OrderItem) error

	// RevokeAccess revokes all access previously granted for the order.
	// Called on full refund.
	RevokeAccess(ctx context.Context, orderID uuid.UUID) error
}

// MockManager is a test implementation of Manager.
type MockManager struct {
	GrantAccessFunc  func(ctx context.Context, orderID uuid.UUID, items []domain.OrderItem) error
	RevokeAccessFunc func(ctx context.Context, orderID uuid.UUID) error

	Grants  []uuid.UUID
	Revokes []uuid.UUID
}

// NewMockManager creates a new mock fulfillment manager for testing.
func NewMockManager() *MockManager {
	return &MockManager{}
}

// GrantAccess records the grant.
func (m *MockManager) GrantAccess(ctx context.Context, orderID uuid.UUID, items []domain.OrderItem) error {
	m.Grants = append(m.Grants, orderID)

	if m.GrantAccessFunc != nil {
		return m.GrantAccessFunc(ctx, orderID, items)
	}
	return nil
}

// RevokeAccess records the revoke.
func (m *MockManager) RevokeAccess(ctx context.Context, orderID uuid.UUID) error {
	m.Revokes = append(m.Revokes, orderID)

	if m.RevokeAccessFunc != nil {
		return m.RevokeAccessFunc(ctx, orderID)
	}
	return nil
}
