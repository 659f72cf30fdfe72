package notify

import (
	"context"

	"github.com/dukerupert/vanir/internal/domain"
)

// MockSink is a test implementation of Sink that records everything it receives.
type MockSink struct {
	NotifyFunc func(ctx context.Context, n Notification) error
	AuditFunc  func(ctx context.Context, entry domain.AuditEntry) error

	Notifications []Notification
	AuditEntries  []domain.AuditEntry
}

// NewMockSink creates a new mock sink for testing.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// Notify records the notification.
func (m *MockSink) Notify(ctx context.Context, n Notification) error {
	m.Notifications = append(m.Notifications, n)

	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, n)
	}
	return nil
}

// Audit records the audit entry.
func (m *MockSink) Audit(ctx context.Context, entry domain.AuditEntry) error {
	m.AuditEntries = append(m.AuditEntries, entry)

	if m.AuditFunc != nil {
		return m.AuditFunc(ctx, entry)
	}
	return nil
}

// CountKind returns how many notifications of a kind were emitted.
func (m *MockSink) CountKind(kind string) int {
	count := 0
	for _, n := range m.Notifications {
		if n.Kind == kind {
			count++
		}
	}
	return count
}
