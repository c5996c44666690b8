package nats

import (
	"context"
	"sync"
)

// MockPublisher records events in memory for tests.
type MockPublisher struct {
	mu           sync.RWMutex
	ledgerEvents []*LedgerEvent
	alertEvents  []*AlertEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishLedgerEvent(ctx context.Context, event *LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.ledgerEvents = append(m.ledgerEvents, event)
	return nil
}

func (m *MockPublisher) PublishAlert(ctx context.Context, event *AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.alertEvents = append(m.alertEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// LedgerEvents returns a copy of the published ledger events.
func (m *MockPublisher) LedgerEvents() []*LedgerEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*LedgerEvent, len(m.ledgerEvents))
	copy(events, m.ledgerEvents)
	return events
}

// LedgerEventsOfKind returns ledger events with the given kind.
func (m *MockPublisher) LedgerEventsOfKind(kind string) []*LedgerEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []*LedgerEvent
	for _, e := range m.ledgerEvents {
		if e.Kind == kind {
			events = append(events, e)
		}
	}
	return events
}

// AlertEvents returns a copy of the published alerts.
func (m *MockPublisher) AlertEvents() []*AlertEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*AlertEvent, len(m.alertEvents))
	copy(events, m.alertEvents)
	return events
}

// SetPublishError makes every publish fail with err.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgerEvents = nil
	m.alertEvents = nil
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
