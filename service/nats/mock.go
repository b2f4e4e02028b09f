package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	transactions []*TransactionEvent
	alerts       []*FraudAlertEvent
	trustScores  []*TrustScoreEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.transactions = append(m.transactions, event)
	return nil
}

func (m *MockPublisher) PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error {
	for _, event := range events {
		_ = m.PublishTransaction(ctx, event)
	}
	return nil
}

func (m *MockPublisher) PublishFraudAlert(ctx context.Context, event *FraudAlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.alerts = append(m.alerts, event)
	return nil
}

func (m *MockPublisher) PublishTrustScore(ctx context.Context, event *TrustScoreEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.trustScores = append(m.trustScores, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Transactions returns a copy of the published transaction events.
func (m *MockPublisher) Transactions() []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*TransactionEvent(nil), m.transactions...)
}

func (m *MockPublisher) Alerts() []*FraudAlertEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*FraudAlertEvent(nil), m.alerts...)
}

func (m *MockPublisher) TrustScores() []*TrustScoreEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*TrustScoreEvent(nil), m.trustScores...)
}

// TransactionsForPhone returns transaction events published for phone.
func (m *MockPublisher) TransactionsForPhone(phone string) []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	token := PhoneToken(phone)
	var events []*TransactionEvent
	for _, event := range m.transactions {
		if PhoneToken(event.Phone) == token {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError makes every publish call return err.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = nil
	m.alerts = nil
	m.trustScores = nil
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
