package rpc

import (
	"context"
	"sync"

	"github.com/corelink-io/corelink-core/internal/infrastructure/mqtt"
)

// mockRepository is an in-memory Repository with the same lifecycle
// enforcement as the SQLite implementation.
type mockRepository struct {
	mu      sync.Mutex
	records map[string]*Record

	// transitions records every successful status change, per id.
	transitions map[string][]Status

	createErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		records:     make(map[string]*Record),
		transitions: make(map[string][]Status),
	}
}

func (m *mockRepository) Create(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.records[record.ID]; exists {
		return ErrCallExists
	}
	clone := *record
	m.records[record.ID] = &clone
	m.transitions[record.ID] = []Status{record.Status}
	return nil
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil, ErrCallNotFound
	}
	clone := *record
	return &clone, nil
}

func (m *mockRepository) ListByTarget(_ context.Context, targetID string, page, pageSize int) ([]Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []Record
	for _, record := range m.records {
		if record.TargetID == targetID {
			all = append(all, *record)
		}
	}
	total := len(all)

	start := page * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *mockRepository) UpdateStatus(_ context.Context, id string, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return ErrCallNotFound
	}
	if !CanTransition(record.Status, to) {
		return ErrInvalidTransition
	}
	record.Status = to
	m.transitions[id] = append(m.transitions[id], to)
	return nil
}

func (m *mockRepository) StoreResponse(_ context.Context, id string, response []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return ErrCallNotFound
	}
	if !CanTransition(record.Status, StatusSuccessful) {
		return ErrInvalidTransition
	}
	record.Status = StatusSuccessful
	record.Response = append([]byte(nil), response...)
	m.transitions[id] = append(m.transitions[id], StatusSuccessful)
	return nil
}

func (m *mockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrCallNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *mockRepository) statusHistory(id string) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Status(nil), m.transitions[id]...)
}

// publishedMessage captures one device bus publish.
type publishedMessage struct {
	topic   string
	payload []byte
}

// mockDeviceBus records publishes and subscriptions.
type mockDeviceBus struct {
	mu         sync.Mutex
	published  []publishedMessage
	subscribed map[string]mqtt.MessageHandler

	publishErr error
}

func newMockDeviceBus() *mockDeviceBus {
	return &mockDeviceBus{
		subscribed: make(map[string]mqtt.MessageHandler),
	}
}

func (m *mockDeviceBus) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, publishedMessage{
		topic:   topic,
		payload: append([]byte(nil), payload...),
	})
	return nil
}

func (m *mockDeviceBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed[topic] = handler
	return nil
}

func (m *mockDeviceBus) messages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.published...)
}

// enginePush captures one engine bus publish.
type enginePush struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

// mockEngineBus records pushes to the engine.
type mockEngineBus struct {
	mu     sync.Mutex
	pushes []enginePush

	publishErr error
}

func (m *mockEngineBus) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}
	clone := make(map[string]string, len(headers))
	for k, v := range headers {
		clone[k] = v
	}
	m.pushes = append(m.pushes, enginePush{
		topic:   topic,
		key:     key,
		payload: append([]byte(nil), payload...),
		headers: clone,
	})
	return nil
}

func (m *mockEngineBus) pushed() []enginePush {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]enginePush(nil), m.pushes...)
}
