// v1
// internal/transport/memory.go
package transport

import "sync"

// Memory is an in-process Transport used by tests and the loopback
// deployment where controller and simulator share one process. It
// delivers synchronously on the publisher's goroutine, which mirrors
// the "delivery context must only enqueue" discipline the MQTT
// adapter imposes.
type Memory struct {
	mu   sync.RWMutex
	subs []subscription
}

// NewMemory builds an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish delivers payload to every matching subscription.
func (m *Memory) Publish(topic, payload string) error {
	m.mu.RLock()
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	m.mu.RUnlock()
	for _, s := range subs {
		if MatchFilter(s.filter, topic) {
			s.handler(topic, payload)
		}
	}
	return nil
}

// Subscribe registers a handler for a filter.
func (m *Memory) Subscribe(filter string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, subscription{filter: filter, handler: h})
	return nil
}

// Close drops all subscriptions.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = nil
}
