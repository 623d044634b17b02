// v1
// internal/transport/transport.go
// Package transport abstracts the pub/sub channel the controller and
// the racks share. The contract is intentionally thin: at-least-once,
// unordered delivery of small scalar payloads, plus pattern
// subscriptions. Completion semantics live one layer up, in dispatch.
package transport

// Handler receives one delivered message. Implementations are invoked
// from the transport's own delivery context and must not block; hand
// work off to a queue instead.
type Handler func(topic, payload string)

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(topic, payload string) error
}

// Subscriber registers a handler for a topic filter. Filters use MQTT
// wildcard syntax: `+` matches one segment, `#` matches the rest.
type Subscriber interface {
	Subscribe(filter string, h Handler) error
}

// Transport is the full channel a process holds on to.
type Transport interface {
	Publisher
	Subscriber
	Close()
}
