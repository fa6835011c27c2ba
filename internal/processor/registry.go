package processor

import (
	"context"
	"encoding/json"
)

// Handler processes the payload of one event topic.
type Handler interface {
	Topic() string
	Process(ctx context.Context, payload json.RawMessage) error
}

// Registry is a static topic-to-handler table assembled at startup. The
// registration order is the polling priority order.
type Registry struct {
	handlers map[string]Handler
	topics   []string
}

// NewRegistry builds a registry from the given handlers. A duplicate topic
// overwrites the earlier handler but keeps its priority slot.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if _, exists := r.handlers[h.Topic()]; !exists {
			r.topics = append(r.topics, h.Topic())
		}
		r.handlers[h.Topic()] = h
	}
	return r
}

// Get returns the handler registered for a topic.
func (r *Registry) Get(topic string) (Handler, bool) {
	h, ok := r.handlers[topic]
	return h, ok
}

// Topics returns the registered topics in priority order.
func (r *Registry) Topics() []string {
	return r.topics
}
