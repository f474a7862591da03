package eventbus

import (
	"sync"
	"time"
)

// Bus is a simple in-process pub/sub event bus. A nil *Bus is valid and
// drops every event, so publishers never need to check.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	now      func() time.Time
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[Topic][]Handler),
		now:      time.Now,
	}
}

// Subscribe registers a handler for a topic, or for all topics with TopicAll.
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish sends an event to all subscribers of the topic, then to the
// TopicAll subscribers. Handlers run synchronously in registration order,
// so a subscriber sees events in the order they happened.
func (b *Bus) Publish(topic Topic, payload any) {
	if b == nil || topic == TopicAll {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[topic])+len(b.handlers[TopicAll]))
	handlers = append(handlers, b.handlers[topic]...)
	handlers = append(handlers, b.handlers[TopicAll]...)
	b.mu.RUnlock()

	event := Event{
		Topic:     topic,
		Payload:   payload,
		Timestamp: b.now(),
	}
	for _, h := range handlers {
		h(event)
	}
}
