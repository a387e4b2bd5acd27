package eventbus

import (
	"context"
	"errors"
	"sync"
)

// Topics published when shared override state changes. Notifications carry no
// payload; subscribers re-read persisted state.
const (
	TopicParkingOverridesChanged = "parking.overrides.changed"
	TopicGatesChanged            = "gates.changed"
)

// Handler handles a change notification.
type Handler func(ctx context.Context, topic string) error

// Bus delivers change notifications to subscribed handlers.
type Bus interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(topic string, handler Handler) (unsubscribe func())
}

// ErrEmptyTopic is returned when publishing without a topic.
var ErrEmptyTopic = errors.New("eventbus: empty topic")

type subscription struct {
	id      uint64
	handler Handler
}

// InMemoryBus is an in-process bus. Handlers run synchronously on the
// publisher's goroutine.
type InMemoryBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]subscription
}

// NewInMemoryBus constructs a new in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]subscription),
	}
}

// Publish dispatches to all handlers of topic and returns the first error.
func (b *InMemoryBus) Publish(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.handler(ctx, topic); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers a handler for topic.
func (b *InMemoryBus) Subscribe(topic string, handler Handler) func() {
	if topic == "" || handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

// Subscribers returns the number of handlers registered for topic.
func (b *InMemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

func (b *InMemoryBus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[topic]) == 0 {
		delete(b.handlers, topic)
	}
}
