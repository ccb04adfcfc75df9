package bus

import (
	"sync"

	"custos/internal/logger"
)

// Handler consumes one published message. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(topic string, payload any)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	topic string
	id    int
}

// Bus is an explicit in-process publish/subscribe hub: handlers are
// registered and removed through the interface, there is no ambient
// emitter state.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
}

func New() *Bus {
	return &Bus{handlers: make(map[string]map[int]Handler)}
}

// Subscribe registers fn for topic and returns a removable subscription.
func (b *Bus) Subscribe(topic string, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn == nil {
		return Subscription{}
	}
	b.nextID++
	m := b.handlers[topic]
	if m == nil {
		m = make(map[int]Handler)
		b.handlers[topic] = m
	}
	m[b.nextID] = fn
	return Subscription{topic: topic, id: b.nextID}
}

// Unsubscribe removes a previously registered handler. Removing an unknown
// subscription is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.handlers[sub.topic]; ok {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(b.handlers, sub.topic)
		}
	}
}

// Publish fans payload out to every handler registered for topic. A handler
// panic is contained so one consumer cannot take down the publisher.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	m := b.handlers[topic]
	fns := make([]Handler, 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("bus: handler panic on topic %s: %v", topic, r)
				}
			}()
			fn(topic, payload)
		}()
	}
}
