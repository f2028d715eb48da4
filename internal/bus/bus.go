package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe bus with namespace filtering.
// It is the delivery mechanism for the store's change feed: writers publish
// summary changes and subscribers (projectors, the API layer) receive them
// in publish order.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers an event to every subscriber whose namespace is a prefix
// of evt.Kind. Delivery is non-blocking: a subscriber with a full buffer
// misses the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Subscriber is full, drop.
			}
		}
	}
}

// Subscribe returns a channel receiving events whose Kind starts with
// namespace, and a function that removes the subscription. Events published
// after the returned cancel function runs are never delivered.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
