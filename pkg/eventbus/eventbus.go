// Package eventbus provides the Bus interface and an in-memory
// implementation for streaming build events to any number of observers.
package eventbus

import (
	"sync"

	"github.com/plugforge/plugforge/pkg/model"
)

// Bus provides pub/sub for build events. Delivery is FIFO per subscriber in
// emission order; there is no cross-subscriber ordering guarantee.
// Unsubscribing is side-effect-free on the publisher.
type Bus interface {
	Subscribe(buildID string) chan *model.Event
	Unsubscribe(buildID string, ch chan *model.Event)
	Publish(buildID string, event *model.Event)
}

// InMemoryBus is the default in-memory Bus implementation.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *model.Event
}

// NewInMemoryBus creates a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs: make(map[string][]chan *model.Event),
	}
}

// Subscribe creates a channel that receives events for a build.
func (b *InMemoryBus) Subscribe(buildID string) chan *model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.Event, 64)
	b.subs[buildID] = append(b.subs[buildID], ch)
	return ch
}

// Unsubscribe removes a channel from the build's subscribers and closes it.
func (b *InMemoryBus) Unsubscribe(buildID string, ch chan *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[buildID]
	for i, s := range subs {
		if s == ch {
			b.subs[buildID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers for a build.
func (b *InMemoryBus) Publish(buildID string, event *model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[buildID] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is too slow.
		}
	}
}
