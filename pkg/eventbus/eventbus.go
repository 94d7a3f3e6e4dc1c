// Package eventbus provides the Bus interface and an in-memory
// implementation for real-time streaming of per-view environment events.
package eventbus

import (
	"sync"
	"time"
)

// Event is a single entry in a view's lifecycle stream.
type Event struct {
	ID        int64     `json:"id"`
	ViewID    string    `json:"view_id"`
	Type      string    `json:"type"` // "phase", "output", "error", "ready"
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Bus provides pub/sub for view events.
type Bus interface {
	Subscribe(viewID string) chan *Event
	Unsubscribe(viewID string, ch chan *Event)
	Publish(viewID string, event *Event)
}

// InMemoryBus is the default in-memory Bus implementation.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *Event
}

// NewInMemoryBus creates a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs: make(map[string][]chan *Event),
	}
}

// Subscribe creates a channel that receives events for a view.
func (b *InMemoryBus) Subscribe(viewID string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, 64)
	b.subs[viewID] = append(b.subs[viewID], ch)
	return ch
}

// Unsubscribe removes a channel from the view's subscribers.
func (b *InMemoryBus) Unsubscribe(viewID string, ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[viewID]
	for i, s := range subs {
		if s == ch {
			b.subs[viewID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers for a view.
func (b *InMemoryBus) Publish(viewID string, event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[viewID] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is too slow.
		}
	}
}
