package events

import (
	"context"
	"sync"
)

// Handler processes published events.
type Handler func(Event)

// Filter decides whether a handler sees an event.
type Filter func(Event) bool

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// MemoryBus is an in-process Publisher with subscriptions and a bounded
// ring of recent events. It backs tests and single-node deployments; a
// broker-backed Publisher replaces it in multi-node setups.
type MemoryBus struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

var _ Publisher = (*MemoryBus)(nil)

// NewMemoryBus creates a bus retaining the most recent size events.
func NewMemoryBus(size int) *MemoryBus {
	if size <= 0 {
		size = 1000
	}
	return &MemoryBus{
		events: make([]Event, size),
		size:   size,
	}
}

// Publish stores the event and notifies subscribers.
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	b.events[b.head] = event
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	handlers := make([]handlerEntry, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	// Notify handlers outside the lock.
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
	return nil
}

// Subscribe registers a handler for all events and returns an unsubscribe
// function.
func (b *MemoryBus) Subscribe(handler Handler) func() {
	return b.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler guarded by a filter.
func (b *MemoryBus) SubscribeFiltered(filter Filter, handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers = append(b.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n events, newest first.
func (b *MemoryBus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (b.head - 1 - i + b.size) % b.size
		out[i] = b.events[idx]
	}
	return out
}

// RecentByType returns up to n recent events of the given type, newest
// first.
func (b *MemoryBus) RecentByType(typ Type, n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || b.count == 0 {
		return nil
	}
	var out []Event
	for i := 0; i < b.count && len(out) < n; i++ {
		idx := (b.head - 1 - i + b.size) % b.size
		if b.events[idx].Type == typ {
			out = append(out, b.events[idx])
		}
	}
	return out
}

// Count returns the number of retained events.
func (b *MemoryBus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
