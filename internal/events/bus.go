package events

import (
	"sync"
)

// Handler is called for each event a Bus delivers.
type Handler func(eventType string, payload any)

// Bus is an in-process, synchronous event bus. Handlers run on the emitting
// goroutine, in registration order: exact subscribers first, then those
// registered with OnAny.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	catchAll []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// On registers a handler for one event type.
func (b *Bus) On(eventType string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// OnAny registers a handler for every event type.
func (b *Bus) OnAny(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catchAll = append(b.catchAll, h)
}

// Emit delivers the event to its subscribers. Handlers may register other
// handlers or emit further events.
func (b *Bus) Emit(eventType string, payload any) {
	b.mu.RLock()
	exact := append([]Handler(nil), b.handlers[eventType]...)
	all := append([]Handler(nil), b.catchAll...)
	b.mu.RUnlock()

	for _, h := range exact {
		h(eventType, payload)
	}
	for _, h := range all {
		h(eventType, payload)
	}
}

// HasListeners reports whether any handler would receive eventType.
func (b *Bus) HasListeners(eventType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) > 0 || len(b.catchAll) > 0
}
