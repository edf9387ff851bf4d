package sink

import (
	"sync"

	"github.com/rzpsarthak13/persistence/internal/events"
)

// Delivery is an event received by a Channel sink.
type Delivery struct {
	Type    string
	Payload any
}

// Channel is an events.Sink that hands events to a buffered Go channel.
// When the buffer is full the event is dropped rather than blocking the
// emitting hook.
type Channel struct {
	mu      sync.RWMutex
	ch      chan Delivery
	closed  bool
	dropped int
}

var _ events.Sink = (*Channel)(nil)

// NewChannel creates a channel sink with the given buffer size.
func NewChannel(bufferSize int) *Channel {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Channel{ch: make(chan Delivery, bufferSize)}
}

// Emit enqueues the event.
func (c *Channel) Emit(eventType string, payload any) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	select {
	case c.ch <- Delivery{Type: eventType, Payload: payload}:
		c.mu.RUnlock()
	default:
		c.mu.RUnlock()
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

// C returns the receive side of the channel. It is closed by Close.
func (c *Channel) C() <-chan Delivery { return c.ch }

// Dropped returns the number of events lost to a full buffer.
func (c *Channel) Dropped() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped
}

// Close closes the channel. Later emits are ignored.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
