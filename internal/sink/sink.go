// Package sink forwards emitted events to systems outside the process.
//
// External publishers are slow compared to lifecycle hooks, so they sit
// behind Async: Emit enqueues and returns, and a drainer goroutine publishes
// at a bounded rate.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rzpsarthak13/persistence/internal/events"
)

var (
	// ErrClosed is returned when publishing through a closed sink.
	ErrClosed = errors.New("sink is closed")

	// ErrQueueFull is returned when the async queue has no free slot.
	ErrQueueFull = errors.New("sink queue is full")
)

// Message is an encoded event ready for an external publisher.
type Message struct {
	// Type is the event name.
	Type string

	// Key partitions messages; model events use the model identity.
	Key string

	// Action is the mutation that produced a model event, if any.
	Action string

	// Value is the JSON encoded payload.
	Value []byte

	Time time.Time
}

// Publisher delivers messages to an external system.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
	Close() error
}

// Encode turns an emitted event into a message. Model events encode as
// themselves; errors encode as {"error": "..."}; anything else must be JSON
// serializable.
func Encode(eventType string, payload any) (Message, error) {
	msg := Message{Type: eventType, Time: time.Now()}

	var body any = payload
	switch p := payload.(type) {
	case events.Event:
		msg.Key = p.Identity
		msg.Action = string(p.Action)
	case error:
		body = map[string]string{"error": p.Error()}
	}

	value, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	msg.Value = value
	return msg, nil
}

// Multi fans every event out to each sink in order.
type Multi []events.Sink

// Emit forwards the event to every non-nil sink.
func (m Multi) Emit(eventType string, payload any) {
	for _, s := range m {
		if s != nil {
			s.Emit(eventType, payload)
		}
	}
}
