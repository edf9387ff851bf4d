// Package events names and dispatches model lifecycle events.
//
// Every successful mutation of a model produces three emits, from most to
// least specific:
//
//	{prefix}.{identity}.{action}
//	{prefix}.{identity}.*
//	{prefix}.*
package events

import (
	"strings"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// Wildcard is the last segment of the catch-all event names.
const Wildcard = "*"

// Event is the payload of a model event. Type is the name of the emit that
// carried it, so the same mutation yields three events that differ only in
// Type.
type Event struct {
	Identity string      `json:"identity"`
	Action   core.Action `json:"action"`
	Record   core.Record `json:"record"`
	Type     string      `json:"type"`
}

// Sink receives emitted events.
type Sink interface {
	Emit(eventType string, payload any)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(eventType string, payload any)

// Emit calls f.
func (f SinkFunc) Emit(eventType string, payload any) { f(eventType, payload) }

// EventType joins the non-empty segments with dots.
func EventType(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

// Types returns the three event names of a mutation in emit order.
func Types(prefix, identity string, action core.Action) []string {
	return []string{
		EventType(prefix, identity, string(action)),
		EventType(prefix, identity, Wildcard),
		EventType(prefix, Wildcard),
	}
}

// Dispatch emits the three events of a mutation to sink. A nil sink is a
// no-op.
func Dispatch(sink Sink, prefix, identity string, action core.Action, record core.Record) {
	if sink == nil {
		return
	}
	for _, typ := range Types(prefix, identity, action) {
		sink.Emit(typ, Event{
			Identity: identity,
			Action:   action,
			Record:   record,
			Type:     typ,
		})
	}
}
