package core

import (
	"context"
	"reflect"
)

// Action is a mutation type that triggers lifecycle hooks and events.
type Action string

const (
	// ActionCreate is a record insertion.
	ActionCreate Action = "create"

	// ActionUpdate is a record modification.
	ActionUpdate Action = "update"

	// ActionDestroy is a record removal.
	ActionDestroy Action = "destroy"
)

// Actions lists the lifecycle actions in hook order.
var Actions = []Action{ActionCreate, ActionUpdate, ActionDestroy}

// Record is a single row, keyed by attribute or column name.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Hook is a lifecycle callback. Returning an error aborts the operation.
type Hook func(ctx context.Context, record Record) error

// Criteria is an equality where-clause. Every key must match; a slice value
// matches when any of its elements does.
type Criteria map[string]any

// Matches reports whether the record satisfies the criteria.
// An empty criteria matches every record.
func (c Criteria) Matches(r Record) bool {
	for key, want := range c {
		got, ok := r[key]
		if !ok {
			if want == nil {
				continue
			}
			return false
		}
		if list, isList := want.([]any); isList {
			if !matchesAny(got, list) {
				return false
			}
			continue
		}
		if !Equal(got, want) {
			return false
		}
	}
	return true
}

func matchesAny(got any, list []any) bool {
	for _, candidate := range list {
		if Equal(got, candidate) {
			return true
		}
	}
	return false
}

// Equal compares two attribute values, treating all numeric kinds as float64
// so values decoded from JSON compare equal to their Go literals.
func Equal(a, b any) bool {
	if fa, ok := ToFloat(a); ok {
		if fb, ok := ToFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// ToFloat converts any numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
