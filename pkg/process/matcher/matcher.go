// Package matcher decides whether inbound events activate trigger annotations.
//
// Matching is a subset match: every entry of the expected template must be present
// in the payload with the same shape and value, extra payload entries are ignored.
package matcher

import (
	"encoding/json"
	"math"

	"github.com/pbinitiative/zenstep/pkg/process/event"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/reference"
)

// DoesEventMatch checks evt against trigger. The trigger references are resolved
// against store first, resolution failures are returned to the caller.
func DoesEventMatch(evt event.Event, trigger model.TriggerAnnotation, store map[string]any) (bool, error) {
	if trigger.EventId != evt.ModelId {
		return false, nil
	}
	if len(trigger.References) == 0 {
		return true, nil
	}
	expected, err := reference.ResolveReferenceMap(trigger.References, store)
	if err != nil {
		return false, err
	}
	return CheckMap(evt.Payload, expected), nil
}

// CheckMap reports whether every entry of expected is matched by actual.
func CheckMap(actual map[string]any, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok {
			return false
		}
		if !checkValue(got, want) {
			return false
		}
	}
	return true
}

// CheckList compares two lists position by position. Lengths must be equal.
func CheckList(actual []any, expected []any) bool {
	if len(actual) != len(expected) {
		return false
	}
	for i := range expected {
		if !checkValue(actual[i], expected[i]) {
			return false
		}
	}
	return true
}

func checkValue(actual any, expected any) bool {
	kind := reference.KindOf(expected)
	if reference.KindOf(actual) != kind {
		return false
	}
	switch kind {
	case reference.KindMap:
		return CheckMap(actual.(map[string]any), expected.(map[string]any))
	case reference.KindList:
		return CheckList(actual.([]any), expected.([]any))
	case reference.KindNumber:
		return numbersEqual(actual, expected)
	case reference.KindString, reference.KindBoolean:
		return actual == expected
	case reference.KindOther:
		return otherEqual(actual, expected)
	default:
		panic("[invariant check] matcher kind switch not fully implemented")
	}
}

func otherEqual(actual any, expected any) (equal bool) {
	defer func() {
		// values of uncomparable types never match
		if recover() != nil {
			equal = false
		}
	}()
	return actual == expected
}

// numbersEqual compares numbers by value, so that an int from a definition file
// matches the float64 produced by a JSON decoder.
func numbersEqual(a any, b any) bool {
	ai, aInt := asInt64(a)
	bi, bInt := asInt64(b)
	if aInt && bInt {
		return ai == bi
	}
	af, aOk := asFloat64(a)
	bf, bOk := asFloat64(b)
	if !aOk || !bOk || math.IsNaN(af) || math.IsNaN(bf) {
		return false
	}
	return af == bf
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
