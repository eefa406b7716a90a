// Package value provides the payload value model carried by events and
// instructions.
//
// Payloads are opaque to the synchronization protocol; only handlers look
// inside them. The model is a sealed union (Null, String, Int, Float, Bool,
// Array, Object) so that handlers can switch over a closed set of shapes
// instead of poking at map[string]any.
//
// Key design constraints:
//   - Integers decode to Int, never Float; only numbers with a fraction or
//     exponent become Float
//   - Object keys iterate in RFC 8785 order via SortedKeys
//   - MarshalCanonical is the only serialization used for digests and golden
//     traces
package value

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over payload value shapes.
type Value interface {
	value() // Sealed - only the types below implement it
}

// Null represents a JSON null.
type Null struct{}

func (Null) value() {}

// String is a string value.
type String string

func (String) value() {}

// Int is an integral number.
type Int int64

func (Int) value() {}

// Float is a number with a fraction or exponent.
type Float float64

func (Float) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// Array is an ordered list of values.
type Array []Value

func (Array) value() {}

// Object maps string keys to values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// Pair is a key-value pair for Object construction.
type Pair struct {
	Key   string
	Value Value
}

// O is a shorthand for Pair.
// Example: Of(O("text", String("hi")), O("size", Int(12)))
func O(key string, v Value) Pair {
	return Pair{Key: key, Value: v}
}

// Of builds an Object from pairs.
func Of(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Clone returns a deep copy of obj. A nil object clones to nil.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Object:
		return val.Clone()
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// String returns the string stored under key.
func (obj Object) String(key string) (string, bool) {
	s, ok := obj[key].(String)
	return string(s), ok
}

// Int returns the integer stored under key. Floats with no fractional part
// are accepted.
func (obj Object) Int(key string) (int64, bool) {
	switch v := obj[key].(type) {
	case Int:
		return int64(v), true
	case Float:
		if float64(v) == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// Bool returns the boolean stored under key.
func (obj Object) Bool(key string) (bool, bool) {
	b, ok := obj[key].(Bool)
	return bool(b), ok
}

// Object returns the nested object stored under key.
func (obj Object) Object(key string) (Object, bool) {
	o, ok := obj[key].(Object)
	return o, ok
}

// Without returns a shallow copy of obj with the given keys removed.
func (obj Object) Without(keys ...string) Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// compareKeysRFC8785 compares strings by UTF-16 code units as RFC 8785
// requires. Go's native string order is by UTF-8 bytes, which differs for
// characters outside the BMP.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
