package ident

import (
	"errors"
	"fmt"
	"strconv"
)

// Marker is the leading character of every identifier.
const Marker = '#'

// Unset is the server's rendering of an identifier that has not been
// assigned yet (for example lastEvent before any event was handled).
const Unset = "#?"

// ErrMalformedIdentifier is matched by every decoding failure.
var ErrMalformedIdentifier = errors.New("malformed identifier")

// MalformedIdentifierError reports why a value failed to decode.
type MalformedIdentifierError struct {
	Value  string // The rejected input
	Reason string // Human-readable cause
}

// Error implements the error interface.
func (e *MalformedIdentifierError) Error() string {
	return fmt.Sprintf("malformed identifier %q: %s", e.Value, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedIdentifier) match.
func (e *MalformedIdentifierError) Is(target error) bool {
	return target == ErrMalformedIdentifier
}

// Encode renders n as an identifier. Negative values are clamped to 0,
// since identifiers are ordinals.
func Encode(n int64) string {
	if n < 0 {
		n = 0
	}
	return string(Marker) + strconv.FormatInt(n, 10)
}

// Decode parses an identifier back into its ordinal.
//
// Decode is pure. It rejects values without the marker, an empty remainder,
// anything that is not plain decimal digits (signs, fractions, exponents,
// whitespace), and values that overflow int64.
func Decode(s string) (int64, error) {
	if len(s) == 0 || s[0] != Marker {
		return 0, &MalformedIdentifierError{Value: s, Reason: "missing '#' marker"}
	}
	digits := s[1:]
	if digits == "" {
		return 0, &MalformedIdentifierError{Value: s, Reason: "empty ordinal"}
	}
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c == '-' {
			return 0, &MalformedIdentifierError{Value: s, Reason: "negative ordinal"}
		}
		if c < '0' || c > '9' {
			return 0, &MalformedIdentifierError{Value: s, Reason: "ordinal is not a base-10 integer"}
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, &MalformedIdentifierError{Value: s, Reason: "ordinal out of range"}
	}
	return n, nil
}

// MustDecode is like Decode but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDecode(s string) int64 {
	n, err := Decode(s)
	if err != nil {
		panic(err)
	}
	return n
}

// IsUnset reports whether s is the server's "not assigned" placeholder or
// empty.
func IsUnset(s string) bool {
	return s == "" || s == Unset
}

// Compare orders two identifiers by ordinal. Malformed identifiers sort
// before every valid one.
func Compare(a, b string) int {
	na, errA := Decode(a)
	nb, errB := Decode(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	case na < nb:
		return -1
	case na > nb:
		return 1
	}
	return 0
}
