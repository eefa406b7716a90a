package ident

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "#0", Encode(0))
	assert.Equal(t, "#123", Encode(123))
	assert.Equal(t, "#0", Encode(-5), "negative ordinals clamp to zero")
	assert.Equal(t, "#"+strconv.FormatInt(math.MaxInt64, 10), Encode(math.MaxInt64))
}

func TestDecode_Accepts(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"#0", 0},
		{"#123", 123},
		{"#007", 7},
		{"#9223372036854775807", math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Decode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	inputs := []string{
		"5",
		"#-1",
		"#1.5",
		"#",
		"",
		"#?",
		"#+1",
		"#1e3",
		"# 1",
		"#12a",
		"##1",
		"#9223372036854775808",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Decode(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedIdentifier))

			var me *MalformedIdentifierError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, in, me.Value)
			assert.NotEmpty(t, me.Reason)
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, 42, 1 << 40} {
		got, err := Decode(Encode(n))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}

func TestIsUnset(t *testing.T) {
	assert.True(t, IsUnset(""))
	assert.True(t, IsUnset(Unset))
	assert.False(t, IsUnset("#0"))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare("#1", "#2"))
	assert.Equal(t, 1, Compare("#10", "#9"), "ordinal, not lexical, comparison")
	assert.Equal(t, 0, Compare("#3", "#3"))
	assert.Equal(t, -1, Compare("bad", "#0"))
	assert.Equal(t, 1, Compare("#0", "bad"))
}

func TestMustDecode_Panics(t *testing.T) {
	assert.Panics(t, func() { MustDecode("nope") })
	assert.Equal(t, int64(4), MustDecode("#4"))
}
