package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedRunToken(t *testing.T) {
	g := NewFixedRunToken("run-1")
	assert.Equal(t, "run-1", g.Generate())
	assert.Equal(t, "run-1", g.Generate())

	assert.Equal(t, "test-run-default", NewFixedRunToken("").Generate())
}
