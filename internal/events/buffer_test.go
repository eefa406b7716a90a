package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/ident"
	"github.com/roach88/tether/internal/value"
)

func ids(b *Buffer) []string {
	snap := b.Snapshot()
	out := make([]string, len(snap))
	for i, ev := range snap {
		out[i] = ev.ID
	}
	return out
}

func TestBuffer_AppendAssignsSequentialIDs(t *testing.T) {
	b := NewBuffer()
	e1 := b.Append("#7", "click", nil)
	e2 := b.Append("#7", "input", value.Of(value.O("text", value.String("a"))))

	assert.Equal(t, "#1", e1.ID)
	assert.Equal(t, "#2", e2.ID)
	assert.Equal(t, "#7", e2.Target)
	assert.Equal(t, "input", e2.Kind)
	assert.Equal(t, 2, b.Len())
}

func TestBuffer_AppendCopiesPayload(t *testing.T) {
	b := NewBuffer()
	payload := value.Of(value.O("text", value.String("a")))
	b.Append("#7", "input", payload)
	payload["text"] = value.String("changed")

	assert.Equal(t, value.String("a"), b.Snapshot()[0].Payload["text"])
}

func TestBuffer_SnapshotIsACopy(t *testing.T) {
	b := NewBuffer()
	b.Append("#1", "click", nil)

	snap := b.Snapshot()
	snap[0].ID = "#99"
	assert.Equal(t, []string{"#1"}, ids(b))
}

func TestBuffer_PruneThroughLastEmpties(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 5; i++ {
		b.Append("#1", "click", nil)
	}

	n, err := b.PruneThrough("#5")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_PruneBelowOldestIsNoop(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 3; i++ {
		b.Append("#1", "click", nil)
	}
	_, err := b.PruneThrough("#2")
	require.NoError(t, err)
	require.Equal(t, []string{"#3"}, ids(b))

	n, err := b.PruneThrough("#1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []string{"#3"}, ids(b))

	n, err = b.PruneThrough("#0")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBuffer_PruneBeyondNewestRemovesAll(t *testing.T) {
	b := NewBuffer()
	b.Append("#1", "click", nil)
	b.Append("#1", "click", nil)

	n, err := b.PruneThrough("#40")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_OfflineThenAckSecond(t *testing.T) {
	b := NewBuffer()
	b.Append("#7", "click", nil)
	b.Append("#7", "click", nil)
	b.Append("#8", "input", nil)

	assert.Equal(t, []string{"#1", "#2", "#3"}, ids(b), "next exchange carries all three in order")

	_, err := b.PruneThrough("#2")
	require.NoError(t, err)
	assert.Equal(t, []string{"#3"}, ids(b))
}

func TestBuffer_PruneMalformedLeavesBufferUnchanged(t *testing.T) {
	b := NewBuffer()
	b.Append("#1", "click", nil)

	for _, ack := range []string{"#?", "2", "#-1", ""} {
		_, err := b.PruneThrough(ack)
		assert.ErrorIs(t, err, ident.ErrMalformedIdentifier, ack)
	}
	assert.Equal(t, 1, b.Len())
}

func TestBuffer_ClearRestartsIDs(t *testing.T) {
	b := NewBuffer()
	b.Append("#1", "click", nil)
	b.Append("#1", "click", nil)

	b.Clear()
	assert.Equal(t, 0, b.Len())

	ev := b.Append("#1", "click", nil)
	assert.Equal(t, "#1", ev.ID)
}

func TestBuffer_ConcurrentAppendKeepsOrder(t *testing.T) {
	b := NewBuffer()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Append("#1", "click", nil)
			}
		}()
	}
	wg.Wait()

	snap := b.Snapshot()
	require.Len(t, snap, 800)
	for i, ev := range snap {
		assert.Equal(t, ident.Encode(int64(i+1)), ev.ID)
	}
}
