// Package events holds locally generated interaction events until the server
// acknowledges them.
package events

import (
	"fmt"
	"sync"

	"github.com/roach88/tether/internal/ident"
	"github.com/roach88/tether/internal/value"
	"github.com/roach88/tether/internal/wire"
)

type entry struct {
	seq   int64
	event wire.Event
}

// Buffer is an ordered, thread-safe list of unacknowledged events.
//
// Ids come from a per-session counter starting at 1 and strictly increase in
// insertion order, so pruning by acknowledgment always removes a contiguous
// prefix. Append may be called from any goroutine; the session loop is the
// only caller of PruneThrough and Clear.
type Buffer struct {
	mu      sync.Mutex
	entries []entry
	ids     *ident.Counter
}

// NewBuffer creates an empty buffer whose first event id is "#1".
func NewBuffer() *Buffer {
	return &Buffer{
		entries: make([]entry, 0, 16),
		ids:     ident.NewCounter(),
	}
}

// Append assigns the next id and appends the event.
func (b *Buffer) Append(target, kind string, payload value.Object) wire.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.ids.Next()
	ev := wire.Event{
		ID:      ident.Encode(seq),
		Target:  target,
		Kind:    kind,
		Payload: payload.Clone(),
	}
	b.entries = append(b.entries, entry{seq: seq, event: ev})
	return ev
}

// Snapshot returns a copy of the outstanding events in insertion order.
func (b *Buffer) Snapshot() []wire.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]wire.Event, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.event
	}
	return out
}

// PruneThrough removes every event with id <= ack and returns how many were
// removed. An ack below the oldest event is a no-op. A malformed ack leaves
// the buffer unchanged and returns an error wrapping
// ident.ErrMalformedIdentifier.
func (b *Buffer) PruneThrough(ack string) (int, error) {
	n, err := ident.Decode(ack)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Scan from the tail: the common case acknowledges everything.
	cut := -1
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].seq <= n {
			cut = i
			break
		}
	}
	if cut < 0 {
		return 0, nil
	}

	removed := cut + 1
	total := len(b.entries)
	copy(b.entries, b.entries[removed:])
	clear(b.entries[total-removed:])
	b.entries = b.entries[:total-removed]
	return removed, nil
}

// Clear drops all events and restarts ids at "#1".
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.entries)
	b.entries = b.entries[:0]
	b.ids.Reset()
}

// Len returns the number of outstanding events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
