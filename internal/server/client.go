package server

import (
	"sync"
	"time"

	"github.com/roach88/tether/internal/apply"
	"github.com/roach88/tether/internal/ident"
	"github.com/roach88/tether/internal/presentation"
	"github.com/roach88/tether/internal/value"
	"github.com/roach88/tether/internal/wire"
)

// Client is the server-side half of one session.
//
// Instructions pushed to a client stay pending until the client reports a
// lastUpdate at or above their id. Events are dispatched at most once: an
// event id at or below the last handled one is dropped.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	id string

	mu        sync.Mutex
	updates   *ident.Counter
	refs      *ident.Counter
	pending   []wire.Instruction
	lastEvent int64
	widgets   map[string]bool
	deadline  time.Time
}

func newClient(id string, deadline time.Time) *Client {
	return &Client{
		id:       id,
		updates:  ident.NewCounter(),
		refs:     ident.NewCounter(),
		widgets:  map[string]bool{presentation.RootRef: true},
		deadline: deadline,
	}
}

// ID returns the client identity.
func (c *Client) ID() string {
	return c.id
}

// NewRef allocates a node reference. The root is always "#0".
func (c *Client) NewRef() string {
	return c.refs.NextID()
}

// Push queues an instruction for the client and returns its id. Creating a
// node makes it a valid event source.
func (c *Client) Push(kind apply.Kind, target string, payload value.Object) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := payload.Clone()
	if p == nil {
		p = value.Object{}
	}
	if target != "" {
		p["target"] = value.String(target)
	}
	id := c.updates.NextID()
	c.pending = append(c.pending, wire.Instruction{ID: id, Kind: string(kind), Payload: p})

	switch kind {
	case apply.KindCreate, apply.KindCreateWidget:
		c.widgets[target] = true
	}
	return id
}

// Pending returns a copy of the unacknowledged instructions in id order.
func (c *Client) Pending() []wire.Instruction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Instruction(nil), c.pending...)
}

// LastEvent returns the id of the last handled event, or ident.Unset.
func (c *Client) LastEvent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventLocked()
}

func (c *Client) lastEventLocked() string {
	if c.lastEvent == 0 {
		return ident.Unset
	}
	return ident.Encode(c.lastEvent)
}

// acknowledge drops pending instructions at or below lastUpdate.
// A malformed or unset lastUpdate drops nothing.
func (c *Client) acknowledge(lastUpdate string) {
	n, err := ident.Decode(lastUpdate)
	if err != nil {
		return
	}
	cut := 0
	for cut < len(c.pending) && ident.MustDecode(c.pending[cut].ID) <= n {
		cut++
	}
	if cut == 0 {
		return
	}
	kept := copy(c.pending, c.pending[cut:])
	clear(c.pending[kept:])
	c.pending = c.pending[:kept]
}

// accept reports whether ev should be dispatched and advances the handled
// id. Events for widgets the client never created are consumed without
// dispatch so that they are acknowledged and not resent forever.
func (c *Client) accept(ev wire.Event) (dispatch bool, ok bool) {
	n, err := ident.Decode(ev.ID)
	if err != nil || n <= c.lastEvent {
		return false, false
	}
	c.lastEvent = n
	return c.widgets[ev.Target], true
}

func (c *Client) touch(deadline time.Time) {
	c.mu.Lock()
	c.deadline = deadline
	c.mu.Unlock()
}

func (c *Client) expired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !now.Before(c.deadline)
}
