package server

import (
	"fmt"
	"sync"

	"github.com/roach88/tether/internal/apply"
	"github.com/roach88/tether/internal/presentation"
	"github.com/roach88/tether/internal/value"
	"github.com/roach88/tether/internal/wire"
)

// Counter is a demo application: a label showing how many times a button
// was clicked.
type Counter struct {
	mu    sync.Mutex
	state map[string]*counterState
}

type counterState struct {
	label  string
	button string
	clicks int
}

// NewCounter creates the demo application.
func NewCounter() *Counter {
	return &Counter{state: map[string]*counterState{}}
}

// Start builds the label and the button.
func (a *Counter) Start(c *Client) {
	st := &counterState{label: c.NewRef(), button: c.NewRef()}

	a.mu.Lock()
	a.state[c.ID()] = st
	a.mu.Unlock()

	c.Push(apply.KindCreate, st.label, value.Of(value.O("type", value.String("label"))))
	c.Push(apply.KindAppendChild, st.label, value.Of(value.O("container", value.String(presentation.RootRef))))
	c.Push(apply.KindSetText, st.label, value.Of(value.O("text", value.String(clicksText(0)))))

	c.Push(apply.KindCreate, st.button, value.Of(value.O("type", value.String("button"))))
	c.Push(apply.KindAppendChild, st.button, value.Of(value.O("container", value.String(presentation.RootRef))))
	c.Push(apply.KindSetText, st.button, value.Of(value.O("text", value.String("Click me"))))
	c.Push(apply.KindSubscribe, st.button, value.Of(value.O("event", value.String("click"))))
}

// HandleEvent counts clicks on the button.
func (a *Counter) HandleEvent(c *Client, ev wire.Event) {
	a.mu.Lock()
	st, ok := a.state[c.ID()]
	if !ok || ev.Target != st.button || ev.Kind != "click" {
		a.mu.Unlock()
		return
	}
	st.clicks++
	n := st.clicks
	a.mu.Unlock()

	c.Push(apply.KindSetText, st.label, value.Of(value.O("text", value.String(clicksText(n)))))
}

// Stop forgets the client.
func (a *Counter) Stop(c *Client) {
	a.mu.Lock()
	delete(a.state, c.ID())
	a.mu.Unlock()
}

// Clicks returns the click count of a client.
func (a *Counter) Clicks(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.state[id]; ok {
		return st.clicks
	}
	return 0
}

func clicksText(n int) string {
	return fmt.Sprintf("Clicks: %d", n)
}
