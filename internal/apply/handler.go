package apply

import "github.com/roach88/tether/internal/value"

// Node is a presentation element addressable by reference.
type Node interface {
	Ref() string
}

// Registry resolves node references for handlers.
type Registry interface {
	Lookup(ref string) (Node, bool)
}

// Handler applies one instruction payload to the presentation.
type Handler interface {
	Apply(reg Registry, payload value.Object) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(reg Registry, payload value.Object) error

// Apply calls f.
func (f HandlerFunc) Apply(reg Registry, payload value.Object) error {
	return f(reg, payload)
}

// Table maps action names to handlers. Keys are raw action strings so that
// tables may cover kinds outside the recognised set.
type Table map[string]Handler

// Lookup returns the handler registered for kind.
func (t Table) Lookup(kind string) (Handler, bool) {
	h, ok := t[kind]
	return h, ok && h != nil
}

// Merge returns a new table with entries from others layered over t.
func (t Table) Merge(others ...Table) Table {
	out := make(Table, len(t))
	for k, h := range t {
		out[k] = h
	}
	for _, o := range others {
		for k, h := range o {
			out[k] = h
		}
	}
	return out
}
