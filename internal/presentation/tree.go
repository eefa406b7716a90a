// Package presentation is a headless rendering surface: an in-memory tree of
// nodes that server instructions build and mutate.
//
// The tree is what the CLI prints and what tests assert against. A real
// toolkit would implement the same apply.Registry and handler table.
package presentation

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/tether/internal/apply"
	"github.com/roach88/tether/internal/ident"
	"github.com/roach88/tether/internal/value"
)

// RootRef is the reference of the root node. It exists after every Clear.
const RootRef = "#0"

// Node is one element of the tree.
type Node struct {
	ref      string
	kind     string
	parent   *Node
	children []*Node
	props    value.Object
	events   []string
}

// Ref returns the node reference.
func (n *Node) Ref() string { return n.ref }

// Type returns the widget type the node was created with.
func (n *Node) Type() string { return n.kind }

// Parent returns the parent reference, or "" for detached nodes and the root.
func (n *Node) Parent() string {
	if n.parent == nil {
		return ""
	}
	return n.parent.ref
}

// Children returns the child references in order.
func (n *Node) Children() []string {
	out := make([]string, len(n.children))
	for i, c := range n.children {
		out[i] = c.ref
	}
	return out
}

// Prop returns a property value.
func (n *Node) Prop(name string) (value.Value, bool) {
	v, ok := n.props[name]
	return v, ok
}

// Subscriptions returns the event types the server subscribed to.
func (n *Node) Subscriptions() []string {
	return slices.Clone(n.events)
}

func (n *Node) detach() {
	if n.parent == nil {
		return
	}
	p := n.parent
	p.children = slices.DeleteFunc(p.children, func(c *Node) bool { return c == n })
	n.parent = nil
}

// Tree is the node registry. It implements apply.Registry and the session
// Backend contract (Lookup + Clear).
//
// Thread-safety: Tree is safe for concurrent use; handlers run under its
// write lock via Handlers.
type Tree struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	root  *Node
}

// NewTree creates a tree holding only the root node.
func NewTree() *Tree {
	t := &Tree{}
	t.reset()
	return t
}

func (t *Tree) reset() {
	t.root = &Node{ref: RootRef, kind: "root", props: value.Object{}}
	t.nodes = map[string]*Node{RootRef: t.root}
}

// Lookup implements apply.Registry.
func (t *Tree) Lookup(ref string) (apply.Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[ref]
	if !ok {
		return nil, false
	}
	return n, true
}

// Node returns the node for ref. The node must not be read while
// instructions are being applied.
func (t *Tree) Node(ref string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[ref]
	return n, ok
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Clear drops every node except a fresh root.
func (t *Tree) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

func (t *Tree) get(ref string) (*Node, error) {
	n, ok := t.nodes[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchNode, ref)
	}
	return n, nil
}

// Render writes an indented dump of the tree. Nodes not attached under the
// root are listed afterwards, ordered by reference.
func (t *Tree) Render(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var b strings.Builder
	seen := map[*Node]bool{}
	t.renderNode(&b, t.root, 0, seen)

	var loose []*Node
	for _, n := range t.nodes {
		if !seen[n] && n.parent == nil {
			loose = append(loose, n)
		}
	}
	if len(loose) > 0 {
		slices.SortFunc(loose, func(a, b *Node) int {
			if c := ident.Compare(a.ref, b.ref); c != 0 {
				return c
			}
			return strings.Compare(a.ref, b.ref)
		})
		b.WriteString("detached:\n")
		for _, n := range loose {
			t.renderNode(&b, n, 1, seen)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Tree) renderNode(b *strings.Builder, n *Node, depth int, seen map[*Node]bool) {
	if seen[n] {
		return
	}
	seen[n] = true

	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.ref)
	b.WriteByte(' ')
	b.WriteString(n.kind)
	for _, k := range n.props.SortedKeys() {
		data, err := value.MarshalCanonical(n.props[k])
		if err != nil {
			data = []byte("?")
		}
		fmt.Fprintf(b, " %s=%s", strings.ReplaceAll(k, " ", "-"), data)
	}
	if len(n.events) > 0 {
		fmt.Fprintf(b, " on=%s", strings.Join(n.events, ","))
	}
	b.WriteByte('\n')

	for _, c := range n.children {
		t.renderNode(b, c, depth+1, seen)
	}
}
