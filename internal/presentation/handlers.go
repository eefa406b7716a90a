package presentation

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/tether/internal/apply"
	"github.com/roach88/tether/internal/value"
)

// ErrUnsupportedRegistry is returned when a handler is applied against a
// registry that is not a *Tree.
var ErrUnsupportedRegistry = errors.New("registry is not a presentation tree")

// Handlers returns the standard handler table. Each handler resolves the
// tree it mutates from the registry it is applied with. The reset kind is
// left out: the session clears the tree itself.
func Handlers() apply.Table {
	return apply.Table{
		string(apply.KindCreate):             onTree((*Tree).create),
		string(apply.KindCreateWidget):       onTree((*Tree).create),
		string(apply.KindSetChild):           onTree((*Tree).setChild),
		string(apply.KindAppendChild):        onTree((*Tree).appendChild),
		string(apply.KindRemoveChild):        onTree((*Tree).removeChild),
		string(apply.KindSetText):            onTree((*Tree).setText),
		string(apply.KindSetColor):           onTree(colorSetter("color")),
		string(apply.KindSetBackgroundColor): onTree(colorSetter("background color")),
		string(apply.KindSetFontFace):        onTree(stringSetter("font face")),
		string(apply.KindSetFontSize):        onTree(stringSetter("font size")),
		string(apply.KindSetFontWeight):      onTree((*Tree).setFontWeight),
		string(apply.KindSetItalic):          onTree((*Tree).setItalic),
		string(apply.KindSetWidth):           onTree(stringSetter("width")),
		string(apply.KindSetHeight):          onTree(stringSetter("height")),
		string(apply.KindSubscribe):          onTree((*Tree).subscribe),
		string(apply.KindNextChunk):          onTree((*Tree).nextChunk),
	}
}

// onTree adapts a tree mutation to apply.Handler. The mutation runs under
// the tree's write lock.
func onTree(fn func(*Tree, value.Object) error) apply.Handler {
	return apply.HandlerFunc(func(reg apply.Registry, p value.Object) error {
		t, ok := reg.(*Tree)
		if !ok || t == nil {
			return fmt.Errorf("%w: %T", ErrUnsupportedRegistry, reg)
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		return fn(t, p)
	})
}

// create registers a new detached node. Re-creating an existing reference
// replaces its type and keeps its position.
func (t *Tree) create(p value.Object) error {
	c, err := DecodeCreate(p)
	if err != nil {
		return err
	}
	if c.Target == RootRef {
		return fmt.Errorf("%w: cannot recreate root", ErrBadPayload)
	}
	if n, ok := t.nodes[c.Target]; ok {
		n.kind = c.Type
		return nil
	}
	t.nodes[c.Target] = &Node{ref: c.Target, kind: c.Type, props: value.Object{}}
	return nil
}

func (t *Tree) childPair(p value.Object) (child, container *Node, err error) {
	c, err := DecodeChild(p)
	if err != nil {
		return nil, nil, err
	}
	if child, err = t.get(c.Target); err != nil {
		return nil, nil, err
	}
	if container, err = t.get(c.Container); err != nil {
		return nil, nil, err
	}
	if child == t.root {
		return nil, nil, fmt.Errorf("%w: root cannot be a child", ErrBadPayload)
	}
	for anc := container; anc != nil; anc = anc.parent {
		if anc == child {
			return nil, nil, fmt.Errorf("%w: %s would contain itself", ErrBadPayload, child.ref)
		}
	}
	return child, container, nil
}

// setChild makes the target the single child of the container.
func (t *Tree) setChild(p value.Object) error {
	child, container, err := t.childPair(p)
	if err != nil {
		return err
	}
	child.detach()
	for _, old := range container.children {
		old.parent = nil
	}
	container.children = []*Node{child}
	child.parent = container
	return nil
}

func (t *Tree) appendChild(p value.Object) error {
	child, container, err := t.childPair(p)
	if err != nil {
		return err
	}
	child.detach()
	container.children = append(container.children, child)
	child.parent = container
	return nil
}

// removeChild detaches the target from the container. The node stays
// registered so that it can be attached again.
func (t *Tree) removeChild(p value.Object) error {
	child, container, err := t.childPair(p)
	if err != nil {
		return err
	}
	if child.parent != container {
		return fmt.Errorf("%w: %s is not a child of %s", ErrBadPayload, child.ref, container.ref)
	}
	child.detach()
	return nil
}

func (t *Tree) setText(p value.Object) error {
	tp, err := DecodeText(p)
	if err != nil {
		return err
	}
	n, err := t.get(tp.Target)
	if err != nil {
		return err
	}
	n.props["text"] = value.String(tp.Text)
	return nil
}

func colorSetter(key string) func(*Tree, value.Object) error {
	return func(t *Tree, p value.Object) error {
		cp, err := DecodeColor(p, key)
		if err != nil {
			return err
		}
		n, err := t.get(cp.Target)
		if err != nil {
			return err
		}
		n.props[key] = cp.Color.Value()
		return nil
	}
}

func stringSetter(key string) func(*Tree, value.Object) error {
	return func(t *Tree, p value.Object) error {
		sp, err := DecodeStringProp(p, key)
		if err != nil {
			return err
		}
		n, err := t.get(sp.Target)
		if err != nil {
			return err
		}
		n.props[key] = value.String(sp.Value)
		return nil
	}
}

func (t *Tree) setFontWeight(p value.Object) error {
	fw, err := DecodeFontWeight(p)
	if err != nil {
		return err
	}
	n, err := t.get(fw.Target)
	if err != nil {
		return err
	}
	n.props["font weight"] = value.Int(fw.Weight)
	return nil
}

func (t *Tree) setItalic(p value.Object) error {
	ip, err := DecodeItalic(p)
	if err != nil {
		return err
	}
	n, err := t.get(ip.Target)
	if err != nil {
		return err
	}
	n.props["italic"] = value.Bool(ip.Italic)
	return nil
}

func (t *Tree) subscribe(p value.Object) error {
	sp, err := DecodeSubscribe(p)
	if err != nil {
		return err
	}
	n, err := t.get(sp.Target)
	if err != nil {
		return err
	}
	if !slices.Contains(n.events, sp.Event) {
		n.events = append(n.events, sp.Event)
	}
	return nil
}

// nextChunk counts chunk requests on the target node.
func (t *Tree) nextChunk(p value.Object) error {
	ref, err := target(p)
	if err != nil {
		return err
	}
	n, err := t.get(ref)
	if err != nil {
		return err
	}
	count, _ := n.props.Int("chunk requests")
	n.props["chunk requests"] = value.Int(count + 1)
	return nil
}

// Subscribed reports whether the server asked for event on ref.
func (t *Tree) Subscribed(ref, event string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[ref]
	return ok && slices.Contains(n.events, event)
}
