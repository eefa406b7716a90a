package presentation

import (
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/value"
)

var (
	// ErrNoSuchNode is returned when an instruction names an unknown node.
	ErrNoSuchNode = errors.New("no such node")

	// ErrBadPayload is returned when a payload lacks a required field or
	// carries the wrong type.
	ErrBadPayload = errors.New("bad payload")
)

// CreatePayload creates a node. Older servers name the new node "widget".
type CreatePayload struct {
	Target string
	Type   string
}

// ChildPayload attaches or detaches Target under Container.
type ChildPayload struct {
	Target    string
	Container string
}

// TextPayload sets the text of a node.
type TextPayload struct {
	Target string
	Text   string
}

// Color is an RGB triple.
type Color struct {
	R, G, B int64
}

// Value converts the color back into a payload object.
func (c Color) Value() value.Object {
	return value.Of(value.O("r", value.Int(c.R)), value.O("g", value.Int(c.G)), value.O("b", value.Int(c.B)))
}

// ColorPayload sets a foreground or background color.
type ColorPayload struct {
	Target string
	Color  Color
}

// StringPropPayload sets a string-valued property such as font face,
// font size, width or height.
type StringPropPayload struct {
	Target string
	Value  string
}

// FontWeightPayload sets the numeric font weight.
type FontWeightPayload struct {
	Target string
	Weight int64
}

// ItalicPayload toggles italics.
type ItalicPayload struct {
	Target string
	Italic bool
}

// SubscribePayload asks the client to report an event type for a node.
type SubscribePayload struct {
	Target string
	Event  string
}

func requireString(p value.Object, key string) (string, error) {
	s, ok := p.String(key)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: missing string field %q", ErrBadPayload, key)
	}
	return s, nil
}

func target(p value.Object) (string, error) {
	if s, ok := p.String("target"); ok && s != "" {
		return s, nil
	}
	if s, ok := p.String("widget"); ok && s != "" {
		return s, nil
	}
	return "", fmt.Errorf("%w: missing target", ErrBadPayload)
}

// DecodeCreate decodes a create or create widget payload.
func DecodeCreate(p value.Object) (CreatePayload, error) {
	ref, err := target(p)
	if err != nil {
		return CreatePayload{}, err
	}
	typ, err := requireString(p, "type")
	if err != nil {
		return CreatePayload{}, err
	}
	return CreatePayload{Target: ref, Type: typ}, nil
}

// DecodeChild decodes a set child, append child or remove child payload.
func DecodeChild(p value.Object) (ChildPayload, error) {
	ref, err := target(p)
	if err != nil {
		return ChildPayload{}, err
	}
	container, err := requireString(p, "container")
	if err != nil {
		return ChildPayload{}, err
	}
	return ChildPayload{Target: ref, Container: container}, nil
}

// DecodeText decodes a set text payload. Empty text is allowed.
func DecodeText(p value.Object) (TextPayload, error) {
	ref, err := target(p)
	if err != nil {
		return TextPayload{}, err
	}
	text, ok := p.String("text")
	if !ok {
		return TextPayload{}, fmt.Errorf("%w: missing string field %q", ErrBadPayload, "text")
	}
	return TextPayload{Target: ref, Text: text}, nil
}

// DecodeColor decodes the color stored under key.
func DecodeColor(p value.Object, key string) (ColorPayload, error) {
	ref, err := target(p)
	if err != nil {
		return ColorPayload{}, err
	}
	obj, ok := p.Object(key)
	if !ok {
		return ColorPayload{}, fmt.Errorf("%w: missing object field %q", ErrBadPayload, key)
	}
	var c Color
	for _, ch := range []struct {
		name string
		dst  *int64
	}{{"r", &c.R}, {"g", &c.G}, {"b", &c.B}} {
		n, ok := obj.Int(ch.name)
		if !ok || n < 0 || n > 255 {
			return ColorPayload{}, fmt.Errorf("%w: color channel %q out of range", ErrBadPayload, ch.name)
		}
		*ch.dst = n
	}
	return ColorPayload{Target: ref, Color: c}, nil
}

// DecodeStringProp decodes a string property stored under key.
func DecodeStringProp(p value.Object, key string) (StringPropPayload, error) {
	ref, err := target(p)
	if err != nil {
		return StringPropPayload{}, err
	}
	s, err := requireString(p, key)
	if err != nil {
		return StringPropPayload{}, err
	}
	return StringPropPayload{Target: ref, Value: s}, nil
}

// DecodeFontWeight decodes a set font weight payload.
func DecodeFontWeight(p value.Object) (FontWeightPayload, error) {
	ref, err := target(p)
	if err != nil {
		return FontWeightPayload{}, err
	}
	w, ok := p.Int("font weight")
	if !ok || w <= 0 {
		return FontWeightPayload{}, fmt.Errorf("%w: invalid font weight", ErrBadPayload)
	}
	return FontWeightPayload{Target: ref, Weight: w}, nil
}

// DecodeItalic decodes a set italic payload.
func DecodeItalic(p value.Object) (ItalicPayload, error) {
	ref, err := target(p)
	if err != nil {
		return ItalicPayload{}, err
	}
	b, ok := p.Bool("italic")
	if !ok {
		return ItalicPayload{}, fmt.Errorf("%w: missing bool field %q", ErrBadPayload, "italic")
	}
	return ItalicPayload{Target: ref, Italic: b}, nil
}

// DecodeSubscribe decodes a subscribe payload.
func DecodeSubscribe(p value.Object) (SubscribePayload, error) {
	ref, err := target(p)
	if err != nil {
		return SubscribePayload{}, err
	}
	ev, err := requireString(p, "event")
	if err != nil {
		return SubscribePayload{}, err
	}
	return SubscribePayload{Target: ref, Event: ev}, nil
}
