package apply

// Kind is the action name carried by an instruction.
type Kind string

// Kinds emitted by the server.
const (
	KindCreate             Kind = "create"
	KindCreateWidget       Kind = "create widget"
	KindSetChild           Kind = "set child"
	KindAppendChild        Kind = "append child"
	KindRemoveChild        Kind = "remove child"
	KindSetText            Kind = "set text"
	KindSetColor           Kind = "set color"
	KindSetBackgroundColor Kind = "set background color"
	KindSetFontFace        Kind = "set font face"
	KindSetFontSize        Kind = "set font size"
	KindSetFontWeight      Kind = "set font weight"
	KindSetItalic          Kind = "set italic"
	KindSetWidth           Kind = "set width"
	KindSetHeight          Kind = "set height"
	KindSubscribe          Kind = "subscribe"
	KindNextChunk          Kind = "next chunk"
	KindReset              Kind = "reset"

	// KindUnrecognized classifies any action name not listed above.
	KindUnrecognized Kind = ""
)

var knownKinds = map[Kind]struct{}{
	KindCreate:             {},
	KindCreateWidget:       {},
	KindSetChild:           {},
	KindAppendChild:        {},
	KindRemoveChild:        {},
	KindSetText:            {},
	KindSetColor:           {},
	KindSetBackgroundColor: {},
	KindSetFontFace:        {},
	KindSetFontSize:        {},
	KindSetFontWeight:      {},
	KindSetItalic:          {},
	KindSetWidth:           {},
	KindSetHeight:          {},
	KindSubscribe:          {},
	KindNextChunk:          {},
	KindReset:              {},
}

// ParseKind classifies an action name. Unknown names map to
// KindUnrecognized.
func ParseKind(s string) Kind {
	if _, ok := knownKinds[Kind(s)]; ok {
		return Kind(s)
	}
	return KindUnrecognized
}

// Kinds returns every recognised kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(knownKinds))
	for k := range knownKinds {
		out = append(out, k)
	}
	return out
}

func (k Kind) String() string {
	if k == KindUnrecognized {
		return "unrecognized"
	}
	return string(k)
}
