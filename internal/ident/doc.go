// Package ident implements the compact ordinal identifier format shared by
// client events and server instructions.
//
// An identifier is the marker character '#' followed by a non-negative
// base-10 integer: "#0", "#17", "#123". Both streams go through Decode so
// that events and instructions share one validation rule.
//
// The server renders "no identifier yet" as "#?" (see Unset). That value is
// recognised by IsUnset but is still malformed as far as Decode is concerned.
package ident
