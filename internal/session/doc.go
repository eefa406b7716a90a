// Package session implements the client side of the synchronization
// protocol.
//
// A Controller binds a client identity with the server (bootstrap), then
// runs periodic synchronization cycles. Each cycle sends every
// unacknowledged event together with the watermark of applied instructions,
// applies the returned instruction batch, and prunes the events the server
// acknowledged.
//
// State machine:
//
//	Unbound --bootstrap--> Bootstrapping --id--> Active
//	   ^                        |                  |
//	   +-------- failure -------+                  |
//	   +------ reset / identity loss --------------+
//
// All exchanges are driven by the single goroutine running Run, so cycles
// never overlap and the watermark and buffer are only mutated there. Emit is
// safe to call from any goroutine.
//
// Guarantees:
//   - An instruction is applied at most once per session
//   - An event is resent on every cycle until acknowledged
//   - Bootstrap retries indefinitely after a fixed backoff
package session
