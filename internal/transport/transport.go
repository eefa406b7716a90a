// Package transport carries protocol requests to the server.
//
// A Transport never returns an error to the session core: any failure
// (network error, non-2xx status, timeout, cancellation) is reported as
// ok=false and the caller decides whether to retry.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/tether/internal/wire"
)

// ErrTransportFailure marks an exchange that produced no usable response.
var ErrTransportFailure = errors.New("transport failure")

// Transport performs one request/response exchange.
type Transport interface {
	Exchange(ctx context.Context, req wire.Request) (raw []byte, ok bool)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req wire.Request) ([]byte, bool)

// Exchange calls f.
func (f Func) Exchange(ctx context.Context, req wire.Request) ([]byte, bool) {
	return f(ctx, req)
}

// Reply is one scripted server response.
type Reply struct {
	Body []byte
	Fail bool
}

// OK returns a successful reply with the given body.
func OK(body string) Reply {
	return Reply{Body: []byte(body)}
}

// Fail returns a failed exchange.
func Fail() Reply {
	return Reply{Fail: true}
}

// Script replays a fixed sequence of replies and records every request.
// Once the script is exhausted every exchange fails.
//
// Thread-safety: Script is safe for concurrent use via internal mutex.
type Script struct {
	mu       sync.Mutex
	replies  []Reply
	requests []wire.Request
}

// NewScript creates a script with the given replies.
func NewScript(replies ...Reply) *Script {
	return &Script{replies: replies}
}

// Push appends replies to the script.
func (s *Script) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Exchange records req and returns the next scripted reply.
func (s *Script) Exchange(ctx context.Context, req wire.Request) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, cloneRequest(req))
	if ctx.Err() != nil || len(s.replies) == 0 {
		return nil, false
	}

	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.Fail {
		return nil, false
	}
	return r.Body, true
}

// Requests returns every request seen so far.
func (s *Script) Requests() []wire.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Last returns the most recent request.
func (s *Script) Last() (wire.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return wire.Request{}, false
	}
	return s.requests[len(s.requests)-1], true
}

// Remaining returns how many replies are left.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

// Drain discards the remaining replies and returns how many there were.
func (s *Script) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.replies)
	s.replies = nil
	return n
}

func cloneRequest(req wire.Request) wire.Request {
	if req.Events != nil {
		events := make([]wire.Event, len(req.Events))
		copy(events, req.Events)
		req.Events = events
	}
	return req
}
