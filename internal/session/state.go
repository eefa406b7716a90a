package session

import (
	"context"
	"errors"

	"github.com/roach88/tether/internal/apply"
	"github.com/roach88/tether/internal/wire"
)

// State is the controller lifecycle state.
type State int

const (
	StateUnbound State = iota
	StateBootstrapping
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBootstrapping:
		return "bootstrapping"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, bool) {
	for _, st := range []State{StateUnbound, StateBootstrapping, StateActive} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// Identity is the server-issued client id. Empty means unbound.
type Identity = string

var (
	// ErrSessionReset is returned by Synchronize after the session was reset,
	// either on server request or because the server lost the identity.
	ErrSessionReset = errors.New("session reset")

	// ErrIdentityLost is returned alongside ErrSessionReset when the server
	// no longer recognises the identity.
	ErrIdentityLost = errors.New("identity lost")

	// ErrBadResponse marks a response body that could not be decoded.
	ErrBadResponse = errors.New("bad response")

	// ErrNotBound is returned by Synchronize before a successful bootstrap.
	ErrNotBound = errors.New("session not bound")

	// ErrBootstrapInFlight is returned when a second bootstrap is attempted
	// while one is running.
	ErrBootstrapInFlight = errors.New("bootstrap already in flight")

	// ErrAlreadyRunning is returned by Run when the loop is already active.
	ErrAlreadyRunning = errors.New("session already running")
)

// Reset reasons recorded in the journal.
const (
	ReasonServerReset  = "server reset"
	ReasonIdentityLost = "identity lost"
	ReasonShutdown     = "shutdown"
)

// Backend is the presentation surface driven by instructions.
type Backend interface {
	apply.Registry
	Clear()
}

// Exchange is one request/response pair as seen by the controller.
type Exchange struct {
	Identity string
	Request  wire.Request
	OK       bool
	Response []byte
	Outcomes []apply.Outcome
	Ack      string
	Pruned   int
}

// Journal records session history. Write failures are logged and never
// affect the session.
type Journal interface {
	BeginSession(ctx context.Context, identity string) error
	EndSession(ctx context.Context, identity, reason string) error
	RecordExchange(ctx context.Context, x Exchange) error
}
