// Package server is a reference implementation of the server side of the
// synchronization protocol.
//
// It owns the client registry, hands out identities, dispatches events to
// an Application and keeps each client's pending instructions until they
// are acknowledged. A watchdog expires clients that stop synchronizing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tether/internal/apply"
	"github.com/roach88/tether/internal/clock"
	"github.com/roach88/tether/internal/ident"
	"github.com/roach88/tether/internal/transport"
	"github.com/roach88/tether/internal/wire"
)

const (
	// DefaultClientLifetime is how long a client may go without
	// synchronizing before the watchdog drops it.
	DefaultClientLifetime = 3 * time.Minute

	// WatchdogPeriod is the interval between expiry sweeps.
	WatchdogPeriod = 100 * time.Millisecond

	statsPeriod = time.Minute
)

// Application is the server-side program behind every client.
type Application interface {
	// Start builds the initial presentation of a new client.
	Start(c *Client)
	// HandleEvent reacts to one event from a node the client created.
	HandleEvent(c *Client, ev wire.Event)
	// Stop releases per-client state after terminate or expiry.
	Stop(c *Client)
}

// Server holds the client registry.
//
// Thread-safety: Server is safe for concurrent use.
type Server struct {
	app      Application
	clock    clock.Clock
	logger   *slog.Logger
	lifetime time.Duration

	mu      sync.Mutex
	clients map[string]*Client
	ids     *ident.Counter

	actions atomic.Int64
}

var _ transport.Transport = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used for client deadlines and the watchdog.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClientLifetime sets how long an idle client survives.
func WithClientLifetime(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// New creates a server running app for every client.
func New(app Application, opts ...Option) *Server {
	s := &Server{
		app:      app,
		clock:    clock.Real{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		lifetime: DefaultClientLifetime,
		clients:  map[string]*Client{},
		ids:      ident.NewCounter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns a registered client.
func (s *Server) Client(id string) (*Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	return c, ok
}

// Clients returns the number of registered clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Reset asks a client to discard its session. The client drops its state,
// bootstraps again and the old identity expires through the watchdog.
func (s *Server) Reset(id string) bool {
	c, ok := s.Client(id)
	if !ok {
		return false
	}
	c.Push(apply.KindReset, "", nil)
	s.logger.Info("client reset requested", "client", id)
	return true
}

// Handle processes one request and returns the response document.
func (s *Server) Handle(req wire.Request) any {
	s.actions.Add(1)
	switch req.Action {
	case wire.ActionNewInstance:
		return s.create()
	case wire.ActionSynchronize:
		return s.synchronize(req)
	case wire.ActionTerminate:
		return s.terminate(req.Client)
	default:
		return nil
	}
}

// Exchange lets a Server stand in for the network: it implements
// transport.Transport in-process.
func (s *Server) Exchange(ctx context.Context, req wire.Request) ([]byte, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	body, err := json.Marshal(s.Handle(req))
	if err != nil {
		s.logger.Warn("encode response", "action", req.Action, "error", err)
		return nil, false
	}
	return body, true
}

func (s *Server) create() wire.BootstrapResponse {
	id := s.ids.NextID()
	c := newClient(id, s.clock.Now().Add(s.lifetime))

	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()

	s.app.Start(c)
	s.logger.Info("client created", "client", id)
	return wire.BootstrapResponse{ID: id}
}

func (s *Server) synchronize(req wire.Request) wire.SyncResponse {
	c, ok := s.Client(req.Client)
	if !ok {
		s.logger.Debug("synchronize from unknown client", "client", req.Client)
		return wire.UnknownClientResponse()
	}
	c.touch(s.clock.Now().Add(s.lifetime))

	for _, ev := range req.Events {
		c.mu.Lock()
		dispatch, fresh := c.accept(ev)
		c.mu.Unlock()
		if !fresh {
			continue
		}
		if !dispatch {
			s.logger.Debug("event for unknown widget", "client", c.id, "event", ev.ID, "widget", ev.Target)
			continue
		}
		s.app.HandleEvent(c, ev)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.acknowledge(req.LastUpdate)
	updates := append([]wire.Instruction(nil), c.pending...)
	return wire.NewSyncResponse(updates, c.lastEventLocked())
}

func (s *Server) terminate(id string) bool {
	s.mu.Lock()
	c, ok := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.app.Stop(c)
	s.logger.Info("client terminated", "client", id)
	return true
}

// sweep drops every client whose deadline has passed.
func (s *Server) sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	var dead []*Client
	for id, c := range s.clients {
		if c.expired(now) {
			dead = append(dead, c)
			delete(s.clients, id)
		}
	}
	s.mu.Unlock()

	for _, c := range dead {
		s.app.Stop(c)
		s.logger.Info("client expired", "client", c.id)
	}
	return len(dead)
}

// Run drives the watchdog until ctx is cancelled. Every minute it logs how
// many requests were handled.
func (s *Server) Run(ctx context.Context) error {
	watchdog := s.clock.NewTicker(WatchdogPeriod)
	defer watchdog.Stop()
	stats := s.clock.NewTicker(statsPeriod)
	defer stats.Stop()

	s.logger.Info("watchdog started", "lifetime", s.lifetime)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watchdog.C():
			s.sweep()
		case <-stats.C():
			n := s.actions.Swap(0)
			if n == 0 {
				s.logger.Info("server processed no actions")
				continue
			}
			s.logger.Info("server processed actions",
				"count", n,
				"per_second", fmt.Sprintf("%.1f", float64(n)/statsPeriod.Seconds()))
		}
	}
}
