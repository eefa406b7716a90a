package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tether/internal/apply"
	"github.com/roach88/tether/internal/clock"
	"github.com/roach88/tether/internal/events"
	"github.com/roach88/tether/internal/ident"
	"github.com/roach88/tether/internal/presentation"
	"github.com/roach88/tether/internal/transport"
	"github.com/roach88/tether/internal/value"
	"github.com/roach88/tether/internal/wire"
)

// Controller owns one client session.
type Controller struct {
	transport transport.Transport
	backend   Backend
	table     apply.Table
	applier   *apply.Applier
	buffer    *events.Buffer
	clock     clock.Clock
	logger    *slog.Logger
	journal   Journal
	observers []apply.Observer

	period   time.Duration
	backoff  time.Duration
	timeout  time.Duration
	debounce time.Duration

	mu       sync.RWMutex
	state    State
	identity string

	// trigger is a 1-slot channel; multiple Emits before the loop wakes
	// coalesce into one signal.
	trigger chan struct{}
	running atomic.Bool

	// terminating tracks the background terminate request sent by teardown.
	terminating sync.WaitGroup

	// outcomes collects per-batch results for the journal. Loop-only.
	outcomes []apply.Outcome
}

// New creates an unbound controller talking through tr.
func New(tr transport.Transport, opts ...Option) *Controller {
	c := &Controller{
		transport: tr,
		clock:     clock.Real{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		period:    DefaultPeriod,
		backoff:   DefaultBackoff,
		timeout:   DefaultTimeout,
		buffer:    events.NewBuffer(),
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backend == nil {
		tree := presentation.NewTree()
		c.backend = tree
		c.table = presentation.Handlers()
	}

	applierOpts := []apply.Option{
		apply.WithLogger(c.logger),
		apply.WithObserver(apply.ObserverFunc(func(_ context.Context, o apply.Outcome) {
			c.outcomes = append(c.outcomes, o)
		})),
	}
	for _, o := range c.observers {
		applierOpts = append(applierOpts, apply.WithObserver(o))
	}
	c.applier = apply.New(c.backend, c.table, applierOpts...)
	return c
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Identity returns the bound identity, or "" when unbound.
func (c *Controller) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Watermark returns the highest applied instruction id.
func (c *Controller) Watermark() int64 {
	return c.applier.Watermark()
}

// Pending returns the unacknowledged events in order.
func (c *Controller) Pending() []wire.Event {
	return c.buffer.Snapshot()
}

// Backend returns the presentation surface.
func (c *Controller) Backend() Backend {
	return c.backend
}

// Emit buffers an event and asks the loop for an early exchange. Events
// emitted while unbound are sent by the first cycle after bootstrap.
func (c *Controller) Emit(target, kind string, payload value.Object) wire.Event {
	ev := c.buffer.Append(target, kind, payload)
	c.logger.Debug("event buffered", "id", ev.ID, "target", target, "type", kind)
	select {
	case c.trigger <- struct{}{}:
	default:
	}
	return ev
}

func (c *Controller) setState(s State, identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.identity = identity
}

func (c *Controller) exchange(ctx context.Context, req wire.Request) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.transport.Exchange(ctx, req)
}

// Bootstrap requests a new identity. On success the session is Active; on
// failure it is Unbound and the error wraps transport.ErrTransportFailure or
// ErrBadResponse. Bootstrapping an Active session is a no-op.
func (c *Controller) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateActive:
		c.mu.Unlock()
		return nil
	case StateBootstrapping:
		c.mu.Unlock()
		return ErrBootstrapInFlight
	}
	c.state = StateBootstrapping
	c.mu.Unlock()

	req := wire.NewInstance()
	raw, ok := c.exchange(ctx, req)
	c.record(ctx, Exchange{Request: req, OK: ok, Response: raw})
	if !ok {
		c.setState(StateUnbound, "")
		c.logger.Warn("bootstrap failed", "error", transport.ErrTransportFailure)
		return fmt.Errorf("bootstrap: %w", transport.ErrTransportFailure)
	}

	resp, err := wire.DecodeBootstrap(raw)
	if err == nil && ident.IsUnset(resp.ID) {
		err = fmt.Errorf("server returned unset id %q", resp.ID)
	}
	if err != nil {
		c.setState(StateUnbound, "")
		c.logger.Warn("bootstrap failed", "error", err)
		return fmt.Errorf("bootstrap: %w: %w", ErrBadResponse, err)
	}

	c.setState(StateActive, resp.ID)
	c.logger.Info("session bound", "identity", resp.ID)
	if c.journal != nil {
		if err := c.journal.BeginSession(ctx, resp.ID); err != nil {
			c.logger.Warn("journal write failed", "error", err)
		}
	}
	return nil
}

// Synchronize runs one cycle. A failed or undecodable exchange changes
// nothing. A reset or identity loss resets the session and returns an error
// wrapping ErrSessionReset.
func (c *Controller) Synchronize(ctx context.Context) error {
	c.mu.RLock()
	state, id := c.state, c.identity
	c.mu.RUnlock()
	if state != StateActive {
		return ErrNotBound
	}

	req := wire.Synchronize(id, c.buffer.Snapshot(), ident.Encode(c.applier.Watermark()))
	raw, ok := c.exchange(ctx, req)
	x := Exchange{Identity: id, Request: req, OK: ok, Response: raw}
	if !ok {
		c.record(ctx, x)
		c.logger.Debug("sync exchange failed", "identity", id, "pending", len(req.Events))
		return fmt.Errorf("synchronize: %w", transport.ErrTransportFailure)
	}

	resp, err := wire.DecodeSync(raw)
	if err != nil {
		c.record(ctx, x)
		c.logger.Warn("undecodable sync response", "identity", id, "error", err)
		return fmt.Errorf("synchronize: %w: %w", ErrBadResponse, err)
	}

	if resp.Outcome() == wire.ResultUnknownClient {
		c.record(ctx, x)
		c.reset(ctx, id, ReasonIdentityLost)
		return fmt.Errorf("synchronize: %w: %w", ErrSessionReset, ErrIdentityLost)
	}

	c.outcomes = c.outcomes[:0]
	rep := c.applier.Apply(ctx, resp.Updates)
	x.Outcomes = append([]apply.Outcome(nil), c.outcomes...)
	x.Ack = resp.LastEvent

	if rep.Reset {
		c.record(ctx, x)
		c.reset(ctx, id, ReasonServerReset)
		return fmt.Errorf("synchronize: %w", ErrSessionReset)
	}

	if !ident.IsUnset(resp.LastEvent) {
		n, err := c.buffer.PruneThrough(resp.LastEvent)
		if err != nil {
			c.logger.Warn("ignoring malformed acknowledgment", "ack", resp.LastEvent, "error", err)
		}
		x.Pruned = n
	}
	c.record(ctx, x)

	if rep.Total() > 0 || x.Pruned > 0 {
		c.logger.Debug("sync cycle",
			"identity", id,
			"applied", rep.Applied,
			"skipped", rep.Skipped,
			"failed", rep.Failed,
			"unknown", rep.Unknown,
			"rejected", rep.Rejected,
			"watermark", rep.Watermark,
			"pruned", x.Pruned)
	}
	return nil
}

// reset returns the controller to a fresh Unbound session.
func (c *Controller) reset(ctx context.Context, id, reason string) {
	c.setState(StateUnbound, "")
	c.backend.Clear()
	c.buffer.Clear()
	c.applier.Reset()
	c.logger.Info("session reset", "identity", id, "reason", reason)
	if c.journal != nil {
		if err := c.journal.EndSession(ctx, id, reason); err != nil {
			c.logger.Warn("journal write failed", "error", err)
		}
	}
}

func (c *Controller) record(ctx context.Context, x Exchange) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordExchange(ctx, x); err != nil {
		c.logger.Warn("journal write failed", "error", err)
	}
}

// Run drives the session until ctx is cancelled: bootstrap with backoff,
// then a cycle every period and on demand after Emit. Ticks and triggers
// that arrive during a cycle collapse into one follow-up. Cancellation does
// not abort an exchange already in flight. On exit a bound session is
// discarded, a terminate request is sent in the background and Run returns
// ctx.Err(). Run may be called again after it returns; the next session
// starts at watermark 0 with an empty buffer.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.logger.Info("session loop starting", "period", c.period, "backoff", c.backoff)

	// Exchanges run detached from ctx so that shutdown never interrupts
	// one half-way.
	work := context.WithoutCancel(ctx)

	var (
		ticker    clock.Ticker
		tickC     <-chan time.Time
		retryC    <-chan time.Time
		debounceC <-chan time.Time
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
	}
	defer stopTicker()

	bootstrapNow := true
	cycle := func() {
		debounceC = nil
		// This exchange carries every pending event, so signals queued so
		// far are already served.
		select {
		case <-tickC:
		default:
		}
		select {
		case <-c.trigger:
		default:
		}
		err := c.Synchronize(work)
		if errors.Is(err, ErrSessionReset) {
			stopTicker()
			bootstrapNow = true
		}
	}

	for {
		for bootstrapNow && ctx.Err() == nil {
			bootstrapNow = false
			if err := c.Bootstrap(work); err != nil {
				retryC = c.clock.After(c.backoff)
				break
			}
			ticker = c.clock.NewTicker(c.period)
			tickC = ticker.C()
			cycle()
		}

		select {
		case <-ctx.Done():
			stopTicker()
			c.teardown()
			c.logger.Info("session loop stopping", "reason", ctx.Err())
			return ctx.Err()

		case <-retryC:
			retryC = nil
			bootstrapNow = true

		case <-tickC:
			cycle()

		case <-c.trigger:
			if c.State() != StateActive {
				continue
			}
			if c.debounce <= 0 {
				cycle()
			} else if debounceC == nil {
				debounceC = c.clock.After(c.debounce)
			}

		case <-debounceC:
			cycle()
		}
	}
}

// teardown ends a bound session and tells the server the client is gone.
// The presentation tree is kept so callers can inspect the final state. The
// terminate request is sent once in the background; AwaitTerminate waits
// for it.
func (c *Controller) teardown() {
	id := c.Identity()
	if id == "" {
		return
	}
	c.setState(StateUnbound, "")
	c.buffer.Clear()
	c.applier.Reset()
	if c.journal != nil {
		if err := c.journal.EndSession(context.Background(), id, ReasonShutdown); err != nil {
			c.logger.Warn("journal write failed", "error", err)
		}
	}

	tr := c.transport
	c.terminating.Add(1)
	go func() {
		defer c.terminating.Done()
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTerminateTimeout)
		defer cancel()
		tr.Exchange(ctx, wire.Terminate(id))
	}()
}

// AwaitTerminate blocks until the terminate request started by Run has
// finished or ctx is done. It returns immediately when none was sent.
func (c *Controller) AwaitTerminate(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.terminating.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
