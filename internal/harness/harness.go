package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/tether/internal/apply"
	"github.com/roach88/tether/internal/ident"
	"github.com/roach88/tether/internal/presentation"
	"github.com/roach88/tether/internal/session"
	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/testutil"
	"github.com/roach88/tether/internal/transport"
	"github.com/roach88/tether/internal/value"
	"github.com/roach88/tether/internal/wire"
)

// Harness executes one scenario against a real session controller.
// The server side is a transport.Script fed one reply per exchange step, so
// every run is deterministic.
type Harness struct {
	session *session.Controller
	script  *transport.Script
	tree    *presentation.Tree
	store   *store.Store
	journal *store.Journal
	seq     *ident.Counter
	logger  *slog.Logger

	result *Result

	// outcomes buffers instruction outcomes until the request that
	// produced them has been traced.
	outcomes []apply.Outcome
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory journal for isolation.
//
// Execution flow:
// 1. Create in-memory journal and scripted transport
// 2. Build a session over a headless presentation tree
// 3. Execute steps, checking per-step expectations
// 4. Capture final state and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	runToken := testutil.NewFixedRunToken(scenario.RunToken).Generate()
	journal, err := store.NewJournal(ctx, st, runToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal: %w", err)
	}

	h := &Harness{
		script:  transport.NewScript(),
		tree:    presentation.NewTree(),
		store:   st,
		journal: journal,
		seq:     ident.NewCounter(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:  NewResult(),
	}
	h.session = session.New(h.script,
		session.WithBackend(h.tree, h.countCalls(presentation.Handlers())),
		session.WithJournal(journal),
		session.WithLogger(h.logger),
		session.WithObserver(apply.ObserverFunc(func(_ context.Context, o apply.Outcome) {
			h.outcomes = append(h.outcomes, o)
		})),
	)

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step); err != nil {
			return nil, fmt.Errorf("failed to execute step %d: %w", i, err)
		}
	}

	if err := h.capture(ctx); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// countCalls wraps every handler so the harness can count invocations.
func (h *Harness) countCalls(table apply.Table) apply.Table {
	counted := make(apply.Table, len(table))
	for kind, handler := range table {
		counted[kind] = apply.HandlerFunc(func(reg apply.Registry, p value.Object) error {
			h.result.HandlerCalls[kind]++
			return handler.Apply(reg, p)
		})
	}
	return counted
}

func (h *Harness) trace(ev TraceEvent) {
	ev.Seq = h.seq.Next()
	h.result.Trace = append(h.result.Trace, ev)
}

func (h *Harness) execute(ctx context.Context, index int, step Step) error {
	if step.Emit != nil {
		payload, err := value.ObjectFromAny(step.Emit.Data)
		if err != nil {
			return fmt.Errorf("emit data: %w", err)
		}
		ev := h.session.Emit(step.Emit.Target, step.Emit.Type, payload)
		h.trace(TraceEvent{Type: TraceEmit, ID: ev.ID, Target: ev.Target, Kind: ev.Kind})
		return nil
	}

	x, run := step.Bootstrap, h.session.Bootstrap
	if x == nil {
		x, run = step.Sync, h.session.Synchronize
	}

	if x.Fail {
		h.script.Push(transport.Fail())
	} else {
		body, err := x.body()
		if err != nil {
			return fmt.Errorf("respond: %w", err)
		}
		h.script.Push(transport.Reply{Body: body})
	}

	before := len(h.script.Requests())
	h.outcomes = h.outcomes[:0]
	err := run(ctx)

	requests := h.script.Requests()
	if len(requests) > before {
		h.traceRequest(requests[len(requests)-1])
	} else {
		// The step never reached the server; drop the unused reply.
		h.script.Drain()
	}
	for _, o := range h.outcomes {
		h.trace(TraceEvent{Type: TraceInstruction, ID: o.ID, Kind: o.Kind, Status: string(o.Status)})
	}

	outcome := Classify(err)
	h.trace(TraceEvent{Type: TraceResult, Outcome: outcome})
	if x.Expect != "" && x.Expect != outcome {
		h.result.AddError(fmt.Sprintf("steps[%d]: expected outcome %s, got %s (%v)", index, x.Expect, outcome, err))
	}
	h.logger.Info("step completed", "step", index, "outcome", outcome)
	return nil
}

func (h *Harness) traceRequest(req wire.Request) {
	ev := TraceEvent{Type: TraceRequest, Action: string(req.Action), LastUpdate: req.LastUpdate}
	if req.Action == wire.ActionSynchronize {
		ev.Events = eventIDs(req.Events)
	}
	h.trace(ev)
}

// capture records the final session state into the result.
func (h *Harness) capture(ctx context.Context) error {
	r := h.result
	r.State = h.session.State().String()
	r.Identity = h.session.Identity()
	r.Watermark = h.session.Watermark()
	r.Pending = eventIDs(h.session.Pending())

	var b strings.Builder
	if err := h.tree.Render(&b); err != nil {
		return fmt.Errorf("render tree: %w", err)
	}
	r.Render = b.String()

	r.Requests = make([]RequestSummary, 0)
	for _, req := range h.script.Requests() {
		sum := RequestSummary{Action: string(req.Action), Client: req.Client, LastUpdate: req.LastUpdate}
		if req.Action == wire.ActionSynchronize {
			sum.Events = eventIDs(req.Events)
		}
		r.Requests = append(r.Requests, sum)
	}

	exchanges, err := h.store.ReadExchanges(ctx, h.journal.RunToken())
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	r.Journaled = len(exchanges)
	return nil
}

// Classify names the outcome of a Bootstrap or Synchronize call.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, session.ErrIdentityLost):
		return OutcomeIdentityLost
	case errors.Is(err, session.ErrSessionReset):
		return OutcomeReset
	case errors.Is(err, transport.ErrTransportFailure):
		return OutcomeTransportFailure
	case errors.Is(err, session.ErrBadResponse):
		return OutcomeBadResponse
	case errors.Is(err, session.ErrNotBound):
		return OutcomeNotBound
	default:
		return OutcomeError
	}
}

func eventIDs(events []wire.Event) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids
}
