// Package apply consumes batches of server instructions exactly once.
//
// The Applier keeps a watermark: the highest instruction id applied in the
// current session. An instruction whose id is at or below the watermark is a
// duplicate and is skipped without side effects. Everything else is handed
// to the handler registered for its kind, and the watermark advances to its
// id whether or not the handler succeeded.
package apply

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/roach88/tether/internal/ident"
	"github.com/roach88/tether/internal/wire"
)

// Status is the fate of one instruction.
type Status string

const (
	StatusApplied  Status = "applied"
	StatusSkipped  Status = "skipped"
	StatusRejected Status = "rejected"
	StatusUnknown  Status = "unknown"
	StatusFailed   Status = "failed"
	StatusReset    Status = "reset"
)

// Outcome reports what happened to one instruction.
type Outcome struct {
	ID     string
	Kind   string
	Status Status
	Err    error
}

// Observer receives an Outcome for every instruction in a batch, in the
// order they were processed.
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, o Outcome)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, o Outcome) {
	f(ctx, o)
}

// Report summarises one batch.
type Report struct {
	Applied  int
	Skipped  int
	Rejected int
	Unknown  int
	Failed   int

	// Reset is set when the batch contained a reset instruction. Nothing
	// after it was applied and the watermark is back at 0.
	Reset bool

	// Watermark is the watermark after the batch.
	Watermark int64
}

// Total is the number of instructions accounted for.
func (r Report) Total() int {
	n := r.Applied + r.Skipped + r.Rejected + r.Unknown + r.Failed
	if r.Reset {
		n++
	}
	return n
}

// Applier applies instruction batches to a registry through a handler table.
//
// Apply is meant to be called from a single goroutine (the session loop).
// Watermark may be read concurrently.
type Applier struct {
	reg       Registry
	table     Table
	watermark atomic.Int64
	logger    *slog.Logger
	observers []Observer
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Applier) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(a *Applier) {
		if o != nil {
			a.observers = append(a.observers, o)
		}
	}
}

// New creates an Applier with watermark 0.
func New(reg Registry, table Table, opts ...Option) *Applier {
	a := &Applier{
		reg:    reg,
		table:  table,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Watermark returns the highest applied instruction id.
func (a *Applier) Watermark() int64 {
	return a.watermark.Load()
}

// Reset returns the watermark to 0 for a new session.
func (a *Applier) Reset() {
	a.watermark.Store(0)
}

type decoded struct {
	seq int64
	in  wire.Instruction
	// unset marks a reset sent without an id; it sorts first and is never
	// a duplicate.
	unset bool
}

// Apply processes a batch. Malformed ids are rejected and processing
// continues. Valid instructions are applied in ascending id order; the sort
// is stable so equal ids keep their delivery order and the later copies are
// skipped as duplicates. A reset instruction ends the batch. A reset whose
// id is the unset placeholder is accepted and ordered before the rest.
//
// Cancellation of ctx stops the batch between instructions. Instructions not
// reached stay above the watermark and will be applied on redelivery.
func (a *Applier) Apply(ctx context.Context, batch []wire.Instruction) Report {
	if len(batch) == 0 {
		return Report{Watermark: a.Watermark()}
	}

	var rep Report
	valid := make([]decoded, 0, len(batch))
	for _, in := range batch {
		seq, err := ident.Decode(in.ID)
		if err != nil && ident.IsUnset(in.ID) && ParseKind(in.Kind) == KindReset {
			valid = append(valid, decoded{seq: -1, in: in, unset: true})
			continue
		}
		if err != nil {
			rep.Rejected++
			a.logger.Warn("rejected instruction with malformed id",
				"id", in.ID,
				"kind", in.Kind,
				"error", err)
			a.notify(ctx, Outcome{ID: in.ID, Kind: in.Kind, Status: StatusRejected,
				Err: &InstructionError{ID: in.ID, Kind: in.Kind, Err: err}})
			continue
		}
		valid = append(valid, decoded{seq: seq, in: in})
	}

	slices.SortStableFunc(valid, func(x, y decoded) int {
		return cmp.Compare(x.seq, y.seq)
	})

	for _, d := range valid {
		if ctx.Err() != nil {
			a.logger.Debug("batch interrupted", "remaining_from", d.in.ID, "error", ctx.Err())
			break
		}

		if !d.unset && d.seq <= a.watermark.Load() {
			rep.Skipped++
			a.logger.Debug("skipped duplicate instruction",
				"id", d.in.ID,
				"kind", d.in.Kind,
				"watermark", a.watermark.Load())
			a.notify(ctx, Outcome{ID: d.in.ID, Kind: d.in.Kind, Status: StatusSkipped,
				Err: &InstructionError{ID: d.in.ID, Kind: d.in.Kind, Err: ErrDuplicateInstruction}})
			continue
		}

		if ParseKind(d.in.Kind) == KindReset {
			if h, ok := a.table.Lookup(d.in.Kind); ok {
				if err := a.invoke(h, d.in); err != nil {
					a.logger.Debug("reset handler failed", "id", d.in.ID, "error", err)
				}
			}
			rep.Reset = true
			a.watermark.Store(0)
			a.logger.Info("server requested reset", "id", d.in.ID)
			a.notify(ctx, Outcome{ID: d.in.ID, Kind: d.in.Kind, Status: StatusReset})
			break
		}

		out := Outcome{ID: d.in.ID, Kind: d.in.Kind}
		h, ok := a.table.Lookup(d.in.Kind)
		switch {
		case !ok:
			rep.Unknown++
			out.Status = StatusUnknown
			out.Err = &InstructionError{ID: d.in.ID, Kind: d.in.Kind, Err: ErrUnknownKind}
			a.logger.Warn("no handler for instruction kind",
				"id", d.in.ID,
				"kind", d.in.Kind)
		default:
			if err := a.invoke(h, d.in); err != nil {
				rep.Failed++
				out.Status = StatusFailed
				out.Err = &InstructionError{ID: d.in.ID, Kind: d.in.Kind, Err: &handlerError{err: err}}
				a.logger.Warn("instruction handler failed",
					"id", d.in.ID,
					"kind", d.in.Kind,
					"error", err)
			} else {
				rep.Applied++
				out.Status = StatusApplied
				a.logger.Debug("applied instruction",
					"id", d.in.ID,
					"kind", d.in.Kind)
			}
		}

		a.watermark.Store(d.seq)
		a.notify(ctx, out)
	}

	rep.Watermark = a.Watermark()
	return rep
}

// invoke runs a handler, converting a panic into an error.
func (a *Applier) invoke(h Handler, in wire.Instruction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Apply(a.reg, in.Payload)
}

func (a *Applier) notify(ctx context.Context, o Outcome) {
	for _, obs := range a.observers {
		obs.Observe(ctx, o)
	}
}
