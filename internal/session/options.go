package session

import (
	"log/slog"
	"time"

	"github.com/roach88/tether/internal/apply"
	"github.com/roach88/tether/internal/clock"
)

// Defaults match the reference browser client.
const (
	DefaultPeriod           = 100 * time.Millisecond
	DefaultBackoff          = time.Second
	DefaultTimeout          = 5 * time.Second
	DefaultTerminateTimeout = 2 * time.Second
)

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock driving ticks, backoff and debounce.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) {
		if c != nil {
			ctl.clock = c
		}
	}
}

// WithBackend sets the presentation surface and its handler table.
// Defaults to a headless presentation tree.
func WithBackend(b Backend, table apply.Table) Option {
	return func(ctl *Controller) {
		if b != nil {
			ctl.backend = b
			ctl.table = table
		}
	}
}

// WithJournal records session history.
func WithJournal(j Journal) Option {
	return func(ctl *Controller) {
		ctl.journal = j
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) {
		if l != nil {
			ctl.logger = l
		}
	}
}

// WithObserver receives the outcome of every instruction.
func WithObserver(o apply.Observer) Option {
	return func(ctl *Controller) {
		if o != nil {
			ctl.observers = append(ctl.observers, o)
		}
	}
}

// WithPeriod sets the synchronization interval.
func WithPeriod(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.period = d
		}
	}
}

// WithBackoff sets the delay between bootstrap attempts.
func WithBackoff(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.backoff = d
		}
	}
}

// WithDebounce collapses bursts of Emit calls into one exchange sent d after
// the first. Zero (the default) sends immediately.
func WithDebounce(d time.Duration) Option {
	return func(ctl *Controller) {
		if d >= 0 {
			ctl.debounce = d
		}
	}
}

// WithTimeout bounds each exchange.
func WithTimeout(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.timeout = d
		}
	}
}
