package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/tether/internal/clock"
)

// FakeClock is a manually advanced clock.Clock for deterministic tests.
//
// Timers and tickers fire only when Advance moves time past their deadline.
// Like the real tickers, channels have a buffer of one and a tick is dropped
// when the previous one has not been received yet.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	period   time.Duration // zero for one-shot timers
	ch       chan time.Time
	stopped  bool
}

// NewFakeClock creates a fake clock at a fixed epoch.
func NewFakeClock() *FakeClock {
	c := &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

var _ clock.Clock = (*FakeClock)(nil)

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once d has elapsed.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	return c.add(d, 0).ch
}

// NewTicker returns a ticker firing every d.
func (c *FakeClock) NewTicker(d time.Duration) clock.Ticker {
	if d <= 0 {
		panic("testutil: non-positive ticker period")
	}
	return &fakeTicker{clock: c, w: c.add(d, d)}
}

func (c *FakeClock) add(d, period time.Duration) *fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := &fakeWaiter{deadline: c.now.Add(d), period: period, ch: make(chan time.Time, 1)}
	if d <= 0 && period == 0 {
		w.ch <- c.now
		w.stopped = true
	} else {
		c.waiters = append(c.waiters, w)
	}
	c.cond.Broadcast()
	return w
}

// Advance moves time forward by d, firing every timer and ticker that falls
// due, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.now.Add(d)
	for {
		w := c.nextDue(target)
		if w == nil {
			break
		}
		c.now = w.deadline
		select {
		case w.ch <- c.now:
		default:
		}
		if w.period > 0 {
			w.deadline = w.deadline.Add(w.period)
		} else {
			w.stopped = true
		}
		c.prune()
	}
	c.now = target
}

func (c *FakeClock) nextDue(target time.Time) *fakeWaiter {
	active := make([]*fakeWaiter, 0, len(c.waiters))
	for _, w := range c.waiters {
		if !w.stopped && !w.deadline.After(target) {
			active = append(active, w)
		}
	}
	if len(active) == 0 {
		return nil
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].deadline.Before(active[j].deadline)
	})
	return active[0]
}

func (c *FakeClock) prune() {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped {
			kept = append(kept, w)
		}
	}
	clear(c.waiters[len(kept):])
	c.waiters = kept
	c.cond.Broadcast()
}

// Waiters returns the number of pending timers and tickers.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntil waits until at least n timers or tickers are pending. Tests use
// it to know that a goroutine under test has reached its wait point.
func (c *FakeClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.cond.Wait()
	}
}

type fakeTicker struct {
	clock *FakeClock
	w     *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.w.ch
}

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.w.stopped = true
	t.clock.prune()
}
