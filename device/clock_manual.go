package device

import (
	"sync"
	"time"
)

// ManualClock is a Clock whose time only moves when Advance is called.
// Tickers created from it fire synchronously during Advance, which makes
// polling schedules deterministic in tests.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

// NewManualClock creates a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// NewTicker creates a ticker firing every d in manual time.
func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTicker{
		clock:    c,
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)

	return t
}

// Advance moves the clock forward by d and delivers all ticks that become
// due. Like the runtime ticker, a tick is dropped when the receiver has
// not consumed the previous one.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	for _, t := range c.tickers {
		t.advanceTo(c.now)
	}
}

type manualTicker struct {
	clock    *ManualClock
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *manualTicker) Chan() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	t.stopped = true
}

func (t *manualTicker) Reset(d time.Duration) {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	t.interval = d
	t.next = t.clock.now.Add(d)
	t.stopped = false
}

// advanceTo is called with the clock lock held.
func (t *manualTicker) advanceTo(now time.Time) {
	if t.stopped || t.interval <= 0 {
		return
	}

	for !t.next.After(now) {
		select {
		case t.ch <- t.next:
		default:
		}
		t.next = t.next.Add(t.interval)
	}
}
