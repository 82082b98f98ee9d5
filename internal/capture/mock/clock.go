// Package mock provides a manual [capture.Clock] for deterministic recorder
// tests.
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/fieldvoice/internal/capture"
)

// Clock is a manually advanced [capture.Clock]. The zero value is not usable;
// create one with [NewClock].
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*Ticker
}

var _ capture.Clock = (*Clock)(nil)

// NewClock returns a Clock reading start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now implements [capture.Clock].
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker implements [capture.Clock].
func (c *Clock) NewTicker(d time.Duration) capture.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &Ticker{
		period: d,
		next:   c.now.Add(d),
		c:      make(chan time.Time),
		done:   make(chan struct{}),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves the clock forward by d and fires every live ticker whose
// deadline has passed, once per elapsed period. Each fire blocks until the
// ticker's reader receives it or the ticker is stopped.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *Ticker
		for _, t := range c.tickers {
			if t.stopped() {
				continue
			}
			if !t.next.After(target) && (due == nil || t.next.Before(due.next)) {
				due = t
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		at := due.next
		c.now = at
		due.next = at.Add(due.period)
		c.mu.Unlock()

		select {
		case due.c <- at:
		case <-due.done:
		}
	}
}

// Live reports how many tickers have been created and not stopped.
func (c *Clock) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped() {
			n++
		}
	}
	return n
}

// Ticker is a [capture.Ticker] driven by [Clock.Advance].
type Ticker struct {
	period time.Duration
	next   time.Time
	c      chan time.Time

	once sync.Once
	done chan struct{}
}

// C implements [capture.Ticker].
func (t *Ticker) C() <-chan time.Time { return t.c }

// Stop implements [capture.Ticker].
func (t *Ticker) Stop() { t.once.Do(func() { close(t.done) }) }

func (t *Ticker) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
