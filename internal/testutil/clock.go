package testutil

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Clock is a clockz.Clock whose Now is set by the test. Timers and tickers
// still run on the real clock.
type Clock struct {
	clockz.Clock

	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{Clock: clockz.RealClock, now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
