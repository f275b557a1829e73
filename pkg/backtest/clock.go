// Package backtest replays stored market data through simulated venues.
package backtest

import (
	"sync/atomic"
	"time"
)

// Clock is the replay cursor. Every backtest component shares one Clock and
// reads time from it instead of the wall clock.
type Clock struct {
	ms atomic.Int64
}

func NewClock(start time.Time) *Clock {
	c := &Clock{}
	c.ms.Store(start.UnixMilli())
	return c
}

// Now returns the cursor in epoch milliseconds.
func (c *Clock) Now() int64 {
	return c.ms.Load()
}

func (c *Clock) Time() time.Time {
	return time.UnixMilli(c.Now()).UTC()
}

// Advance moves the cursor to ts. The cursor never moves backwards; an older
// ts is ignored and Advance reports false.
func (c *Clock) Advance(ts int64) bool {
	for {
		cur := c.ms.Load()
		if ts < cur {
			return false
		}
		if c.ms.CompareAndSwap(cur, ts) {
			return true
		}
	}
}
