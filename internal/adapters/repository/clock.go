package repository

import (
	"sync"
	"time"
)

// stampClock hands out strictly increasing timestamps so that creation
// order inside a group is total even on coarse clocks.
type stampClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newStampClock(now func() time.Time) *stampClock {
	return &stampClock{now: now}
}

func (c *stampClock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Round(0)
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}
