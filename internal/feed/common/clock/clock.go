package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source for every debounce and save delay in the pipeline.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer the schedulers rely on.
type Timer interface {
	Stop() bool
}

type RealClock struct{}

func (c RealClock) Now() time.Time {
	return time.Now()
}

func (c RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MockClock is a manually advanced clock. Timers scheduled through AfterFunc
// fire synchronously, in deadline order, from within Advance.
type MockClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
	timers      []*mockTimer
}

type mockTimer struct {
	clock    *MockClock
	deadline time.Time
	fn       func()
	stopped  bool
}

func (t *mockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CurrentTime
}

func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{clock: c, deadline: c.CurrentTime.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer whose deadline has been
// reached. Timers scheduled by fired callbacks are honoured within the same call.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.CurrentTime.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		due := c.nextDueLocked(target)
		if due == nil {
			c.CurrentTime = target
			c.mu.Unlock()
			return
		}
		c.CurrentTime = due.deadline
		due.stopped = true
		c.mu.Unlock()
		due.fn()
	}
}

// Pending reports how many timers are armed and not yet fired or stopped.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (c *MockClock) nextDueLocked(target time.Time) *mockTimer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
		return nil
	}
	return c.timers[0]
}
