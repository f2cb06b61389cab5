package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time moves only when Advance is
// called; AfterFunc callbacks run synchronously inside Advance in
// deadline order. Do not call Advance from inside a callback.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
	changed *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}
	c.mu.Lock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.stopped || w.fired {
			return false
		}
		w.stopped = true
		c.changed.Broadcast()
		return true
	}}
}

// Advance moves the clock forward by d and fires every callback whose
// deadline falls inside the new time, including callbacks scheduled by
// callbacks that fired during this Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		due := c.collectExpired(target)
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
		for _, w := range due {
			w.callback()
		}
	}
}

func (c *FakeClock) collectExpired(target time.Time) []*fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due, remaining []*fakeWaiter
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if !w.deadline.After(target) {
			w.fired = true
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	if len(due) > 0 {
		c.changed.Broadcast()
	}
	return due
}

// WaitForTimers blocks until at least n callbacks are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of callbacks waiting to fire.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}
