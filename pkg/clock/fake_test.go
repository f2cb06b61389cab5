package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order after 2s: %v", order)
	}
	c.Advance(time.Second)
	if len(order) != 3 || order[2] != 3 {
		t.Fatalf("unexpected order after 3s: %v", order)
	}
}

func TestFakeStopPreventsFire(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatalf("expected Stop to report an active timer")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
	if tm.Stop() {
		t.Fatalf("second Stop should report false")
	}
	if c.PendingCount() != 0 {
		t.Fatalf("expected no pending timers, got %d", c.PendingCount())
	}
}

func TestFakeRescheduleInsideCallback(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(time.Second)
	c.Advance(time.Second)
	c.Advance(time.Second)
	if count != 3 {
		t.Fatalf("expected 3 ticks, got %d", count)
	}
	if c.PendingCount() != 1 {
		t.Fatalf("expected one pending timer, got %d", c.PendingCount())
	}
}
