package clock

import "time"

// Clock abstracts the time operations the sync engine schedules with.
// Production code uses Real(); tests use Fake() and advance time by hand.
type Clock interface {
	Now() time.Time

	// AfterFunc waits for d, then calls f. If d <= 0, f runs immediately
	// (in a new goroutine for the real clock, synchronously for the fake).
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a scheduled callback that can be cancelled.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns false if it already fired
// or was stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}
