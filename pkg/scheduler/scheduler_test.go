package scheduler

import (
	"testing"
	"time"

	"github.com/tealigantal/gp/pkg/clock"
)

func TestStartRunsImmediatelyThenOnActiveInterval(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	runs := 0
	s := New(clk, nil, func() { runs++ })

	s.Start(2500*time.Millisecond, 9*time.Second)
	if runs != 1 {
		t.Fatalf("expected an immediate run, got %d", runs)
	}
	clk.Advance(2499 * time.Millisecond)
	if runs != 1 {
		t.Fatalf("ran before the interval elapsed: %d", runs)
	}
	clk.Advance(time.Millisecond)
	if runs != 2 {
		t.Fatalf("expected second run, got %d", runs)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	runs := 0
	s := New(clk, nil, func() { runs++ })
	s.Start(time.Second, 5*time.Second)
	s.Start(time.Second, 5*time.Second)
	if runs != 1 || clk.PendingCount() != 1 {
		t.Fatalf("second Start changed state: runs=%d pending=%d", runs, clk.PendingCount())
	}
}

func TestBackgroundUsesSlowerCadence(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	vis := &Toggle{}
	vis.SetBackground(true)
	runs := 0
	s := New(clk, vis, func() { runs++ })
	s.Start(time.Second, 5*time.Second)

	clk.Advance(4 * time.Second)
	if runs != 1 {
		t.Fatalf("background run came too early: %d", runs)
	}
	clk.Advance(time.Second)
	if runs != 2 {
		t.Fatalf("expected background run at 5s, got %d", runs)
	}

	vis.SetBackground(false)
	clk.Advance(5 * time.Second) // fires the pending 5s timer, then reschedules at 1s
	clk.Advance(time.Second)
	if runs != 4 {
		t.Fatalf("expected foreground cadence after visibility change, got %d", runs)
	}
}

func TestStopSuppressesNextRun(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	runs := 0
	var s *Scheduler
	s = New(clk, nil, func() {
		runs++
		if runs == 2 {
			// stop while the task is executing
			s.Stop()
		}
	})
	s.Start(time.Second, time.Second)
	clk.Advance(time.Second)
	clk.Advance(10 * time.Second)
	if runs != 2 {
		t.Fatalf("expected runs to stop at 2, got %d", runs)
	}
	if s.Running() || clk.PendingCount() != 0 {
		t.Fatalf("scheduler still armed after Stop")
	}

	s.Start(time.Second, time.Second)
	if runs != 3 {
		t.Fatalf("restart should run immediately, got %d", runs)
	}
}
