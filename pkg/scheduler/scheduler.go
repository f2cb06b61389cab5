package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tealigantal/gp/pkg/clock"
)

// Visibility reports whether the application is currently backgrounded.
type Visibility interface {
	Background() bool
}

// Toggle is a settable Visibility.
type Toggle struct {
	background atomic.Bool
}

func (t *Toggle) Background() bool { return t.background.Load() }

func (t *Toggle) SetBackground(v bool) { t.background.Store(v) }

// Scheduler runs a task, waits the active or background interval, and
// repeats until stopped. Each Start bumps a generation token; a tick that
// finishes under an older generation does not reschedule, so Stop during
// a running task only suppresses the next run.
type Scheduler struct {
	clock clock.Clock
	task  func()
	vis   Visibility

	mu         sync.Mutex
	running    bool
	gen        uint64
	timer      *clock.Timer
	active     time.Duration
	background time.Duration
}

func New(clk clock.Clock, vis Visibility, task func()) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if vis == nil {
		vis = &Toggle{}
	}
	return &Scheduler{clock: clk, vis: vis, task: task}
}

// Start runs the task immediately and then on the given cadence. Calling
// Start while running is a no-op.
func (s *Scheduler) Start(active, background time.Duration) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.gen++
	g := s.gen
	s.active = active
	s.background = background
	s.mu.Unlock()

	s.clock.AfterFunc(0, func() { s.tick(g) })
}

// Stop cancels the pending run. A task already executing finishes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) tick(g uint64) {
	if !s.current(g) {
		return
	}
	s.task()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.gen != g {
		return
	}
	d := s.active
	if s.vis.Background() {
		d = s.background
	}
	s.timer = s.clock.AfterFunc(d, func() { s.tick(g) })
}

func (s *Scheduler) current(g uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.gen == g
}
