package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tealigantal/gp/pkg/clock"
	"github.com/tealigantal/gp/pkg/logger"
)

// retryAfter is how long the loop backs off when the next tick cannot be
// computed.
const retryAfter = 30 * time.Second

// Job is one reconciliation pass.
type Job func(ctx context.Context) error

// Runner invokes a Job on a cron schedule. Runs never overlap: a tick
// that fires while the previous pass is still going is skipped.
type Runner struct {
	cron  string
	job   Job
	clock clock.Clock
	log   *slog.Logger

	mu      sync.Mutex
	running bool
	runs    int
}

func New(cron string, job Job, clk clock.Clock, log *slog.Logger) (*Runner, error) {
	if !gronx.New().IsValid(cron) {
		return nil, fmt.Errorf("invalid reconcile cron %q", cron)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Runner{cron: cron, job: job, clock: clk, log: logger.Or(log)}, nil
}

// Start runs the schedule until ctx is done or the returned func is
// called.
func (r *Runner) Start(ctx context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	r.log.Info("reconcile_enabled", "cron", r.cron)
	go r.scheduleLoop(ctx)
	return cancel
}

func (r *Runner) scheduleLoop(ctx context.Context) {
	for {
		now := r.clock.Now()
		next, err := gronx.NextTickAfter(r.cron, now, false)
		if err != nil {
			r.log.Error("reconcile_nexttick_failed", "cron", r.cron, "error", err)
			if !r.sleep(ctx, retryAfter) {
				return
			}
			continue
		}
		if !r.sleep(ctx, next.Sub(now)) {
			return
		}
		r.runJob(ctx)
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	fired := make(chan struct{})
	t := r.clock.AfterFunc(d, func() { close(fired) })
	select {
	case <-fired:
		return true
	case <-ctx.Done():
		t.Stop()
		return false
	}
}

// RunNow performs one pass immediately. It returns nil without running
// when a pass is already in progress.
func (r *Runner) RunNow(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.log.Debug("reconcile_skipped_overlap")
		return nil
	}
	r.running = true
	r.runs++
	run := r.runs
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := r.clock.Now()
	r.log.Info("reconcile_run_start", "run", run)
	if err := r.job(ctx); err != nil {
		return fmt.Errorf("reconcile run %d: %w", run, err)
	}
	r.log.Info("reconcile_run_done", "run", run, "elapsed", r.clock.Now().Sub(start))
	return nil
}

func (r *Runner) runJob(ctx context.Context) {
	if err := r.RunNow(ctx); err != nil {
		r.log.Error("reconcile_run_error", "error", err)
	}
}
