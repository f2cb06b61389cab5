package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tealigantal/gp/pkg/clock"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRejectsBadCron(t *testing.T) {
	if _, err := New("every now and then", func(context.Context) error { return nil }, nil, quiet); err == nil {
		t.Fatalf("expected invalid cron error")
	}
}

func TestRunsOnSchedule(t *testing.T) {
	clk := clock.Fake(time.Date(2025, 3, 1, 12, 0, 30, 0, time.UTC))
	ran := make(chan struct{}, 4)
	r, err := New("* * * * *", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}, clk, quiet)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	stop := r.Start(context.Background())
	defer stop()

	clk.WaitForTimers(1)
	select {
	case <-ran:
		t.Fatalf("ran before the first tick")
	default:
	}

	clk.Advance(30 * time.Second)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not run at the minute boundary")
	}

	clk.WaitForTimers(1)
	clk.Advance(time.Minute)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not run on the following tick")
	}
}

func TestRunNowWrapsErrorsAndSkipsOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	r, err := New("0 * * * *", func(context.Context) error {
		close(started)
		<-release
		return errors.New("server unreachable")
	}, clock.Fake(time.Now()), quiet)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.RunNow(context.Background()) }()
	<-started

	if err := r.RunNow(context.Background()); err != nil {
		t.Fatalf("overlapping run should be skipped, got %v", err)
	}
	close(release)
	if err := <-done; err == nil || !strings.Contains(err.Error(), "server unreachable") {
		t.Fatalf("expected wrapped job error, got %v", err)
	}
}
