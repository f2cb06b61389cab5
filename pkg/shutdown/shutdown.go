package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/tealigantal/gp/pkg/logger"
)

// SetupSignalHandler returns a context that is cancelled on SIGINT or
// SIGTERM. SIGPIPE dumps goroutine stacks before cancelling.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()

	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		select {
		case s := <-sigpipe:
			logger.Info("signal_received", "signal", s.String(), "msg", "SIGPIPE - dumping goroutine stacks")
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigpipe)
	}()

	return ctx, cancel
}

// Abort logs msg and err and exits with status 1.
func Abort(msg string, err error) {
	logger.Error("fatal", "msg", msg, "error", err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
