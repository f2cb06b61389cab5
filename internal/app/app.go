package app

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"github.com/dustin/go-humanize"

	"github.com/tealigantal/gp/internal/reconcile"
	"github.com/tealigantal/gp/pkg/config"
	"github.com/tealigantal/gp/pkg/engine"
	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/notify"
	"github.com/tealigantal/gp/pkg/store"
	"github.com/tealigantal/gp/pkg/transport"
)

// App owns the sync engine and everything that runs around it in the
// client daemon.
type App struct {
	eff     config.EffectiveConfigResult
	version string

	kv     store.KV
	engine *engine.Engine

	reconcileCancel context.CancelFunc
	srvFast         *fasthttp.Server
	state           string
}

// New opens the store and builds the engine. It does not start
// scheduling or the metrics server; Run does that.
func New(ctx context.Context, eff config.EffectiveConfigResult, version string) (*App, error) {
	_ = godotenv.Load(".env")

	cfg := eff.Config
	if cfg == nil {
		return nil, fmt.Errorf("missing configuration")
	}

	kv, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	tr, err := transport.NewHTTPClient(transport.ClientConfig{
		Endpoint: cfg.Sync.Endpoint,
		Timeout:  cfg.Sync.RequestTimeout.Duration(),
	})
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	eng, err := engine.New(engine.Options{
		Store:              kv,
		Transport:          tr,
		DeviceID:           cfg.Sync.DeviceID,
		ActiveInterval:     cfg.Sync.ActiveInterval.Duration(),
		BackgroundInterval: cfg.Sync.BackgroundInterval.Duration(),
		RequestTimeout:     cfg.Sync.RequestTimeout.Duration(),
		PageSize:           cfg.Hydration.PageSize,
		SeekLimit:          cfg.Hydration.SeekLimit,
		PushFlushRPS:       cfg.Sync.PushFlushRPS,
		PushFlushBurst:     cfg.Sync.PushFlushBurst,
		DegradedAfter:      cfg.Sync.DegradedAfter,
		MaxValueSize:       cfg.Store.MaxValueSize.Int64(),
	})
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	if err := eng.Init(ctx); err != nil {
		_ = kv.Close()
		return nil, err
	}

	logger.LogConfigSummary("config_sync_summary", []string{
		fmt.Sprintf("endpoint: %s", cfg.Sync.Endpoint),
		fmt.Sprintf("store: %s", cfg.Store.Backend),
		fmt.Sprintf("cadence: %s active / %s background", cfg.Sync.ActiveInterval.Duration(), cfg.Sync.BackgroundInterval.Duration()),
		fmt.Sprintf("request_timeout: %s", cfg.Sync.RequestTimeout.Duration()),
		fmt.Sprintf("max_value_size: %s", humanize.IBytes(uint64(cfg.Store.MaxValueSize.Int64()))),
		fmt.Sprintf("outbox_pending: %s", humanize.Comma(int64(len(eng.Outbox())))),
	})

	return &App{eff: eff, version: version, kv: kv, engine: eng, state: "ready"}, nil
}

func (a *App) Engine() *engine.Engine { return a.engine }

// Run starts periodic sync, the reconcile schedule and the metrics
// endpoint, then blocks until ctx is cancelled or the endpoint fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.eff.Config
	a.state = "running"
	logger.Info("gpsync_starting", "version", a.version, "device_id", a.engine.DeviceID(), "source", a.eff.Source)

	unsubscribe := a.engine.Subscribe(func(n notify.Notification) {
		switch n.Kind {
		case notify.Degraded:
			logger.Warn("connectivity_degraded", "error", n.Err)
		case notify.Recovered:
			logger.Info("connectivity_recovered")
		}
	})
	defer unsubscribe()

	if err := a.engine.Start(); err != nil {
		return err
	}

	if cfg.Sync.ReconcileCron != "" {
		r, err := reconcile.New(cfg.Sync.ReconcileCron, a.engine.Reconcile, nil, nil)
		if err != nil {
			return err
		}
		a.reconcileCancel = r.Start(ctx)
	} else {
		logger.Info("reconcile_disabled")
	}

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops every component and closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	a.state = "shutting_down"
	logger.Info("shutdown: requested")

	if a.srvFast != nil {
		logger.Info("shutdown: stopping metrics server")
		if err := a.srvFast.Shutdown(); err != nil {
			logger.Error("shutdown: fasthttp shutdown error", "error", err)
		}
	}
	if a.reconcileCancel != nil {
		logger.Info("shutdown: stopping reconcile scheduler")
		a.reconcileCancel()
	}

	// one last round so entries queued just before the signal go out
	if len(a.engine.Outbox()) > 0 {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if _, err := a.engine.Flush(flushCtx); err != nil {
			logger.Warn("shutdown: final flush failed", "error", err)
		}
		cancel()
	}
	a.engine.Dispose()

	logger.Info("shutdown: closing store")
	if err := a.kv.Close(); err != nil {
		logger.Error("shutdown: store close error", "error", err)
		return err
	}
	a.state = "stopped"
	logger.Info("shutdown: complete")
	return nil
}

// Close releases the engine and store without the daemon teardown. Used
// by one-shot commands.
func (a *App) Close() error {
	a.engine.Dispose()
	return a.kv.Close()
}
