package app

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/router"
	"github.com/tealigantal/gp/pkg/telemetry"
)

func (a *App) healthzHandler(ctx *fasthttp.RequestCtx) {
	router.WriteOK(ctx)
}

// statusHandler reports engine health; degraded connectivity answers 503
// so a supervisor can act on it.
func (a *App) statusHandler(ctx *fasthttp.RequestCtx) {
	st := a.engine.Status()
	code := fasthttp.StatusOK
	if st.Degraded {
		code = fasthttp.StatusServiceUnavailable
	}
	router.WriteJSON(ctx, code, st)
}

func (a *App) handler() fasthttp.RequestHandler {
	r := router.New("")
	r.GET("/healthz", a.healthzHandler)
	r.GET("/status", a.statusHandler)
	r.GET("/metrics", telemetry.Handler())
	return r.Handler
}

// startHTTP starts the metrics/status endpoint when enabled. The returned
// channel delivers a serve error; it never fires when metrics are off.
func (a *App) startHTTP(_ context.Context) <-chan error {
	errCh := make(chan error, 1)
	cfg := a.eff.Config.Metrics
	if !cfg.Enabled {
		logger.Info("metrics_disabled")
		return errCh
	}

	const (
		readBufferSize = 16 * 1024
		readTimeout    = 5 * time.Second
		writeTimeout   = 10 * time.Second
		idleTimeout    = 30 * time.Second
	)
	a.srvFast = &fasthttp.Server{
		Handler:        a.handler(),
		Name:           "gpsync",
		ReadBufferSize: readBufferSize,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
	}

	go func() {
		logger.Info("metrics_listening", "addr", cfg.Address)
		if err := a.srvFast.ListenAndServe(cfg.Address); err != nil {
			errCh <- err
		}
	}()
	return errCh
}
