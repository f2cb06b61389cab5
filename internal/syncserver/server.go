package syncserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/models"
	"github.com/tealigantal/gp/pkg/router"

	"github.com/valyala/fasthttp"
)

const (
	defaultMaxDelta   = 200
	defaultFetchLimit = 100
	maxFetchLimit     = 500
	defaultSearch     = 50
	maxSearch         = 200
)

type Options struct {
	// MaxDelta caps events returned per conversation per sync.
	MaxDelta int
	Logger   *slog.Logger
}

// Server exposes a Log over the sync JSON API under /api.
type Server struct {
	log      *Log
	maxDelta int
	logger   *slog.Logger
	srv      *fasthttp.Server
}

func New(l *Log, opts Options) *Server {
	if l == nil {
		l = NewLog()
	}
	if opts.MaxDelta <= 0 {
		opts.MaxDelta = defaultMaxDelta
	}
	s := &Server{log: l, maxDelta: opts.MaxDelta, logger: logger.Or(opts.Logger)}

	r := router.New("/api")
	r.POST("/sync", s.handleSync)
	r.GET("/conversations/{cid}/events", s.handleEvents)
	r.GET("/conversations/{cid}/export", s.handleExport)
	r.DELETE("/conversations/{cid}", s.handleDelete)
	r.GET("/search", s.handleSearch)
	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) { router.WriteOK(ctx) })

	const (
		readBufferSize     = 64 * 1024
		maxRequestBodySize = 5 * 1024 * 1024
		readTimeout        = 10 * time.Second
		writeTimeout       = 10 * time.Second
		idleTimeout        = 30 * time.Second
	)
	s.srv = &fasthttp.Server{
		Handler:            r.Handler,
		Name:               "gpsync-server",
		ReadBufferSize:     readBufferSize,
		MaxRequestBodySize: maxRequestBodySize,
		ReadTimeout:        readTimeout,
		WriteTimeout:       writeTimeout,
		IdleTimeout:        idleTimeout,
	}
	return s
}

func (s *Server) Log() *Log { return s.log }

func (s *Server) Handler() fasthttp.RequestHandler { return s.srv.Handler }

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		return s.srv.Shutdown()
	case err := <-errCh:
		return err
	}
}

// ListenAndServe binds addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("sync_server_listening", "addr", ln.Addr().String())
	return s.Serve(ctx, ln)
}

func (s *Server) handleSync(ctx *fasthttp.RequestCtx) {
	var req models.SyncRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		router.WriteError(ctx, fasthttp.StatusBadRequest, "invalid sync request: "+err.Error())
		return
	}
	resp := s.log.Sync(req, s.maxDelta)
	s.logger.Debug("sync_served", "device", req.DeviceID, "outbox", len(req.OutboxEvents), "cursors", len(req.ConvCursors))
	router.WriteJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) handleEvents(ctx *fasthttp.RequestCtx) {
	cid := router.Param(ctx, "cid")
	args := ctx.QueryArgs()
	limit, ok := intArg(ctx, "limit", defaultFetchLimit, 1, maxFetchLimit)
	if !ok {
		return
	}
	var events []models.Event
	if args.Has("around") {
		around, err := strconv.ParseInt(string(args.Peek("around")), 10, 64)
		if err != nil {
			router.WriteError(ctx, fasthttp.StatusBadRequest, "around must be an integer")
			return
		}
		events = s.log.Around(cid, around, limit)
	} else {
		var after int64
		if args.Has("after") {
			v, err := strconv.ParseInt(string(args.Peek("after")), 10, 64)
			if err != nil {
				router.WriteError(ctx, fasthttp.StatusBadRequest, "after must be an integer")
				return
			}
			after = v
		}
		events = s.log.After(cid, after, limit)
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, events)
}

func (s *Server) handleExport(ctx *fasthttp.RequestCtx) {
	exp, err := s.log.Export(router.Param(ctx, "cid"))
	if err != nil {
		writeLogError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, exp)
}

func (s *Server) handleDelete(ctx *fasthttp.RequestCtx) {
	if err := s.log.Delete(router.Param(ctx, "cid")); err != nil {
		writeLogError(ctx, err)
		return
	}
	router.WriteOK(ctx)
}

func (s *Server) handleSearch(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	q := string(args.Peek("q"))
	if q == "" {
		router.WriteError(ctx, fasthttp.StatusBadRequest, "q is required")
		return
	}
	limit, ok := intArg(ctx, "limit", defaultSearch, 1, maxSearch)
	if !ok {
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, s.log.Search(q, string(args.Peek("conversation_id")), limit))
}

func intArg(ctx *fasthttp.RequestCtx, name string, def, lo, hi int) (int, bool) {
	raw := ctx.QueryArgs().Peek(name)
	if len(raw) == 0 {
		return def, true
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil || v < lo || v > hi {
		router.WriteError(ctx, fasthttp.StatusBadRequest,
			name+" must be between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return 0, false
	}
	return v, true
}

func writeLogError(ctx *fasthttp.RequestCtx, err error) {
	if errors.Is(err, ErrUnknownConversation) {
		router.WriteError(ctx, fasthttp.StatusNotFound, err.Error())
		return
	}
	router.WriteError(ctx, fasthttp.StatusInternalServerError, err.Error())
}
