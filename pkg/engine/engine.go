package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tealigantal/gp/pkg/clock"
	"github.com/tealigantal/gp/pkg/convstore"
	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/models"
	"github.com/tealigantal/gp/pkg/notify"
	"github.com/tealigantal/gp/pkg/outbox"
	"github.com/tealigantal/gp/pkg/scheduler"
	"github.com/tealigantal/gp/pkg/store"
	"github.com/tealigantal/gp/pkg/telemetry"
	"github.com/tealigantal/gp/pkg/transport"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	ErrNotStarted = errors.New("engine not initialised")
	ErrClosed     = errors.New("engine closed")
)

const (
	defaultActiveInterval     = 2500 * time.Millisecond
	defaultBackgroundInterval = 9 * time.Second
	defaultRequestTimeout     = 15 * time.Second
	defaultPageSize           = 100
	defaultSeekLimit          = 60
	defaultPushFlushRPS       = 2
	defaultPushFlushBurst     = 4
	defaultDegradedAfter      = 3
)

// Options are the dependencies and tunables of an Engine. Store and
// Transport are required; everything else has a default.
type Options struct {
	Store      store.KV
	Transport  transport.Transport
	Clock      clock.Clock
	Bus        *notify.Bus
	Visibility scheduler.Visibility
	Logger     *slog.Logger

	// DeviceID overrides the id persisted under gp_device_id.
	DeviceID string

	ActiveInterval     time.Duration
	BackgroundInterval time.Duration
	RequestTimeout     time.Duration
	PageSize           int
	SeekLimit          int
	PushFlushRPS       float64
	PushFlushBurst     int
	DegradedAfter      int
	MaxValueSize       int64

	// NoPushFlush leaves pushed entries for the next scheduled flush.
	NoPushFlush bool
}

func (o *Options) withDefaults() {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Bus == nil {
		o.Bus = notify.NewBus(o.Logger)
	}
	if o.Visibility == nil {
		o.Visibility = &scheduler.Toggle{}
	}
	if o.ActiveInterval <= 0 {
		o.ActiveInterval = defaultActiveInterval
	}
	if o.BackgroundInterval <= 0 {
		o.BackgroundInterval = defaultBackgroundInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.SeekLimit <= 0 {
		o.SeekLimit = defaultSeekLimit
	}
	if o.PushFlushRPS <= 0 {
		o.PushFlushRPS = defaultPushFlushRPS
	}
	if o.PushFlushBurst <= 0 {
		o.PushFlushBurst = defaultPushFlushBurst
	}
	if o.DegradedAfter <= 0 {
		o.DegradedAfter = defaultDegradedAfter
	}
}

type lifecycle int

const (
	stateNew lifecycle = iota
	stateReady
	stateClosed
)

// Engine keeps a local replica of the user's conversations in step with
// the server. Local writes land in the outbox and show up immediately as
// shadow events; each flush submits the outbox, prunes what the server
// acknowledged and merges the returned deltas.
type Engine struct {
	opts   Options
	log    *slog.Logger
	clock  clock.Clock
	bus    *notify.Bus
	tables *store.Tables
	outbox *outbox.Outbox
	convs  *convstore.Store
	sched  *scheduler.Scheduler

	limiter *rate.Limiter
	flights singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       lifecycle
	deviceID    string
	unwatch     func()
	failures    int
	degraded    bool
	lastErr     error
	lastSuccess time.Time
}

// New builds an engine. Call Init before using it.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("engine: transport is required")
	}
	opts.withDefaults()
	log := logger.Or(opts.Logger)
	tables := store.NewTables(opts.Store, opts.MaxValueSize)
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		opts:    opts,
		log:     log,
		clock:   opts.Clock,
		bus:     opts.Bus,
		tables:  tables,
		outbox:  outbox.New(tables, log),
		convs:   convstore.New(tables, log),
		limiter: rate.NewLimiter(rate.Limit(opts.PushFlushRPS), opts.PushFlushBurst),
		ctx:     ctx,
		cancel:  cancel,
	}
	e.sched = scheduler.New(opts.Clock, opts.Visibility, e.tick)
	return e, nil
}

// Init loads durable state, resolves the device id, re-creates shadows
// for entries still queued from a previous run and starts watching the
// store for writes made by other engines.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	}

	id := e.opts.DeviceID
	if id == "" {
		var err error
		id, err = e.tables.DeviceID(ctx, func() string { return "dev-" + uuid.NewString() })
		if err != nil {
			e.log.Warn("device_id_persist_failed", "error", err)
		}
	}
	e.deviceID = id

	e.outbox.Load(ctx)
	e.convs.Load(ctx)
	now := e.stamp()
	for _, entry := range e.outbox.Entries() {
		if entry.ConversationID == "" || entry.Type == models.TypeReadUpdated {
			continue
		}
		seq := e.convs.NextProvisionalSeq(entry.ConversationID)
		e.convs.MergeShadow(entry.Shadow(seq, now))
	}
	telemetry.SetOutboxDepth(e.outbox.Len())

	changes, cancel := e.tables.KV().Subscribe(store.KeySyncPrefix)
	e.unwatch = cancel
	e.wg.Add(1)
	go e.watch(changes)

	e.state = stateReady
	e.log.Info("engine_initialised", "device_id", id, "outbox", e.outbox.Len())
	return nil
}

// Dispose stops scheduling, stops watching the store and waits for
// background flushes to finish, including a round-trip in flight. Once it
// returns the engine no longer touches the store, so the store may be
// closed. The engine cannot be reused.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.state == stateClosed {
		e.mu.Unlock()
		return
	}
	e.state = stateClosed
	unwatch := e.unwatch
	e.mu.Unlock()

	e.sched.Stop()
	if unwatch != nil {
		unwatch()
	}
	e.cancel()
	e.wg.Wait()
	e.log.Info("engine_disposed")
}

// begin registers an operation that touches the store, so Dispose waits
// for it. On success the caller must call e.wg.Done.
func (e *Engine) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case stateNew:
		return ErrNotStarted
	case stateClosed:
		return ErrClosed
	}
	e.wg.Add(1)
	return nil
}

func (e *Engine) ready() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case stateNew:
		return ErrNotStarted
	case stateClosed:
		return ErrClosed
	}
	return nil
}

// Start begins periodic flushing. The first flush runs immediately.
func (e *Engine) Start() error {
	if err := e.ready(); err != nil {
		return err
	}
	e.sched.Start(e.opts.ActiveInterval, e.opts.BackgroundInterval)
	return nil
}

// Stop cancels future flushes. A flush already in flight completes.
func (e *Engine) Stop() { e.sched.Stop() }

// SetBackground switches to the background cadence from the next tick.
// It is a no-op when the engine was given a custom Visibility.
func (e *Engine) SetBackground(v bool) {
	if t, ok := e.opts.Visibility.(*scheduler.Toggle); ok {
		t.SetBackground(v)
	}
}

// Subscribe registers fn for every state change notification.
func (e *Engine) Subscribe(fn notify.Listener) func() { return e.bus.Subscribe(fn) }

func (e *Engine) DeviceID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deviceID
}

func (e *Engine) tick() {
	if _, err := e.Flush(e.ctx); err != nil {
		e.log.Debug("scheduled_flush_failed", "error", err)
	}
}

func (e *Engine) stamp() string {
	return e.clock.Now().UTC().Format(time.RFC3339Nano)
}

// Status is a point-in-time view of the engine's health.
type Status struct {
	DeviceID            string    `json:"device_id" yaml:"device_id"`
	Running             bool      `json:"running" yaml:"running"`
	Degraded            bool      `json:"degraded" yaml:"degraded"`
	ConsecutiveFailures int       `json:"consecutive_failures" yaml:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastSuccess         time.Time `json:"last_success" yaml:"last_success"`
	OutboxDepth         int       `json:"outbox_depth" yaml:"outbox_depth"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	s := Status{
		DeviceID:            e.deviceID,
		Degraded:            e.degraded,
		ConsecutiveFailures: e.failures,
		LastSuccess:         e.lastSuccess,
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	e.mu.Unlock()
	s.Running = e.sched.Running()
	s.OutboxDepth = e.outbox.Len()
	return s
}
