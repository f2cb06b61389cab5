package notify

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/tealigantal/gp/pkg/logger"
)

type Kind string

const (
	// Changed: local state (messages, list, outbox) changed.
	Changed Kind = "changed"
	// Degraded: consecutive flush failures crossed the threshold.
	Degraded Kind = "degraded"
	// Recovered: a flush succeeded after a degraded period.
	Recovered Kind = "recovered"
)

type Notification struct {
	Kind           Kind
	ConversationID string
	Err            error
}

type Listener func(Notification)

// Bus delivers notifications synchronously, in subscription order, to
// every listener. A panicking listener is logged and skipped.
type Bus struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	next      uint64
	log       *slog.Logger
}

func NewBus(log *slog.Logger) *Bus {
	return &Bus{listeners: make(map[uint64]Listener), log: logger.Or(log)}
}

// Subscribe registers fn and returns a func that removes it. Calling the
// returned func more than once is harmless.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(n Notification) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	fns := make([]Listener, 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fns = append(fns, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		b.deliver(fn, n)
	}
}

func (b *Bus) deliver(fn Listener, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("listener_panic", "kind", n.Kind, "panic", r)
		}
	}()
	fn(n)
}

// Len returns the number of listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
