package store

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("store: key not found")
	// ErrClosed is returned by every operation on a closed backend.
	ErrClosed = errors.New("store: closed")
	// ErrConflict means an atomic update kept losing to concurrent writers.
	ErrConflict = errors.New("store: update conflict")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// KV is the durable key-value port the engine persists through. Values
// are opaque bytes; Subscribe delivers the key of every write made
// through any handle on the same backend, including this one.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Subscribe(prefix string) (<-chan string, func())
	Close() error
}

// Updater is implemented by backends shared between processes. Update
// reads key, passes the current value to fn (found is false when the key
// is unset) and stores the result only if nobody wrote key in between.
// fn may run more than once and must not have side effects.
type Updater interface {
	Update(ctx context.Context, key string, fn func(old []byte, found bool) ([]byte, error)) error
}

// hub fans key-change notifications out to in-process subscribers.
// Slow subscribers drop notifications rather than block writers; a
// dropped key only delays a reload until the next change or flush.
type hub struct {
	mu   sync.Mutex
	subs map[int]hubSub
	next int
}

type hubSub struct {
	prefix string
	ch     chan string
}

func (h *hub) subscribe(prefix string) (<-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]hubSub)
	}
	id := h.next
	h.next++
	ch := make(chan string, 16)
	h.subs[id] = hubSub{prefix: prefix, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(s.ch)
			}
		})
	}
}

func (h *hub) publish(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if !strings.HasPrefix(key, s.prefix) {
			continue
		}
		select {
		case s.ch <- key:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
}
