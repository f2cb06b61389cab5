package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/models"

	"github.com/dustin/go-humanize"
)

// Durable keys. They match the local-storage keys of the web client so a
// storage dump from either side reads the same.
const (
	KeySyncPrefix = "gp_sync_"
	KeyDeviceID   = "gp_device_id"
	KeyCursors    = "gp_sync_cursors"
	KeyOutbox     = "gp_sync_outbox"
	KeyLastRead   = "gp_sync_last_read"
)

// Tables is the typed view over the JSON documents the engine keeps in a
// KV. Loads fail soft: a missing or unreadable document is treated as
// empty so a corrupt write never blocks startup.
type Tables struct {
	kv           KV
	maxValueSize int64
}

func NewTables(kv KV, maxValueSize int64) *Tables {
	return &Tables{kv: kv, maxValueSize: maxValueSize}
}

func (t *Tables) KV() KV { return t.kv }

var (
	keyLocks   = make(map[keyLockID]*sync.Mutex)
	keyLocksMu sync.Mutex
)

type keyLockID struct {
	kv  KV
	key string
}

// returns mutex for a key of a given backend (creates if needed)
func getKeyLock(kv KV, key string) *sync.Mutex {
	keyLocksMu.Lock()
	defer keyLocksMu.Unlock()
	id := keyLockID{kv: kv, key: key}
	if l, ok := keyLocks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	keyLocks[id] = l
	return l
}

func load[T any](ctx context.Context, kv KV, key string, empty func() T) T {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		if !IsNotFound(err) {
			logger.Warn("table_load_failed", "key", key, "error", err)
		}
		return empty()
	}
	return decode(key, raw, empty)
}

func decode[T any](key string, raw []byte, empty func() T) T {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return empty()
	}
	v := empty()
	if err := json.Unmarshal(raw, &v); err != nil {
		logger.Warn("table_decode_failed", "key", key, "error", err)
		return empty()
	}
	return v
}

func (t *Tables) encode(key string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	if t.maxValueSize > 0 && int64(len(raw)) > t.maxValueSize {
		return nil, fmt.Errorf("%s is %s, over the %s value limit",
			key, humanize.IBytes(uint64(len(raw))), humanize.IBytes(uint64(t.maxValueSize)))
	}
	return raw, nil
}

// update runs a read-modify-write of one document while holding the
// key's lock, so concurrent engines on one backend never interleave.
// Backends shared between processes do the cycle atomically through
// Updater; fn may then run more than once.
func update[T any](ctx context.Context, t *Tables, key string, empty func() T, fn func(T) T) (T, error) {
	l := getKeyLock(t.kv, key)
	l.Lock()
	defer l.Unlock()

	if u, ok := t.kv.(Updater); ok {
		var next T
		err := u.Update(ctx, key, func(old []byte, found bool) ([]byte, error) {
			cur := empty()
			if found {
				cur = decode(key, old, empty)
			}
			next = fn(cur)
			return t.encode(key, next)
		})
		return next, err
	}

	next := fn(load(ctx, t.kv, key, empty))
	raw, err := t.encode(key, next)
	if err != nil {
		return next, err
	}
	return next, t.kv.Set(ctx, key, raw)
}

func emptyCursors() map[string]int64 { return map[string]int64{} }

func emptyOutbox() []models.OutboxEntry { return []models.OutboxEntry{} }

func (t *Tables) LoadCursors(ctx context.Context) map[string]int64 {
	return load(ctx, t.kv, KeyCursors, emptyCursors)
}

func (t *Tables) UpdateCursors(ctx context.Context, fn func(map[string]int64) map[string]int64) (map[string]int64, error) {
	return update(ctx, t, KeyCursors, emptyCursors, fn)
}

func (t *Tables) LoadLastRead(ctx context.Context) map[string]int64 {
	return load(ctx, t.kv, KeyLastRead, emptyCursors)
}

func (t *Tables) UpdateLastRead(ctx context.Context, fn func(map[string]int64) map[string]int64) (map[string]int64, error) {
	return update(ctx, t, KeyLastRead, emptyCursors, fn)
}

func (t *Tables) LoadOutbox(ctx context.Context) []models.OutboxEntry {
	return load(ctx, t.kv, KeyOutbox, emptyOutbox)
}

func (t *Tables) UpdateOutbox(ctx context.Context, fn func([]models.OutboxEntry) []models.OutboxEntry) ([]models.OutboxEntry, error) {
	return update(ctx, t, KeyOutbox, emptyOutbox, fn)
}

// DeviceID returns the persisted device id, creating one with gen on
// first use.
func (t *Tables) DeviceID(ctx context.Context, gen func() string) (string, error) {
	l := getKeyLock(t.kv, KeyDeviceID)
	l.Lock()
	defer l.Unlock()

	raw, err := t.kv.Get(ctx, KeyDeviceID)
	if err == nil && len(raw) > 0 {
		return string(raw), nil
	}
	if err != nil && !IsNotFound(err) {
		logger.Warn("device_id_load_failed", "error", err)
	}

	// two processes starting together must agree on one id
	if u, ok := t.kv.(Updater); ok {
		var id string
		err := u.Update(ctx, KeyDeviceID, func(old []byte, found bool) ([]byte, error) {
			id = string(old)
			if !found || id == "" {
				id = gen()
			}
			return []byte(id), nil
		})
		if err != nil {
			return id, fmt.Errorf("persist device id: %w", err)
		}
		return id, nil
	}

	id := gen()
	if err := t.kv.Set(ctx, KeyDeviceID, []byte(id)); err != nil {
		return id, fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// MaxMerge folds src into dst keeping the larger value per key.
func MaxMerge(dst, src map[string]int64) map[string]int64 {
	if dst == nil {
		dst = make(map[string]int64, len(src))
	}
	for k, v := range src {
		if cur, ok := dst[k]; !ok || v > cur {
			dst[k] = v
		}
	}
	return dst
}
