package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tealigantal/gp/pkg/logger"

	"github.com/cockroachdb/pebble"
)

// PebbleKV persists values in a local pebble database. Pebble holds an
// exclusive directory lock, so change notifications only reach handles
// inside the same process.
type PebbleKV struct {
	mu   sync.RWMutex
	db   *pebble.DB
	path string
	hub  hub
}

func OpenPebble(path string) (*PebbleKV, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleKV{db: db, path: path}, nil
}

func (p *PebbleKV) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return nil, ErrClosed
	}
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			logger.Debug("get_key_missing", "key", key)
			return nil, ErrNotFound
		}
		logger.Error("get_key_failed", "key", key, "error", err)
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (p *PebbleKV) Set(_ context.Context, key string, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return ErrClosed
	}
	if err := p.db.Set([]byte(key), value, writeOpt(true)); err != nil {
		logger.Error("save_key_failed", "key", key, "error", err)
		return err
	}
	logger.Debug("save_key_ok", "key", key, "len", len(value))
	p.hub.publish(key)
	return nil
}

func (p *PebbleKV) Delete(_ context.Context, key string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return ErrClosed
	}
	if err := p.db.Delete([]byte(key), writeOpt(true)); err != nil {
		logger.Error("delete_key_failed", "key", key, "error", err)
		return err
	}
	p.hub.publish(key)
	return nil
}

func (p *PebbleKV) Subscribe(prefix string) (<-chan string, func()) {
	return p.hub.subscribe(prefix)
}

func (p *PebbleKV) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hub.closeAll()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func writeOpt(requestSync bool) *pebble.WriteOptions {
	if requestSync {
		return pebble.Sync
	}
	return pebble.NoSync
}
