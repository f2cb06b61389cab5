package app

import (
	"context"
	"fmt"
	"os"

	"github.com/tealigantal/gp/pkg/config"
	"github.com/tealigantal/gp/pkg/store"
)

// OpenStore opens the durable backend named by cfg.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.KV, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "redis":
		return store.OpenRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case "pebble", "":
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", cfg.Path, err)
		}
		kv, err := store.OpenPebble(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Path, err)
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
