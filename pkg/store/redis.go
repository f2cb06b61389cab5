package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tealigantal/gp/pkg/logger"

	redis "github.com/redis/go-redis/v9"
)

// RedisKV shares state between processes through redis. Writes publish
// the changed key on a pub/sub channel so every process sees them.
type RedisKV struct {
	rdb    *redis.Client
	prefix string

	mu   sync.Mutex
	subs []*redis.PubSub
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisKV, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisKV{rdb: rdb, prefix: opts.Prefix}, nil
}

func (r *RedisKV) key(k string) string {
	return r.prefix + k
}

func (r *RedisKV) channel() string {
	return r.prefix + "changes"
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		logger.Error("get_key_failed", "key", key, "error", err)
		return nil, err
	}
	return v, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.key(key), value, 0)
	pipe.Publish(ctx, r.channel(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("save_key_failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.key(key))
	pipe.Publish(ctx, r.channel(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("delete_key_failed", "key", key, "error", err)
		return err
	}
	return nil
}

const maxUpdateAttempts = 32

// Update is an optimistic read-modify-write: WATCH the key, compute the
// new value, then MULTI/EXEC the write together with its change
// notification. EXEC fails if another client wrote the key meanwhile, in
// which case the whole cycle runs again.
func (r *RedisKV) Update(ctx context.Context, key string, fn func(old []byte, found bool) ([]byte, error)) error {
	k := r.key(key)
	txf := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, k).Bytes()
		found := true
		if errors.Is(err, redis.Nil) {
			old, found = nil, false
		} else if err != nil {
			return err
		}
		next, err := fn(old, found)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, next, 0)
			pipe.Publish(ctx, r.channel(), key)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := r.rdb.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			logger.Error("update_key_failed", "key", key, "error", err)
			return err
		}
		logger.Debug("update_key_retry", "key", key, "attempt", attempt)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("update %s: %w", key, ErrConflict)
}

func (r *RedisKV) Subscribe(prefix string) (<-chan string, func()) {
	ps := r.rdb.Subscribe(context.Background(), r.channel())
	r.mu.Lock()
	r.subs = append(r.subs, ps)
	r.mu.Unlock()

	out := make(chan string, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if !strings.HasPrefix(msg.Payload, prefix) {
					continue
				}
				select {
				case out <- msg.Payload:
				default:
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
}

func (r *RedisKV) Close() error {
	r.mu.Lock()
	for _, ps := range r.subs {
		_ = ps.Close()
	}
	r.subs = nil
	r.mu.Unlock()
	return r.rdb.Close()
}
