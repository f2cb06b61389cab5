package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tealigantal/gp/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFailsSoftOnCorruptDocuments(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	tables := NewTables(kv, 0)

	cases := []struct {
		key string
		raw string
	}{
		{KeyCursors, "{not json"},
		{KeyLastRead, `{"c1":"seven"}`},
		{KeyOutbox, "null"},
	}
	for _, c := range cases {
		require.NoError(t, kv.Set(ctx, c.key, []byte(c.raw)))
	}

	assert.Empty(t, tables.LoadCursors(ctx))
	assert.Empty(t, tables.LoadLastRead(ctx))
	assert.Empty(t, tables.LoadOutbox(ctx))

	// a corrupt document is replaced on the next write rather than blocking it
	got, err := tables.UpdateCursors(ctx, func(m map[string]int64) map[string]int64 {
		m["c1"] = 4
		return m
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"c1": 4}, got)
	assert.Equal(t, map[string]int64{"c1": 4}, tables.LoadCursors(ctx))
}

func TestUpdateOutboxRoundTrip(t *testing.T) {
	ctx := context.Background()
	tables := NewTables(NewMemory(), 0)

	_, err := tables.UpdateOutbox(ctx, func(cur []models.OutboxEntry) []models.OutboxEntry {
		return append(cur, models.OutboxEntry{ID: "m1", ConversationID: "c1", Type: models.TypeMessageCreated,
			Data: map[string]any{"content": "hi"}})
	})
	require.NoError(t, err)

	entries := tables.LoadOutbox(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].ID)
	assert.Equal(t, "hi", entries[0].Data["content"])
}

func TestMaxValueSizeRejectsOversizedWrites(t *testing.T) {
	ctx := context.Background()
	tables := NewTables(NewMemory(), 16)
	_, err := tables.UpdateLastRead(ctx, func(m map[string]int64) map[string]int64 {
		m["a-very-long-conversation-id"] = 1
		return m
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value limit")
	assert.Empty(t, tables.LoadLastRead(ctx))
}

func TestDeviceIDIsStable(t *testing.T) {
	ctx := context.Background()
	tables := NewTables(NewMemory(), 0)
	calls := 0
	gen := func() string {
		calls++
		return "dev-fixed"
	}
	first, err := tables.DeviceID(ctx, gen)
	require.NoError(t, err)
	second, err := tables.DeviceID(ctx, gen)
	require.NoError(t, err)
	assert.Equal(t, "dev-fixed", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestMaxMerge(t *testing.T) {
	got := MaxMerge(map[string]int64{"a": 3, "b": 9}, map[string]int64{"a": 5, "b": 2, "c": 1})
	assert.Equal(t, map[string]int64{"a": 5, "b": 9, "c": 1}, got)
	assert.Equal(t, map[string]int64{"x": 1}, MaxMerge(nil, map[string]int64{"x": 1}))
}

func TestMemorySubscribeFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	ch, cancel := kv.Subscribe("gp_sync_")
	defer cancel()

	require.NoError(t, kv.Set(ctx, "other", []byte("x")))
	require.NoError(t, kv.Set(ctx, KeyOutbox, []byte("[]")))

	select {
	case key := <-ch:
		assert.Equal(t, KeyOutbox, key)
	case <-time.After(time.Second):
		t.Fatalf("no change notification")
	}
	select {
	case key := <-ch:
		t.Fatalf("unexpected notification for %s", key)
	default:
	}
}

func TestPebbleKV(t *testing.T) {
	ctx := context.Background()
	kv, err := OpenPebble(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	defer kv.Close()

	_, err = kv.Get(ctx, "missing")
	assert.True(t, IsNotFound(err))

	require.NoError(t, kv.Set(ctx, KeyDeviceID, []byte("dev-1")))
	v, err := kv.Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", string(v))

	require.NoError(t, kv.Delete(ctx, KeyDeviceID))
	_, err = kv.Get(ctx, KeyDeviceID)
	assert.True(t, IsNotFound(err))
}

func TestRedisKV(t *testing.T) {
	ctx := context.Background()
	kv, err := OpenRedis(ctx, RedisOptions{Addr: "127.0.0.1:6379", Prefix: "gpsync-test:"})
	if err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	defer kv.Close()
	defer kv.Delete(ctx, KeyCursors)

	ch, cancel := kv.Subscribe("gp_sync_")
	defer cancel()
	// give the subscription time to register before publishing
	time.Sleep(100 * time.Millisecond)

	tables := NewTables(kv, 0)
	_, err = tables.UpdateCursors(ctx, func(m map[string]int64) map[string]int64 {
		m["c1"] = 2
		return m
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"c1": 2}, tables.LoadCursors(ctx))

	select {
	case key := <-ch:
		assert.Equal(t, KeyCursors, key)
	case <-time.After(2 * time.Second):
		t.Fatalf("no change notification from redis")
	}
}

func TestClosedPebbleReturnsErrClosed(t *testing.T) {
	ctx := context.Background()
	kv, err := OpenPebble(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, KeyCursors, []byte(`{"c1":1}`)))
	require.NoError(t, kv.Close())

	_, err = kv.Get(ctx, KeyCursors)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, kv.Set(ctx, KeyCursors, []byte(`{}`)), ErrClosed)
	assert.ErrorIs(t, kv.Delete(ctx, KeyCursors), ErrClosed)
	assert.NoError(t, kv.Close())

	// tables fail soft on a closed store instead of crashing
	assert.Empty(t, NewTables(kv, 0).LoadCursors(ctx))
}
