package store

import (
	"context"
	"sync"
)

// MemoryKV keeps values in process memory. Several engines sharing one
// MemoryKV behave like browser tabs sharing local storage.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
	hub  hub
}

func NewMemory() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
	m.hub.publish(key)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	m.hub.publish(key)
	return nil
}

func (m *MemoryKV) Subscribe(prefix string) (<-chan string, func()) {
	return m.hub.subscribe(prefix)
}

func (m *MemoryKV) Close() error {
	m.hub.closeAll()
	return nil
}
