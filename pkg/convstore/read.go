package convstore

import (
	"context"
	"fmt"

	"github.com/tealigantal/gp/pkg/store"
)

func (s *Store) LastRead(cid string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRead[cid]
}

// RaiseLastRead advances the read position of cid. Lower values are
// ignored; it reports whether the position moved.
func (s *Store) RaiseLastRead(ctx context.Context, cid string, seq int64) (bool, error) {
	s.mu.Lock()
	if seq <= s.lastRead[cid] {
		s.mu.Unlock()
		return false, nil
	}
	s.lastRead[cid] = seq
	s.mu.Unlock()

	merged, err := s.tables.UpdateLastRead(ctx, func(durable map[string]int64) map[string]int64 {
		return store.MaxMerge(durable, map[string]int64{cid: seq})
	})
	if err != nil {
		return true, fmt.Errorf("persist last read: %w", err)
	}
	s.mu.Lock()
	s.lastRead = store.MaxMerge(s.lastRead, merged)
	s.mu.Unlock()
	return true, nil
}

// ReloadLastRead folds durable read positions into memory.
func (s *Store) ReloadLastRead(ctx context.Context) map[string]int64 {
	durable := s.tables.LoadLastRead(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRead = store.MaxMerge(s.lastRead, durable)
	return copyMap(s.lastRead)
}

// Unread is max(lastSeq - lastRead, 0).
func (s *Store) Unread(cid string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadLocked(cid)
}

func (s *Store) unreadLocked(cid string) int64 {
	last := s.cursors[cid]
	if st, ok := s.convs[cid]; ok {
		last = st.lastSeq
	}
	if m, ok := s.meta[cid]; ok && m.LastSeq > last {
		last = m.LastSeq
	}
	n := last - s.lastRead[cid]
	if n < 0 {
		return 0
	}
	return n
}

// ReadPositions returns a copy of the read table.
func (s *Store) ReadPositions() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.lastRead)
}
