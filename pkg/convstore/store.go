package convstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/models"
	"github.com/tealigantal/gp/pkg/store"
)

type convState struct {
	lastSeq int64
	events  []models.Event
	// ids whose seq is still provisional
	shadows map[string]bool
}

// Store holds the local view of every conversation: merged event logs,
// server metadata, per-conversation sync cursors and read positions.
//
// The cursor of a conversation follows the highest server-assigned seq
// merged into it. lastSeq additionally covers provisional shadow seqs and
// metadata raises, so the two agree whenever nothing local is pending.
type Store struct {
	mu       sync.RWMutex
	convs    map[string]*convState
	meta     map[string]models.ConversationMeta
	cursors  map[string]int64
	lastRead map[string]int64

	tables *store.Tables
	log    *slog.Logger
}

func New(tables *store.Tables, log *slog.Logger) *Store {
	return &Store{
		convs:    make(map[string]*convState),
		meta:     make(map[string]models.ConversationMeta),
		cursors:  make(map[string]int64),
		lastRead: make(map[string]int64),
		tables:   tables,
		log:      logger.Or(log),
	}
}

// Load replaces cursors and read positions with the durable copies.
func (s *Store) Load(ctx context.Context) {
	cursors := s.tables.LoadCursors(ctx)
	lastRead := s.tables.LoadLastRead(ctx)
	s.mu.Lock()
	s.cursors = cursors
	s.lastRead = lastRead
	s.mu.Unlock()
}

// state returns the conversation, creating it seeded from its cursor.
func (s *Store) state(cid string) *convState {
	st, ok := s.convs[cid]
	if !ok {
		st = &convState{lastSeq: s.cursors[cid], shadows: make(map[string]bool)}
		s.convs[cid] = st
	}
	return st
}

// MergeEvents merges server-ordered events into cid. Events overwrite by
// id, the log is re-sorted by seq with ties kept in arrival order, and
// lastSeq and the cursor advance to the largest seq seen. It reports
// whether anything changed.
func (s *Store) MergeEvents(ctx context.Context, cid string, events []models.Event) (bool, error) {
	return s.merge(ctx, cid, events, false)
}

// MergeWindow merges a page fetched around an arbitrary seq. The cursor
// only advances when the page starts at or before cursor+1; otherwise the
// events in between would never be requested as deltas.
func (s *Store) MergeWindow(ctx context.Context, cid string, events []models.Event) (bool, error) {
	return s.merge(ctx, cid, events, true)
}

func (s *Store) merge(ctx context.Context, cid string, events []models.Event, contiguous bool) (bool, error) {
	if len(events) == 0 {
		return false, nil
	}
	s.mu.Lock()
	st := s.state(cid)
	maxSeq := int64(0)
	minSeq := events[0].Seq
	for _, ev := range events {
		ev = ev.Clone()
		if ev.ConversationID == "" {
			ev.ConversationID = cid
		}
		upsert(st, ev)
		delete(st.shadows, ev.ID)
		if ev.Seq > maxSeq {
			maxSeq = ev.Seq
		}
		if ev.Seq < minSeq {
			minSeq = ev.Seq
		}
	}
	sortEvents(st.events)
	if maxSeq > st.lastSeq {
		st.lastSeq = maxSeq
	}
	cursorMoved := false
	if maxSeq > s.cursors[cid] && (!contiguous || minSeq <= s.cursors[cid]+1) {
		s.cursors[cid] = maxSeq
		cursorMoved = true
	}
	s.mu.Unlock()

	if !cursorMoved {
		return true, nil
	}
	if err := s.persistCursor(ctx, cid, maxSeq); err != nil {
		return true, err
	}
	return true, nil
}

// MergeShadow inserts the provisional copy of a pushed event. A shadow
// never replaces an event the server has already ordered and never
// moves the cursor.
func (s *Store) MergeShadow(ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(ev.ConversationID)
	if i := indexOf(st.events, ev.ID); i >= 0 && !st.shadows[ev.ID] {
		return false
	}
	upsert(st, ev.Clone())
	st.shadows[ev.ID] = true
	sortEvents(st.events)
	if ev.Seq > st.lastSeq {
		st.lastSeq = ev.Seq
	}
	return true
}

// NextProvisionalSeq is the seq a shadow pushed now would take.
func (s *Store) NextProvisionalSeq(cid string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.convs[cid]; ok {
		return st.lastSeq + 1
	}
	return s.cursors[cid] + 1
}

func upsert(st *convState, ev models.Event) {
	if i := indexOf(st.events, ev.ID); i >= 0 {
		st.events[i] = ev
		return
	}
	st.events = append(st.events, ev)
}

func sortEvents(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
}

func indexOf(events []models.Event, id string) int {
	for i, ev := range events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

// RaiseLastSeq lifts lastSeq from metadata without touching the cursor,
// so events between the cursor and the reported seq are still fetched.
func (s *Store) RaiseLastSeq(cid string, seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(cid)
	if seq <= st.lastSeq {
		return false
	}
	st.lastSeq = seq
	return true
}

func (s *Store) persistCursor(ctx context.Context, cid string, seq int64) error {
	merged, err := s.tables.UpdateCursors(ctx, func(durable map[string]int64) map[string]int64 {
		return store.MaxMerge(durable, map[string]int64{cid: seq})
	})
	if err != nil {
		s.log.Warn("cursor_persist_failed", "conversation", cid, "error", err)
		return fmt.Errorf("persist cursor: %w", err)
	}
	s.mu.Lock()
	s.cursors = store.MaxMerge(s.cursors, merged)
	s.mu.Unlock()
	return nil
}

// ReloadCursors folds durable cursors into memory, keeping the larger
// value per conversation, and returns a copy.
func (s *Store) ReloadCursors(ctx context.Context) map[string]int64 {
	durable := s.tables.LoadCursors(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = store.MaxMerge(s.cursors, durable)
	return copyMap(s.cursors)
}

func (s *Store) Cursor(cid string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[cid]
}

func (s *Store) Cursors() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.cursors)
}

// UpsertMeta records server metadata and raises lastSeq to match it.
func (s *Store) UpsertMeta(metas []models.ConversationMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range metas {
		if m.ID == "" {
			continue
		}
		s.meta[m.ID] = m
		st := s.state(m.ID)
		if m.LastSeq > st.lastSeq {
			st.lastSeq = m.LastSeq
		}
	}
}

func (s *Store) Meta(cid string) (models.ConversationMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meta[cid]
	return m, ok
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
