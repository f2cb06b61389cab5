package convstore

import (
	"context"
	"sort"

	"github.com/tealigantal/gp/pkg/models"
)

// Messages returns the created-message events of cid in seq order. Edits
// and recalls stay in the log but are not folded into this view.
func (s *Store) Messages(cid string) []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.convs[cid]
	if !ok {
		return nil
	}
	out := make([]models.Event, 0, len(st.events))
	for _, ev := range st.events {
		if ev.Type == models.TypeMessageCreated {
			out = append(out, ev.Clone())
		}
	}
	return out
}

// State returns a copy of the full event log of cid.
func (s *Store) State(cid string) models.ConversationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.convs[cid]
	if !ok {
		return models.ConversationState{LastSeq: s.cursors[cid]}
	}
	events := make([]models.Event, len(st.events))
	for i, ev := range st.events {
		events[i] = ev.Clone()
	}
	return models.ConversationState{LastSeq: st.lastSeq, Events: events}
}

func (s *Store) LastSeq(cid string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.convs[cid]; ok {
		return st.lastSeq
	}
	return s.cursors[cid]
}

// HasEvents reports whether any event of cid is held locally.
func (s *Store) HasEvents(cid string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.convs[cid]
	return ok && len(st.events) > 0
}

// Loaded lists conversations with at least one local event.
func (s *Store) Loaded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.convs))
	for cid, st := range s.convs {
		if len(st.events) > 0 {
			out = append(out, cid)
		}
	}
	sort.Strings(out)
	return out
}

// Preview is the content of the newest created message, or "".
func (s *Store) Preview(cid string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previewLocked(cid)
}

func (s *Store) previewLocked(cid string) string {
	st, ok := s.convs[cid]
	if !ok {
		return ""
	}
	for i := len(st.events) - 1; i >= 0; i-- {
		if st.events[i].Type == models.TypeMessageCreated {
			return st.events[i].Content()
		}
	}
	return ""
}

// List returns one summary per conversation the server has described,
// newest first.
func (s *Store) List() []models.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConversationSummary, 0, len(s.meta))
	for cid, m := range s.meta {
		title := m.Title
		if title == "" {
			title = cid
		}
		last := m.LastSeq
		if st, ok := s.convs[cid]; ok && st.lastSeq > last {
			last = st.lastSeq
		}
		out = append(out, models.ConversationSummary{
			ID:        cid,
			Title:     title,
			LastSeq:   last,
			UpdatedAt: m.UpdatedAt,
			Unread:    s.unreadLocked(cid),
			Preview:   s.previewLocked(cid),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeq != out[j].LastSeq {
			return out[i].LastSeq > out[j].LastSeq
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Export bundles everything held locally about cid.
func (s *Store) Export(cid string) models.ConversationExport {
	st := s.State(cid)
	m, ok := s.Meta(cid)
	if !ok {
		m = models.ConversationMeta{ID: cid, LastSeq: st.LastSeq}
	}
	return models.ConversationExport{Conversation: m, LastRead: s.LastRead(cid), Events: st.Events}
}

// Clear forgets cid entirely, including its durable cursor and read
// position.
func (s *Store) Clear(ctx context.Context, cid string) error {
	s.mu.Lock()
	delete(s.convs, cid)
	delete(s.meta, cid)
	delete(s.cursors, cid)
	delete(s.lastRead, cid)
	s.mu.Unlock()

	drop := func(m map[string]int64) map[string]int64 {
		delete(m, cid)
		return m
	}
	if _, err := s.tables.UpdateCursors(ctx, drop); err != nil {
		return err
	}
	if _, err := s.tables.UpdateLastRead(ctx, drop); err != nil {
		return err
	}
	return nil
}
