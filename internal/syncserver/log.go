package syncserver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tealigantal/gp/pkg/models"
)

const (
	defaultUser  = "local-user"
	titleSnippet = 24
)

var ErrUnknownConversation = errors.New("unknown conversation")

type message struct {
	id        string
	seq       int64
	content   string
	recalled  bool
	editedAt  string
	createdAt string
}

type conversation struct {
	meta     models.ConversationMeta
	events   []models.Event
	byID     map[string]int
	reads    map[string]int64
	messages map[string]*message
	order    []string
}

// Participant is one reader of a conversation as exported.
type Participant struct {
	UserID      string `json:"user_id"`
	LastReadSeq int64  `json:"last_read_seq"`
}

// Export is the server-side backup of a conversation.
type Export struct {
	Conversation models.ConversationMeta `json:"conversation"`
	Participants []Participant           `json:"participants"`
	Events       []models.Event          `json:"events"`
}

// Log is the authoritative, in-memory event log. Each conversation has a
// gapless seq starting at 1; appends are insert-or-ignore by event id.
type Log struct {
	mu    sync.RWMutex
	convs map[string]*conversation
	now   func() time.Time
}

func NewLog() *Log {
	return &Log{convs: make(map[string]*conversation), now: time.Now}
}

func (l *Log) stamp() string {
	return l.now().UTC().Format(time.RFC3339Nano)
}

func (l *Log) ensure(cid string) *conversation {
	c, ok := l.convs[cid]
	if !ok {
		ts := l.stamp()
		c = &conversation{
			meta:     models.ConversationMeta{ID: cid, Title: cid, Type: "chat", UpdatedAt: ts},
			byID:     make(map[string]int),
			reads:    make(map[string]int64),
			messages: make(map[string]*message),
		}
		l.convs[cid] = c
	}
	return c
}

// Append orders e into its conversation and returns its seq. Re-sending
// an id returns the seq assigned the first time.
func (l *Log) Append(e models.OutboxEntry) (int64, error) {
	if e.ID == "" {
		return 0, fmt.Errorf("event id required")
	}
	if e.ConversationID == "" {
		return 0, fmt.Errorf("conversation_id required")
	}
	if e.Type == "" {
		return 0, fmt.Errorf("type required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.ensure(e.ConversationID)
	if i, ok := c.byID[e.ID]; ok {
		return c.events[i].Seq, nil
	}

	actor := defaultUser
	if e.ActorID != nil && *e.ActorID != "" {
		actor = *e.ActorID
	}
	if _, ok := c.reads[actor]; !ok {
		c.reads[actor] = 0
	}
	ts := l.stamp()
	seq := c.meta.LastSeq + 1
	ev := models.Event{
		ID:             e.ID,
		ConversationID: e.ConversationID,
		Seq:            seq,
		Type:           e.Type,
		ActorID:        &actor,
		CreatedAt:      ts,
		Data:           e.Data,
	}
	c.byID[e.ID] = len(c.events)
	c.events = append(c.events, ev)
	c.meta.LastSeq = seq
	c.meta.UpdatedAt = ts

	switch p := ev.Payload().(type) {
	case models.MessageCreated:
		c.materialize(ev, p.Content, ts)
	case models.MessageEdited:
		if m, ok := c.messages[p.MessageID]; ok {
			m.content = p.Content
			m.editedAt = ts
		}
	case models.MessageRecalled:
		if m, ok := c.messages[p.MessageID]; ok {
			m.recalled = true
		}
	case models.ReadUpdated:
		if p.LastReadSeq > 0 {
			c.reads[actor] = p.LastReadSeq
		}
	}
	return seq, nil
}

func (c *conversation) materialize(ev models.Event, content, ts string) {
	id := ev.ID
	if mid, _ := ev.Data["message_id"].(string); mid != "" {
		id = mid
	}
	if _, ok := c.messages[id]; !ok {
		c.order = append(c.order, id)
	}
	c.messages[id] = &message{id: id, seq: ev.Seq, content: content, createdAt: ts}

	// a conversation named after its id takes the first message as title
	if c.meta.Title == "" || c.meta.Title == c.meta.ID || strings.HasPrefix(c.meta.Title, "sess-") {
		snippet := strings.TrimSpace(content)
		if snippet == "" {
			return
		}
		if utf8.RuneCountInString(snippet) > titleSnippet {
			snippet = string([]rune(snippet)[:titleSnippet]) + "…"
		}
		c.meta.Title = snippet
	}
}

// After returns up to limit events with seq > after, ascending.
func (l *Log) After(cid string, after int64, limit int) []models.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.convs[cid]
	if !ok {
		return []models.Event{}
	}
	// seqs are gapless from 1, so seq n lives at index n-1
	start := after
	if start < 0 {
		start = 0
	}
	if start >= int64(len(c.events)) {
		return []models.Event{}
	}
	end := len(c.events)
	if limit > 0 && int(start)+limit < end {
		end = int(start) + limit
	}
	out := make([]models.Event, 0, end-int(start))
	for _, ev := range c.events[start:end] {
		out = append(out, ev.Clone())
	}
	return out
}

// Around returns a window of about limit events starting half a window
// before seq.
func (l *Log) Around(cid string, seq int64, limit int) []models.Event {
	half := int64(limit / 2)
	if half < 1 {
		half = 1
	}
	start := seq - half
	if start < 1 {
		start = 1
	}
	return l.After(cid, start-1, limit)
}

// Conversations lists every conversation, highest last_seq first.
func (l *Log) Conversations() []models.ConversationMeta {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.ConversationMeta, 0, len(l.convs))
	for _, c := range l.convs {
		out = append(out, c.meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeq != out[j].LastSeq {
			return out[i].LastSeq > out[j].LastSeq
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (l *Log) ReadPosition(cid, user string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.convs[cid]
	if !ok {
		return 0
	}
	if user == "" {
		user = defaultUser
	}
	return c.reads[user]
}

func (l *Log) Delete(cid string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.convs[cid]; !ok {
		return ErrUnknownConversation
	}
	delete(l.convs, cid)
	return nil
}

// Search matches query case-insensitively against the current content of
// messages that were not recalled.
func (l *Log) Search(query, cid string, limit int) []models.SearchHit {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []models.SearchHit{}
	if q == "" {
		return out
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.convs))
	for id := range l.convs {
		if cid == "" || id == cid {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := l.convs[id]
		for _, mid := range c.order {
			m := c.messages[mid]
			if m.recalled || !strings.Contains(strings.ToLower(m.content), q) {
				continue
			}
			out = append(out, models.SearchHit{MessageID: m.id, ConversationID: id, Seq: m.seq})
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

func (l *Log) Export(cid string) (Export, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.convs[cid]
	if !ok {
		return Export{}, ErrUnknownConversation
	}
	users := make([]string, 0, len(c.reads))
	for u := range c.reads {
		users = append(users, u)
	}
	sort.Strings(users)
	parts := make([]Participant, 0, len(users))
	for _, u := range users {
		parts = append(parts, Participant{UserID: u, LastReadSeq: c.reads[u]})
	}
	events := make([]models.Event, len(c.events))
	for i, ev := range c.events {
		events[i] = ev.Clone()
	}
	return Export{Conversation: c.meta, Participants: parts, Events: events}, nil
}

// Sync applies one client round-trip: append the outbox in order, then
// answer deltas for every cursor and the full conversation list.
func (l *Log) Sync(req models.SyncRequest, maxDelta int) models.SyncResponse {
	resp := models.SyncResponse{
		Ack:               make(map[string]string, len(req.OutboxEvents)),
		Deltas:            make(map[string][]models.Event, len(req.ConvCursors)),
		UserSettingsDelta: []map[string]any{},
	}
	for _, e := range req.OutboxEvents {
		seq, err := l.Append(e)
		if err != nil {
			resp.Ack[e.ID] = models.AckErrorPrefix + err.Error()
			continue
		}
		resp.Ack[e.ID] = fmt.Sprintf("accepted:%d", seq)
	}
	for cid, cursor := range req.ConvCursors {
		resp.Deltas[cid] = l.After(cid, cursor, maxDelta)
	}
	resp.ConversationsDelta = l.Conversations()
	return resp
}
