package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/models"
	"github.com/tealigantal/gp/pkg/store"

	"github.com/google/uuid"
)

// Outbox is the ordered list of locally originated events not yet
// acknowledged by the server. Every write goes through a read-modify-write
// of the durable document, and the result is the union of what is on disk
// and what this handle holds, so two handles never drop each other's
// entries.
type Outbox struct {
	mu      sync.Mutex
	entries []models.OutboxEntry
	tables  *store.Tables
	log     *slog.Logger
}

func New(tables *store.Tables, log *slog.Logger) *Outbox {
	return &Outbox{tables: tables, log: logger.Or(log)}
}

// NewEventID returns a fresh client-generated event id.
func NewEventID() string {
	return "ev-" + uuid.NewString()
}

// Load replaces the in-memory list with the durable one.
func (o *Outbox) Load(ctx context.Context) {
	entries := o.tables.LoadOutbox(ctx)
	o.mu.Lock()
	o.entries = entries
	o.mu.Unlock()
}

// Push appends e unless an entry with the same id is already queued. It
// reports whether the entry was added.
func (o *Outbox) Push(ctx context.Context, e models.OutboxEntry) (bool, error) {
	if e.ID == "" {
		return false, fmt.Errorf("outbox entry has no id")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if indexOf(o.entries, e.ID) >= 0 {
		return false, nil
	}
	o.entries = append(o.entries, e)

	merged, err := o.tables.UpdateOutbox(ctx, func(durable []models.OutboxEntry) []models.OutboxEntry {
		return Union(durable, o.entries)
	})
	if err != nil {
		o.log.Warn("outbox_persist_failed", "id", e.ID, "error", err)
		return true, fmt.Errorf("persist outbox: %w", err)
	}
	o.entries = merged
	return true, nil
}

// Reload folds the durable list into memory and returns a snapshot of the
// result. Nothing is written back.
func (o *Outbox) Reload(ctx context.Context) []models.OutboxEntry {
	// Hold the lock across the read so a prune cannot land between the
	// read and the union and have its removals undone.
	o.mu.Lock()
	defer o.mu.Unlock()
	durable := o.tables.LoadOutbox(ctx)
	o.entries = Union(o.entries, durable)
	return clone(o.entries)
}

// Prune removes every entry whose ack is a success and returns the
// rejected ones keyed by id. Entries absent from ack stay queued.
func (o *Outbox) Prune(ctx context.Context, ack map[string]string) (map[string]string, error) {
	rejected := make(map[string]string)
	acked := make(map[string]bool, len(ack))
	for id, status := range ack {
		if models.AckAccepted(status) {
			acked[id] = true
		} else {
			rejected[id] = status
		}
	}
	if len(acked) == 0 {
		return rejected, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = without(o.entries, func(e models.OutboxEntry) bool { return acked[e.ID] })
	merged, err := o.tables.UpdateOutbox(ctx, func(durable []models.OutboxEntry) []models.OutboxEntry {
		return without(Union(durable, o.entries), func(e models.OutboxEntry) bool { return acked[e.ID] })
	})
	if err != nil {
		return rejected, fmt.Errorf("persist outbox: %w", err)
	}
	o.entries = merged
	return rejected, nil
}

// DropConversation discards queued entries for a deleted conversation.
func (o *Outbox) DropConversation(ctx context.Context, conversationID string) error {
	match := func(e models.OutboxEntry) bool { return e.ConversationID == conversationID }
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = without(o.entries, match)
	merged, err := o.tables.UpdateOutbox(ctx, func(durable []models.OutboxEntry) []models.OutboxEntry {
		return without(Union(durable, o.entries), match)
	})
	if err != nil {
		return fmt.Errorf("persist outbox: %w", err)
	}
	o.entries = merged
	return nil
}

func (o *Outbox) Entries() []models.OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return clone(o.entries)
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Union returns a followed by the entries of b whose ids a lacks. Order
// within each source is kept.
func Union(a, b []models.OutboxEntry) []models.OutboxEntry {
	out := make([]models.OutboxEntry, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, src := range [][]models.OutboxEntry{a, b} {
		for _, e := range src {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	return out
}

func without(entries []models.OutboxEntry, drop func(models.OutboxEntry) bool) []models.OutboxEntry {
	out := make([]models.OutboxEntry, 0, len(entries))
	for _, e := range entries {
		if !drop(e) {
			out = append(out, e)
		}
	}
	return out
}

func indexOf(entries []models.OutboxEntry, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func clone(entries []models.OutboxEntry) []models.OutboxEntry {
	out := make([]models.OutboxEntry, len(entries))
	copy(out, entries)
	return out
}
