package outbox

import (
	"context"
	"strings"
	"testing"

	"github.com/tealigantal/gp/pkg/models"
	"github.com/tealigantal/gp/pkg/store"
)

func entry(id, cid string) models.OutboxEntry {
	return models.OutboxEntry{ID: id, ConversationID: cid, Type: models.TypeMessageCreated,
		Data: map[string]any{"content": id}}
}

func ids(entries []models.OutboxEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.ID
	}
	return strings.Join(parts, ",")
}

func TestPushIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	ob := New(store.NewTables(store.NewMemory(), 0), nil)

	added, err := ob.Push(ctx, entry("m1", "c1"))
	if err != nil || !added {
		t.Fatalf("first push: added=%v err=%v", added, err)
	}
	added, err = ob.Push(ctx, entry("m1", "c1"))
	if err != nil || added {
		t.Fatalf("duplicate push: added=%v err=%v", added, err)
	}
	if ob.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", ob.Len())
	}
	if _, err := ob.Push(ctx, models.OutboxEntry{ConversationID: "c1"}); err == nil {
		t.Fatalf("expected error for entry without id")
	}
}

func TestPruneKeepsRejectedAndUnacked(t *testing.T) {
	ctx := context.Background()
	tables := store.NewTables(store.NewMemory(), 0)
	ob := New(tables, nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := ob.Push(ctx, entry(id, "c1")); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}

	rejected, err := ob.Prune(ctx, map[string]string{
		"a": "ok",
		"b": "error:conversation_not_found",
		"c": "accepted:12",
	})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if rejected["b"] != "error:conversation_not_found" || len(rejected) != 1 {
		t.Fatalf("unexpected rejected set: %v", rejected)
	}
	if got := ids(ob.Entries()); got != "b,d" {
		t.Fatalf("memory after prune = %s, want b,d", got)
	}
	if got := ids(tables.LoadOutbox(ctx)); got != "b,d" {
		t.Fatalf("durable after prune = %s, want b,d", got)
	}
}

func TestTwoHandlesNeverDropEachOthersEntries(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	a := New(store.NewTables(kv, 0), nil)
	b := New(store.NewTables(kv, 0), nil)

	if _, err := a.Push(ctx, entry("x", "c1")); err != nil {
		t.Fatalf("push x: %v", err)
	}
	if _, err := b.Push(ctx, entry("y", "c1")); err != nil {
		t.Fatalf("push y: %v", err)
	}
	if got := ids(store.NewTables(kv, 0).LoadOutbox(ctx)); got != "x,y" {
		t.Fatalf("durable = %s, want x,y", got)
	}
	if got := ids(a.Reload(ctx)); got != "x,y" {
		t.Fatalf("a after reload = %s, want x,y", got)
	}

	// b prunes x after its own flush; a still holds x in memory and
	// re-sends it, which the server treats as a duplicate.
	if _, err := b.Prune(ctx, map[string]string{"x": "ok"}); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if got := ids(a.Reload(ctx)); got != "x,y" {
		t.Fatalf("a must keep x until its own ack, got %s", got)
	}
}

func TestDropConversation(t *testing.T) {
	ctx := context.Background()
	ob := New(store.NewTables(store.NewMemory(), 0), nil)
	for _, e := range []models.OutboxEntry{entry("a", "c1"), entry("b", "c2"), entry("c", "c1")} {
		if _, err := ob.Push(ctx, e); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if err := ob.DropConversation(ctx, "c1"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if got := ids(ob.Entries()); got != "b" {
		t.Fatalf("entries = %s, want b", got)
	}
}

func TestNewEventID(t *testing.T) {
	a, b := NewEventID(), NewEventID()
	if !strings.HasPrefix(a, "ev-") || a == b {
		t.Fatalf("unexpected ids %q %q", a, b)
	}
}
