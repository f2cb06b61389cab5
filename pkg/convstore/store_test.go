package convstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/tealigantal/gp/pkg/models"
	"github.com/tealigantal/gp/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func created(id string, seq int64, content string) models.Event {
	return models.Event{ID: id, ConversationID: "c1", Seq: seq, Type: models.TypeMessageCreated,
		CreatedAt: "2025-01-01T00:00:00Z", Data: map[string]any{"content": content}}
}

func newStore() (*Store, *store.Tables) {
	tables := store.NewTables(store.NewMemory(), 0)
	return New(tables, nil), tables
}

func seqs(events []models.Event) []int64 {
	out := make([]int64, len(events))
	for i, ev := range events {
		out[i] = ev.Seq
	}
	return out
}

func TestMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore()
	batch := []models.Event{created("a", 1, "one"), created("b", 2, "two")}

	_, err := s.MergeEvents(ctx, "c1", batch)
	require.NoError(t, err)
	once := s.State("c1")
	_, err = s.MergeEvents(ctx, "c1", batch)
	require.NoError(t, err)
	twice := s.State("c1")

	assert.Equal(t, once, twice)
	assert.Len(t, twice.Events, 2)
}

func TestMergeOrdersBySeqAndIsUniqueByID(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore()
	batches := [][]models.Event{
		{created("e", 5, "five"), created("b", 2, "two")},
		{created("a", 1, "one"), created("b", 2, "two again")},
		{created("d", 4, "four"), created("c", 3, "three")},
	}
	for _, b := range batches {
		_, err := s.MergeEvents(ctx, "c1", b)
		require.NoError(t, err)
	}
	st := s.State("c1")
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs(st.Events))
	assert.Equal(t, int64(5), st.LastSeq)
	assert.Equal(t, "two again", st.Events[1].Content())
}

func TestCursorIsMonotonicAndPersisted(t *testing.T) {
	ctx := context.Background()
	s, tables := newStore()

	_, err := s.MergeEvents(ctx, "c1", []models.Event{created("a", 7, "x")})
	require.NoError(t, err)
	_, err = s.MergeEvents(ctx, "c1", []models.Event{created("b", 3, "late")})
	require.NoError(t, err)

	assert.Equal(t, int64(7), s.Cursor("c1"))
	assert.Equal(t, s.LastSeq("c1"), s.Cursor("c1"))
	assert.Equal(t, int64(7), tables.LoadCursors(ctx)["c1"])
}

func TestShadowReplacedInPlaceByServerEvent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore()

	seq := s.NextProvisionalSeq("c1")
	require.Equal(t, int64(1), seq)
	entry := models.OutboxEntry{ID: "m1", ConversationID: "c1", Type: models.TypeMessageCreated,
		Data: map[string]any{"content": "hi"}}
	require.True(t, s.MergeShadow(entry.Shadow(seq, "2025-01-01T00:00:00Z")))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].Seq)
	assert.Equal(t, int64(0), s.Cursor("c1"), "a shadow must not move the cursor")

	_, err := s.MergeEvents(ctx, "c1", []models.Event{created("m1", 5, "hi")})
	require.NoError(t, err)

	msgs = s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(5), msgs[0].Seq)
	assert.Equal(t, int64(5), s.Cursor("c1"))
	assert.Equal(t, int64(5), s.LastSeq("c1"))
}

func TestShadowNeverOverwritesServerEvent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore()
	_, err := s.MergeEvents(ctx, "c1", []models.Event{created("r1", 7, "server")})
	require.NoError(t, err)

	shadow := created("r1", s.NextProvisionalSeq("c1"), "local")
	assert.False(t, s.MergeShadow(shadow))
	assert.Equal(t, int64(7), s.Messages("c1")[0].Seq)
}

func TestMessagesFiltersToCreated(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore()
	_, err := s.MergeEvents(ctx, "c1", []models.Event{
		created("a", 1, "hello"),
		{ID: "e", ConversationID: "c1", Seq: 2, Type: models.TypeMessageEdited, Data: map[string]any{"message_id": "a", "content": "edited"}},
		{ID: "r", ConversationID: "c1", Seq: 3, Type: models.TypeReadUpdated, Data: map[string]any{"last_read_seq": 1}},
	})
	require.NoError(t, err)
	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content())
	assert.Len(t, s.State("c1").Events, 3)
}

func TestUnreadNeverNegative(t *testing.T) {
	ctx := context.Background()
	s, tables := newStore()
	s.UpsertMeta([]models.ConversationMeta{{ID: "c1", Title: "General", LastSeq: 10}})
	assert.Equal(t, int64(10), s.Unread("c1"))

	cases := []struct {
		read int64
		want int64
	}{
		{4, 6},
		{2, 6},
		{10, 0},
		{15, 0},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("read=%d", c.read), func(t *testing.T) {
			_, err := s.RaiseLastRead(ctx, "c1", c.read)
			require.NoError(t, err)
			assert.Equal(t, c.want, s.Unread("c1"))
		})
	}
	assert.Equal(t, int64(15), tables.LoadLastRead(ctx)["c1"])
}

func TestMetaRaisesLastSeqButNotCursor(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore()
	_, err := s.MergeEvents(ctx, "c1", []models.Event{created("a", 3, "x")})
	require.NoError(t, err)
	s.UpsertMeta([]models.ConversationMeta{{ID: "c1", LastSeq: 9}})
	assert.Equal(t, int64(9), s.LastSeq("c1"))
	assert.Equal(t, int64(3), s.Cursor("c1"))
}

func TestListSortedWithPreview(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore()
	s.UpsertMeta([]models.ConversationMeta{
		{ID: "c1", Title: "Old", LastSeq: 2},
		{ID: "c2", LastSeq: 8},
	})
	_, err := s.MergeEvents(ctx, "c1", []models.Event{created("a", 1, "first"), created("b", 2, "second")})
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID)
	assert.Equal(t, "c2", list[0].Title)
	assert.Equal(t, "", list[0].Preview)
	assert.Equal(t, "Old", list[1].Title)
	assert.Equal(t, "second", list[1].Preview)
}

func TestReloadCursorsKeepsMaximum(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	a := New(store.NewTables(kv, 0), nil)
	b := New(store.NewTables(kv, 0), nil)

	_, err := a.MergeEvents(ctx, "c1", []models.Event{created("x", 4, "x")})
	require.NoError(t, err)
	_, err = b.MergeEvents(ctx, "c2", []models.Event{created("y", 2, "y")})
	require.NoError(t, err)

	got := a.ReloadCursors(ctx)
	assert.Equal(t, map[string]int64{"c1": 4, "c2": 2}, got)
}

func TestClearForgetsConversation(t *testing.T) {
	ctx := context.Background()
	s, tables := newStore()
	_, err := s.MergeEvents(ctx, "c1", []models.Event{created("a", 1, "x")})
	require.NoError(t, err)
	_, err = s.RaiseLastRead(ctx, "c1", 1)
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx, "c1"))
	assert.False(t, s.HasEvents("c1"))
	assert.NotContains(t, tables.LoadCursors(ctx), "c1")
	assert.NotContains(t, tables.LoadLastRead(ctx), "c1")
}

func TestWindowAheadOfCursorKeepsCursor(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore()
	_, err := s.MergeEvents(ctx, "c1", []models.Event{created("a", 1, "one"), created("b", 2, "two")})
	require.NoError(t, err)

	_, err = s.MergeWindow(ctx, "c1", []models.Event{created("x", 40, "x"), created("y", 41, "y")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Cursor("c1"), "a detached window must not skip seqs 3..39")
	assert.Equal(t, int64(41), s.LastSeq("c1"))

	_, err = s.MergeWindow(ctx, "c1", []models.Event{created("c", 3, "three"), created("d", 4, "four")})
	require.NoError(t, err)
	assert.Equal(t, int64(4), s.Cursor("c1"))
}
