package syncserver

import (
	"fmt"
	"strings"
	"testing"

	"github.com/tealigantal/gp/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, cid, content string) models.OutboxEntry {
	return models.OutboxEntry{ID: id, ConversationID: cid, Type: models.TypeMessageCreated,
		Data: map[string]any{"content": content}}
}

func TestAppendIsInsertOrIgnoreByID(t *testing.T) {
	l := NewLog()
	s1, err := l.Append(msg("a", "c1", "hello"))
	require.NoError(t, err)
	s2, err := l.Append(msg("b", "c1", "world"))
	require.NoError(t, err)
	again, err := l.Append(msg("a", "c1", "hello"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), s1)
	assert.Equal(t, int64(2), s2)
	assert.Equal(t, s1, again)
	assert.Len(t, l.After("c1", 0, 0), 2)

	_, err = l.Append(models.OutboxEntry{ID: "x", Type: models.TypeMessageCreated})
	assert.Error(t, err)
}

func TestAfterAndAroundWindows(t *testing.T) {
	l := NewLog()
	for i := 1; i <= 20; i++ {
		_, err := l.Append(msg(fmt.Sprintf("e%d", i), "c1", "m"))
		require.NoError(t, err)
	}
	first := func(evs []models.Event) int64 { return evs[0].Seq }

	cases := []struct {
		name  string
		got   []models.Event
		first int64
		n     int
	}{
		{"after 0 limit 5", l.After("c1", 0, 5), 1, 5},
		{"after 18", l.After("c1", 18, 100), 19, 2},
		{"around 10 limit 6", l.Around("c1", 10, 6), 7, 6},
		{"around 2 clamps at 1", l.Around("c1", 2, 10), 1, 10},
		{"around 20 limit 1", l.Around("c1", 20, 1), 19, 1},
	}
	for _, c := range cases {
		require.Len(t, c.got, c.n, c.name)
		assert.Equal(t, c.first, first(c.got), c.name)
	}
	assert.Empty(t, l.After("c1", 20, 10))
	assert.Empty(t, l.After("missing", 0, 10))
}

func TestReadUpdatedMovesParticipantPosition(t *testing.T) {
	l := NewLog()
	actor := "u1"
	_, err := l.Append(msg("a", "c1", "hi"))
	require.NoError(t, err)
	_, err = l.Append(models.OutboxEntry{ID: "r1", ConversationID: "c1", Type: models.TypeReadUpdated,
		ActorID: &actor, Data: map[string]any{"last_read_seq": float64(1)}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.ReadPosition("c1", "u1"))

	exp, err := l.Export("c1")
	require.NoError(t, err)
	assert.Len(t, exp.Events, 2)
	assert.Len(t, exp.Participants, 2)
}

func TestTitleFromFirstMessageAndOrdering(t *testing.T) {
	l := NewLog()
	_, err := l.Append(msg("a", "c1", strings.Repeat("x", 30)))
	require.NoError(t, err)
	_, err = l.Append(msg("b", "c2", "short"))
	require.NoError(t, err)
	_, err = l.Append(msg("c", "c2", "second"))
	require.NoError(t, err)

	convs := l.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[0].ID)
	assert.Equal(t, "short", convs[0].Title)
	assert.Equal(t, strings.Repeat("x", 24)+"…", convs[1].Title)
}

func TestSearchSkipsRecalledAndFollowsEdits(t *testing.T) {
	l := NewLog()
	for _, e := range []models.OutboxEntry{
		msg("a", "c1", "buy apples"),
		msg("b", "c1", "Apple pie"),
		msg("c", "c2", "apples again"),
		{ID: "d", ConversationID: "c1", Type: models.TypeMessageRecalled, Data: map[string]any{"message_id": "b"}},
		{ID: "e", ConversationID: "c2", Type: models.TypeMessageEdited, Data: map[string]any{"message_id": "c", "content": "pears"}},
	} {
		_, err := l.Append(e)
		require.NoError(t, err)
	}
	hits := l.Search("APPLE", "", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, models.SearchHit{MessageID: "a", ConversationID: "c1", Seq: 1}, hits[0])
	assert.Empty(t, l.Search("apple", "c2", 10))
	assert.Empty(t, l.Search("  ", "", 10))
}

func TestSyncAcksAndDeltas(t *testing.T) {
	l := NewLog()
	_, err := l.Append(msg("old", "c1", "before"))
	require.NoError(t, err)

	resp := l.Sync(models.SyncRequest{
		DeviceID:    "dev-1",
		ConvCursors: map[string]int64{"c1": 0},
		OutboxEvents: []models.OutboxEntry{
			msg("m1", "c1", "hi"),
			{ID: "bad", ConversationID: "c1"},
		},
	}, 200)

	assert.Equal(t, "accepted:2", resp.Ack["m1"])
	assert.True(t, strings.HasPrefix(resp.Ack["bad"], models.AckErrorPrefix))
	require.Len(t, resp.Deltas["c1"], 2)
	assert.Equal(t, "m1", resp.Deltas["c1"][1].ID)
	require.Len(t, resp.ConversationsDelta, 1)
	assert.Equal(t, int64(2), resp.ConversationsDelta[0].LastSeq)
}

func TestDelete(t *testing.T) {
	l := NewLog()
	_, err := l.Append(msg("a", "c1", "x"))
	require.NoError(t, err)
	require.NoError(t, l.Delete("c1"))
	assert.ErrorIs(t, l.Delete("c1"), ErrUnknownConversation)
	assert.Empty(t, l.Conversations())
}
