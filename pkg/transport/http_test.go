package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/tealigantal/gp/internal/syncserver"
	"github.com/tealigantal/gp/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func startServer(t *testing.T, handler fasthttp.RequestHandler) *HTTPClient {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, handler) }()
	t.Cleanup(func() { _ = ln.Close() })

	c, err := NewHTTPClient(ClientConfig{
		Endpoint: "http://sync.test/api",
		Timeout:  2 * time.Second,
		Dial:     func(string) (net.Conn, error) { return ln.Dial() },
	})
	require.NoError(t, err)
	return c
}

func TestSyncRoundTrip(t *testing.T) {
	srv := syncserver.New(nil, syncserver.Options{})
	c := startServer(t, srv.Handler())
	ctx := context.Background()

	resp, err := c.Sync(ctx, models.SyncRequest{
		DeviceID:    "dev-1",
		ConvCursors: map[string]int64{"c1": 0},
		OutboxEvents: []models.OutboxEntry{{
			ID: "m1", ConversationID: "c1", Type: models.TypeMessageCreated,
			Data: map[string]any{"content": "hi"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "accepted:1", resp.Ack["m1"])
	require.Len(t, resp.Deltas["c1"], 1)
	assert.Equal(t, "hi", resp.Deltas["c1"][0].Content())
	require.Len(t, resp.ConversationsDelta, 1)
	assert.Equal(t, "hi", resp.ConversationsDelta[0].Title)
}

func TestFetchEventsAfterAndAround(t *testing.T) {
	log := syncserver.NewLog()
	for i := 0; i < 10; i++ {
		_, err := log.Append(models.OutboxEntry{ID: string(rune('a' + i)), ConversationID: "c 1",
			Type: models.TypeMessageCreated, Data: map[string]any{"content": "x"}})
		require.NoError(t, err)
	}
	c := startServer(t, syncserver.New(log, syncserver.Options{}).Handler())
	ctx := context.Background()

	events, err := c.FetchEvents(ctx, "c 1", models.After(7, 100))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(8), events[0].Seq)

	events, err = c.FetchEvents(ctx, "c 1", models.Around(5, 4))
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, int64(3), events[0].Seq)
}

func TestSearchAndDelete(t *testing.T) {
	log := syncserver.NewLog()
	_, err := log.Append(models.OutboxEntry{ID: "m1", ConversationID: "c1", Type: models.TypeMessageCreated,
		Data: map[string]any{"content": "find me"}})
	require.NoError(t, err)
	c := startServer(t, syncserver.New(log, syncserver.Options{}).Handler())
	ctx := context.Background()

	hits, err := c.Search(ctx, "find", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].Seq)

	require.NoError(t, c.DeleteConversation(ctx, "c1"))
	err = c.DeleteConversation(ctx, "c1")
	require.Error(t, err)
	assert.True(t, IsStatus(err, fasthttp.StatusNotFound))
}

func TestErrorCarriesStatusAndBody(t *testing.T) {
	c := startServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		ctx.SetBodyString("maintenance")
	})
	_, err := c.Sync(context.Background(), models.SyncRequest{DeviceID: "dev-1"})
	require.Error(t, err)
	assert.True(t, IsStatus(err, fasthttp.StatusServiceUnavailable))
	assert.Contains(t, err.Error(), "maintenance")
}

func TestCancelledContextFailsFast(t *testing.T) {
	c := startServer(t, func(ctx *fasthttp.RequestCtx) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchEvents(ctx, "c1", models.After(0, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancelAbandonsRequestInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	c := startServer(t, func(ctx *fasthttp.RequestCtx) {
		entered <- struct{}{}
		<-release
		ctx.SetBodyString("[]")
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.FetchEvents(ctx, "c1", models.After(0, 10))
		errCh <- err
	}()
	<-entered
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatalf("request kept blocking after cancel")
	}
}

func TestNewHTTPClientRejectsBadEndpoint(t *testing.T) {
	_, err := NewHTTPClient(ClientConfig{Endpoint: "not a url"})
	assert.Error(t, err)
}
