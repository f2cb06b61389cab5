package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/models"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

const maxErrorBody = 512

type ClientConfig struct {
	// Endpoint is the API base, e.g. http://localhost:8000/api.
	Endpoint string
	// Timeout bounds a request when the context carries no deadline.
	Timeout time.Duration
	// Dial overrides the connection dialer (in-memory listeners in tests).
	Dial   fasthttp.DialFunc
	Logger *slog.Logger
}

// HTTPClient speaks the sync JSON API over fasthttp.
type HTTPClient struct {
	base    string
	timeout time.Duration
	client  *fasthttp.Client
	log     *slog.Logger
}

func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	base := strings.TrimRight(cfg.Endpoint, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", cfg.Endpoint)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		base:    base,
		timeout: timeout,
		client: &fasthttp.Client{
			Name:                "gpsync",
			Dial:                cfg.Dial,
			MaxIdleConnDuration: time.Minute,
		},
		log: logger.Or(cfg.Logger),
	}, nil
}

func (c *HTTPClient) Sync(ctx context.Context, req models.SyncRequest) (models.SyncResponse, error) {
	if req.ConvCursors == nil {
		req.ConvCursors = map[string]int64{}
	}
	if req.OutboxEvents == nil {
		req.OutboxEvents = []models.OutboxEntry{}
	}
	var resp models.SyncResponse
	if err := c.do(ctx, "sync", fasthttp.MethodPost, c.base+"/sync", req, &resp); err != nil {
		return models.SyncResponse{}, err
	}
	return resp, nil
}

func (c *HTTPClient) FetchEvents(ctx context.Context, conversationID string, q models.FetchQuery) ([]models.Event, error) {
	params := url.Values{}
	switch {
	case q.Around != nil:
		params.Set("around", strconv.FormatInt(*q.Around, 10))
	case q.After != nil:
		params.Set("after", strconv.FormatInt(*q.After, 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	target := c.base + "/conversations/" + url.PathEscape(conversationID) + "/events"
	if enc := params.Encode(); enc != "" {
		target += "?" + enc
	}
	var events []models.Event
	if err := c.do(ctx, "fetch_events", fasthttp.MethodGet, target, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *HTTPClient) DeleteConversation(ctx context.Context, conversationID string) error {
	target := c.base + "/conversations/" + url.PathEscape(conversationID)
	return c.do(ctx, "delete_conversation", fasthttp.MethodDelete, target, nil, nil)
}

func (c *HTTPClient) Search(ctx context.Context, query, conversationID string, limit int) ([]models.SearchHit, error) {
	params := url.Values{}
	params.Set("q", query)
	if conversationID != "" {
		params.Set("conversation_id", conversationID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var hits []models.SearchHit
	if err := c.do(ctx, "search", fasthttp.MethodGet, c.base+"/search?"+params.Encode(), nil, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

func (c *HTTPClient) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

func (c *HTTPClient) do(ctx context.Context, op, method, target string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: op, Err: err}
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}

	req.SetRequestURI(target)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		buf := bytebufferpool.Get()
		err := json.NewEncoder(buf).Encode(body)
		if err == nil {
			req.Header.SetContentType("application/json")
			req.SetBody(buf.B)
		}
		bytebufferpool.Put(buf)
		if err != nil {
			release()
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- c.client.DoDeadline(req, resp, c.deadline(ctx)) }()
	var err error
	select {
	case err = <-done:
		defer release()
	case <-ctx.Done():
		// fasthttp cannot abort a request in flight; free it once it ends
		go func() {
			<-done
			release()
		}()
		c.log.Debug("transport_request_abandoned", "op", op, "error", ctx.Err())
		return &Error{Op: op, Err: ctx.Err()}
	}
	if err != nil {
		c.log.Debug("transport_request_failed", "op", op, "error", err)
		return &Error{Op: op, Err: err}
	}
	status := resp.StatusCode()
	c.log.Debug("transport_request", "op", op, "status", status, "elapsed", time.Since(start))
	if status < 200 || status >= 300 {
		b := resp.Body()
		if len(b) > maxErrorBody {
			b = b[:maxErrorBody]
		}
		return &Error{Op: op, StatusCode: status, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &Error{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
