package engine

import (
	"context"
	"strings"

	"github.com/tealigantal/gp/pkg/models"
	"github.com/tealigantal/gp/pkg/notify"
	"github.com/tealigantal/gp/pkg/telemetry"
	"github.com/tealigantal/gp/pkg/transport"

	"github.com/valyala/fasthttp"
)

// ConvList returns one row per conversation known from server metadata,
// most recently active first.
func (e *Engine) ConvList() []models.ConversationSummary { return e.convs.List() }

// Messages returns the chat messages of cid in seq order, shadows
// included.
func (e *Engine) Messages(cid string) []models.Event { return e.convs.Messages(cid) }

func (e *Engine) State(cid string) models.ConversationState { return e.convs.State(cid) }

func (e *Engine) LastSeq(cid string) int64 { return e.convs.LastSeq(cid) }

func (e *Engine) Cursor(cid string) int64 { return e.convs.Cursor(cid) }

func (e *Engine) LastRead(cid string) int64 { return e.convs.LastRead(cid) }

func (e *Engine) Unread(cid string) int64 { return e.convs.Unread(cid) }

// Outbox lists the entries still waiting for an acknowledgement.
func (e *Engine) Outbox() []models.OutboxEntry { return e.outbox.Entries() }

// Export returns everything held locally about cid.
func (e *Engine) Export(cid string) models.ConversationExport { return e.convs.Export(cid) }

// DeleteConversation removes cid on the server and then forgets it
// locally, together with any queued entries for it. A conversation the
// server no longer knows is treated as already deleted.
func (e *Engine) DeleteConversation(ctx context.Context, cid string) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.wg.Done()
	rctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	stop := context.AfterFunc(e.ctx, cancel)
	err := e.opts.Transport.DeleteConversation(rctx, cid)
	stop()
	cancel()
	if e.ctx.Err() != nil {
		return ErrClosed
	}
	if err != nil && !transport.IsStatus(err, fasthttp.StatusNotFound) {
		return err
	}
	if err := e.outbox.DropConversation(ctx, cid); err != nil {
		return err
	}
	if err := e.convs.Clear(ctx, cid); err != nil {
		return err
	}
	telemetry.SetOutboxDepth(e.outbox.Len())
	e.log.Info("conversation_deleted", "conversation", cid)
	e.bus.Publish(notify.Notification{Kind: notify.Changed, ConversationID: cid})
	return nil
}

// Search asks the server for messages containing query. An empty cid
// searches every conversation.
func (e *Engine) Search(ctx context.Context, query, cid string, limit int) ([]models.SearchHit, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()
	return e.opts.Transport.Search(ctx, query, cid, limit)
}
