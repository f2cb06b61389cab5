package engine

import (
	"context"
	"fmt"

	"github.com/tealigantal/gp/pkg/models"
	"github.com/tealigantal/gp/pkg/notify"
	"github.com/tealigantal/gp/pkg/outbox"
	"github.com/tealigantal/gp/pkg/telemetry"
)

// Push queues a locally originated event, shows it immediately as a
// shadow in its conversation and triggers a flush in the background.
// An empty ID is filled with a fresh one; the returned entry carries it.
// Pushing an id that is already queued changes nothing.
//
// Read markers are not shown in the conversation: a read.updated entry
// gets no shadow and raises the local read position instead.
func (e *Engine) Push(ctx context.Context, entry models.OutboxEntry) (models.OutboxEntry, error) {
	if err := e.begin(); err != nil {
		return entry, err
	}
	defer e.wg.Done()
	if entry.ConversationID == "" {
		return entry, fmt.Errorf("push: conversation id required")
	}
	if entry.Type == "" {
		return entry, fmt.Errorf("push: event type required")
	}
	if entry.ID == "" {
		entry.ID = outbox.NewEventID()
	}
	now := e.stamp()
	if entry.CreatedAt == nil {
		entry.CreatedAt = &now
	}

	added, err := e.outbox.Push(ctx, entry)
	if err != nil {
		return entry, err
	}
	if !added {
		return entry, nil
	}
	var readErr error
	if entry.Type == models.TypeReadUpdated {
		seq := models.Int64Field(entry.Data, "last_read_seq")
		if _, readErr = e.convs.RaiseLastRead(ctx, entry.ConversationID, seq); readErr != nil {
			e.log.Warn("last_read_persist_failed", "conversation", entry.ConversationID, "error", readErr)
		}
	} else {
		seq := e.convs.NextProvisionalSeq(entry.ConversationID)
		e.convs.MergeShadow(entry.Shadow(seq, now))
	}
	telemetry.SetOutboxDepth(e.outbox.Len())
	e.bus.Publish(notify.Notification{Kind: notify.Changed, ConversationID: entry.ConversationID})
	e.kick()
	return entry, readErr
}

// kick starts a best-effort flush unless the limiter says we have flushed
// often enough; the next scheduled tick carries anything left behind.
func (e *Engine) kick() {
	if e.opts.NoPushFlush {
		return
	}
	if !e.limiter.Allow() {
		e.log.Debug("push_flush_throttled")
		return
	}
	if e.begin() != nil {
		return
	}
	go func() {
		defer e.wg.Done()
		if _, err := e.Flush(e.ctx); err != nil {
			e.log.Debug("push_flush_failed", "error", err)
		}
	}()
}

// PushPayload queues a typed event for cid.
func (e *Engine) PushPayload(ctx context.Context, cid string, p models.Payload, actorID string) (models.OutboxEntry, error) {
	typ, data := models.EncodePayload(p)
	return e.Push(ctx, models.OutboxEntry{
		ConversationID: cid,
		Type:           typ,
		Data:           data,
		ActorID:        models.StringPtr(actorID),
	})
}

// Send queues a new chat message.
func (e *Engine) Send(ctx context.Context, cid, content, actorID string) (models.OutboxEntry, error) {
	return e.PushPayload(ctx, cid, models.MessageCreated{Content: content}, actorID)
}

// Edit queues a replacement body for an existing message.
func (e *Engine) Edit(ctx context.Context, cid, messageID, content, actorID string) (models.OutboxEntry, error) {
	return e.PushPayload(ctx, cid, models.MessageEdited{MessageID: messageID, Content: content}, actorID)
}

// Recall queues the withdrawal of a message.
func (e *Engine) Recall(ctx context.Context, cid, messageID, actorID string) (models.OutboxEntry, error) {
	return e.PushPayload(ctx, cid, models.MessageRecalled{MessageID: messageID}, actorID)
}

// ReportRead records that the local user has read cid up to seq and tells
// the server. Non-positive seqs are ignored.
func (e *Engine) ReportRead(ctx context.Context, cid string, seq int64, actorID string) error {
	if seq <= 0 {
		return nil
	}
	_, err := e.PushPayload(ctx, cid, models.ReadUpdated{LastReadSeq: seq}, actorID)
	return err
}
