package engine

import (
	"context"
	"fmt"

	"github.com/tealigantal/gp/pkg/models"
	"github.com/tealigantal/gp/pkg/notify"
	"github.com/tealigantal/gp/pkg/telemetry"
)

// EnsureLoaded fetches the first page of cid when nothing of it is held
// locally yet.
func (e *Engine) EnsureLoaded(ctx context.Context, cid string) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.wg.Done()
	if e.convs.HasEvents(cid) {
		return nil
	}
	events, err := e.fetch(ctx, cid, models.After(0, e.opts.PageSize))
	if err != nil {
		return err
	}
	if _, err := e.convs.MergeEvents(ctx, cid, events); err != nil {
		e.log.Warn("hydrate_persist_failed", "conversation", cid, "error", err)
	}
	telemetry.AddMerged(len(events))
	e.bus.Publish(notify.Notification{Kind: notify.Changed, ConversationID: cid})
	return nil
}

// JumpToSeq fetches the window of events around seq and merges it. A
// non-positive limit uses the configured seek size.
func (e *Engine) JumpToSeq(ctx context.Context, cid string, seq int64, limit int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.wg.Done()
	if limit <= 0 {
		limit = e.opts.SeekLimit
	}
	events, err := e.fetch(ctx, cid, models.Around(seq, limit))
	if err != nil {
		return err
	}
	if _, err := e.convs.MergeWindow(ctx, cid, events); err != nil {
		e.log.Warn("seek_persist_failed", "conversation", cid, "error", err)
	}
	telemetry.AddMerged(len(events))
	e.bus.Publish(notify.Notification{Kind: notify.Changed, ConversationID: cid})
	return nil
}

// Reconcile re-reads every locally held conversation from the start, page
// by page, and merges what comes back. Merging is idempotent, so this
// only fills gaps.
func (e *Engine) Reconcile(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.wg.Done()
	for _, cid := range e.convs.Loaded() {
		n, err := e.reconcileOne(ctx, cid)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", cid, err)
		}
		e.log.Debug("conversation_reconciled", "conversation", cid, "events", n)
		if n > 0 {
			e.bus.Publish(notify.Notification{Kind: notify.Changed, ConversationID: cid})
		}
	}
	return nil
}

func (e *Engine) reconcileOne(ctx context.Context, cid string) (int, error) {
	total := 0
	after := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		events, err := e.fetch(ctx, cid, models.After(after, e.opts.PageSize))
		if err != nil {
			return total, err
		}
		if len(events) == 0 {
			return total, nil
		}
		if _, err := e.convs.MergeEvents(ctx, cid, events); err != nil {
			e.log.Warn("reconcile_persist_failed", "conversation", cid, "error", err)
		}
		total += len(events)
		telemetry.AddMerged(len(events))
		last := events[len(events)-1].Seq
		if len(events) < e.opts.PageSize || last <= after {
			return total, nil
		}
		after = last
	}
}

// fetch is cancelled by Dispose as well as by ctx.
func (e *Engine) fetch(ctx context.Context, cid string, q models.FetchQuery) ([]models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	events, err := e.opts.Transport.FetchEvents(ctx, cid, q)
	if e.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	return events, nil
}
