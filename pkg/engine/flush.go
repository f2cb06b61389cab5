package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/tealigantal/gp/pkg/models"
	"github.com/tealigantal/gp/pkg/notify"
	"github.com/tealigantal/gp/pkg/telemetry"
)

// FlushResult summarises one sync round-trip.
type FlushResult struct {
	Sent     int
	Acked    int
	Rejected map[string]string
	Merged   int
}

// Flush performs one sync round-trip: it submits every cursor and queued
// entry, prunes the acknowledged entries, merges the deltas and records
// the server's conversation metadata. Concurrent callers share a single
// request. ctx only bounds how long this caller waits; the round-trip
// itself is bounded by the request timeout and by Dispose, which waits
// for it.
func (e *Engine) Flush(ctx context.Context) (FlushResult, error) {
	if err := e.ready(); err != nil {
		return FlushResult{}, err
	}
	ch := e.flights.DoChan("flush", func() (any, error) {
		if err := e.begin(); err != nil {
			return FlushResult{}, err
		}
		defer e.wg.Done()
		return e.flushOnce()
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(FlushResult)
		return res, r.Err
	case <-ctx.Done():
		return FlushResult{}, ctx.Err()
	}
}

func (e *Engine) flushOnce() (FlushResult, error) {
	ctx, cancel := context.WithTimeout(e.ctx, e.opts.RequestTimeout)
	defer cancel()
	start := e.clock.Now()

	// Another engine on the same store may have written since our last
	// look; fold its state in before building the request.
	cursors := e.convs.ReloadCursors(ctx)
	for _, cid := range e.convs.Loaded() {
		if _, ok := cursors[cid]; !ok {
			cursors[cid] = 0
		}
	}
	pending := e.outbox.Reload(ctx)
	e.convs.ReloadLastRead(ctx)

	resp, err := e.opts.Transport.Sync(ctx, models.SyncRequest{
		DeviceID:     e.DeviceID(),
		ConvCursors:  cursors,
		OutboxEvents: pending,
	})
	// the store may be closed right after Dispose; nothing below may touch it
	if e.ctx.Err() != nil {
		e.log.Debug("flush_abandoned_on_dispose")
		return FlushResult{}, ErrClosed
	}
	if err != nil {
		telemetry.ObserveFlush(telemetry.ResultError, e.clock.Now().Sub(start))
		e.recordFailure(err)
		return FlushResult{}, fmt.Errorf("sync: %w", err)
	}

	res := FlushResult{Sent: len(pending)}
	rejected, err := e.outbox.Prune(ctx, resp.Ack)
	if err != nil {
		e.log.Warn("outbox_prune_persist_failed", "error", err)
	}
	for id, status := range rejected {
		e.log.Warn("outbox_entry_rejected", "id", id, "status", status)
	}
	res.Rejected = rejected
	res.Acked = len(resp.Ack) - len(rejected)
	telemetry.AddRejected(len(rejected))
	telemetry.SetOutboxDepth(e.outbox.Len())

	cids := make([]string, 0, len(resp.Deltas))
	for cid := range resp.Deltas {
		cids = append(cids, cid)
	}
	sort.Strings(cids)
	for _, cid := range cids {
		events := resp.Deltas[cid]
		if _, err := e.convs.MergeEvents(ctx, cid, events); err != nil {
			e.log.Warn("delta_merge_persist_failed", "conversation", cid, "error", err)
		}
		res.Merged += len(events)
	}
	telemetry.AddMerged(res.Merged)

	e.convs.UpsertMeta(resp.ConversationsDelta)
	if n := len(resp.UserSettingsDelta); n > 0 {
		e.log.Debug("user_settings_delta_ignored", "count", n)
	}

	telemetry.ObserveFlush(telemetry.ResultOK, e.clock.Now().Sub(start))
	e.recordSuccess()
	e.bus.Publish(notify.Notification{Kind: notify.Changed})
	return res, nil
}

func (e *Engine) recordFailure(err error) {
	e.mu.Lock()
	e.failures++
	e.lastErr = err
	crossed := !e.degraded && e.failures >= e.opts.DegradedAfter
	if crossed {
		e.degraded = true
	}
	n := e.failures
	e.mu.Unlock()

	e.log.Warn("flush_failed", "consecutive", n, "error", err)
	if crossed {
		telemetry.SetDegraded(true)
		e.log.Error("sync_degraded", "consecutive", n)
		e.bus.Publish(notify.Notification{Kind: notify.Degraded, Err: err})
	}
}

func (e *Engine) recordSuccess() {
	e.mu.Lock()
	recovered := e.degraded
	e.failures = 0
	e.degraded = false
	e.lastErr = nil
	e.lastSuccess = e.clock.Now()
	e.mu.Unlock()

	if recovered {
		telemetry.SetDegraded(false)
		e.log.Info("sync_recovered")
		e.bus.Publish(notify.Notification{Kind: notify.Recovered})
	}
}
