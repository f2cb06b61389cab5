package engine

import (
	"context"

	"github.com/tealigantal/gp/pkg/notify"
	"github.com/tealigantal/gp/pkg/store"
	"github.com/tealigantal/gp/pkg/telemetry"
)

// watch folds writes to the shared sync tables into memory as they
// happen. Reloads never write back, so our own writes echoing through the
// subscription are harmless; observers are only notified when something
// actually changed.
func (e *Engine) watch(changes <-chan string) {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case key, ok := <-changes:
			if !ok {
				return
			}
			if e.reload(e.ctx, key) {
				e.bus.Publish(notify.Notification{Kind: notify.Changed})
			}
		}
	}
}

func (e *Engine) reload(ctx context.Context, key string) bool {
	switch key {
	case store.KeyOutbox:
		before := e.outbox.Len()
		after := len(e.outbox.Reload(ctx))
		telemetry.SetOutboxDepth(after)
		return after != before
	case store.KeyCursors:
		before := e.convs.Cursors()
		return !sameTable(before, e.convs.ReloadCursors(ctx))
	case store.KeyLastRead:
		before := e.convs.ReadPositions()
		return !sameTable(before, e.convs.ReloadLastRead(ctx))
	}
	return false
}

func sameTable(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
