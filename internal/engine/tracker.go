package engine

import (
	"context"

	"github.com/speakup/notification-engine/internal/domain"
)

// Read-state operations: the watermark (last-seen timestamp) and the
// dismissal tombstone set. Watermark mutations use monotone max semantics so
// concurrent sessions of the same viewer commute; dismissal never touches the
// watermark.

// Notifications returns the visible timeline, newest first, with dismissed
// entries filtered out. Dismissed events stay in the cached list so Undo can
// restore them.
func (e *Engine) Notifications() []domain.NotificationEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.NotificationEvent, 0, len(e.state.Notifications))
	for _, n := range e.state.Notifications {
		if e.state.DismissedIDs[n.ID] {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Watermark returns the current last-seen timestamp.
func (e *Engine) Watermark() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.WatermarkMs
}

// UnreadCount recomputes the number of visible notifications newer than the
// watermark. Never cached.
func (e *Engine) UnreadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, n := range e.state.Notifications {
		if e.state.DismissedIDs[n.ID] {
			continue
		}
		if n.TimestampMs > e.state.WatermarkMs {
			count++
		}
	}
	return count
}

// MarkAllSeen advances the watermark to now.
func (e *Engine) MarkAllSeen(ctx context.Context) {
	e.MarkSeenUpTo(ctx, e.clock())
}

// MarkSeenUpTo advances the watermark to ts if it is ahead of the current
// value. Idempotent; smaller or equal values are no-ops.
func (e *Engine) MarkSeenUpTo(ctx context.Context, ts int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ts <= e.state.WatermarkMs {
		return
	}
	e.state.WatermarkMs = ts
	e.persistLocked(ctx)
}

// Dismiss tombstones one notification id. Unknown ids are ignored so the
// tombstone set stays a subset of ids ever produced for this viewer.
func (e *Engine) Dismiss(ctx context.Context, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasNotificationLocked(id) || e.state.DismissedIDs[id] {
		return
	}
	e.state.DismissedIDs[id] = true
	delete(e.undone, id)
	e.persistLocked(ctx)
}

// DismissAll tombstones every currently visible notification and returns the
// ids it added, for undo support.
func (e *Engine) DismissAll(ctx context.Context) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var added []string
	for _, n := range e.state.Notifications {
		if e.state.DismissedIDs[n.ID] {
			continue
		}
		e.state.DismissedIDs[n.ID] = true
		delete(e.undone, n.ID)
		added = append(added, n.ID)
	}
	if len(added) > 0 {
		e.persistLocked(ctx)
	}
	return added
}

// Undo removes the given ids from the tombstone set. Ids that are not
// dismissed are ignored; the watermark is untouched.
func (e *Engine) Undo(ctx context.Context, ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := false
	for _, id := range ids {
		if e.state.DismissedIDs[id] {
			delete(e.state.DismissedIDs, id)
			e.undone[id] = struct{}{}
			changed = true
		}
	}
	if changed {
		e.persistLocked(ctx)
	}
}

func (e *Engine) hasNotificationLocked(id string) bool {
	for _, n := range e.state.Notifications {
		if n.ID == id {
			return true
		}
	}
	return false
}
