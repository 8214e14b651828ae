package rules

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/speakup/notification-engine/internal/domain"
	"github.com/speakup/notification-engine/internal/source"
	"github.com/speakup/notification-engine/pkg/timeutil"
)

// Clock returns the current time as epoch milliseconds.
type Clock func() int64

// RuleSet maps complaint records to candidate notification events for one
// viewer role. Backfill (DeriveInitial) reconstructs history from a snapshot
// record; live derivation (DeriveOnChange) emits only for the fields that
// actually changed in that change event.
type RuleSet interface {
	Role() domain.ViewerRole
	DeriveInitial(rec domain.ComplaintRecord) []domain.NotificationEvent
	DeriveOnChange(prev *domain.PreviousState, rec domain.ComplaintRecord, change source.ChangeType) []domain.NotificationEvent
}

// ForViewer returns the rule set for the viewer's role. Handler roles (staff,
// kasama) share one table; anything that is not a handler or admin gets the
// submitter table.
func ForViewer(viewer domain.ViewerIdentity, clock Clock) RuleSet {
	b := base{viewer: viewer, clock: clock}
	switch {
	case viewer.Role == domain.RoleAdmin:
		return &adminRules{base: b}
	case viewer.Role.IsHandler():
		return &handlerRules{base: b}
	default:
		return &submitterRules{base: b}
	}
}

type base struct {
	viewer domain.ViewerIdentity
	clock  Clock
	seq    uint64
}

// nextToken allocates an id token for events lacking an authoritative
// timestamp. Monotonic within the subscription, so two such events in the
// same millisecond still get distinct ids.
func (b *base) nextToken() string {
	return strconv.FormatUint(atomic.AddUint64(&b.seq, 1), 10)
}

func (b *base) now() int64 { return b.clock() }

// feedbackTimestamp returns the best-known time of the latest feedback:
// the last history entry's date, falling back to feedbackUpdatedAt.
func feedbackTimestamp(rec domain.ComplaintRecord) int64 {
	var lastMs int64
	if last := rec.LastFeedback(); last != nil {
		lastMs = timeutil.NormalizeMillis(last.Date)
	}
	if fallback := timeutil.NormalizeMillis(rec.FeedbackUpdatedAt); fallback > lastMs {
		return fallback
	}
	return lastMs
}

// feedbackChanged detects both append and replace update styles: the history
// grew, or the latest text differs from what was previously observed.
func feedbackChanged(prev *domain.PreviousState, rec domain.ComplaintRecord) bool {
	count := len(rec.FeedbackHistory)
	prevCount := 0
	prevText := ""
	if prev != nil {
		prevCount = prev.FeedbackCount
		prevText = prev.FeedbackLastText
	}
	if count > prevCount {
		return true
	}
	text := rec.Feedback
	if last := rec.LastFeedback(); last != nil {
		text = last.Text
	}
	return text != "" && text != prevText
}

func hasFeedback(rec domain.ComplaintRecord) bool {
	return rec.Feedback != "" || len(rec.FeedbackHistory) > 0
}

// submitterRules notify the complaint owner about status transitions and
// incoming feedback on their own complaints.
type submitterRules struct{ base }

func (r *submitterRules) Role() domain.ViewerRole { return r.viewer.Role }

func (r *submitterRules) DeriveInitial(rec domain.ComplaintRecord) []domain.NotificationEvent {
	var out []domain.NotificationEvent

	statusMs := timeutil.NormalizeMillis(rec.StatusUpdatedAt)
	if rec.Status != "" && statusMs > 0 {
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationStatus, fmt.Sprintf("%s-%d", rec.Status, statusMs)),
			Type:        domain.NotificationStatus,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "Status updated to " + rec.Status,
			TimestampMs: statusMs,
		})
	}

	if fbMs := feedbackTimestamp(rec); hasFeedback(rec) && fbMs > 0 && !r.viewer.AuthoredBy(rec.LastFeedback()) {
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationFeedback, fmt.Sprintf("%d-%d", len(rec.FeedbackHistory), fbMs)),
			Type:        domain.NotificationFeedback,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "New feedback received",
			TimestampMs: fbMs,
		})
	}
	return out
}

func (r *submitterRules) DeriveOnChange(prev *domain.PreviousState, rec domain.ComplaintRecord, change source.ChangeType) []domain.NotificationEvent {
	if change != source.ChangeModified {
		return nil
	}
	var out []domain.NotificationEvent

	prevStatus := ""
	if prev != nil {
		prevStatus = prev.Status
	}
	if rec.Status != "" && rec.Status != prevStatus {
		ts := timeutil.NormalizeMillis(rec.StatusUpdatedAt)
		if ts <= 0 {
			ts = r.now()
		}
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationStatus, fmt.Sprintf("%s-%d", rec.Status, ts)),
			Type:        domain.NotificationStatus,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "Status updated to " + rec.Status,
			TimestampMs: ts,
		})
	}

	if feedbackChanged(prev, rec) && !r.viewer.AuthoredBy(rec.LastFeedback()) {
		ts := feedbackTimestamp(rec)
		if ts <= 0 {
			ts = r.now()
		}
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationFeedback, fmt.Sprintf("%d-%d", len(rec.FeedbackHistory), ts)),
			Type:        domain.NotificationFeedback,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "New feedback received",
			TimestampMs: ts,
		})
	}
	return out
}

// handlerRules notify a staff queue about complaints newly assigned to it and
// feedback arriving from the admin side.
type handlerRules struct{ base }

func (r *handlerRules) Role() domain.ViewerRole { return r.viewer.Role }

func (r *handlerRules) DeriveInitial(rec domain.ComplaintRecord) []domain.NotificationEvent {
	var out []domain.NotificationEvent

	if ms := timeutil.NormalizeMillis(rec.AssignmentUpdatedAt); ms > 0 && rec.AssignedRole == r.viewer.Role {
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationAssignment, strconv.FormatInt(ms, 10)),
			Type:        domain.NotificationAssignment,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "New assigned complaint",
			TimestampMs: ms,
		})
	}

	if fbMs := feedbackTimestamp(rec); hasFeedback(rec) && fbMs > 0 && !r.viewer.AuthoredBy(rec.LastFeedback()) {
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationFeedback, fmt.Sprintf("%d-%d", len(rec.FeedbackHistory), fbMs)),
			Type:        domain.NotificationFeedback,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "New feedback from admin",
			TimestampMs: fbMs,
		})
	}
	return out
}

func (r *handlerRules) DeriveOnChange(prev *domain.PreviousState, rec domain.ComplaintRecord, change source.ChangeType) []domain.NotificationEvent {
	if change == source.ChangeRemoved {
		return nil
	}
	var out []domain.NotificationEvent

	prevRole := domain.ViewerRole("")
	if prev != nil {
		prevRole = prev.AssignedRole
	}
	newlyAssigned := change == source.ChangeAdded ||
		(rec.AssignedRole == r.viewer.Role && rec.AssignedRole != prevRole)
	if newlyAssigned {
		ts := timeutil.NormalizeMillis(rec.AssignmentUpdatedAt)
		token := strconv.FormatInt(ts, 10)
		if ts <= 0 {
			ts = r.now()
			token = r.nextToken()
		}
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationAssignment, token),
			Type:        domain.NotificationAssignment,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "New assigned complaint",
			TimestampMs: ts,
		})
	}

	if change == source.ChangeModified && feedbackChanged(prev, rec) && !r.viewer.AuthoredBy(rec.LastFeedback()) {
		ts := feedbackTimestamp(rec)
		if ts <= 0 {
			ts = r.now()
		}
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationFeedback, fmt.Sprintf("%d-%d", len(rec.FeedbackHistory), ts)),
			Type:        domain.NotificationFeedback,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "New feedback from admin",
			TimestampMs: ts,
		})
	}
	return out
}

// adminRules notify administrators about every new submission, handler status
// transitions, and handler-authored feedback.
type adminRules struct{ base }

func (r *adminRules) Role() domain.ViewerRole { return r.viewer.Role }

func (r *adminRules) DeriveInitial(rec domain.ComplaintRecord) []domain.NotificationEvent {
	var out []domain.NotificationEvent

	if subMs := timeutil.NormalizeMillis(rec.SubmissionDate); subMs > 0 {
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationNew, strconv.FormatInt(subMs, 10)),
			Type:        domain.NotificationNew,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "New complaint submitted",
			TimestampMs: subMs,
		})
	}

	if statusMs := timeutil.NormalizeMillis(rec.StatusUpdatedAt); statusMs > 0 && rec.AssignedRole.IsHandler() {
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationStatus, fmt.Sprintf("%s-%d", rec.Status, statusMs)),
			Type:        domain.NotificationStatus,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       statusTitle(rec.Status),
			TimestampMs: statusMs,
		})
	}

	last := rec.LastFeedback()
	if fbMs := feedbackTimestamp(rec); fbMs > 0 && last != nil && last.AuthorRole.IsHandler() {
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationFeedback, fmt.Sprintf("%d-%d", len(rec.FeedbackHistory), fbMs)),
			Type:        domain.NotificationFeedback,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "New feedback from staff",
			TimestampMs: fbMs,
		})
	}
	return out
}

func (r *adminRules) DeriveOnChange(prev *domain.PreviousState, rec domain.ComplaintRecord, change source.ChangeType) []domain.NotificationEvent {
	if change == source.ChangeRemoved {
		return nil
	}
	var out []domain.NotificationEvent

	if change == source.ChangeAdded {
		ts := timeutil.NormalizeMillis(rec.SubmissionDate)
		token := strconv.FormatInt(ts, 10)
		if ts <= 0 {
			ts = r.now()
			token = r.nextToken()
		}
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationNew, token),
			Type:        domain.NotificationNew,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "New complaint submitted",
			TimestampMs: ts,
		})
		return out
	}

	prevStatus := ""
	if prev != nil {
		prevStatus = prev.Status
	}
	if rec.Status != prevStatus && rec.AssignedRole.IsHandler() {
		ts := timeutil.NormalizeMillis(rec.StatusUpdatedAt)
		if ts <= 0 {
			ts = r.now()
		}
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationStatus, fmt.Sprintf("%s-%d", rec.Status, ts)),
			Type:        domain.NotificationStatus,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       statusTitle(rec.Status),
			TimestampMs: ts,
		})
	}

	last := rec.LastFeedback()
	if feedbackChanged(prev, rec) && last != nil && last.AuthorRole.IsHandler() && !r.viewer.AuthoredBy(last) {
		ts := feedbackTimestamp(rec)
		if ts <= 0 {
			ts = r.now()
		}
		out = append(out, domain.NotificationEvent{
			ID:          domain.NotificationID(rec.ID, domain.NotificationFeedback, fmt.Sprintf("%d-%d", len(rec.FeedbackHistory), ts)),
			Type:        domain.NotificationFeedback,
			ComplaintID: rec.ID,
			Category:    rec.Category,
			Title:       "New feedback from staff",
			TimestampMs: ts,
		})
	}
	return out
}

func statusTitle(status string) string {
	if status == "" {
		return "Status updated"
	}
	return "Status updated: " + status
}
