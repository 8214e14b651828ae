package domain

import "fmt"

// NotificationType enumerates the kinds of derived notifications.
type NotificationType string

const (
	NotificationNew        NotificationType = "new"
	NotificationStatus     NotificationType = "status"
	NotificationFeedback   NotificationType = "feedback"
	NotificationAssignment NotificationType = "assignment"
)

// NotificationEvent is one derived, per-viewer notification. Two events with
// the same ID are the same notification and collapse under merge.
type NotificationEvent struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	ComplaintID string           `json:"complaintId"`
	Category    string           `json:"category"`
	Title       string           `json:"title"`
	TimestampMs int64            `json:"timestampMs"`
}

// NotificationID builds the deterministic id for a notification event. The
// token is the event's own timestamp, or a local counter value when no
// authoritative timestamp exists; redelivery of the same underlying change
// therefore reproduces the same id.
func NotificationID(complaintID string, typ NotificationType, token string) string {
	return fmt.Sprintf("%s::%s::%s", complaintID, typ, token)
}

// PreviousState is the last-observed projection of a complaint, kept per
// subscription to detect transitions. It is never persisted; it is rebuilt
// from the next initial snapshot on resubscription.
type PreviousState struct {
	Status           string
	FeedbackCount    int
	FeedbackLastText string
	AssignedRole     ViewerRole
}

// ProjectPrevious extracts the diffable projection from a record.
func ProjectPrevious(rec ComplaintRecord) PreviousState {
	prev := PreviousState{
		Status:        rec.Status,
		FeedbackCount: len(rec.FeedbackHistory),
		AssignedRole:  rec.AssignedRole,
	}
	if last := rec.LastFeedback(); last != nil {
		prev.FeedbackLastText = last.Text
	} else {
		prev.FeedbackLastText = rec.Feedback
	}
	return prev
}
