package domain

// ViewerIdentity identifies a notification consumer. UID is preferred as the
// stable key; Email is the fallback for legacy accounts without one.
type ViewerIdentity struct {
	UID   string
	Email string
	Role  ViewerRole
}

// Key returns the durable store key for this viewer.
func (v ViewerIdentity) Key() string {
	switch {
	case v.UID != "":
		return "uid:" + v.UID
	case v.Email != "":
		return "email:" + v.Email
	default:
		return "guest"
	}
}

// Known reports whether the identity resolves to a real viewer.
func (v ViewerIdentity) Known() bool {
	return v.UID != "" || v.Email != ""
}

// AuthoredBy reports whether a feedback entry was written by this viewer,
// either by account identity or by the viewer's own role queue.
func (v ViewerIdentity) AuthoredBy(entry *FeedbackEntry) bool {
	if entry == nil {
		return false
	}
	if entry.Author != "" && (entry.Author == v.UID || entry.Author == v.Email) {
		return true
	}
	return entry.AuthorRole != "" && entry.AuthorRole == v.Role
}

// ViewerState is the durable per-viewer notification state: the read
// watermark, dismissal tombstones, and the bounded notification history.
type ViewerState struct {
	WatermarkMs   int64               `json:"watermarkMs"`
	DismissedIDs  map[string]bool     `json:"dismissedIds"`
	Notifications []NotificationEvent `json:"notifications"`
}

// NewViewerState returns an empty state, equivalent to an absent persisted one.
func NewViewerState() *ViewerState {
	return &ViewerState{DismissedIDs: map[string]bool{}}
}

// Clone returns a deep copy, so persisted snapshots never alias live state.
func (s *ViewerState) Clone() *ViewerState {
	out := &ViewerState{
		WatermarkMs:   s.WatermarkMs,
		DismissedIDs:  make(map[string]bool, len(s.DismissedIDs)),
		Notifications: append([]NotificationEvent(nil), s.Notifications...),
	}
	for id, v := range s.DismissedIDs {
		out.DismissedIDs[id] = v
	}
	return out
}
