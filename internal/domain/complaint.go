package domain

// ViewerRole enumerates portal roles that consume notifications.
type ViewerRole string

const (
	RoleStudent ViewerRole = "student"
	RoleStaff   ViewerRole = "staff"
	RoleKasama  ViewerRole = "kasama"
	RoleAdmin   ViewerRole = "admin"
)

// IsHandler reports whether the role is a staff handler queue.
func (r ViewerRole) IsHandler() bool {
	return r == RoleStaff || r == RoleKasama
}

// FeedbackEntry is one entry of a complaint's feedback history.
type FeedbackEntry struct {
	Author     string     `json:"author"`
	AuthorRole ViewerRole `json:"authorRole"`
	Text       string     `json:"text"`
	Date       any        `json:"date"`
}

// ComplaintRecord is the read-only projection of a complaint as delivered by
// the external record store. Timestamp fields keep the store's raw
// representation (epoch number, time value, or date string); consumers
// normalize them through timeutil.NormalizeMillis.
type ComplaintRecord struct {
	ID                  string
	Category            string
	Status              string
	StatusUpdatedAt     any
	AssignedRole        ViewerRole
	AssignmentUpdatedAt any
	Feedback            string // legacy single-field feedback text
	FeedbackHistory     []FeedbackEntry
	FeedbackUpdatedAt   any
	SubmissionDate      any
	UserID              string
	UserEmail           string
}

// LastFeedback returns the newest feedback history entry, or nil.
func (c ComplaintRecord) LastFeedback() *FeedbackEntry {
	if len(c.FeedbackHistory) == 0 {
		return nil
	}
	return &c.FeedbackHistory[len(c.FeedbackHistory)-1]
}
