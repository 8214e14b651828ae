package source

import (
	"context"

	"github.com/speakup/notification-engine/internal/domain"
)

// ScopeKind selects which complaints a subscription observes.
type ScopeKind string

const (
	ScopeAll          ScopeKind = "all"
	ScopeAssignedRole ScopeKind = "assigned_role"
	ScopeUser         ScopeKind = "user"
)

// Scope is the query scope bound to one subscription.
type Scope struct {
	Kind      ScopeKind
	Role      domain.ViewerRole // assigned_role scopes
	UserID    string            // user scopes, preferred
	UserEmail string            // user scopes, fallback
}

// ScopeForViewer derives the canonical scope for a viewer role.
func ScopeForViewer(viewer domain.ViewerIdentity) Scope {
	switch {
	case viewer.Role == domain.RoleAdmin:
		return Scope{Kind: ScopeAll}
	case viewer.Role.IsHandler():
		return Scope{Kind: ScopeAssignedRole, Role: viewer.Role}
	default:
		return Scope{Kind: ScopeUser, UserID: viewer.UID, UserEmail: viewer.Email}
	}
}

// Matches reports whether a record falls inside the scope.
func (s Scope) Matches(rec domain.ComplaintRecord) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeAssignedRole:
		return rec.AssignedRole == s.Role
	case ScopeUser:
		if s.UserID != "" {
			return rec.UserID == s.UserID
		}
		if s.UserEmail != "" {
			return rec.UserEmail == s.UserEmail
		}
		return false
	default:
		return false
	}
}

// ChangeType enumerates incremental record changes.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is one incremental record change. Record is unset for removals.
type Change struct {
	Type     ChangeType
	RecordID string
	Record   domain.ComplaintRecord
}

// Event is one message on a feed. Exactly one field is set: the initial
// snapshot (delivered once, first), an incremental change, or a read error.
type Event struct {
	Snapshot []domain.ComplaintRecord
	Change   *Change
	Err      error
}

// Feed is a live stream for one subscription scope.
type Feed interface {
	// Events returns the feed channel. The channel is closed when the feed
	// is closed or the source shuts down.
	Events() <-chan Event
	// Close stops delivery. Safe to call more than once.
	Close()
}

// EventSource delivers one initial snapshot followed by incremental changes
// for a given scope.
type EventSource interface {
	Subscribe(ctx context.Context, scope Scope) (Feed, error)
}
