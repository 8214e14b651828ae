package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/speakup/notification-engine/internal/domain"
	"github.com/speakup/notification-engine/internal/observability"
	"github.com/speakup/notification-engine/internal/source"
	"github.com/speakup/notification-engine/internal/store"
)

func newTestManager(src source.EventSource, st store.ViewerStateStore) *Manager {
	return NewManager(src, st, testClock, Config{}, zap.NewNop(), observability.NewMetrics())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubscribeBackfillsAndFollowsChanges(t *testing.T) {
	src := source.NewMemorySource()
	src.Upsert(domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)})

	mgr := newTestManager(src, store.NewMemoryStore())
	defer mgr.Shutdown()

	sub := mgr.Subscribe(context.Background(), adminViewer(), source.Scope{Kind: source.ScopeAll})
	waitFor(t, "backfill", func() bool { return !sub.Engine.Loading() })

	if n := sub.Engine.Notifications(); len(n) != 1 || n[0].ComplaintID != "C1" {
		t.Fatalf("unexpected backfill: %+v", n)
	}

	src.Upsert(domain.ComplaintRecord{ID: "C2", SubmissionDate: int64(2000)})
	waitFor(t, "live change", func() bool { return len(sub.Engine.Notifications()) == 2 })
}

func TestScopedSubscriptionsAreIndependent(t *testing.T) {
	src := source.NewMemorySource()
	mgr := newTestManager(src, store.NewMemoryStore())
	defer mgr.Shutdown()

	staffViewer := domain.ViewerIdentity{UID: "staff-1", Role: domain.RoleStaff}
	staffSub := mgr.Subscribe(context.Background(), staffViewer, source.Scope{Kind: source.ScopeAssignedRole, Role: domain.RoleStaff})
	adminSub := mgr.Subscribe(context.Background(), adminViewer(), source.Scope{Kind: source.ScopeAll})
	waitFor(t, "both backfills", func() bool {
		return !staffSub.Engine.Loading() && !adminSub.Engine.Loading()
	})

	src.Upsert(domain.ComplaintRecord{
		ID:                  "C1",
		AssignedRole:        domain.RoleKasama,
		AssignmentUpdatedAt: int64(3000),
		SubmissionDate:      int64(1000),
	})

	waitFor(t, "admin notification", func() bool { return len(adminSub.Engine.Notifications()) == 1 })
	if n := staffSub.Engine.Notifications(); len(n) != 0 {
		t.Fatalf("staff queue saw a kasama assignment: %+v", n)
	}
}

func TestUnsubscribeStopsConsumptionAndKeepsState(t *testing.T) {
	src := source.NewMemorySource()
	st := store.NewMemoryStore()
	mgr := newTestManager(src, st)

	viewer := adminViewer()
	sub := mgr.Subscribe(context.Background(), viewer, source.Scope{Kind: source.ScopeAll})
	waitFor(t, "backfill", func() bool { return !sub.Engine.Loading() })

	src.Upsert(domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)})
	waitFor(t, "first change", func() bool { return len(sub.Engine.Notifications()) == 1 })

	if !mgr.Unsubscribe(sub.ID) {
		t.Fatalf("unsubscribe failed")
	}
	if _, ok := mgr.Get(sub.ID); ok {
		t.Fatalf("handle still resolvable after unsubscribe")
	}

	// Events after teardown are not consumed.
	src.Upsert(domain.ComplaintRecord{ID: "C2", SubmissionDate: int64(2000)})
	time.Sleep(20 * time.Millisecond)
	if n := sub.Engine.Notifications(); len(n) != 1 {
		t.Fatalf("closed subscription kept deriving: %+v", n)
	}

	// The last persisted state is intact.
	state, err := st.Load(context.Background(), viewer.Key())
	if err != nil || state == nil || len(state.Notifications) != 1 {
		t.Fatalf("persisted state lost on unsubscribe: %+v err=%v", state, err)
	}
}

func TestGuestSubscriptionIsEmptyAndNotLoading(t *testing.T) {
	mgr := newTestManager(source.NewMemorySource(), store.NewMemoryStore())
	defer mgr.Shutdown()

	sub := mgr.Subscribe(context.Background(), domain.ViewerIdentity{}, source.Scope{Kind: source.ScopeAll})
	if sub.Engine.Loading() {
		t.Fatalf("guest subscription reports loading")
	}
	if n := sub.Engine.Notifications(); len(n) != 0 {
		t.Fatalf("guest subscription has notifications: %+v", n)
	}
	if sub.Engine.UnreadCount() != 0 {
		t.Fatalf("guest unread count = %d", sub.Engine.UnreadCount())
	}
}
