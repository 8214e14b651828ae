package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/speakup/notification-engine/internal/domain"
	"github.com/speakup/notification-engine/internal/observability"
	"github.com/speakup/notification-engine/internal/rules"
	"github.com/speakup/notification-engine/internal/source"
	"github.com/speakup/notification-engine/internal/store"
)

const testNowMs = int64(5000)

func testClock() int64 { return testNowMs }

func adminViewer() domain.ViewerIdentity {
	return domain.ViewerIdentity{UID: "admin-1", Role: domain.RoleAdmin}
}

func newTestEngine(t *testing.T, viewer domain.ViewerIdentity, st store.ViewerStateStore, cfg Config) *Engine {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	eng := New(viewer, rules.ForViewer(viewer, testClock), st, testClock, cfg, zap.NewNop(), observability.NewMetrics())
	eng.Start(context.Background())
	return eng
}

func snapshot(records ...domain.ComplaintRecord) source.Event {
	if records == nil {
		records = []domain.ComplaintRecord{}
	}
	return source.Event{Snapshot: records}
}

func modified(rec domain.ComplaintRecord) source.Event {
	return source.Event{Change: &source.Change{Type: source.ChangeModified, RecordID: rec.ID, Record: rec}}
}

func added(rec domain.ComplaintRecord) source.Event {
	return source.Event{Change: &source.Change{Type: source.ChangeAdded, RecordID: rec.ID, Record: rec}}
}

func removed(id string) source.Event {
	return source.Event{Change: &source.Change{Type: source.ChangeRemoved, RecordID: id}}
}

func TestSnapshotThenStatusChangeScenario(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, adminViewer(), nil, Config{})

	eng.Handle(ctx, snapshot(domain.ComplaintRecord{
		ID:             "C1",
		Status:         "Pending",
		SubmissionDate: int64(1000),
	}))

	if eng.Loading() {
		t.Fatalf("loading should stop after snapshot")
	}
	if eng.Phase() != PhaseLive {
		t.Fatalf("phase = %v, want live", eng.Phase())
	}
	notifs := eng.Notifications()
	if len(notifs) != 1 || notifs[0].Type != domain.NotificationNew || notifs[0].TimestampMs != 1000 {
		t.Fatalf("unexpected backfill: %+v", notifs)
	}

	eng.Handle(ctx, modified(domain.ComplaintRecord{
		ID:              "C1",
		Status:          "Resolved",
		StatusUpdatedAt: int64(2000),
		AssignedRole:    domain.RoleStaff,
		SubmissionDate:  int64(1000),
	}))

	notifs = eng.Notifications()
	if len(notifs) != 2 {
		t.Fatalf("expected 2 notifications, got %+v", notifs)
	}
	if notifs[0].TimestampMs != 2000 || notifs[0].Type != domain.NotificationStatus {
		t.Fatalf("newest should be the status event at 2000, got %+v", notifs[0])
	}
	if notifs[1].TimestampMs != 1000 {
		t.Fatalf("expected [2000, 1000] ordering, got %+v", notifs)
	}
}

func TestRedeliveryDoesNotGrowTimeline(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, adminViewer(), nil, Config{})
	eng.Handle(ctx, snapshot())

	rec := domain.ComplaintRecord{
		ID:              "C1",
		Status:          "Resolved",
		StatusUpdatedAt: int64(2000),
		AssignedRole:    domain.RoleStaff,
		SubmissionDate:  int64(1000),
	}
	eng.Handle(ctx, added(rec))
	eng.Handle(ctx, modified(rec))
	before := len(eng.Notifications())

	// Redelivered unchanged event: same ids, merge is a set union.
	eng.Handle(ctx, modified(rec))
	if after := len(eng.Notifications()); after != before {
		t.Fatalf("redelivery grew timeline from %d to %d", before, after)
	}
}

func TestCapKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, adminViewer(), nil, Config{HistoryCap: 100})

	var records []domain.ComplaintRecord
	for i := 1; i <= 120; i++ {
		records = append(records, domain.ComplaintRecord{
			ID:             fmt.Sprintf("C%03d", i),
			SubmissionDate: int64(i * 1000),
		})
	}
	eng.Handle(ctx, snapshot(records...))

	notifs := eng.Notifications()
	if len(notifs) != 100 {
		t.Fatalf("cap violated: %d notifications", len(notifs))
	}
	for i, n := range notifs {
		want := int64((120 - i) * 1000)
		if n.TimestampMs != want {
			t.Fatalf("retained set is not the most recent: position %d has %d, want %d", i, n.TimestampMs, want)
		}
	}
}

func TestHistoryCapIsClampedToSupportedRange(t *testing.T) {
	cases := []struct {
		configured int
		want       int
	}{
		{configured: 0, want: 200},
		{configured: -1, want: 200},
		{configured: 5, want: 100},
		{configured: 100, want: 100},
		{configured: 150, want: 150},
		{configured: 500, want: 200},
	}
	for _, tc := range cases {
		if got := (Config{HistoryCap: tc.configured}).historyCap(); got != tc.want {
			t.Fatalf("historyCap(%d) = %d, want %d", tc.configured, got, tc.want)
		}
	}
}

func TestSourceErrorFailsOpen(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, adminViewer(), nil, Config{})
	eng.Handle(ctx, snapshot(domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)}))

	before := eng.Notifications()
	eng.Handle(ctx, source.Event{Err: errors.New("permission denied")})

	if eng.Loading() {
		t.Fatalf("loading must stop on source error")
	}
	after := eng.Notifications()
	if len(after) != len(before) {
		t.Fatalf("source error corrupted state: %d -> %d", len(before), len(after))
	}
}

func TestChangeBeforeSnapshotIsDropped(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, adminViewer(), nil, Config{})

	eng.Handle(ctx, added(domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)}))
	if n := eng.Notifications(); len(n) != 0 {
		t.Fatalf("change processed before snapshot barrier: %+v", n)
	}

	eng.Handle(ctx, snapshot())
	eng.Handle(ctx, added(domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)}))
	if n := eng.Notifications(); len(n) != 1 {
		t.Fatalf("expected 1 notification after live add, got %+v", n)
	}
}

func TestEventsAfterCloseAreDropped(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, adminViewer(), nil, Config{})
	eng.Handle(ctx, snapshot())
	eng.Close()

	eng.Handle(ctx, added(domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)}))
	if n := eng.Notifications(); len(n) != 0 {
		t.Fatalf("closed engine processed an event: %+v", n)
	}
}

func TestRemovedComplaintIsNewAgainOnReadd(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, adminViewer(), nil, Config{})
	eng.Handle(ctx, snapshot())

	rec := domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)}
	eng.Handle(ctx, added(rec))
	eng.Handle(ctx, removed("C1"))

	// Same id from the deterministic token: merge keeps it a single event.
	eng.Handle(ctx, added(rec))
	if n := eng.Notifications(); len(n) != 1 {
		t.Fatalf("expected a single collapsed notification, got %+v", n)
	}
}

func TestRemountMergesPersistedHistory(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	viewer := adminViewer()

	first := newTestEngine(t, viewer, st, Config{})
	first.Handle(ctx, snapshot(domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)}))
	first.Handle(ctx, added(domain.ComplaintRecord{ID: "C2", SubmissionDate: int64(3000)}))
	first.Close()

	// A fresh subscription backfills from a snapshot that no longer contains
	// C2; the persisted history must survive the remount.
	second := newTestEngine(t, viewer, st, Config{})
	second.Handle(ctx, snapshot(domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)}))

	notifs := second.Notifications()
	if len(notifs) != 2 {
		t.Fatalf("remount lost history: %+v", notifs)
	}
	if notifs[0].ComplaintID != "C2" || notifs[1].ComplaintID != "C1" {
		t.Fatalf("unexpected merged order: %+v", notifs)
	}
}

func TestConcurrentSessionsMergeOnSave(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	viewer := adminViewer()

	// Two live sessions of the same viewer, e.g. two browser tabs. Both
	// start before either derives anything.
	tabA := newTestEngine(t, viewer, st, Config{})
	tabB := newTestEngine(t, viewer, st, Config{})

	tabA.Handle(ctx, snapshot(domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)}))
	tabA.MarkAllSeen(ctx)

	// Tab B derives its own event and saves. Its write must fold in what
	// tab A already persisted instead of replacing it.
	tabB.Handle(ctx, snapshot(domain.ComplaintRecord{ID: "C2", SubmissionDate: int64(2000)}))

	persisted, err := st.Load(ctx, viewer.Key())
	if err != nil || persisted == nil {
		t.Fatalf("load after both saves: state=%v err=%v", persisted, err)
	}
	if len(persisted.Notifications) != 2 {
		t.Fatalf("second save overwrote the first: %+v", persisted.Notifications)
	}
	if persisted.Notifications[0].ComplaintID != "C2" || persisted.Notifications[1].ComplaintID != "C1" {
		t.Fatalf("merged order wrong: %+v", persisted.Notifications)
	}
	if persisted.WatermarkMs != testNowMs {
		t.Fatalf("watermark regressed on merge: %d, want %d", persisted.WatermarkMs, testNowMs)
	}
}

func TestPersistFailureKeepsMemoryAuthoritative(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, adminViewer(), failingStore{}, Config{})
	eng.Handle(ctx, snapshot(domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)}))

	if n := eng.Notifications(); len(n) != 1 {
		t.Fatalf("save failure corrupted in-memory state: %+v", n)
	}
}

func TestUnknownViewerStateIsNeverPersisted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	eng := newTestEngine(t, domain.ViewerIdentity{}, st, Config{})

	if eng.Loading() {
		t.Fatalf("guest engine must not report loading")
	}
	eng.Handle(ctx, snapshot(domain.ComplaintRecord{ID: "C1", SubmissionDate: int64(1000)}))

	if state, _ := st.Load(ctx, "guest"); state != nil {
		t.Fatalf("guest state leaked into the store: %+v", state)
	}
}

type failingStore struct{}

func (failingStore) Load(ctx context.Context, viewerKey string) (*domain.ViewerState, error) {
	return nil, errors.New("store down")
}

func (failingStore) Save(ctx context.Context, viewerKey string, state *domain.ViewerState) error {
	return errors.New("store down")
}
