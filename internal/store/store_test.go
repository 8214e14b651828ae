package store

import (
	"context"
	"testing"

	"github.com/speakup/notification-engine/internal/domain"
)

func TestMemoryStoreAbsentKey(t *testing.T) {
	st := NewMemoryStore()
	state, err := st.Load(context.Background(), "uid:nobody")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state for absent key, got %+v", state)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	in := domain.NewViewerState()
	in.WatermarkMs = 4200
	in.DismissedIDs["c1::new::1000"] = true
	in.Notifications = []domain.NotificationEvent{
		{ID: "c1::new::1000", Type: domain.NotificationNew, ComplaintID: "c1", TimestampMs: 1000},
	}

	if err := st.Save(ctx, "uid:u1", in); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	out, err := st.Load(ctx, "uid:u1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if out.WatermarkMs != 4200 || len(out.Notifications) != 1 || !out.DismissedIDs["c1::new::1000"] {
		t.Fatalf("round trip lost data: %+v", out)
	}
}

func TestMemoryStoreCopiesStateBothWays(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	in := domain.NewViewerState()
	in.Notifications = []domain.NotificationEvent{{ID: "a", TimestampMs: 1}}
	if err := st.Save(ctx, "uid:u1", in); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Mutating the saved value must not leak into the store.
	in.Notifications[0].ID = "mutated"
	in.WatermarkMs = 99

	out, _ := st.Load(ctx, "uid:u1")
	if out.Notifications[0].ID != "a" || out.WatermarkMs != 0 {
		t.Fatalf("store aliases caller state: %+v", out)
	}

	// Mutating a loaded copy must not affect later loads.
	out.Notifications[0].ID = "mutated"
	again, _ := st.Load(ctx, "uid:u1")
	if again.Notifications[0].ID != "a" {
		t.Fatalf("loaded copies alias stored state: %+v", again)
	}
}
