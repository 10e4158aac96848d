package session

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	if ok, _ := store.TryAcquireWindow(ctx, "doc", "u", 30*time.Second); !ok {
		t.Fatal("first claim should succeed")
	}
	if ok, _ := store.TryAcquireWindow(ctx, "doc", "u", 30*time.Second); ok {
		t.Fatal("second claim inside window should fail")
	}
	_ = store.ReleaseWindow(ctx, "doc", "u")
	if ok, _ := store.TryAcquireWindow(ctx, "doc", "u", 30*time.Second); !ok {
		t.Fatal("claim after release should succeed")
	}

	n, _ := store.Incr(ctx, "k", time.Hour)
	n, _ = store.Incr(ctx, "k", time.Hour)
	if n != 2 {
		t.Fatalf("Incr = %d, want 2", n)
	}
	_ = store.TouchPresence(ctx, Presence{DocumentID: "doc", UserID: "u"}, time.Minute)

	now = now.Add(30 * time.Second)
	if ok, _ := store.TryAcquireWindow(ctx, "doc", "u", 30*time.Second); !ok {
		t.Fatal("claim at window end should succeed")
	}
	if items, _ := store.ListPresence(ctx, "doc"); len(items) != 1 {
		t.Fatalf("presence should still be live: %+v", items)
	}

	now = now.Add(time.Hour)
	if n, _ := store.Incr(ctx, "k", time.Hour); n != 1 {
		t.Fatalf("counter should reset, got %d", n)
	}
	if items, _ := store.ListPresence(ctx, "doc"); len(items) != 0 {
		t.Fatalf("presence should have expired: %+v", items)
	}
}
