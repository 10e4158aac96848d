package locking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lexdesk/internal/rbac"
	"lexdesk/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T) (*Manager, *store.MemoryStore, *fakeClock) {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.InsertDocument(context.Background(), store.Document{ID: "doc_1", Title: "Kontrata"}); err != nil {
		t.Fatalf("insert document: %v", err)
	}
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewManager(st, st, 300*time.Second, nil, WithClock(clock.Now)), st, clock
}

func TestAcquireIsExclusive(t *testing.T) {
	manager, st, _ := newManager(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := manager.Acquire(ctx, "doc_1", string(rune('a'+i)))
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}

	entries, _ := st.ListAuditEntries(ctx, "doc_1", 0)
	if len(entries) != 1 || entries[0].Action != ActionAcquire {
		t.Fatalf("expected a single lock_acquire audit entry, got %+v", entries)
	}
}

func TestReacquireBySameHolderFails(t *testing.T) {
	manager, _, _ := newManager(t)
	ctx := context.Background()

	if ok, _ := manager.Acquire(ctx, "doc_1", "alice"); !ok {
		t.Fatal("first acquire should succeed")
	}
	if ok, _ := manager.Acquire(ctx, "doc_1", "alice"); ok {
		t.Fatal("second acquire by the holder should fail")
	}
}

func TestReleaseRules(t *testing.T) {
	manager, st, _ := newManager(t)
	ctx := context.Background()
	_, _ = manager.Acquire(ctx, "doc_1", "alice")

	if ok, _ := manager.Release(ctx, "doc_1", rbac.Subject{UserID: "bob", Role: rbac.RoleEditor}); ok {
		t.Fatal("non-holder must not release")
	}
	if ok, _ := manager.Release(ctx, "doc_1", rbac.Subject{UserID: "root", Role: rbac.RoleAdmin}); !ok {
		t.Fatal("admin override should release")
	}
	doc, _ := st.GetDocument(ctx, "doc_1")
	if doc.IsLocked || doc.LockedBy != "" || doc.LockedAt != nil {
		t.Fatalf("lock fields not cleared: %+v", doc)
	}

	_, _ = manager.Acquire(ctx, "doc_1", "alice")
	if ok, _ := manager.Release(ctx, "doc_1", rbac.Subject{UserID: "alice", Role: rbac.RoleViewer}); !ok {
		t.Fatal("holder should release regardless of role")
	}
	if ok, _ := manager.Release(ctx, "doc_1", rbac.Subject{UserID: "alice"}); ok {
		t.Fatal("releasing an unlocked document should report false")
	}
}

func TestExpiryAndForceRelease(t *testing.T) {
	manager, st, clock := newManager(t)
	ctx := context.Background()
	_, _ = manager.Acquire(ctx, "doc_1", "alice")

	clock.Advance(299 * time.Second)
	doc, _ := st.GetDocument(ctx, "doc_1")
	if manager.Expired(doc) {
		t.Fatal("lock should still be live")
	}
	if got := manager.Remaining(doc); got != time.Second {
		t.Fatalf("Remaining = %v, want 1s", got)
	}
	if ok, _ := manager.ForceRelease(ctx, doc, "bob"); ok {
		t.Fatal("live lock must not be force released")
	}

	clock.Advance(2 * time.Second)
	expired, err := manager.IsExpired(ctx, "doc_1", 300*time.Second)
	if err != nil || !expired {
		t.Fatalf("IsExpired = %v, %v", expired, err)
	}
	if ok, _ := manager.ForceRelease(ctx, doc, "bob"); !ok {
		t.Fatal("expired lock should be force released")
	}
	entries, _ := st.ListAuditEntries(ctx, "doc_1", 1)
	if entries[0].Action != ActionExpired || entries[0].Metadata["previous_holder"] != "alice" {
		t.Fatalf("unexpected audit entry: %+v", entries[0])
	}
	if ok, _ := manager.Acquire(ctx, "doc_1", "bob"); !ok {
		t.Fatal("bob should acquire after expiry")
	}
}

func TestStatus(t *testing.T) {
	manager, st, clock := newManager(t)
	ctx := context.Background()
	_, _ = manager.Acquire(ctx, "doc_1", "alice")
	clock.Advance(100 * time.Second)

	doc, _ := st.GetDocument(ctx, "doc_1")
	status := manager.Status(doc)
	if !status.IsLocked || status.LockedBy != "alice" || status.RemainingSeconds != 200 || status.Expired {
		t.Fatalf("unexpected status: %+v", status)
	}
}
