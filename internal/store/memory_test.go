package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seededMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	s.PutUser(User{ID: "alice", DisplayName: "Alice", Role: "editor"})
	s.PutUser(User{ID: "bob", DisplayName: "Bob", Role: "editor"})
	if err := s.InsertDocument(context.Background(), Document{ID: "doc-1", Title: "Padi", OwnerID: "alice", CreatorID: "alice"}); err != nil {
		t.Fatalf("InsertDocument() error = %v", err)
	}
	return s
}

func TestMemoryLockIsExclusiveUnderContention(t *testing.T) {
	s := seededMemoryStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "alice"
			if i%2 == 1 {
				user = "bob"
			}
			ok, err := s.LockDocument(ctx, "doc-1", user, time.Now())
			if err != nil {
				t.Errorf("LockDocument() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	doc, _ := s.GetDocument(ctx, "doc-1")
	if !doc.IsLocked || doc.LockedBy == "" || doc.LockedAt == nil {
		t.Fatalf("inconsistent lock fields: %+v", doc)
	}
	other := "alice"
	if doc.LockedBy == "alice" {
		other = "bob"
	}
	if ok, _ := s.UnlockDocument(ctx, "doc-1", other); ok {
		t.Fatal("non-holder unlocked the document")
	}
	if ok, _ := s.UnlockDocument(ctx, "doc-1", doc.LockedBy); !ok {
		t.Fatal("holder could not unlock")
	}
	doc, _ = s.GetDocument(ctx, "doc-1")
	if doc.IsLocked || doc.LockedBy != "" || doc.LockedAt != nil {
		t.Fatalf("lock fields not cleared: %+v", doc)
	}
}

func TestMemoryAppendVersionIsMonotonic(t *testing.T) {
	s := seededMemoryStore(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		snapshot, next, err := s.AppendVersion(ctx, VersionSnapshot{DocumentID: "doc-1", ContentSnapshot: "x"})
		if err != nil {
			t.Fatalf("AppendVersion() error = %v", err)
		}
		if snapshot.VersionNumber != i || next != i+1 {
			t.Fatalf("AppendVersion #%d = (%d, %d)", i, snapshot.VersionNumber, next)
		}
	}
	doc, _ := s.GetDocument(ctx, "doc-1")
	if doc.VersionNumber != 5 {
		t.Fatalf("VersionNumber = %d, want 5", doc.VersionNumber)
	}

	items, _ := s.ListVersions(ctx, "doc-1", 0)
	for i := 1; i < len(items); i++ {
		if items[i-1].VersionNumber <= items[i].VersionNumber {
			t.Fatalf("versions not newest-first: %d then %d", items[i-1].VersionNumber, items[i].VersionNumber)
		}
	}
	if _, err := s.GetVersion(ctx, "doc-1", 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetVersion(99) error = %v, want ErrNotFound", err)
	}
}

func TestMemorySaveDocumentChecksVersion(t *testing.T) {
	s := seededMemoryStore(t)
	ctx := context.Background()

	doc, _ := s.GetDocument(ctx, "doc-1")
	stale := doc
	if _, _, err := s.AppendVersion(ctx, VersionSnapshot{DocumentID: "doc-1"}); err != nil {
		t.Fatalf("AppendVersion() error = %v", err)
	}
	stale.Content = "late write"
	if _, err := s.SaveDocument(ctx, stale, nil); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("SaveDocument(stale) error = %v, want ErrVersionConflict", err)
	}
	if _, err := s.SaveDocument(ctx, Document{ID: "missing"}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveDocument(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemorySaveDocumentWritesSnapshotAndContentTogether(t *testing.T) {
	s := seededMemoryStore(t)
	ctx := context.Background()

	doc, _ := s.GetDocument(ctx, "doc-1")
	before := len(mustVersions(t, s))
	next := doc
	next.Content = "Neni 1 i ndryshuar"
	kept, err := s.SaveDocument(ctx, next, &VersionSnapshot{ContentSnapshot: doc.Content, CreatedBy: "usr-alice"})
	if err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	if kept == nil || kept.VersionNumber != doc.VersionNumber || kept.ID == 0 || kept.DocumentID != "doc-1" {
		t.Fatalf("unexpected snapshot: %+v", kept)
	}
	stored, _ := s.GetDocument(ctx, "doc-1")
	if stored.VersionNumber != doc.VersionNumber+1 || stored.Content != "Neni 1 i ndryshuar" {
		t.Fatalf("unexpected document: %+v", stored)
	}

	// A second writer still holding the old number changes nothing.
	late := doc
	late.Content = "late write"
	if _, err := s.SaveDocument(ctx, late, &VersionSnapshot{ContentSnapshot: doc.Content}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("SaveDocument(stale) error = %v, want ErrVersionConflict", err)
	}
	if got := len(mustVersions(t, s)); got != before+1 {
		t.Fatalf("versions = %d, want %d", got, before+1)
	}
	if again, _ := s.GetDocument(ctx, "doc-1"); again.VersionNumber != stored.VersionNumber || again.Content != stored.Content {
		t.Fatalf("stale save changed the document: %+v", again)
	}
}

func mustVersions(t *testing.T, s *MemoryStore) []VersionSnapshot {
	t.Helper()
	items, err := s.ListVersions(context.Background(), "doc-1", 0)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	return items
}

func TestSortCommentsPutsUnanchoredLast(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	five, two := 5, 2
	items := []Comment{
		{ID: 1, CreatedAt: base},
		{ID: 2, PositionStart: &five, CreatedAt: base},
		{ID: 3, PositionStart: &two, CreatedAt: base.Add(time.Minute)},
		{ID: 4, PositionStart: &two, CreatedAt: base},
	}
	SortComments(items)
	got := []int64{items[0].ID, items[1].ID, items[2].ID, items[3].ID}
	want := []int64{4, 3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
