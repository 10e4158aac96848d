package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	presence  Presence
	expiresAt time.Time
}

// MemoryStore is the single-process stand-in for RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// NewMemoryStoreWithClock lets tests drive expiry.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: now}
}

func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) TryAcquireWindow(_ context.Context, documentID, userID string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := "autosave:" + documentID + ":" + userID
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{expiresAt: s.now().Add(window)}
	return true, nil
}

func (s *MemoryStore) ReleaseWindow(_ context.Context, documentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, "autosave:"+documentID+":"+userID)
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key = "rate:" + key
	entry, ok := s.live(key)
	if !ok {
		entry = memoryEntry{expiresAt: s.now().Add(window)}
	}
	entry.count++
	s.entries[key] = entry
	return entry.count, nil
}

func (s *MemoryStore) TouchPresence(_ context.Context, presence Presence, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries["presence:"+presence.DocumentID+":"+presence.UserID] = memoryEntry{
		presence:  presence,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) RemovePresence(_ context.Context, documentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, "presence:"+documentID+":"+userID)
	return nil
}

func (s *MemoryStore) ListPresence(_ context.Context, documentID string) ([]Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := "presence:" + documentID + ":"
	items := make([]Presence, 0)
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if entry, ok := s.live(key); ok {
			items = append(items, entry.presence)
		}
	}
	sortPresence(items)
	return items, nil
}

func sortPresence(items []Presence) {
	sort.Slice(items, func(i, j int) bool { return items[i].UserID < items[j].UserID })
}
