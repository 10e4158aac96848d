package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lexdesk/internal/util"
)

// MemoryStore keeps everything in process. It backs tests and single-node
// development runs without DATABASE_URL; it mirrors PostgresStore's semantics,
// including the conditional lock updates and the optimistic version check.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[string]User
	documents     map[string]Document
	grants        map[string][]EditorGrant
	versions      map[string][]VersionSnapshot
	comments      map[int64]Comment
	audit         []AuditEntry
	templates     map[string]Template
	interactions  []LLMInteraction
	nextVersionID int64
	nextCommentID int64
	nextAuditID   int64
	nextLLMID     int64
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]User),
		documents: make(map[string]Document),
		grants:    make(map[string][]EditorGrant),
		versions:  make(map[string][]VersionSnapshot),
		comments:  make(map[int64]Comment),
		templates: make(map[string]Template),
		now:       time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) EnsureUserByName(_ context.Context, name string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.DisplayName == name {
			return user, nil
		}
	}
	user := User{ID: util.NewID("usr"), DisplayName: name, Role: "editor", CreatedAt: s.now()}
	s.users[user.ID] = user
	return user, nil
}

// PutUser inserts or replaces a user verbatim.
func (s *MemoryStore) PutUser(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.users[user.ID] = user
}

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) InsertDocument(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if doc.VersionNumber == 0 {
		doc.VersionNumber = 1
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	doc.Metadata = cloneMetadata(doc.Metadata)
	s.documents[doc.ID] = doc
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, documentID string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	doc.Metadata = cloneMetadata(doc.Metadata)
	return doc, nil
}

func (s *MemoryStore) ListDocuments(context.Context) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Document, 0, len(s.documents))
	for _, doc := range s.documents {
		doc.Metadata = cloneMetadata(doc.Metadata)
		items = append(items, doc)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

func (s *MemoryStore) SearchDocuments(_ context.Context, query string, limit int) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(query)
	items := make([]Document, 0)
	for _, doc := range s.documents {
		if strings.Contains(strings.ToLower(doc.Content), needle) || strings.Contains(strings.ToLower(doc.Title), needle) {
			items = append(items, doc)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// SaveDocument writes doc's editable fields if the stored version number
// still equals doc.VersionNumber. A non-nil snapshot is stored under that
// number first and the document moves to the next one.
func (s *MemoryStore) SaveDocument(_ context.Context, doc Document, snapshot *VersionSnapshot) (*VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.documents[doc.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if current.VersionNumber != doc.VersionNumber {
		return nil, ErrVersionConflict
	}

	var kept *VersionSnapshot
	if snapshot != nil {
		stored := *snapshot
		s.nextVersionID++
		stored.ID = s.nextVersionID
		stored.DocumentID = doc.ID
		stored.VersionNumber = current.VersionNumber
		stored.MetadataSnapshot = cloneMetadata(stored.MetadataSnapshot)
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = s.now()
		}
		s.versions[doc.ID] = append(s.versions[doc.ID], stored)
		current.VersionNumber++

		out := stored
		out.MetadataSnapshot = cloneMetadata(stored.MetadataSnapshot)
		kept = &out
	}

	current.Content = doc.Content
	current.ContentRendered = doc.ContentRendered
	current.Metadata = cloneMetadata(doc.Metadata)
	current.LastEditedAt = doc.LastEditedAt
	current.LastEditedBy = doc.LastEditedBy
	current.UpdatedAt = s.now()
	s.documents[doc.ID] = current
	return kept, nil
}

func (s *MemoryStore) UpdateDocumentMetadata(_ context.Context, documentID string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	current.Metadata = cloneMetadata(metadata)
	s.documents[documentID] = current
	return nil
}

func (s *MemoryStore) LockDocument(_ context.Context, documentID, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return false, ErrNotFound
	}
	if doc.IsLocked {
		return false, nil
	}
	lockedAt := at
	doc.IsLocked = true
	doc.LockedBy = userID
	doc.LockedAt = &lockedAt
	s.documents[documentID] = doc
	return true, nil
}

func (s *MemoryStore) UnlockDocument(_ context.Context, documentID, holderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return false, ErrNotFound
	}
	if !doc.IsLocked || doc.LockedBy != holderID {
		return false, nil
	}
	doc.IsLocked = false
	doc.LockedBy = ""
	doc.LockedAt = nil
	s.documents[documentID] = doc
	return true, nil
}

func (s *MemoryStore) ListEditorGrants(_ context.Context, documentID string) ([]EditorGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EditorGrant(nil), s.grants[documentID]...), nil
}

func (s *MemoryStore) UpsertEditorGrant(_ context.Context, grant EditorGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = s.now()
	}
	items := s.grants[grant.DocumentID]
	for i := range items {
		if items[i].UserID == grant.UserID {
			items[i].PermissionLevel = grant.PermissionLevel
			items[i].AddedBy = grant.AddedBy
			return nil
		}
	}
	s.grants[grant.DocumentID] = append(items, grant)
	return nil
}

func (s *MemoryStore) AppendVersion(_ context.Context, snapshot VersionSnapshot) (VersionSnapshot, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[snapshot.DocumentID]
	if !ok {
		return VersionSnapshot{}, 0, ErrNotFound
	}
	s.nextVersionID++
	snapshot.ID = s.nextVersionID
	snapshot.VersionNumber = doc.VersionNumber
	snapshot.MetadataSnapshot = cloneMetadata(snapshot.MetadataSnapshot)
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = s.now()
	}
	s.versions[doc.ID] = append(s.versions[doc.ID], snapshot)

	doc.VersionNumber++
	s.documents[doc.ID] = doc
	return snapshot, doc.VersionNumber, nil
}

func (s *MemoryStore) ListVersions(_ context.Context, documentID string, limit int) ([]VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.versions[documentID]
	items := make([]VersionSnapshot, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		items = append(items, stored[i])
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (s *MemoryStore) GetVersion(_ context.Context, documentID string, versionNumber int) (VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.versions[documentID] {
		if item.VersionNumber == versionNumber {
			item.MetadataSnapshot = cloneMetadata(item.MetadataSnapshot)
			return item, nil
		}
	}
	return VersionSnapshot{}, ErrNotFound
}

func (s *MemoryStore) DeleteVersion(_ context.Context, documentID string, versionNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.versions[documentID]
	for i, item := range items {
		if item.VersionNumber == versionNumber {
			s.versions[documentID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) InsertComment(_ context.Context, comment Comment) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCommentID++
	comment.ID = s.nextCommentID
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = s.now()
	}
	if comment.AuthorName == "" {
		comment.AuthorName = s.users[comment.AuthorID].DisplayName
	}
	s.comments[comment.ID] = comment
	return comment, nil
}

func (s *MemoryStore) GetComment(_ context.Context, commentID int64) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comment, ok := s.comments[commentID]
	if !ok {
		return Comment{}, ErrNotFound
	}
	return comment, nil
}

func (s *MemoryStore) ResolveComment(_ context.Context, commentID int64, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comment, ok := s.comments[commentID]
	if !ok {
		return false, ErrNotFound
	}
	if comment.IsResolved {
		return false, nil
	}
	resolvedAt := at
	comment.IsResolved = true
	comment.ResolvedBy = userID
	comment.ResolvedAt = &resolvedAt
	s.comments[commentID] = comment
	return true, nil
}

func (s *MemoryStore) ListComments(_ context.Context, documentID string, includeResolved bool) ([]Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Comment, 0)
	for _, comment := range s.comments {
		if comment.DocumentID != documentID {
			continue
		}
		if comment.IsResolved && !includeResolved {
			continue
		}
		items = append(items, comment)
	}
	SortComments(items)
	return items, nil
}

func (s *MemoryStore) InsertAuditEntry(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuditID++
	entry.ID = s.nextAuditID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.Metadata = cloneMetadata(entry.Metadata)
	s.audit = append(s.audit, entry)
	return nil
}

// ListAuditEntries returns the newest entries first.
func (s *MemoryStore) ListAuditEntries(_ context.Context, documentID string, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]AuditEntry, 0)
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].DocumentID != documentID {
			continue
		}
		items = append(items, s.audit[i])
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (s *MemoryStore) InsertTemplate(_ context.Context, tpl Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	s.templates[tpl.ID] = tpl
	return nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, templateID string) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[templateID]
	if !ok {
		return Template{}, ErrNotFound
	}
	return tpl, nil
}

func (s *MemoryStore) ListTemplates(context.Context) ([]Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		items = append(items, tpl)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *MemoryStore) InsertLLMInteraction(_ context.Context, item LLMInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLLMID++
	item.ID = s.nextLLMID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	s.interactions = append(s.interactions, item)
	return nil
}

func (s *MemoryStore) ListLLMInteractions(_ context.Context, documentID string) ([]LLMInteraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]LLMInteraction, 0)
	for _, item := range s.interactions {
		if item.DocumentID == documentID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *MemoryStore) DocumentCounts(_ context.Context, documentID string) (DocumentCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := DocumentCounts{Versions: len(s.versions[documentID])}
	for _, comment := range s.comments {
		if comment.DocumentID != documentID {
			continue
		}
		counts.Comments++
		if !comment.IsResolved {
			counts.UnresolvedComments++
		}
	}
	return counts, nil
}

// SortComments orders by anchor position, unanchored comments last, then by
// creation time.
func SortComments(items []Comment) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].PositionStart, items[j].PositionStart
		switch {
		case a == nil && b != nil:
			return false
		case a != nil && b == nil:
			return true
		case a != nil && b != nil && *a != *b:
			return *a < *b
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
