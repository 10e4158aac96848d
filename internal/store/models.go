package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict means the document moved on between read and write.
	ErrVersionConflict = errors.New("document version changed concurrently")
)

type User struct {
	ID          string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

// Document is the mutable working copy. IsLocked, LockedBy and LockedAt move
// together: all set or all empty.
type Document struct {
	ID              string
	Title           string
	Content         string
	ContentRendered string
	VersionNumber   int
	IsLocked        bool
	LockedBy        string
	LockedAt        *time.Time
	LastEditedAt    *time.Time
	LastEditedBy    string
	Metadata        map[string]any
	OwnerID         string
	CreatorID       string
	TemplateID      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type EditorGrant struct {
	DocumentID      string
	UserID          string
	PermissionLevel string
	AddedBy         string
	CreatedAt       time.Time
}

type VersionSnapshot struct {
	ID                      int64
	DocumentID              string
	VersionNumber           int
	ContentSnapshot         string
	ContentRenderedSnapshot string
	MetadataSnapshot        map[string]any
	ChangesSummary          string
	AddedContent            string
	RemovedContent          string
	CreatedBy               string
	CreatedAt               time.Time
}

type Comment struct {
	ID              int64
	DocumentID      string
	Content         string
	AuthorID        string
	AuthorName      string
	PositionStart   *int
	PositionEnd     *int
	SelectedText    string
	ParentCommentID *int64
	IsResolved      bool
	ResolvedBy      string
	ResolvedAt      *time.Time
	CreatedAt       time.Time
}

type AuditEntry struct {
	ID         int64
	DocumentID string
	UserID     string
	Action     string
	Details    string
	Metadata   map[string]any
	CreatedAt  time.Time
}

type Template struct {
	ID          string
	Name        string
	Description string
	Category    string
	Content     string
	Variables   []byte
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type LLMInteraction struct {
	ID              int64
	DocumentID      string
	UserID          string
	InteractionType string
	Prompt          string
	Response        string
	Confidence      *float64
	ProcessingTime  float64
	Model           string
	Provider        string
	TotalTokens     int
	Error           string
	CreatedAt       time.Time
}

// DocumentCounts aggregates per-document counters for statistics.
type DocumentCounts struct {
	Versions           int
	Comments           int
	UnresolvedComments int
}

func cloneMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
