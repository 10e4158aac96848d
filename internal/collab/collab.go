// Package collab fans editing events out to everyone who has a document open.
//
// A Room is the set of live participants on one document. Each participant
// is served by a read pump and a write pump; the room only ever touches the
// participant's outbound queue. Durable state is never kept here: saves and
// comments go through the Editor before they are broadcast.
package collab

import (
	"context"
	"time"

	"lexdesk/internal/session"
)

// Editor is the slice of the editing service the hub needs.
type Editor interface {
	DocumentState(ctx context.Context, documentID string) (DocumentState, error)
	CanEdit(ctx context.Context, documentID, userID string) (bool, error)
	// Save persists content and returns the document's version number afterwards.
	Save(ctx context.Context, documentID, userID, content, html string) (int, error)
	AddComment(ctx context.Context, documentID, userID string, input CommentInput) (CommentView, error)
	Lock(ctx context.Context, documentID, userID string) error
	Unlock(ctx context.Context, documentID, userID string) (bool, error)
}

// PresenceStore mirrors participants to a shared cache so other nodes can see them.
type PresenceStore interface {
	TouchPresence(ctx context.Context, presence session.Presence, ttl time.Duration) error
	RemovePresence(ctx context.Context, documentID, userID string) error
}

// Relay carries room broadcasts between API nodes.
type Relay interface {
	Publish(ctx context.Context, documentID string, payload []byte) error
	Subscribe(ctx context.Context, deliver func(documentID string, payload []byte)) error
}

type DocumentState struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	ContentHTML   string     `json:"content_html"`
	IsLocked      bool       `json:"is_locked"`
	LockedBy      string     `json:"locked_by"`
	VersionNumber int        `json:"version_number"`
	LastEditedAt  *time.Time `json:"last_edited_at"`
}

type CommentInput struct {
	Content         string
	PositionStart   *int
	PositionEnd     *int
	SelectedText    string
	ParentCommentID *int64
}

type CommentView struct {
	ID              int64     `json:"id"`
	Content         string    `json:"content"`
	AuthorID        string    `json:"author_id"`
	AuthorName      string    `json:"author"`
	PositionStart   *int      `json:"position_start"`
	PositionEnd     *int      `json:"position_end"`
	SelectedText    string    `json:"selected_text"`
	ParentCommentID *int64    `json:"parent_comment_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// ParticipantInfo is the public view of a connected participant.
type ParticipantInfo struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Color     string    `json:"color"`
	JoinedAt  time.Time `json:"joined_at"`
}
