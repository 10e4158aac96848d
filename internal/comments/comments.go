// Package comments implements position-anchored, one-level-deep comment
// threads on a document.
package comments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"lexdesk/internal/store"
)

var (
	ErrEmptyContent      = errors.New("comment content cannot be empty")
	ErrParentMismatch    = errors.New("parent comment belongs to a different document")
	ErrParentNotTopLevel = errors.New("replies can only target top-level comments")
	ErrAlreadyResolved   = errors.New("comment is already resolved")
	ErrInvalidRange      = errors.New("position end must not precede position start")
)

type Store interface {
	InsertComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	GetComment(ctx context.Context, commentID int64) (store.Comment, error)
	ResolveComment(ctx context.Context, commentID int64, userID string, at time.Time) (bool, error)
	ListComments(ctx context.Context, documentID string, includeResolved bool) ([]store.Comment, error)
}

type NewComment struct {
	DocumentID      string
	Content         string
	AuthorID        string
	PositionStart   *int
	PositionEnd     *int
	SelectedText    string
	ParentCommentID *int64
}

// Thread is a top-level comment with its replies in creation order.
type Thread struct {
	Comment store.Comment
	Replies []store.Comment
}

type Service struct {
	store Store
	now   func() time.Time
}

func New(st Store) *Service {
	return &Service{store: st, now: time.Now}
}

// Add validates everything before writing, so a rejected comment leaves no trace.
func (s *Service) Add(ctx context.Context, input NewComment) (store.Comment, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return store.Comment{}, ErrEmptyContent
	}
	if input.PositionStart != nil && input.PositionEnd != nil && *input.PositionEnd < *input.PositionStart {
		return store.Comment{}, ErrInvalidRange
	}
	if input.ParentCommentID != nil {
		parent, err := s.store.GetComment(ctx, *input.ParentCommentID)
		if err != nil {
			return store.Comment{}, fmt.Errorf("load parent comment: %w", err)
		}
		if parent.DocumentID != input.DocumentID {
			return store.Comment{}, ErrParentMismatch
		}
		if parent.ParentCommentID != nil {
			return store.Comment{}, ErrParentNotTopLevel
		}
	}

	return s.store.InsertComment(ctx, store.Comment{
		DocumentID:      input.DocumentID,
		Content:         content,
		AuthorID:        input.AuthorID,
		PositionStart:   input.PositionStart,
		PositionEnd:     input.PositionEnd,
		SelectedText:    input.SelectedText,
		ParentCommentID: input.ParentCommentID,
		CreatedAt:       s.now().UTC(),
	})
}

func (s *Service) Get(ctx context.Context, commentID int64) (store.Comment, error) {
	return s.store.GetComment(ctx, commentID)
}

func (s *Service) Resolve(ctx context.Context, commentID int64, userID string) (store.Comment, error) {
	ok, err := s.store.ResolveComment(ctx, commentID, userID, s.now().UTC())
	if err != nil {
		return store.Comment{}, err
	}
	if !ok {
		return store.Comment{}, ErrAlreadyResolved
	}
	return s.store.GetComment(ctx, commentID)
}

// List orders by anchor position, then creation time.
func (s *Service) List(ctx context.Context, documentID string, includeResolved bool) ([]store.Comment, error) {
	return s.store.ListComments(ctx, documentID, includeResolved)
}

// Threads groups replies under their parent. Replies whose parent is not in
// the listing (for example a resolved parent with includeResolved=false) are
// dropped.
func (s *Service) Threads(ctx context.Context, documentID string, includeResolved bool) ([]Thread, error) {
	items, err := s.List(ctx, documentID, includeResolved)
	if err != nil {
		return nil, err
	}
	return GroupThreads(items), nil
}

func GroupThreads(items []store.Comment) []Thread {
	index := map[int64]int{}
	threads := make([]Thread, 0)
	for _, item := range items {
		if item.ParentCommentID != nil {
			continue
		}
		index[item.ID] = len(threads)
		threads = append(threads, Thread{Comment: item, Replies: []store.Comment{}})
	}
	for _, item := range items {
		if item.ParentCommentID == nil {
			continue
		}
		pos, ok := index[*item.ParentCommentID]
		if !ok {
			continue
		}
		threads[pos].Replies = append(threads[pos].Replies, item)
	}
	for i := range threads {
		replies := threads[i].Replies
		sort.SliceStable(replies, func(a, b int) bool {
			return replies[a].CreatedAt.Before(replies[b].CreatedAt)
		})
	}
	return threads
}
