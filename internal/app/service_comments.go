package app

import (
	"context"

	"lexdesk/internal/comments"
	"lexdesk/internal/store"
)

type CommentInput struct {
	Content         string
	PositionStart   *int
	PositionEnd     *int
	SelectedText    string
	ParentCommentID *int64
}

func (s *Service) AddComment(ctx context.Context, session Session, documentID string, input CommentInput) (store.Comment, error) {
	if _, err := s.loadForView(ctx, session, documentID); err != nil {
		return store.Comment{}, err
	}
	comment, err := s.comments.Add(ctx, comments.NewComment{
		DocumentID:      documentID,
		Content:         input.Content,
		AuthorID:        session.UserID,
		PositionStart:   input.PositionStart,
		PositionEnd:     input.PositionEnd,
		SelectedText:    input.SelectedText,
		ParentCommentID: input.ParentCommentID,
	})
	if err != nil {
		return store.Comment{}, translate(err, "parent comment")
	}
	if comment.AuthorName == "" {
		comment.AuthorName = session.UserName
	}
	metadata := map[string]any{"comment_id": comment.ID}
	if comment.ParentCommentID != nil {
		metadata["parent_comment_id"] = *comment.ParentCommentID
	}
	s.audit(ctx, documentID, session.UserID, "comment_add", "Comment added", metadata)
	return comment, nil
}

func (s *Service) ResolveComment(ctx context.Context, session Session, commentID int64) (store.Comment, error) {
	existing, err := s.comments.Get(ctx, commentID)
	if err != nil {
		return store.Comment{}, translate(err, "comment")
	}
	if _, err := s.loadForView(ctx, session, existing.DocumentID); err != nil {
		return store.Comment{}, err
	}
	resolved, err := s.comments.Resolve(ctx, commentID, session.UserID)
	if err != nil {
		return store.Comment{}, translate(err, "comment")
	}
	s.audit(ctx, existing.DocumentID, session.UserID, "comment_resolve", "Comment resolved", map[string]any{
		"comment_id": commentID,
	})
	return resolved, nil
}

func (s *Service) ListComments(ctx context.Context, session Session, documentID string, includeResolved bool) ([]store.Comment, error) {
	if _, err := s.loadForView(ctx, session, documentID); err != nil {
		return nil, err
	}
	return s.comments.List(ctx, documentID, includeResolved)
}

func (s *Service) CommentThreads(ctx context.Context, session Session, documentID string, includeResolved bool) ([]comments.Thread, error) {
	if _, err := s.loadForView(ctx, session, documentID); err != nil {
		return nil, err
	}
	return s.comments.Threads(ctx, documentID, includeResolved)
}
