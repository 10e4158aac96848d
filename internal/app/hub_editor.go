package app

import (
	"context"

	"lexdesk/internal/collab"
)

// HubEditor lets the collaboration hub act on documents with the same rules
// as the HTTP surface. The hub only knows user ids, so each call resolves
// the user's current role first.
type HubEditor struct {
	service *Service
}

func NewHubEditor(service *Service) *HubEditor {
	return &HubEditor{service: service}
}

func (e *HubEditor) session(ctx context.Context, userID string) (Session, error) {
	user, err := e.service.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, translate(err, "user")
	}
	return Session{UserID: user.ID, UserName: user.DisplayName, Role: user.Role}, nil
}

func (e *HubEditor) DocumentState(ctx context.Context, documentID string) (collab.DocumentState, error) {
	doc, err := e.service.loadDocument(ctx, documentID)
	if err != nil {
		return collab.DocumentState{}, err
	}
	return collab.DocumentState{
		ID:            doc.ID,
		Title:         doc.Title,
		Content:       doc.Content,
		ContentHTML:   doc.ContentRendered,
		IsLocked:      doc.IsLocked,
		LockedBy:      doc.LockedBy,
		VersionNumber: doc.VersionNumber,
		LastEditedAt:  doc.LastEditedAt,
	}, nil
}

func (e *HubEditor) CanEdit(ctx context.Context, documentID, userID string) (bool, error) {
	session, err := e.session(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.service.CanEdit(ctx, session, documentID)
}

func (e *HubEditor) Save(ctx context.Context, documentID, userID, content, html string) (int, error) {
	session, err := e.session(ctx, userID)
	if err != nil {
		return 0, err
	}
	result, err := e.service.Save(ctx, session, documentID, SaveInput{Content: content, ContentHTML: html})
	if err != nil {
		return 0, err
	}
	return result.Document.VersionNumber, nil
}

func (e *HubEditor) AddComment(ctx context.Context, documentID, userID string, input collab.CommentInput) (collab.CommentView, error) {
	session, err := e.session(ctx, userID)
	if err != nil {
		return collab.CommentView{}, err
	}
	comment, err := e.service.AddComment(ctx, session, documentID, CommentInput{
		Content:         input.Content,
		PositionStart:   input.PositionStart,
		PositionEnd:     input.PositionEnd,
		SelectedText:    input.SelectedText,
		ParentCommentID: input.ParentCommentID,
	})
	if err != nil {
		return collab.CommentView{}, err
	}
	return collab.CommentView{
		ID:              comment.ID,
		Content:         comment.Content,
		AuthorID:        comment.AuthorID,
		AuthorName:      comment.AuthorName,
		PositionStart:   comment.PositionStart,
		PositionEnd:     comment.PositionEnd,
		SelectedText:    comment.SelectedText,
		ParentCommentID: comment.ParentCommentID,
		CreatedAt:       comment.CreatedAt,
	}, nil
}

func (e *HubEditor) Lock(ctx context.Context, documentID, userID string) error {
	session, err := e.session(ctx, userID)
	if err != nil {
		return err
	}
	_, err = e.service.OpenForEditing(ctx, session, documentID)
	return err
}

func (e *HubEditor) Unlock(ctx context.Context, documentID, userID string) (bool, error) {
	session, err := e.session(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.service.Release(ctx, session, documentID)
}

var _ collab.Editor = (*HubEditor)(nil)
