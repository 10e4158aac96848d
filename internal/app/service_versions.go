package app

import (
	"context"
	"errors"
	"fmt"

	"lexdesk/internal/diff"
	"lexdesk/internal/gitrepo"
	"lexdesk/internal/search"
	"lexdesk/internal/store"
	"lexdesk/internal/versions"
)

// VersionDetail is one snapshot plus how it differs from the live document.
type VersionDetail struct {
	Version          store.VersionSnapshot
	CurrentVersion   int
	ChangesToCurrent diff.Result
	Unified          string
}

func (s *Service) ListVersions(ctx context.Context, session Session, documentID string, limit int) ([]store.VersionSnapshot, error) {
	if _, err := s.loadForEdit(ctx, session, documentID); err != nil {
		return nil, err
	}
	return s.versions.List(ctx, documentID, limit)
}

func (s *Service) GetVersion(ctx context.Context, session Session, documentID string, versionNumber int) (VersionDetail, error) {
	doc, err := s.loadForEdit(ctx, session, documentID)
	if err != nil {
		return VersionDetail{}, err
	}
	snapshot, err := s.versions.Get(ctx, documentID, versionNumber)
	if errors.Is(err, versions.ErrVersionNotFound) {
		return VersionDetail{}, versionNotFound(versionNumber)
	}
	if err != nil {
		return VersionDetail{}, err
	}
	unified, err := diff.Unified(snapshot.ContentSnapshot, doc.Content,
		fmt.Sprintf("v%d", versionNumber), fmt.Sprintf("v%d (current)", doc.VersionNumber))
	if err != nil {
		return VersionDetail{}, err
	}
	return VersionDetail{
		Version:          snapshot,
		CurrentVersion:   doc.VersionNumber,
		ChangesToCurrent: s.versions.Engine().Diff(snapshot.ContentSnapshot, doc.Content),
		Unified:          unified,
	}, nil
}

// RestoreVersion brings back snapshot versionNumber. The state it replaces
// is kept as a new snapshot first.
func (s *Service) RestoreVersion(ctx context.Context, session Session, documentID string, versionNumber int) (store.Document, error) {
	unlock := s.lockDocument(documentID)
	defer unlock()

	doc, err := s.loadForEdit(ctx, session, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if doc.IsLocked && doc.LockedBy != session.UserID && !s.locks.Expired(doc) {
		return store.Document{}, s.conflict(ctx, doc)
	}

	restored, err := s.versions.Restore(ctx, documentID, versionNumber, session.UserID)
	if errors.Is(err, versions.ErrVersionNotFound) {
		return store.Document{}, versionNotFound(versionNumber)
	}
	if err != nil {
		return store.Document{}, err
	}
	s.audit(ctx, documentID, session.UserID, "version_restore", fmt.Sprintf("Restored to version %d", versionNumber), map[string]any{
		"restored_version": versionNumber,
		"previous_version": doc.VersionNumber,
	})

	current, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return restored, nil
	}
	s.search.IndexDocument(search.DocumentRecordFrom(current))
	return current, nil
}

// VersionHistory is the git mirror's commit log, newest first. Without a
// mirror it is empty.
func (s *Service) VersionHistory(ctx context.Context, session Session, documentID string, limit int) ([]gitrepo.Commit, error) {
	if _, err := s.loadForView(ctx, session, documentID); err != nil {
		return nil, err
	}
	if s.git == nil {
		return []gitrepo.Commit{}, nil
	}
	return s.git.History(documentID, limit)
}
