// Package versions keeps the immutable snapshot history of a document.
//
// A snapshot always captures the state that existed *before* a change, under
// the document's version number at that moment; appending it moves the live
// document to the next number. Numbering, the increment and the content write
// that goes with them happen atomically inside the store.
package versions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexdesk/internal/diff"
	"lexdesk/internal/gitrepo"
	"lexdesk/internal/store"
)

var ErrVersionNotFound = errors.New("version not found")

type Store interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	SaveDocument(ctx context.Context, doc store.Document, snapshot *store.VersionSnapshot) (*store.VersionSnapshot, error)
	AppendVersion(ctx context.Context, snapshot store.VersionSnapshot) (store.VersionSnapshot, int, error)
	ListVersions(ctx context.Context, documentID string, limit int) ([]store.VersionSnapshot, error)
	GetVersion(ctx context.Context, documentID string, versionNumber int) (store.VersionSnapshot, error)
	DeleteVersion(ctx context.Context, documentID string, versionNumber int) error
}

type Mirror interface {
	MirrorVersion(snapshot store.VersionSnapshot) (gitrepo.Commit, error)
}

type Archiver interface {
	ArchiveVersion(ctx context.Context, snapshot store.VersionSnapshot) error
}

// Change describes one snapshot to append: the previous state to keep and
// the content that replaces it, used for the diff fragments and summary.
type Change struct {
	DocumentID       string
	PreviousContent  string
	PreviousHTML     string
	PreviousMetadata map[string]any
	NewContent       string
	Editor           string
	// Summary overrides the generated "N lines added" text.
	Summary string
}

type Options struct {
	Mirror    Mirror
	Archive   Archiver
	Retention int
	Logger    *zap.Logger
	Now       func() time.Time
}

type Service struct {
	store     Store
	diff      *diff.Engine
	mirror    Mirror
	archive   Archiver
	retention int
	logger    *zap.Logger
	now       func() time.Time
}

func New(st Store, engine *diff.Engine, opts Options) *Service {
	if engine == nil {
		engine = diff.New(diff.DefaultThreshold)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:     st,
		diff:      engine,
		mirror:    opts.Mirror,
		archive:   opts.Archive,
		retention: opts.Retention,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

func (s *Service) Engine() *diff.Engine { return s.diff }

// CreateVersion appends the previous state as a snapshot and returns it.
// The live document's version number is one past the returned snapshot's.
func (s *Service) CreateVersion(ctx context.Context, change Change) (store.VersionSnapshot, error) {
	snapshot, _, err := s.store.AppendVersion(ctx, s.snapshotOf(change))
	if err != nil {
		return store.VersionSnapshot{}, fmt.Errorf("append version: %w", err)
	}
	s.created(ctx, snapshot)
	return snapshot, nil
}

// Commit writes doc, whose VersionNumber must still be the number it was read
// at. With a change, the previous state is kept as a snapshot in the same
// store write, so the snapshot and the new content land together or not at
// all. The returned document carries the new version number.
func (s *Service) Commit(ctx context.Context, doc store.Document, change *Change) (store.Document, *store.VersionSnapshot, error) {
	var snapshot *store.VersionSnapshot
	if change != nil {
		built := s.snapshotOf(*change)
		snapshot = &built
	}
	kept, err := s.store.SaveDocument(ctx, doc, snapshot)
	if err != nil {
		return store.Document{}, nil, err
	}
	if kept != nil {
		doc.VersionNumber = kept.VersionNumber + 1
		s.created(ctx, *kept)
	}
	return doc, kept, nil
}

func (s *Service) snapshotOf(change Change) store.VersionSnapshot {
	result := s.diff.Diff(change.PreviousContent, change.NewContent)
	summary := change.Summary
	if summary == "" {
		summary = diff.Summarize(result)
	}
	return store.VersionSnapshot{
		DocumentID:              change.DocumentID,
		ContentSnapshot:         change.PreviousContent,
		ContentRenderedSnapshot: change.PreviousHTML,
		MetadataSnapshot:        change.PreviousMetadata,
		ChangesSummary:          summary,
		AddedContent:            strings.Join(result.AddedLines, "\n"),
		RemovedContent:          strings.Join(result.RemovedLines, "\n"),
		CreatedBy:               change.Editor,
		CreatedAt:               s.now().UTC(),
	}
}

// created runs the follow-ups of a stored snapshot. Mirror and retention
// failures are logged only.
func (s *Service) created(ctx context.Context, snapshot store.VersionSnapshot) {
	s.logger.Info("version created",
		zap.String("document_id", snapshot.DocumentID),
		zap.Int("version_number", snapshot.VersionNumber),
		zap.String("summary", snapshot.ChangesSummary),
	)
	if s.mirror != nil {
		if _, err := s.mirror.MirrorVersion(snapshot); err != nil {
			s.logger.Warn("git mirror failed", zap.String("document_id", snapshot.DocumentID), zap.Int("version_number", snapshot.VersionNumber), zap.Error(err))
		}
	}
	if s.retention > 0 {
		if _, err := s.Prune(ctx, snapshot.DocumentID, s.retention); err != nil {
			s.logger.Warn("version retention failed", zap.String("document_id", snapshot.DocumentID), zap.Error(err))
		}
	}
}

// List returns snapshots newest first; limit <= 0 means all.
func (s *Service) List(ctx context.Context, documentID string, limit int) ([]store.VersionSnapshot, error) {
	return s.store.ListVersions(ctx, documentID, limit)
}

func (s *Service) Get(ctx context.Context, documentID string, versionNumber int) (store.VersionSnapshot, error) {
	snapshot, err := s.store.GetVersion(ctx, documentID, versionNumber)
	if errors.Is(err, store.ErrNotFound) {
		return store.VersionSnapshot{}, ErrVersionNotFound
	}
	return snapshot, err
}

// Restore overwrites the document with snapshot versionNumber after first
// keeping the current state as a new snapshot, so nothing is lost.
func (s *Service) Restore(ctx context.Context, documentID string, versionNumber int, editor string) (store.Document, error) {
	target, err := s.Get(ctx, documentID, versionNumber)
	if err != nil {
		return store.Document{}, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}

	change := &Change{
		DocumentID:       documentID,
		PreviousContent:  doc.Content,
		PreviousHTML:     doc.ContentRendered,
		PreviousMetadata: doc.Metadata,
		NewContent:       target.ContentSnapshot,
		Editor:           editor,
		Summary:          fmt.Sprintf("Before restore to version %d", versionNumber),
	}

	now := s.now().UTC()
	doc.Content = target.ContentSnapshot
	doc.ContentRendered = target.ContentRenderedSnapshot
	doc.Metadata = copyMetadata(target.MetadataSnapshot)
	doc.LastEditedAt = &now
	doc.LastEditedBy = editor
	doc, _, err = s.Commit(ctx, doc, change)
	if err != nil {
		return store.Document{}, fmt.Errorf("write restored content: %w", err)
	}
	s.logger.Info("version restored",
		zap.String("document_id", documentID),
		zap.Int("restored_version", versionNumber),
		zap.Int("document_version", doc.VersionNumber),
	)
	return doc, nil
}

// Prune keeps the newest keep snapshots. Older ones are archived first when
// an archive is configured; an archive failure stops pruning before that
// snapshot is deleted.
func (s *Service) Prune(ctx context.Context, documentID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	items, err := s.store.ListVersions(ctx, documentID, 0)
	if err != nil {
		return 0, err
	}
	if len(items) <= keep {
		return 0, nil
	}

	removed := 0
	for _, snapshot := range items[keep:] {
		if s.archive != nil {
			if err := s.archive.ArchiveVersion(ctx, snapshot); err != nil {
				return removed, fmt.Errorf("archive version %d: %w", snapshot.VersionNumber, err)
			}
		}
		if err := s.store.DeleteVersion(ctx, documentID, snapshot.VersionNumber); err != nil {
			return removed, fmt.Errorf("delete version %d: %w", snapshot.VersionNumber, err)
		}
		removed++
	}
	return removed, nil
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
