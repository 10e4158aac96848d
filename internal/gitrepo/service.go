// Package gitrepo mirrors version snapshots into one git repository per
// document so that history can be inspected with ordinary git tooling.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"lexdesk/internal/store"
)

const (
	contentFile  = "content.md"
	snapshotFile = "snapshot.json"
)

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Tag       string    `json:"tag,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type snapshotFileBody struct {
	DocumentID     string         `json:"documentId"`
	VersionNumber  int            `json:"versionNumber"`
	ChangesSummary string         `json:"changesSummary"`
	CreatedBy      string         `json:"createdBy"`
	CreatedAt      time.Time      `json:"createdAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Rendered       string         `json:"contentRendered,omitempty"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func TagName(versionNumber int) string {
	return fmt.Sprintf("v%d", versionNumber)
}

// MirrorVersion commits the snapshot as "v<N>: <summary>" and tags it v<N>.
// The repository is created on first use.
func (s *Service) MirrorVersion(snapshot store.VersionSnapshot) (Commit, error) {
	lock := s.documentLock(snapshot.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(snapshot.DocumentID)
	if err != nil {
		return Commit{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, contentFile), []byte(snapshot.ContentSnapshot), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", contentFile, err)
	}
	payload, err := json.MarshalIndent(snapshotFileBody{
		DocumentID:     snapshot.DocumentID,
		VersionNumber:  snapshot.VersionNumber,
		ChangesSummary: snapshot.ChangesSummary,
		CreatedBy:      snapshot.CreatedBy,
		CreatedAt:      snapshot.CreatedAt,
		Metadata:       snapshot.MetadataSnapshot,
		Rendered:       snapshot.ContentRenderedSnapshot,
	}, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	for _, name := range []string{contentFile, snapshotFile} {
		if _, err := worktree.Add(name); err != nil {
			return Commit{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	when := snapshot.CreatedAt
	if when.IsZero() {
		when = time.Now()
	}
	author := snapshot.CreatedBy
	if author == "" {
		author = "lexdesk"
	}
	tag := TagName(snapshot.VersionNumber)
	message := tag
	if snapshot.ChangesSummary != "" {
		message = fmt.Sprintf("%s: %s", tag, snapshot.ChangesSummary)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@lexdesk.local", sanitizeEmail(author)),
			When:  when,
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit snapshot: %w", err)
	}

	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger:  &object.Signature{Name: "lexdesk", Email: "mirror@lexdesk.local", When: when},
		Message: message,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return Commit{}, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	out := toCommit(commitObj)
	out.Tag = tag
	return out, nil
}

// History walks the mirror from HEAD, newest first. A document that was never
// mirrored has an empty history.
func (s *Service) History(documentID string, limit int) ([]Commit, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	tags, err := tagsByCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		item := toCommit(commitObj)
		item.Tag = tags[commitObj.Hash]
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt reads the document text stored under tag v<versionNumber>.
func (s *Service) ContentAt(documentID string, versionNumber int) (string, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Tag(TagName(versionNumber))
	if err != nil {
		return "", fmt.Errorf("resolve tag %s: %w", TagName(versionNumber), err)
	}
	commitObj, err := commitForTag(repo, ref)
	if err != nil {
		return "", err
	}
	file, err := commitObj.File(contentFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	return file.Contents()
}

func (s *Service) openOrInit(documentID string) (*git.Repository, error) {
	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func tagsByCommit(repo *git.Repository) (map[plumbing.Hash]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer iter.Close()

	out := map[plumbing.Hash]string{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		commitObj, err := commitForTag(repo, ref)
		if err != nil {
			return err
		}
		out[commitObj.Hash] = ref.Name().Short()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

// commitForTag handles both annotated and lightweight tags.
func commitForTag(repo *git.Repository, ref *plumbing.Reference) (*object.Commit, error) {
	if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
		commitObj, err := tagObj.Commit()
		if err != nil {
			return nil, fmt.Errorf("resolve tag target: %w", err)
		}
		return commitObj, nil
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", ref.Hash(), err)
	}
	return commitObj, nil
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
