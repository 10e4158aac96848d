package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"lexdesk/internal/auth"
	"lexdesk/internal/comments"
	"lexdesk/internal/config"
	"lexdesk/internal/diff"
	"lexdesk/internal/gitrepo"
	"lexdesk/internal/llm"
	"lexdesk/internal/locking"
	"lexdesk/internal/rbac"
	"lexdesk/internal/render"
	"lexdesk/internal/search"
	"lexdesk/internal/session"
	"lexdesk/internal/store"
	"lexdesk/internal/templating"
	"lexdesk/internal/util"
	"lexdesk/internal/versions"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

func (s Session) Subject() rbac.Subject {
	return rbac.Subject{UserID: s.UserID, Role: rbac.Normalize(s.Role)}
}

// DataStore is everything the service reads and writes. PostgresStore and
// MemoryStore both satisfy it.
type DataStore interface {
	Ping(ctx context.Context) error
	EnsureUserByName(ctx context.Context, name string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)

	InsertDocument(ctx context.Context, doc store.Document) error
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	SearchDocuments(ctx context.Context, query string, limit int) ([]store.Document, error)
	SaveDocument(ctx context.Context, doc store.Document, snapshot *store.VersionSnapshot) (*store.VersionSnapshot, error)
	UpdateDocumentMetadata(ctx context.Context, documentID string, metadata map[string]any) error
	LockDocument(ctx context.Context, documentID, userID string, at time.Time) (bool, error)
	UnlockDocument(ctx context.Context, documentID, holderID string) (bool, error)

	ListEditorGrants(ctx context.Context, documentID string) ([]store.EditorGrant, error)
	UpsertEditorGrant(ctx context.Context, grant store.EditorGrant) error

	AppendVersion(ctx context.Context, snapshot store.VersionSnapshot) (store.VersionSnapshot, int, error)
	ListVersions(ctx context.Context, documentID string, limit int) ([]store.VersionSnapshot, error)
	GetVersion(ctx context.Context, documentID string, versionNumber int) (store.VersionSnapshot, error)
	DeleteVersion(ctx context.Context, documentID string, versionNumber int) error

	InsertComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	GetComment(ctx context.Context, commentID int64) (store.Comment, error)
	ResolveComment(ctx context.Context, commentID int64, userID string, at time.Time) (bool, error)
	ListComments(ctx context.Context, documentID string, includeResolved bool) ([]store.Comment, error)

	InsertAuditEntry(ctx context.Context, entry store.AuditEntry) error
	ListAuditEntries(ctx context.Context, documentID string, limit int) ([]store.AuditEntry, error)

	InsertTemplate(ctx context.Context, tpl store.Template) error
	GetTemplate(ctx context.Context, templateID string) (store.Template, error)
	ListTemplates(ctx context.Context) ([]store.Template, error)

	InsertLLMInteraction(ctx context.Context, item store.LLMInteraction) error
	ListLLMInteractions(ctx context.Context, documentID string) ([]store.LLMInteraction, error)
	DocumentCounts(ctx context.Context, documentID string) (store.DocumentCounts, error)
}

// SessionCache holds the short-lived auto-save windows.
type SessionCache interface {
	TryAcquireWindow(ctx context.Context, documentID, userID string, window time.Duration) (bool, error)
	ReleaseWindow(ctx context.Context, documentID, userID string) error
}

// Deps are the collaborators built by main. Only Store is required.
type Deps struct {
	Store    DataStore
	Sessions SessionCache
	Git      *gitrepo.Service
	Archive  versions.Archiver
	Search   *search.Service
	LLM      *llm.Gateway
	Logger   *zap.Logger
	Now      func() time.Time
}

type Service struct {
	cfg       config.Config
	store     DataStore
	locks     *locking.Manager
	versions  *versions.Service
	comments  *comments.Service
	templates *templating.Engine
	renderer  *render.Renderer
	git       *gitrepo.Service
	search    *search.Service
	llm       *llm.Gateway
	sessions  SessionCache
	logger    *zap.Logger
	now       func() time.Time

	docMu sync.Mutex
	docs  map[string]*sync.Mutex
}

func New(cfg config.Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("app: store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.AutoSaveInterval <= 0 {
		cfg.AutoSaveInterval = 30 * time.Second
	}

	engine, err := templating.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("template engine: %w", err)
	}

	versionOpts := versions.Options{
		Archive:   deps.Archive,
		Retention: cfg.VersionRetention,
		Logger:    logger.Named("versions"),
		Now:       now,
	}
	if deps.Git != nil {
		versionOpts.Mirror = deps.Git
	}

	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewMemoryStore()
	}
	searchSvc := deps.Search
	if searchSvc == nil {
		searchSvc = search.NewService(nil, search.NewStoreSearcher(deps.Store), logger.Named("search"))
	}
	gateway := deps.LLM
	if gateway == nil {
		gateway, err = llm.New(llm.Config{}, nil, llm.WithLogger(logger.Named("llm")))
		if err != nil {
			return nil, err
		}
	}

	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		locks:     locking.NewManager(deps.Store, deps.Store, cfg.LockTimeout, logger.Named("locking"), locking.WithClock(now)),
		versions:  versions.New(deps.Store, diff.New(cfg.DiffThreshold), versionOpts),
		comments:  comments.New(deps.Store),
		templates: engine,
		renderer:  render.NewRenderer(),
		git:       deps.Git,
		search:    searchSvc,
		llm:       gateway,
		sessions:  sessions,
		logger:    logger,
		now:       now,
		docs:      make(map[string]*sync.Mutex),
	}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Login is the development sign-in: the user is created on first sight.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		return Session{}, validationError("name is required")
	}
	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := s.now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	session := Session{
		Token:    token,
		UserID:   user.ID,
		UserName: user.DisplayName,
		Role:     user.Role,
		JTI:      claims.ID,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

type CreateDocumentInput struct {
	Title       string
	Content     string
	ContentHTML string
	Metadata    map[string]any
	TemplateID  string
}

func (s *Service) CreateDocument(ctx context.Context, session Session, input CreateDocumentInput) (store.Document, error) {
	if !rbac.Can(session.Subject().Role, rbac.ActionWrite) {
		return store.Document{}, permissionDenied("you cannot create documents")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Document{}, validationError("title is required")
	}
	html, err := s.renderHTML(input.Content, input.ContentHTML)
	if err != nil {
		return store.Document{}, err
	}

	now := s.now().UTC()
	doc := store.Document{
		ID:              util.NewID("doc"),
		Title:           title,
		Content:         input.Content,
		ContentRendered: html,
		VersionNumber:   1,
		Metadata:        copyMap(input.Metadata),
		OwnerID:         session.UserID,
		CreatorID:       session.UserID,
		TemplateID:      input.TemplateID,
		LastEditedAt:    &now,
		LastEditedBy:    session.UserID,
		CreatedAt:       now,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, err
	}
	s.audit(ctx, doc.ID, session.UserID, "document_create", "Document created", map[string]any{
		"title":       title,
		"template_id": input.TemplateID,
	})
	created, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return store.Document{}, err
	}
	s.search.IndexDocument(search.DocumentRecordFrom(created))
	return created, nil
}

// ListDocuments returns the documents session may view.
func (s *Service) ListDocuments(ctx context.Context, session Session) ([]store.Document, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]store.Document, 0, len(docs))
	for _, doc := range docs {
		_, canView, err := s.access(ctx, doc, session.Subject())
		if err != nil {
			return nil, err
		}
		if canView {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	return s.loadForView(ctx, session, documentID)
}

// CanEdit is the capability check consumed by the collaboration hub.
func (s *Service) CanEdit(ctx context.Context, session Session, documentID string) (bool, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	canEdit, _, err := s.access(ctx, doc, session.Subject())
	return canEdit, err
}

// UpsertGrant gives userID an explicit permission on the document. Only the
// owner, the creator, a full-grant holder or an admin may do this.
func (s *Service) UpsertGrant(ctx context.Context, session Session, documentID, userID, level string) (store.EditorGrant, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return store.EditorGrant{}, err
	}
	grants, err := s.store.ListEditorGrants(ctx, documentID)
	if err != nil {
		return store.EditorGrant{}, err
	}
	subject := session.Subject()
	allowed := subject.Role == rbac.RoleAdmin || subject.UserID == doc.OwnerID || subject.UserID == doc.CreatorID
	for _, grant := range grants {
		if grant.UserID == subject.UserID && rbac.NormalizeGrant(grant.PermissionLevel) == rbac.GrantFull {
			allowed = true
		}
	}
	if !allowed {
		return store.EditorGrant{}, permissionDenied("you cannot manage editors of this document")
	}
	if strings.TrimSpace(userID) == "" {
		return store.EditorGrant{}, validationError("userId is required")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return store.EditorGrant{}, translate(err, "user")
	}

	grant := store.EditorGrant{
		DocumentID:      documentID,
		UserID:          userID,
		PermissionLevel: string(rbac.NormalizeGrant(level)),
		AddedBy:         session.UserID,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.UpsertEditorGrant(ctx, grant); err != nil {
		return store.EditorGrant{}, err
	}
	s.audit(ctx, documentID, session.UserID, "grant_update", "Editor permission updated", map[string]any{
		"user_id":          userID,
		"permission_level": grant.PermissionLevel,
	})
	return grant, nil
}

// OpenForEditing takes the edit lock for session. A lock already held by the
// same user is kept; someone else's lock is only cleared once expired.
func (s *Service) OpenForEditing(ctx context.Context, session Session, documentID string) (store.Document, error) {
	unlock := s.lockDocument(documentID)
	defer unlock()

	doc, err := s.loadForEdit(ctx, session, documentID)
	if err != nil {
		return store.Document{}, err
	}

	if doc.IsLocked && doc.LockedBy != session.UserID {
		if !s.locks.Expired(doc) {
			return store.Document{}, s.conflict(ctx, doc)
		}
		if _, err := s.locks.ForceRelease(ctx, doc, session.UserID); err != nil {
			return store.Document{}, err
		}
		doc.IsLocked = false
	}

	acquired := false
	if !doc.IsLocked {
		ok, err := s.locks.Acquire(ctx, documentID, session.UserID)
		if err != nil {
			return store.Document{}, err
		}
		if !ok {
			current, err := s.loadDocument(ctx, documentID)
			if err != nil {
				return store.Document{}, err
			}
			return store.Document{}, s.conflict(ctx, current)
		}
		acquired = true
	}

	s.audit(ctx, documentID, session.UserID, "edit_start", "Editing session started", map[string]any{
		"lock_acquired": acquired,
		"lock_timeout":  int(s.locks.Timeout().Seconds()),
	})
	return s.loadDocument(ctx, documentID)
}

type SaveInput struct {
	Content      string
	ContentHTML  string
	IsAutoSave   bool
	ForceVersion bool
}

type SaveResult struct {
	Document store.Document
	// Version is the snapshot of the previous state, when one was kept.
	Version *store.VersionSnapshot
}

// Save writes new content. When the change is significant, or a version is
// forced, the previous state is kept as a snapshot first.
func (s *Service) Save(ctx context.Context, session Session, documentID string, input SaveInput) (SaveResult, error) {
	unlock := s.lockDocument(documentID)
	defer unlock()

	doc, err := s.loadForEdit(ctx, session, documentID)
	if err != nil {
		return SaveResult{}, err
	}
	if doc.IsLocked && doc.LockedBy != session.UserID && !s.locks.Expired(doc) {
		return SaveResult{}, s.conflict(ctx, doc)
	}

	html, err := s.renderHTML(input.Content, input.ContentHTML)
	if err != nil {
		return SaveResult{}, err
	}
	now := s.now().UTC()
	contentChanged := doc.Content != input.Content
	htmlChanged := doc.ContentRendered != html

	var change *versions.Change
	if input.ForceVersion || s.versions.Engine().ShouldSnapshot(doc.Content, input.Content) {
		change = &versions.Change{
			DocumentID:       documentID,
			PreviousContent:  doc.Content,
			PreviousHTML:     doc.ContentRendered,
			PreviousMetadata: doc.Metadata,
			NewContent:       input.Content,
			Editor:           session.UserID,
		}
	}

	metadata := copyMap(doc.Metadata)
	if contentChanged {
		metadata["last_significant_change"] = now.Format(time.RFC3339)
		metadata["edit_count"] = editCount(metadata) + 1
	}
	doc.Content = input.Content
	doc.ContentRendered = html
	doc.Metadata = metadata
	doc.LastEditedAt = &now
	doc.LastEditedBy = session.UserID
	_, kept, err := s.versions.Commit(ctx, doc, change)
	if err != nil {
		return SaveResult{}, fmt.Errorf("write content: %w", err)
	}

	action, details := "manual_save", "Document saved"
	if input.IsAutoSave {
		action, details = "auto_save", "Document auto-saved"
	}
	s.audit(ctx, documentID, session.UserID, action, details, map[string]any{
		"content_length":  utf8.RuneCountInString(input.Content),
		"content_changed": contentChanged,
		"html_changed":    htmlChanged,
		"version_created": kept != nil,
	})

	saved, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return SaveResult{}, err
	}
	s.search.IndexDocument(search.DocumentRecordFrom(saved))
	return SaveResult{Document: saved, Version: kept}, nil
}

// AutoSave saves at most once per interval per (document, user). Calls
// inside the window are dropped; save failures are logged, not returned,
// and give the window back so the next call can retry.
// The boolean reports whether a save actually happened.
func (s *Service) AutoSave(ctx context.Context, session Session, documentID, content, html string) (bool, error) {
	if _, err := s.loadForEdit(ctx, session, documentID); err != nil {
		return false, err
	}
	claimed, err := s.sessions.TryAcquireWindow(ctx, documentID, session.UserID, s.cfg.AutoSaveInterval)
	if err != nil {
		s.logger.Warn("autosave window check failed", zap.String("document_id", documentID), zap.Error(err))
		return false, nil
	}
	if !claimed {
		return false, nil
	}
	if _, err := s.Save(ctx, session, documentID, SaveInput{Content: content, ContentHTML: html, IsAutoSave: true}); err != nil {
		s.logger.Warn("autosave failed",
			zap.String("document_id", documentID),
			zap.String("user_id", session.UserID),
			zap.Error(err),
		)
		if err := s.sessions.ReleaseWindow(ctx, documentID, session.UserID); err != nil {
			s.logger.Warn("autosave window release failed", zap.String("document_id", documentID), zap.Error(err))
		}
		return false, nil
	}
	return true, nil
}

// Release drops session's lock and records how long the editing session lasted.
func (s *Service) Release(ctx context.Context, session Session, documentID string) (bool, error) {
	unlock := s.lockDocument(documentID)
	defer unlock()

	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	held := s.locks.Held(doc)
	released, err := s.locks.Release(ctx, documentID, session.Subject())
	if err != nil {
		return false, translate(err, "document")
	}
	if released {
		s.audit(ctx, documentID, session.UserID, "edit_end", "Editing session ended", map[string]any{
			"lock_released": true,
			"edit_duration": int(held.Seconds()),
		})
	}
	return released, nil
}

type LockStatus struct {
	locking.Status
	LockedByName string `json:"lockedByName,omitempty"`
}

func (s *Service) LockStatus(ctx context.Context, session Session, documentID string) (LockStatus, error) {
	doc, err := s.loadForView(ctx, session, documentID)
	if err != nil {
		return LockStatus{}, err
	}
	status := LockStatus{Status: s.locks.Status(doc)}
	if doc.IsLocked {
		status.LockedByName = s.userName(ctx, doc.LockedBy)
	}
	return status, nil
}

func (s *Service) AuditLog(ctx context.Context, session Session, documentID string, limit int) ([]store.AuditEntry, error) {
	if _, err := s.loadForEdit(ctx, session, documentID); err != nil {
		return nil, err
	}
	return s.store.ListAuditEntries(ctx, documentID, limit)
}

func (s *Service) conflict(ctx context.Context, doc store.Document) error {
	return lockConflict(doc.LockedBy, s.userName(ctx, doc.LockedBy), int(s.locks.Remaining(doc).Seconds()))
}

func (s *Service) loadDocument(ctx context.Context, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, translate(err, "document")
	}
	return doc, nil
}

func (s *Service) loadForEdit(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	canEdit, _, err := s.access(ctx, doc, session.Subject())
	if err != nil {
		return store.Document{}, err
	}
	if !canEdit {
		return store.Document{}, permissionDenied("you cannot edit this document")
	}
	return doc, nil
}

func (s *Service) loadForView(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	_, canView, err := s.access(ctx, doc, session.Subject())
	if err != nil {
		return store.Document{}, err
	}
	if !canView {
		return store.Document{}, permissionDenied("you cannot view this document")
	}
	return doc, nil
}

func (s *Service) access(ctx context.Context, doc store.Document, subject rbac.Subject) (canEdit, canView bool, err error) {
	items, err := s.store.ListEditorGrants(ctx, doc.ID)
	if err != nil {
		return false, false, fmt.Errorf("load editor grants: %w", err)
	}
	grants := make([]rbac.Grant, 0, len(items))
	for _, item := range items {
		grants = append(grants, rbac.Grant{UserID: item.UserID, Level: rbac.NormalizeGrant(item.PermissionLevel)})
	}
	ownership := rbac.Ownership{OwnerID: doc.OwnerID, CreatorID: doc.CreatorID}
	return rbac.CanEditDocument(subject, ownership, grants), rbac.CanViewDocument(subject, ownership, grants), nil
}

// lockDocument serializes save, open and restore on one document.
func (s *Service) lockDocument(documentID string) func() {
	s.docMu.Lock()
	mu, ok := s.docs[documentID]
	if !ok {
		mu = &sync.Mutex{}
		s.docs[documentID] = mu
	}
	s.docMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *Service) renderHTML(content, html string) (string, error) {
	if html != "" || content == "" {
		return html, nil
	}
	out, err := s.renderer.Render(content)
	if err != nil {
		return "", fmt.Errorf("render content: %w", err)
	}
	return out, nil
}

func (s *Service) userName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return ""
	}
	return user.DisplayName
}

func (s *Service) audit(ctx context.Context, documentID, userID, action, details string, metadata map[string]any) {
	err := s.store.InsertAuditEntry(ctx, store.AuditEntry{
		DocumentID: documentID,
		UserID:     userID,
		Action:     action,
		Details:    details,
		Metadata:   metadata,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit write failed", zap.String("action", action), zap.String("document_id", documentID), zap.Error(err))
	}
}

func editCount(metadata map[string]any) int {
	switch v := metadata["edit_count"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
