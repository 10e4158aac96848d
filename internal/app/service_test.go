package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lexdesk/internal/collab"
	"lexdesk/internal/config"
	"lexdesk/internal/llm"
	"lexdesk/internal/session"
	"lexdesk/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, mutate ...func(*Deps)) (*Service, *store.MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore()
	deps := Deps{
		Store:    st,
		Sessions: session.NewMemoryStoreWithClock(clock.Now),
		Now:      clock.Now,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := New(config.Config{
		JWTSecret:        "test-secret",
		AccessTTL:        time.Hour,
		LockTimeout:      300 * time.Second,
		AutoSaveInterval: 30 * time.Second,
		DiffThreshold:    0.10,
	}, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc, st, clock
}

func login(t *testing.T, svc *Service, name string) Session {
	t.Helper()
	session, err := svc.Login(context.Background(), name)
	if err != nil {
		t.Fatalf("Login(%q) error = %v", name, err)
	}
	return session
}

func createDocument(t *testing.T, svc *Service, owner Session, title, content string) store.Document {
	t.Helper()
	doc, err := svc.CreateDocument(context.Background(), owner, CreateDocumentInput{Title: title, Content: content})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	return doc
}

func grant(t *testing.T, svc *Service, owner Session, documentID string, to Session, level string) {
	t.Helper()
	if _, err := svc.UpsertGrant(context.Background(), owner, documentID, to.UserID, level); err != nil {
		t.Fatalf("UpsertGrant() error = %v", err)
	}
}

func expectCode(t *testing.T, err error, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != code {
		t.Fatalf("expected %s, got %v", code, err)
	}
	return domainErr
}

func TestCreateDocument(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")

	doc := createDocument(t, svc, alice, "Kontratë qiraje", "# Kontratë\n\nPalët bien dakord.")
	if doc.VersionNumber != 1 || doc.OwnerID != alice.UserID || doc.CreatorID != alice.UserID {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if !strings.Contains(doc.ContentRendered, "<h1") {
		t.Fatalf("expected rendered heading, got %q", doc.ContentRendered)
	}

	_, err := svc.CreateDocument(ctx, alice, CreateDocumentInput{Title: "  "})
	expectCode(t, err, CodeValidation)

	st.PutUser(store.User{ID: "usr-viewer", DisplayName: "Vera", Role: "viewer"})
	viewer := Session{UserID: "usr-viewer", UserName: "Vera", Role: "viewer"}
	_, err = svc.CreateDocument(ctx, viewer, CreateDocumentInput{Title: "Nope"})
	expectCode(t, err, CodePermissionDenied)
}

func TestOpenForEditingLockConflict(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")
	bob := login(t, svc, "bob")
	doc := createDocument(t, svc, alice, "Prokurë", "Neni 1\nNeni 2\n")
	grant(t, svc, alice, doc.ID, bob, "edit")

	opened, err := svc.OpenForEditing(ctx, alice, doc.ID)
	if err != nil {
		t.Fatalf("OpenForEditing(alice) error = %v", err)
	}
	if !opened.IsLocked || opened.LockedBy != alice.UserID {
		t.Fatalf("expected lock held by alice, got %+v", opened)
	}
	// Reopening by the holder keeps the lock.
	if _, err := svc.OpenForEditing(ctx, alice, doc.ID); err != nil {
		t.Fatalf("reopen by holder error = %v", err)
	}

	clock.Advance(100 * time.Second)
	_, err = svc.OpenForEditing(ctx, bob, doc.ID)
	conflict := expectCode(t, err, CodeLockConflict)
	details, _ := conflict.Details.(map[string]any)
	if details["lockedBy"] != alice.UserID || details["lockedByName"] != "alice" || details["remainingSeconds"] != 200 {
		t.Fatalf("unexpected conflict details: %+v", details)
	}
	if !strings.Contains(conflict.Message, "alice") {
		t.Fatalf("expected holder name in message, got %q", conflict.Message)
	}

	_, err = svc.Save(ctx, bob, doc.ID, SaveInput{Content: "bob was here"})
	expectCode(t, err, CodeLockConflict)

	released, err := svc.Release(ctx, bob, doc.ID)
	if err != nil || released {
		t.Fatalf("Release(bob) = %v, %v; want false, nil", released, err)
	}
	released, err = svc.Release(ctx, alice, doc.ID)
	if err != nil || !released {
		t.Fatalf("Release(alice) = %v, %v; want true, nil", released, err)
	}

	opened, err = svc.OpenForEditing(ctx, bob, doc.ID)
	if err != nil {
		t.Fatalf("OpenForEditing(bob) error = %v", err)
	}
	if opened.LockedBy != bob.UserID {
		t.Fatalf("expected bob to hold the lock, got %q", opened.LockedBy)
	}

	entries, err := svc.AuditLog(ctx, alice, doc.ID, 0)
	if err != nil {
		t.Fatalf("AuditLog() error = %v", err)
	}
	var sawEnd bool
	for _, entry := range entries {
		if entry.Action == "edit_end" && entry.UserID == alice.UserID {
			sawEnd = entry.Metadata["edit_duration"] == 100
		}
	}
	if !sawEnd {
		t.Fatalf("expected edit_end with 100s duration in %+v", entries)
	}
}

func TestExpiredLockIsTakenOver(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")
	bob := login(t, svc, "bob")
	doc := createDocument(t, svc, alice, "Padi", "Paditësi kërkon...")
	grant(t, svc, alice, doc.ID, bob, "edit")

	if _, err := svc.OpenForEditing(ctx, alice, doc.ID); err != nil {
		t.Fatalf("OpenForEditing(alice) error = %v", err)
	}

	clock.Advance(300 * time.Second)
	_, err := svc.OpenForEditing(ctx, bob, doc.ID)
	expectCode(t, err, CodeLockConflict)

	clock.Advance(time.Second)
	opened, err := svc.OpenForEditing(ctx, bob, doc.ID)
	if err != nil {
		t.Fatalf("OpenForEditing after expiry error = %v", err)
	}
	if opened.LockedBy != bob.UserID {
		t.Fatalf("expected bob to take over, got %q", opened.LockedBy)
	}
}

func TestSaveSnapshotsSignificantChanges(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")
	original := "Neni 1\nNeni 2\n"
	doc := createDocument(t, svc, alice, "Marrëveshje", original)

	result, err := svc.Save(ctx, alice, doc.ID, SaveInput{Content: original})
	if err != nil {
		t.Fatalf("Save(unchanged) error = %v", err)
	}
	if result.Version != nil || result.Document.VersionNumber != 1 {
		t.Fatalf("unchanged save created a version: %+v", result)
	}
	if _, ok := result.Document.Metadata["edit_count"]; ok {
		t.Fatalf("unchanged save bumped edit_count")
	}

	result, err = svc.Save(ctx, alice, doc.ID, SaveInput{Content: "Neni 1\nNeni 2 i ndryshuar\n"})
	if err != nil {
		t.Fatalf("Save(changed) error = %v", err)
	}
	if result.Version == nil || result.Version.VersionNumber != 1 || result.Version.ContentSnapshot != original {
		t.Fatalf("expected snapshot 1 of the original content, got %+v", result.Version)
	}
	if result.Document.VersionNumber != 2 || editCount(result.Document.Metadata) != 1 {
		t.Fatalf("unexpected document after save: %+v", result.Document)
	}

	result, err = svc.Save(ctx, alice, doc.ID, SaveInput{Content: result.Document.Content, ForceVersion: true})
	if err != nil {
		t.Fatalf("Save(forced) error = %v", err)
	}
	if result.Version == nil || result.Version.VersionNumber != 2 || result.Document.VersionNumber != 3 {
		t.Fatalf("forced save: version=%+v doc=%d", result.Version, result.Document.VersionNumber)
	}
}

func TestSaveRequiresEditPermission(t *testing.T) {
	svc, _, _ := newTestService(t)
	alice := login(t, svc, "alice")
	carol := login(t, svc, "carol")
	doc := createDocument(t, svc, alice, "Testament", "...")
	grant(t, svc, alice, doc.ID, carol, "view")

	_, err := svc.Save(context.Background(), carol, doc.ID, SaveInput{Content: "changed"})
	expectCode(t, err, CodePermissionDenied)

	_, err = svc.Save(context.Background(), alice, "doc-missing", SaveInput{Content: "x"})
	expectCode(t, err, CodeNotFound)
}

func TestAutoSaveWindow(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")
	carol := login(t, svc, "carol")
	doc := createDocument(t, svc, alice, "Ankesë", "v1")

	saved, err := svc.AutoSave(ctx, alice, doc.ID, "v2", "")
	if err != nil || !saved {
		t.Fatalf("first AutoSave = %v, %v; want true", saved, err)
	}
	saved, err = svc.AutoSave(ctx, alice, doc.ID, "v3", "")
	if err != nil || saved {
		t.Fatalf("AutoSave inside window = %v, %v; want false", saved, err)
	}
	current, _ := svc.GetDocument(ctx, alice, doc.ID)
	if current.Content != "v2" {
		t.Fatalf("content = %q, want v2", current.Content)
	}

	clock.Advance(31 * time.Second)
	saved, err = svc.AutoSave(ctx, alice, doc.ID, "v4", "")
	if err != nil || !saved {
		t.Fatalf("AutoSave after window = %v, %v; want true", saved, err)
	}

	_, err = svc.AutoSave(ctx, carol, doc.ID, "x", "")
	expectCode(t, err, CodePermissionDenied)

	entries, _ := svc.AuditLog(ctx, alice, doc.ID, 0)
	autoSaves := 0
	for _, entry := range entries {
		if entry.Action == "auto_save" {
			autoSaves++
		}
	}
	if autoSaves != 2 {
		t.Fatalf("auto_save entries = %d, want 2", autoSaves)
	}
}

func TestRestoreVersion(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")
	bob := login(t, svc, "bob")
	doc := createDocument(t, svc, alice, "Vendim", "alpha\n")
	grant(t, svc, alice, doc.ID, bob, "edit")

	for _, content := range []string{"beta\n", "gamma\n"} {
		if _, err := svc.Save(ctx, alice, doc.ID, SaveInput{Content: content}); err != nil {
			t.Fatalf("Save(%q) error = %v", content, err)
		}
	}

	detail, err := svc.GetVersion(ctx, alice, doc.ID, 2)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if detail.CurrentVersion != 3 || !strings.Contains(detail.Unified, "-beta") || !strings.Contains(detail.Unified, "+gamma") {
		t.Fatalf("unexpected version detail: %+v", detail)
	}
	_, err = svc.GetVersion(ctx, alice, doc.ID, 42)
	expectCode(t, err, CodeVersionNotFound)

	if _, err := svc.OpenForEditing(ctx, alice, doc.ID); err != nil {
		t.Fatalf("OpenForEditing() error = %v", err)
	}
	_, err = svc.RestoreVersion(ctx, bob, doc.ID, 1)
	expectCode(t, err, CodeLockConflict)

	restored, err := svc.RestoreVersion(ctx, alice, doc.ID, 1)
	if err != nil {
		t.Fatalf("RestoreVersion() error = %v", err)
	}
	if restored.Content != "alpha\n" || restored.VersionNumber != 4 {
		t.Fatalf("unexpected restored document: content=%q version=%d", restored.Content, restored.VersionNumber)
	}

	items, err := svc.ListVersions(ctx, alice, doc.ID, 0)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(items) != 3 || items[0].VersionNumber != 3 || items[0].ContentSnapshot != "gamma\n" {
		t.Fatalf("expected the pre-restore state kept as version 3, got %+v", items)
	}

	_, err = svc.RestoreVersion(ctx, alice, doc.ID, 99)
	expectCode(t, err, CodeVersionNotFound)

	history, err := svc.VersionHistory(ctx, alice, doc.ID, 10)
	if err != nil || len(history) != 0 {
		t.Fatalf("VersionHistory without mirror = %v, %v", history, err)
	}
}

func TestComments(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")
	carol := login(t, svc, "carol")
	dave := login(t, svc, "dave")
	doc := createDocument(t, svc, alice, "Kontratë", "Neni 1. Objekti")
	grant(t, svc, alice, doc.ID, carol, "view")

	start, end := 0, 7
	top, err := svc.AddComment(ctx, carol, doc.ID, CommentInput{Content: "Shiko nenin", PositionStart: &start, PositionEnd: &end, SelectedText: "Neni 1."})
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if top.AuthorID != carol.UserID || top.AuthorName != "carol" {
		t.Fatalf("unexpected author: %+v", top)
	}

	_, err = svc.AddComment(ctx, carol, doc.ID, CommentInput{Content: "   "})
	expectCode(t, err, CodeValidation)
	_, err = svc.AddComment(ctx, carol, doc.ID, CommentInput{Content: "x", PositionStart: &end, PositionEnd: &start})
	expectCode(t, err, CodeValidation)
	missing := int64(999)
	_, err = svc.AddComment(ctx, carol, doc.ID, CommentInput{Content: "x", ParentCommentID: &missing})
	expectCode(t, err, CodeNotFound)
	_, err = svc.AddComment(ctx, dave, doc.ID, CommentInput{Content: "x"})
	expectCode(t, err, CodePermissionDenied)

	reply, err := svc.AddComment(ctx, alice, doc.ID, CommentInput{Content: "Rregulluar", ParentCommentID: &top.ID})
	if err != nil {
		t.Fatalf("reply error = %v", err)
	}
	_, err = svc.AddComment(ctx, alice, doc.ID, CommentInput{Content: "nested", ParentCommentID: &reply.ID})
	expectCode(t, err, CodeValidation)

	resolved, err := svc.ResolveComment(ctx, alice, top.ID)
	if err != nil || !resolved.IsResolved || resolved.ResolvedBy != alice.UserID {
		t.Fatalf("ResolveComment() = %+v, %v", resolved, err)
	}
	_, err = svc.ResolveComment(ctx, alice, top.ID)
	expectCode(t, err, CodeValidation)

	open, err := svc.ListComments(ctx, alice, doc.ID, false)
	if err != nil || len(open) != 1 || open[0].ID != reply.ID {
		t.Fatalf("ListComments(unresolved) = %+v, %v", open, err)
	}
	threads, err := svc.CommentThreads(ctx, alice, doc.ID, true)
	if err != nil || len(threads) != 1 || len(threads[0].Replies) != 1 {
		t.Fatalf("CommentThreads() = %+v, %v", threads, err)
	}
}

func TestTemplates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")

	_, err := svc.CreateTemplate(ctx, alice, TemplateInput{Name: "Broken", Content: "{% if %}"})
	broken := expectCode(t, err, CodeValidation)
	if details, _ := broken.Details.(map[string]any); details["errors"] == nil {
		t.Fatalf("expected syntax errors in details, got %+v", broken.Details)
	}

	view, err := svc.CreateTemplate(ctx, alice, TemplateInput{Name: "Prokurë", Content: "I nderuar {{client_name}},"})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if view.Template.Category != "general" || len(view.Variables) != 1 || view.Variables[0].Name != "client_name" {
		t.Fatalf("unexpected template view: %+v", view)
	}

	_, err = svc.RenderTemplate(ctx, view.Template.ID, RenderInput{})
	missing := expectCode(t, err, CodeValidation)
	if details, _ := missing.Details.(map[string]any); details["missing"] == nil {
		t.Fatalf("expected missing variables in details, got %+v", missing.Details)
	}

	out, err := svc.RenderTemplate(ctx, view.Template.ID, RenderInput{Variables: map[string]any{"client_name": "Maria Gjoni"}})
	if err != nil || out != "I nderuar Maria Gjoni," {
		t.Fatalf("RenderTemplate() = %q, %v", out, err)
	}

	doc, err := svc.InstantiateTemplate(ctx, alice, view.Template.ID, InstantiateInput{
		RenderInput: RenderInput{Variables: map[string]any{"client_name": "Maria Gjoni"}},
	})
	if err != nil {
		t.Fatalf("InstantiateTemplate() error = %v", err)
	}
	if doc.Title != "Prokurë" || doc.Content != "I nderuar Maria Gjoni," || doc.VersionNumber != 1 || doc.Metadata["template_id"] != view.Template.ID {
		t.Fatalf("unexpected instantiated document: %+v", doc)
	}

	preview, err := svc.PreviewTemplate(ctx, view.Template.ID, nil)
	if err != nil || preview == "" {
		t.Fatalf("PreviewTemplate() = %q, %v", preview, err)
	}

	fromDoc, err := svc.CreateTemplateFromDocument(ctx, alice, doc.ID, "", true)
	if err != nil {
		t.Fatalf("CreateTemplateFromDocument() error = %v", err)
	}
	if fromDoc.Template.Content != doc.Content || fromDoc.Template.Name != doc.Title {
		t.Fatalf("expected raw content fallback without a provider, got %+v", fromDoc.Template)
	}

	if check := svc.ValidateTemplate("{{ x "); check.Valid {
		t.Fatalf("expected invalid template")
	}
}

type stubProvider struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(context.Context, llm.Request) (llm.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return llm.Result{}, p.err
	}
	return llm.Result{Text: p.text, TokenUsage: llm.TokenUsage{TotalTokens: 42}}, nil
}

func TestAssistantOperationsAreRecorded(t *testing.T) {
	provider := &stubProvider{text: "Dokumenti është në rregull."}
	svc, _, clock := newTestService(t, func(deps *Deps) {
		gateway, err := llm.New(llm.Config{Model: "stub-1"}, provider)
		if err != nil {
			t.Fatalf("llm.New() error = %v", err)
		}
		deps.LLM = gateway
	})
	ctx := context.Background()
	alice := login(t, svc, "alice")
	doc := createDocument(t, svc, alice, "Kontratë pune", "Punëdhënësi dhe punëmarrësi")

	result, err := svc.ReviewDocument(ctx, alice, doc.ID, []string{"compliance"})
	if err != nil || !result.OK() || result.Text != provider.text {
		t.Fatalf("ReviewDocument() = %+v, %v", result, err)
	}
	current, _ := svc.GetDocument(ctx, alice, doc.ID)
	if current.Metadata["llm_last_review"] != clock.Now().UTC().Format(time.RFC3339) {
		t.Fatalf("expected review stamp, got %+v", current.Metadata)
	}

	provider.mu.Lock()
	provider.err = errors.New("upstream unavailable")
	provider.mu.Unlock()
	result, err = svc.SuggestImprovements(ctx, alice, doc.ID, "full")
	if err != nil {
		t.Fatalf("SuggestImprovements() error = %v", err)
	}
	if result.OK() {
		t.Fatalf("expected provider failure in result")
	}
	current, _ = svc.GetDocument(ctx, alice, doc.ID)
	if _, ok := current.Metadata["llm_suggestions"]; ok {
		t.Fatalf("failed suggestion must not be stored")
	}

	_, err = svc.TranslateDocument(ctx, alice, doc.ID, " ")
	expectCode(t, err, CodeValidation)

	stats, err := svc.Statistics(ctx, alice, doc.ID)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.LLM.Interactions != 2 || stats.LLM.Errors != 1 || stats.LLM.TotalTokens != 42 || stats.LLM.ByType["review"] != 1 {
		t.Fatalf("unexpected llm stats: %+v", stats.LLM)
	}
}

func TestStatistics(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")
	doc := createDocument(t, svc, alice, "Njoftim", "Palët bien dakord sot")
	if _, err := svc.AddComment(ctx, alice, doc.ID, CommentInput{Content: "ok"}); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if _, err := svc.Save(ctx, alice, doc.ID, SaveInput{Content: "Palët nuk bien dakord sot"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	stats, err := svc.Statistics(ctx, alice, doc.ID)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.WordCount != 5 || stats.CharacterCount != 25 {
		t.Fatalf("word/char count = %d/%d", stats.WordCount, stats.CharacterCount)
	}
	if stats.TotalVersions != 1 || stats.TotalComments != 1 || stats.UnresolvedComments != 1 || stats.EditCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.LastEdited == "" || stats.LLM.Interactions != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSearchOnlyReturnsViewableDocuments(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")
	bob := login(t, svc, "bob")
	mine := createDocument(t, svc, alice, "Kontratë qiraje", "Qiraja mujore")
	createDocument(t, svc, bob, "Kontratë shitje", "Çmimi i shitjes")

	resp, err := svc.SearchDocuments(ctx, alice, SearchInput{Query: "kontratë", Type: "document"})
	if err != nil {
		t.Fatalf("SearchDocuments() error = %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != mine.ID || resp.Total != 1 {
		t.Fatalf("unexpected search response: %+v", resp)
	}

	resp, err = svc.SearchDocuments(ctx, alice, SearchInput{Query: "  "})
	if err != nil || len(resp.Results) != 0 {
		t.Fatalf("blank query = %+v, %v", resp, err)
	}
}

func TestHubEditorUsesServiceRules(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")
	bob := login(t, svc, "bob")
	doc := createDocument(t, svc, alice, "Memorandum", "draft\n")
	editor := NewHubEditor(svc)

	if ok, err := editor.CanEdit(ctx, doc.ID, bob.UserID); err != nil || ok {
		t.Fatalf("CanEdit(bob) = %v, %v", ok, err)
	}
	if err := editor.Lock(ctx, doc.ID, alice.UserID); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	state, err := editor.DocumentState(ctx, doc.ID)
	if err != nil || !state.IsLocked || state.LockedBy != alice.UserID {
		t.Fatalf("DocumentState() = %+v, %v", state, err)
	}
	version, err := editor.Save(ctx, doc.ID, alice.UserID, "final\n", "")
	if err != nil || version != 2 {
		t.Fatalf("Save() = %d, %v", version, err)
	}
	view, err := editor.AddComment(ctx, doc.ID, alice.UserID, collab.CommentInput{Content: "Looks good"})
	if err != nil || view.AuthorName != "alice" || view.ID == 0 {
		t.Fatalf("AddComment() = %+v, %v", view, err)
	}
	released, err := editor.Unlock(ctx, doc.ID, alice.UserID)
	if err != nil || !released {
		t.Fatalf("Unlock() = %v, %v", released, err)
	}
	if _, err := editor.CanEdit(ctx, doc.ID, "usr-unknown"); err == nil {
		t.Fatalf("expected unknown user to fail")
	}
}

func TestEndToEndEditingSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")
	bob := login(t, svc, "bob")
	doc := createDocument(t, svc, alice, "Marrëveshje", "")
	grant(t, svc, alice, doc.ID, bob, "edit")

	opened, err := svc.OpenForEditing(ctx, alice, doc.ID)
	if err != nil || opened.LockedBy != alice.UserID {
		t.Fatalf("OpenForEditing(alice) = %+v, %v", opened, err)
	}
	_, err = svc.OpenForEditing(ctx, bob, doc.ID)
	expectCode(t, err, CodeLockConflict)

	result, err := svc.Save(ctx, alice, doc.ID, SaveInput{Content: "Hello world"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if result.Version == nil || result.Version.VersionNumber != 1 || result.Version.ContentSnapshot != "" {
		t.Fatalf("expected snapshot 1 of the empty document, got %+v", result.Version)
	}
	if result.Document.VersionNumber != 2 || result.Document.Content != "Hello world" {
		t.Fatalf("unexpected document after save: %+v", result.Document)
	}

	released, err := svc.Release(ctx, alice, doc.ID)
	if err != nil || !released {
		t.Fatalf("Release(alice) = %v, %v", released, err)
	}
	opened, err = svc.OpenForEditing(ctx, bob, doc.ID)
	if err != nil || opened.LockedBy != bob.UserID {
		t.Fatalf("OpenForEditing(bob) = %+v, %v", opened, err)
	}
}

// racingStore commits a write from another node between Save's read of the
// document and its own write.
type racingStore struct {
	*store.MemoryStore
	once sync.Once
}

func (r *racingStore) SaveDocument(ctx context.Context, doc store.Document, snapshot *store.VersionSnapshot) (*store.VersionSnapshot, error) {
	r.once.Do(func() {
		current, _ := r.MemoryStore.GetDocument(ctx, doc.ID)
		other := current
		other.Content = "written elsewhere\n"
		_, _ = r.MemoryStore.SaveDocument(ctx, other, &store.VersionSnapshot{ContentSnapshot: current.Content, CreatedBy: "usr-other"})
	})
	return r.MemoryStore.SaveDocument(ctx, doc, snapshot)
}

func TestSaveLosingARaceLeavesNoSnapshot(t *testing.T) {
	svc, st, _ := newTestService(t, func(d *Deps) {
		d.Store = &racingStore{MemoryStore: d.Store.(*store.MemoryStore)}
	})
	ctx := context.Background()
	alice := login(t, svc, "alice")
	doc := createDocument(t, svc, alice, "Padi", "Neni 1\n")

	_, err := svc.Save(ctx, alice, doc.ID, SaveInput{Content: "Neni 1\nNeni 2\n"})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("Save() error = %v, want version conflict", err)
	}

	items, err := st.ListVersions(ctx, doc.ID, 0)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(items) != 1 || items[0].CreatedBy != "usr-other" {
		t.Fatalf("expected only the other writer's snapshot, got %+v", items)
	}
	current, _ := st.GetDocument(ctx, doc.ID)
	if current.VersionNumber != 2 || current.Content != "written elsewhere\n" {
		t.Fatalf("unexpected document: %+v", current)
	}
}

func TestFailedAutoSaveGivesWindowBack(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "alice")
	bob := login(t, svc, "bob")
	doc := createDocument(t, svc, alice, "Ankesë", "v1")
	grant(t, svc, alice, doc.ID, bob, "edit")

	if _, err := svc.OpenForEditing(ctx, bob, doc.ID); err != nil {
		t.Fatalf("OpenForEditing(bob) error = %v", err)
	}
	saved, err := svc.AutoSave(ctx, alice, doc.ID, "v2", "")
	if err != nil || saved {
		t.Fatalf("AutoSave under bob's lock = %v, %v; want false", saved, err)
	}

	if _, err := svc.Release(ctx, bob, doc.ID); err != nil {
		t.Fatalf("Release(bob) error = %v", err)
	}
	saved, err = svc.AutoSave(ctx, alice, doc.ID, "v3", "")
	if err != nil || !saved {
		t.Fatalf("AutoSave after release = %v, %v; want true", saved, err)
	}
	current, _ := svc.GetDocument(ctx, alice, doc.ID)
	if current.Content != "v3" {
		t.Fatalf("content = %q, want v3", current.Content)
	}
}
