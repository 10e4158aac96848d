package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lexdesk/internal/auth"
	"lexdesk/internal/collab"
	"lexdesk/internal/util"
)

type HTTPServer struct {
	service    *Service
	hub        *collab.Hub
	corsOrigin string
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewHTTPServer wires the REST surface and, when hub is non-nil, the
// collaboration websocket.
func NewHTTPServer(service *Service, hub *collab.Hub, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &HTTPServer{service: service, hub: hub, corsOrigin: corsOrigin, logger: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

type authedHandler func(w http.ResponseWriter, r *http.Request, session Session)

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/session/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/session", s.authed(s.handleSession)).Methods(http.MethodGet)

	r.HandleFunc("/api/documents", s.authed(s.handleCreateDocument)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents", s.authed(s.handleListDocuments)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}", s.authed(s.handleGetDocument)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/open", s.authed(s.handleOpen)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/save", s.authed(s.handleSave)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/autosave", s.authed(s.handleAutoSave)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/release", s.authed(s.handleRelease)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/lock", s.authed(s.handleLockStatus)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/grants", s.authed(s.handleGrant)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/audit", s.authed(s.handleAudit)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/stats", s.authed(s.handleStats)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/participants", s.authed(s.handleParticipants)).Methods(http.MethodGet)

	r.HandleFunc("/api/documents/{id}/versions", s.authed(s.handleListVersions)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/versions/{number:[0-9]+}", s.authed(s.handleGetVersion)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/versions/{number:[0-9]+}/restore", s.authed(s.handleRestore)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/history", s.authed(s.handleHistory)).Methods(http.MethodGet)

	r.HandleFunc("/api/documents/{id}/comments", s.authed(s.handleListComments)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/comments", s.authed(s.handleAddComment)).Methods(http.MethodPost)
	r.HandleFunc("/api/comments/{commentId:[0-9]+}/resolve", s.authed(s.handleResolveComment)).Methods(http.MethodPost)

	r.HandleFunc("/api/search", s.authed(s.handleSearch)).Methods(http.MethodGet)

	r.HandleFunc("/api/documents/{id}/llm/{kind}", s.authed(s.handleDocumentLLM)).Methods(http.MethodPost)
	r.HandleFunc("/api/llm/generate", s.authed(s.handleGenerate)).Methods(http.MethodPost)

	r.HandleFunc("/api/templates", s.authed(s.handleListTemplates)).Methods(http.MethodGet)
	r.HandleFunc("/api/templates", s.authed(s.handleCreateTemplate)).Methods(http.MethodPost)
	r.HandleFunc("/api/templates/validate", s.authed(s.handleValidateTemplate)).Methods(http.MethodPost)
	r.HandleFunc("/api/templates/{id}", s.authed(s.handleGetTemplate)).Methods(http.MethodGet)
	r.HandleFunc("/api/templates/{id}/render", s.authed(s.handleRenderTemplate)).Methods(http.MethodPost)
	r.HandleFunc("/api/templates/{id}/preview", s.authed(s.handlePreviewTemplate)).Methods(http.MethodPost)
	r.HandleFunc("/api/templates/{id}/instantiate", s.authed(s.handleInstantiate)).Methods(http.MethodPost)
	r.HandleFunc("/api/templates/{id}/suggest-variables", s.authed(s.handleSuggestVariables)).Methods(http.MethodPost)
	r.HandleFunc("/api/templates/{id}/enhance", s.authed(s.handleEnhanceTemplate)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/to-template", s.authed(s.handleDocumentToTemplate)).Methods(http.MethodPost)

	r.HandleFunc("/ws/documents/{id}", s.handleWebsocket).Methods(http.MethodGet)
	return r
}

func (s *HTTPServer) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r, bearerToken(r))
		if !ok {
			return
		}
		next(w, r, session)
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, _ *http.Request, session Session) {
	payload := sessionPayload(session)
	delete(payload, "token")
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Title       string         `json:"title"`
		Content     string         `json:"content"`
		ContentHTML string         `json:"contentHtml"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), session, CreateDocumentInput{
		Title:       body.Title,
		Content:     body.Content,
		ContentHTML: body.ContentHTML,
		Metadata:    body.Metadata,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": documentPayload(doc)})
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request, session Session) {
	docs, err := s.service.ListDocuments(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentSummaryPayload(doc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": items})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request, session Session) {
	doc, err := s.service.GetDocument(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": documentPayload(doc)})
}

func (s *HTTPServer) handleOpen(w http.ResponseWriter, r *http.Request, session Session) {
	doc, err := s.service.OpenForEditing(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": documentPayload(doc)})
}

func (s *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Content      string `json:"content"`
		ContentHTML  string `json:"contentHtml"`
		ForceVersion bool   `json:"forceVersion"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	result, err := s.service.Save(r.Context(), session, mux.Vars(r)["id"], SaveInput{
		Content:      body.Content,
		ContentHTML:  body.ContentHTML,
		ForceVersion: body.ForceVersion,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload := map[string]any{
		"document":       documentPayload(result.Document),
		"versionCreated": result.Version != nil,
	}
	if result.Version != nil {
		payload["version"] = versionPayload(*result.Version)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAutoSave(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Content     string `json:"content"`
		ContentHTML string `json:"contentHtml"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	saved, err := s.service.AutoSave(r.Context(), session, mux.Vars(r)["id"], body.Content, body.ContentHTML)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": saved})
}

func (s *HTTPServer) handleRelease(w http.ResponseWriter, r *http.Request, session Session) {
	released, err := s.service.Release(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": released})
}

func (s *HTTPServer) handleLockStatus(w http.ResponseWriter, r *http.Request, session Session) {
	status, err := s.service.LockStatus(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleGrant(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		UserID          string `json:"userId"`
		PermissionLevel string `json:"permissionLevel"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	grant, err := s.service.UpsertGrant(r.Context(), session, mux.Vars(r)["id"], body.UserID, body.PermissionLevel)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grant": map[string]any{
		"documentId":      grant.DocumentID,
		"userId":          grant.UserID,
		"permissionLevel": grant.PermissionLevel,
		"addedBy":         grant.AddedBy,
		"createdAt":       grant.CreatedAt,
	}})
}

func (s *HTTPServer) handleAudit(w http.ResponseWriter, r *http.Request, session Session) {
	entries, err := s.service.AuditLog(r.Context(), session, mux.Vars(r)["id"], queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, map[string]any{
			"id":        entry.ID,
			"userId":    entry.UserID,
			"action":    entry.Action,
			"details":   entry.Details,
			"metadata":  entry.Metadata,
			"createdAt": entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request, session Session) {
	stats, err := s.service.Statistics(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleParticipants(w http.ResponseWriter, r *http.Request, session Session) {
	documentID := mux.Vars(r)["id"]
	if _, err := s.service.GetDocument(r.Context(), session, documentID); err != nil {
		s.fail(w, r, err)
		return
	}
	participants := []collab.ParticipantInfo{}
	if s.hub != nil {
		participants = s.hub.Participants(documentID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": participants})
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.ListVersions(r.Context(), session, mux.Vars(r)["id"], queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	versions := make([]map[string]any, 0, len(items))
	for _, item := range items {
		versions = append(versions, versionPayload(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *HTTPServer) handleGetVersion(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	number, _ := strconv.Atoi(vars["number"])
	detail, err := s.service.GetVersion(r.Context(), session, vars["id"], number)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	version := versionPayload(detail.Version)
	version["contentSnapshot"] = detail.Version.ContentSnapshot
	version["contentRenderedSnapshot"] = detail.Version.ContentRenderedSnapshot
	version["metadataSnapshot"] = detail.Version.MetadataSnapshot
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        version,
		"currentVersion": detail.CurrentVersion,
		"changesToCurrent": detail.ChangesToCurrent,
		"diff":             detail.Unified,
	})
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	number, _ := strconv.Atoi(vars["number"])
	doc, err := s.service.RestoreVersion(r.Context(), session, vars["id"], number)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document":        documentPayload(doc),
		"restoredVersion": number,
	})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, session Session) {
	commits, err := s.service.VersionHistory(r.Context(), session, mux.Vars(r)["id"], queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"tag":       commit.Tag,
			"createdAt": commit.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": items})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request, session Session) {
	documentID := mux.Vars(r)["id"]
	includeResolved := queryBool(r, "includeResolved")
	if queryBool(r, "threads") {
		threads, err := s.service.CommentThreads(r.Context(), session, documentID, includeResolved)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(threads))
		for _, thread := range threads {
			replies := make([]map[string]any, 0, len(thread.Replies))
			for _, reply := range thread.Replies {
				replies = append(replies, commentPayload(reply))
			}
			item := commentPayload(thread.Comment)
			item["replies"] = replies
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, map[string]any{"threads": items})
		return
	}
	list, err := s.service.ListComments(r.Context(), session, documentID, includeResolved)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(list))
	for _, comment := range list {
		items = append(items, commentPayload(comment))
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": items})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Content         string `json:"content"`
		PositionStart   *int   `json:"positionStart"`
		PositionEnd     *int   `json:"positionEnd"`
		SelectedText    string `json:"selectedText"`
		ParentCommentID *int64 `json:"parentCommentId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	comment, err := s.service.AddComment(r.Context(), session, mux.Vars(r)["id"], CommentInput{
		Content:         body.Content,
		PositionStart:   body.PositionStart,
		PositionEnd:     body.PositionEnd,
		SelectedText:    body.SelectedText,
		ParentCommentID: body.ParentCommentID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"comment": commentPayload(comment)})
}

func (s *HTTPServer) handleResolveComment(w http.ResponseWriter, r *http.Request, session Session) {
	commentID, err := strconv.ParseInt(mux.Vars(r)["commentId"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid comment id", nil)
		return
	}
	comment, err := s.service.ResolveComment(r.Context(), session, commentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comment": commentPayload(comment)})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	resp, err := s.service.SearchDocuments(r.Context(), session, SearchInput{
		Query:  query.Get("q"),
		Type:   query.Get("type"),
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleDocumentLLM(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	var body struct {
		Focus          []string `json:"focus"`
		Section        string   `json:"section"`
		TargetLanguage string   `json:"targetLanguage"`
		SummaryType    string   `json:"summaryType"`
		Regulations    []string `json:"regulations"`
		InfoTypes      []string `json:"infoTypes"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	ctx, documentID := r.Context(), vars["id"]

	var (
		result any
		err    error
	)
	switch vars["kind"] {
	case "review":
		result, err = s.service.ReviewDocument(ctx, session, documentID, body.Focus)
	case "suggest":
		result, err = s.service.SuggestImprovements(ctx, session, documentID, firstNonEmpty(body.Section, "full"))
	case "translate":
		result, err = s.service.TranslateDocument(ctx, session, documentID, body.TargetLanguage)
	case "summarize":
		result, err = s.service.SummarizeDocument(ctx, session, documentID, firstNonEmpty(body.SummaryType, "executive"))
	case "compliance":
		result, err = s.service.AnalyzeCompliance(ctx, session, documentID, body.Regulations)
	case "extract":
		result, err = s.service.ExtractKeyInformation(ctx, session, documentID, body.InfoTypes)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown assistant operation", nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		DocumentType string         `json:"documentType"`
		Title        string         `json:"title"`
		CaseType     string         `json:"caseType"`
		Variables    map[string]any `json:"variables"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	result, err := s.service.GenerateDocument(r.Context(), session, GenerateInput{
		DocumentType: body.DocumentType,
		Title:        body.Title,
		CaseType:     body.CaseType,
		Variables:    body.Variables,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *HTTPServer) handleListTemplates(w http.ResponseWriter, r *http.Request, _ Session) {
	views, err := s.service.ListTemplates(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(views))
	for _, view := range views {
		items = append(items, templatePayload(view))
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": items})
}

func (s *HTTPServer) handleCreateTemplate(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Category    string `json:"category"`
		Content     string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	view, err := s.service.CreateTemplate(r.Context(), session, TemplateInput{
		Name:        body.Name,
		Description: body.Description,
		Category:    body.Category,
		Content:     body.Content,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"template": templatePayload(view)})
}

func (s *HTTPServer) handleValidateTemplate(w http.ResponseWriter, r *http.Request, _ Session) {
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.ValidateTemplate(body.Content))
}

func (s *HTTPServer) handleGetTemplate(w http.ResponseWriter, r *http.Request, _ Session) {
	view, err := s.service.GetTemplate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"template": templatePayload(view)})
}

type renderBody struct {
	Variables      map[string]any `json:"variables"`
	Case           map[string]any `json:"case"`
	Client         map[string]any `json:"client"`
	LegalRefs      map[string]any `json:"legalRefs"`
	Metadata       map[string]any `json:"metadata"`
	SkipValidation bool           `json:"skipValidation"`
}

func (b renderBody) input() RenderInput {
	return RenderInput{
		Variables:      b.Variables,
		Case:           b.Case,
		Client:         b.Client,
		LegalRefs:      b.LegalRefs,
		Metadata:       b.Metadata,
		SkipValidation: b.SkipValidation,
	}
}

func (s *HTTPServer) handleRenderTemplate(w http.ResponseWriter, r *http.Request, _ Session) {
	var body renderBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	content, err := s.service.RenderTemplate(r.Context(), mux.Vars(r)["id"], body.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

func (s *HTTPServer) handlePreviewTemplate(w http.ResponseWriter, r *http.Request, _ Session) {
	var body struct {
		Sample map[string]any `json:"sample"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	content, err := s.service.PreviewTemplate(r.Context(), mux.Vars(r)["id"], body.Sample)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

func (s *HTTPServer) handleInstantiate(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Title string `json:"title"`
		renderBody
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	doc, err := s.service.InstantiateTemplate(r.Context(), session, mux.Vars(r)["id"], InstantiateInput{
		Title:       body.Title,
		RenderInput: body.input(),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": documentPayload(doc)})
}

func (s *HTTPServer) handleSuggestVariables(w http.ResponseWriter, r *http.Request, session Session) {
	vars, err := s.service.SuggestTemplateVariables(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variables": vars})
}

func (s *HTTPServer) handleEnhanceTemplate(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Kind string `json:"kind"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	result, err := s.service.EnhanceTemplate(r.Context(), session, mux.Vars(r)["id"], firstNonEmpty(body.Kind, "improve"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *HTTPServer) handleDocumentToTemplate(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Name             string `json:"name"`
		ExtractVariables bool   `json:"extractVariables"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	view, err := s.service.CreateTemplateFromDocument(r.Context(), session, mux.Vars(r)["id"], body.Name, body.ExtractVariables)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"template": templatePayload(view)})
}

// handleWebsocket authenticates with ?token= since browsers cannot set
// headers on a websocket handshake.
func (s *HTTPServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Collaboration is disabled", nil)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = bearerToken(r)
	}
	session, ok := s.requireSession(w, r, token)
	if !ok {
		return
	}
	documentID := mux.Vars(r)["id"]
	if _, err := s.service.GetDocument(r.Context(), session, documentID); err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("document_id", documentID), zap.Error(err))
		return
	}
	s.hub.ServeConn(r.Context(), conn, documentID, session.UserID, session.UserName)
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return s.corsOrigin == "" || s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request, token string) (Session, bool) {
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// fail maps err to a response. Unmapped errors are logged with the request id.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		requestID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Error("request failed",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func queryBool(r *http.Request, key string) bool {
	value, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return value
}
