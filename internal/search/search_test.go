package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"

	"lexdesk/internal/store"
)

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	docs := []store.Document{
		{ID: "doc_1", Title: "Kontratë qiraje", Content: "Qiradhënësi jep me qira banesën në Tiranë.", OwnerID: "u1", CreatorID: "u1"},
		{ID: "doc_2", Title: "Prokurë", Content: "Autorizoj avokatin të më përfaqësojë.", OwnerID: "u2", CreatorID: "u2"},
	}
	for _, doc := range docs {
		if err := st.InsertDocument(ctx, doc); err != nil {
			t.Fatalf("InsertDocument: %v", err)
		}
	}
	if err := st.InsertTemplate(ctx, store.Template{ID: "tpl_1", Name: "Qira standarde", Category: "contract", Content: "Qiramarrësi {{ tenant }}"}); err != nil {
		t.Fatalf("InsertTemplate: %v", err)
	}
	return st
}

func TestStoreSearcherFindsDocumentsAndTemplates(t *testing.T) {
	svc := NewService(nil, NewStoreSearcher(seedStore(t)), zap.NewNop())

	resp := svc.Search(context.Background(), Query{Text: "qira"})
	if resp.Total != 2 {
		t.Fatalf("expected 2 hits, got %+v", resp)
	}
	if resp.Results[0].Type != ResultDocument || resp.Results[0].ID != "doc_1" {
		t.Fatalf("unexpected first hit %+v", resp.Results[0])
	}
	if resp.Results[1].Type != ResultTemplate || resp.Results[1].Category != "contract" {
		t.Fatalf("unexpected second hit %+v", resp.Results[1])
	}

	resp = svc.Search(context.Background(), Query{Text: "qira", FilterType: ResultTemplate})
	if resp.Total != 1 || resp.Results[0].ID != "tpl_1" {
		t.Fatalf("filter by template failed: %+v", resp)
	}

	resp = svc.Search(context.Background(), Query{Text: "   "})
	if resp.Total != 0 || resp.Results == nil {
		t.Fatalf("blank query should return an empty, non-nil slice: %+v", resp)
	}
}

func TestStoreSearcherPaging(t *testing.T) {
	searcher := NewStoreSearcher(seedStore(t))
	results, total, err := searcher.Search(context.Background(), Query{Text: "qira", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 2 || len(results) != 1 || results[0].ID != "tpl_1" {
		t.Fatalf("unexpected page: total=%d %+v", total, results)
	}
	results, _, _ = searcher.Search(context.Background(), Query{Text: "qira", Offset: 5})
	if len(results) != 0 {
		t.Fatalf("expected empty page, got %+v", results)
	}
}

type brokenSearcher struct{}

func (brokenSearcher) Search(context.Context, Query) ([]Result, int, error) {
	return nil, 0, errors.New("db gone")
}

func TestServiceSwallowsFallbackErrors(t *testing.T) {
	svc := NewService(nil, brokenSearcher{}, nil)
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Total != 0 || len(resp.Results) != 0 || resp.Query != "x" {
		t.Fatalf("unexpected response %+v", resp)
	}

	// without meili, indexing is a no-op
	svc.IndexDocument(DocumentRecordFrom(store.Document{ID: "doc_1"}))
	svc.IndexTemplate(TemplateRecordFrom(store.Template{ID: "tpl_1"}))
	svc.DeleteDocument("doc_1")
}

func TestSnippet(t *testing.T) {
	text := strings.Repeat("fjalë ", 40) + "Gjykata " + strings.Repeat("tjetër ", 40)
	got := Snippet(text, "gjykata", 10)
	if !strings.Contains(got, "<mark>Gjykata</mark>") {
		t.Fatalf("missing highlight: %q", got)
	}
	if !strings.HasPrefix(got, "…") || !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipses on both sides: %q", got)
	}
	if n := len(strings.Fields(got)); n != 10 {
		t.Fatalf("expected 10 words, got %d: %q", n, got)
	}
	if got := Snippet("a b c", "zzz", 2); got != "a b…" {
		t.Fatalf("no-match snippet = %q", got)
	}
	if Snippet("", "x", 5) != "" {
		t.Fatal("empty text should give empty snippet")
	}
}

func TestHitToResult(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":         raw("doc_9"),
		"title":      raw("Padi"),
		"content":    raw("full content"),
		"_formatted": raw(map[string]any{"title": "<mark>Padi</mark>", "content": "…cropped…", "versionNumber": "3"}),
	}
	r := hitToResult(hit, ResultDocument)
	if r.ID != "doc_9" || r.DocumentID != "doc_9" || r.Title != "<mark>Padi</mark>" || r.Snippet != "…cropped…" {
		t.Fatalf("unexpected document result %+v", r)
	}

	tplHit := meili.Hit{
		"id":          raw("tpl_2"),
		"name":        raw("Prokurë"),
		"description": raw("autorizim"),
		"category":    raw("poa"),
	}
	r = hitToResult(tplHit, ResultTemplate)
	if r.Title != "Prokurë" || r.Snippet != "autorizim" || r.Category != "poa" || r.DocumentID != "" {
		t.Fatalf("unexpected template result %+v", r)
	}
	if indexToResultType("other") != "" {
		t.Fatal("unknown index should map to empty type")
	}
}

func TestDocumentRecordFrom(t *testing.T) {
	updated := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := DocumentRecordFrom(store.Document{ID: "d", Title: "T", VersionNumber: 4, UpdatedAt: updated, OwnerID: "o"})
	if rec.UpdatedAt != updated.Unix() || rec.VersionNumber != 4 || rec.OwnerID != "o" {
		t.Fatalf("unexpected record %+v", rec)
	}
}
