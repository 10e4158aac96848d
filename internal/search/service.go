package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres FTS (or the in-memory scan when running without a database).
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(doc); err != nil {
			s.logger.Warn("index document", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}()
}

// IndexTemplate indexes a template (fire-and-forget to Meilisearch).
func (s *Service) IndexTemplate(tpl TemplateRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexTemplate(tpl); err != nil {
			s.logger.Warn("index template", zap.String("template_id", tpl.ID), zap.Error(err))
		}
	}()
}

// DeleteDocument removes a document from the search index (fire-and-forget).
func (s *Service) DeleteDocument(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteDocument(id); err != nil {
			s.logger.Warn("delete document from index", zap.String("document_id", id), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every record to Meilisearch. Called at startup.
func (s *Service) ReindexAll(documents []DocumentRecord, templates []TemplateRecord) {
	if !s.meiliReady() {
		return
	}
	if err := s.meili.IndexDocuments(documents); err != nil {
		s.logger.Warn("reindex documents", zap.Error(err))
	}
	if err := s.meili.IndexTemplates(templates); err != nil {
		s.logger.Warn("reindex templates", zap.Error(err))
	}
	s.logger.Info("search reindex complete", zap.Int("documents", len(documents)), zap.Int("templates", len(templates)))
}

// ReindexFromPG loads every record through pgfts and pushes it to Meilisearch.
func (s *Service) ReindexFromPG(ctx context.Context, pgfts *PgFTS) {
	if !s.meiliReady() || pgfts == nil {
		return
	}
	documents, templates, err := pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	s.ReindexAll(documents, templates)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
