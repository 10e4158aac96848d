package app

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"lexdesk/internal/search"
)

type LLMStats struct {
	Interactions          int            `json:"interactions"`
	ByType                map[string]int `json:"byType"`
	Errors                int            `json:"errors"`
	AverageProcessingTime float64        `json:"averageProcessingTime"`
	TotalTokens           int            `json:"totalTokens"`
}

type Statistics struct {
	TotalVersions      int        `json:"totalVersions"`
	TotalComments      int        `json:"totalComments"`
	UnresolvedComments int        `json:"unresolvedComments"`
	WordCount          int        `json:"wordCount"`
	CharacterCount     int        `json:"characterCount"`
	EditCount          int        `json:"editCount"`
	VersionNumber      int        `json:"versionNumber"`
	LastEditedAt       *time.Time `json:"lastEditedAt,omitempty"`
	LastEditedBy       string     `json:"lastEditedBy,omitempty"`
	LastEdited         string     `json:"lastEdited,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	LLM                LLMStats   `json:"llm"`
}

func (s *Service) Statistics(ctx context.Context, session Session, documentID string) (Statistics, error) {
	doc, err := s.loadForView(ctx, session, documentID)
	if err != nil {
		return Statistics{}, err
	}
	counts, err := s.store.DocumentCounts(ctx, documentID)
	if err != nil {
		return Statistics{}, err
	}
	interactions, err := s.store.ListLLMInteractions(ctx, documentID)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		TotalVersions:      counts.Versions,
		TotalComments:      counts.Comments,
		UnresolvedComments: counts.UnresolvedComments,
		WordCount:          len(strings.Fields(doc.Content)),
		CharacterCount:     utf8.RuneCountInString(doc.Content),
		EditCount:          editCount(doc.Metadata),
		VersionNumber:      doc.VersionNumber,
		LastEditedAt:       doc.LastEditedAt,
		LastEditedBy:       doc.LastEditedBy,
		CreatedAt:          doc.CreatedAt,
		LLM:                LLMStats{ByType: map[string]int{}},
	}
	if doc.LastEditedAt != nil {
		stats.LastEdited = humanize.RelTime(*doc.LastEditedAt, s.now(), "ago", "from now")
	}

	var totalTime float64
	for _, item := range interactions {
		stats.LLM.Interactions++
		stats.LLM.ByType[item.InteractionType]++
		stats.LLM.TotalTokens += item.TotalTokens
		totalTime += item.ProcessingTime
		if item.Error != "" {
			stats.LLM.Errors++
		}
	}
	if stats.LLM.Interactions > 0 {
		stats.LLM.AverageProcessingTime = totalTime / float64(stats.LLM.Interactions)
	}
	return stats, nil
}

type SearchInput struct {
	Query  string
	Type   string
	Limit  int
	Offset int
}

// SearchDocuments searches documents and templates. Document hits the
// caller may not view are removed.
func (s *Service) SearchDocuments(ctx context.Context, session Session, input SearchInput) (search.Response, error) {
	text := strings.TrimSpace(input.Query)
	if text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	resp := s.search.Search(ctx, search.Query{
		Text:       text,
		FilterType: search.ResultType(input.Type),
		Limit:      limit,
		Offset:     input.Offset,
	})

	visible := make([]search.Result, 0, len(resp.Results))
	hidden := 0
	for _, hit := range resp.Results {
		if hit.Type == search.ResultDocument {
			doc, err := s.store.GetDocument(ctx, hit.ID)
			if err != nil {
				hidden++
				continue
			}
			_, canView, err := s.access(ctx, doc, session.Subject())
			if err != nil {
				return search.Response{}, err
			}
			if !canView {
				hidden++
				continue
			}
		}
		visible = append(visible, hit)
	}
	resp.Results = visible
	resp.Total -= hidden
	if resp.Total < len(visible) {
		resp.Total = len(visible)
	}
	return resp, nil
}

// ReindexSearch pushes every document and template to the search index.
func (s *Service) ReindexSearch(ctx context.Context) error {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return err
	}
	docRecords := make([]search.DocumentRecord, 0, len(docs))
	for _, doc := range docs {
		docRecords = append(docRecords, search.DocumentRecordFrom(doc))
	}
	tplRecords := make([]search.TemplateRecord, 0, len(templates))
	for _, tpl := range templates {
		tplRecords = append(tplRecords, search.TemplateRecordFrom(tpl))
	}
	s.search.ReindexAll(docRecords, tplRecords)
	return nil
}
