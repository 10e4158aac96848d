package search

import (
	"context"
	"strings"

	"lexdesk/internal/store"
)

// Finder is the slice of the store a StoreSearcher reads from.
type Finder interface {
	SearchDocuments(ctx context.Context, query string, limit int) ([]store.Document, error)
	ListTemplates(ctx context.Context) ([]store.Template, error)
}

// StoreSearcher does a case-insensitive substring scan through the store.
// It backs search when neither Meilisearch nor Postgres is configured.
type StoreSearcher struct {
	finder Finder
}

func NewStoreSearcher(finder Finder) *StoreSearcher {
	return &StoreSearcher{finder: finder}
}

func (s *StoreSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.TrimSpace(q.Text)
	if needle == "" {
		return nil, 0, nil
	}

	var results []Result
	if q.FilterType == "" || q.FilterType == ResultDocument {
		docs, err := s.finder.SearchDocuments(ctx, needle, 0)
		if err != nil {
			return nil, 0, err
		}
		for _, doc := range docs {
			results = append(results, Result{
				Type:       ResultDocument,
				ID:         doc.ID,
				Title:      doc.Title,
				Snippet:    Snippet(doc.Content, needle, 30),
				DocumentID: doc.ID,
			})
		}
	}
	if q.FilterType == "" || q.FilterType == ResultTemplate {
		templates, err := s.finder.ListTemplates(ctx)
		if err != nil {
			return nil, 0, err
		}
		lower := strings.ToLower(needle)
		for _, tpl := range templates {
			if !strings.Contains(strings.ToLower(tpl.Name), lower) && !strings.Contains(strings.ToLower(tpl.Content), lower) {
				continue
			}
			results = append(results, Result{
				Type:     ResultTemplate,
				ID:       tpl.ID,
				Title:    tpl.Name,
				Snippet:  Snippet(tpl.Content, needle, 30),
				Category: tpl.Category,
			})
		}
	}

	total := len(results)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return nil, total, nil
	}
	results = results[offset:]
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}

// Snippet returns up to maxWords words of text centred on the first
// case-insensitive match of needle, with the match wrapped in <mark>.
func Snippet(text, needle string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	lower := strings.ToLower(needle)
	hit := -1
	for i, word := range words {
		if strings.Contains(strings.ToLower(word), lower) {
			hit = i
			break
		}
	}
	start := 0
	if hit > maxWords/2 {
		start = hit - maxWords/2
	}
	end := start + maxWords
	if end > len(words) {
		end = len(words)
	}
	window := append([]string(nil), words[start:end]...)
	if hit >= 0 {
		window[hit-start] = "<mark>" + window[hit-start] + "</mark>"
	}
	out := strings.Join(window, " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(words) {
		out += "…"
	}
	return out
}
