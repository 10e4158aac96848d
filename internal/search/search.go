package search

import (
	"context"
	"time"

	"lexdesk/internal/store"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultTemplate ResultType = "template"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId,omitempty"`
	Category   string     `json:"category,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	OwnerID       string `json:"ownerId"`
	CreatorID     string `json:"creatorId"`
	TemplateID    string `json:"templateId"`
	VersionNumber int    `json:"versionNumber"`
	UpdatedAt     int64  `json:"updatedAt"`
}

// TemplateRecord is the data we index for a template.
type TemplateRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Content     string `json:"content"`
}

func DocumentRecordFrom(doc store.Document) DocumentRecord {
	updated := doc.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return DocumentRecord{
		ID:            doc.ID,
		Title:         doc.Title,
		Content:       doc.Content,
		OwnerID:       doc.OwnerID,
		CreatorID:     doc.CreatorID,
		TemplateID:    doc.TemplateID,
		VersionNumber: doc.VersionNumber,
		UpdatedAt:     updated.Unix(),
	}
}

func TemplateRecordFrom(tpl store.Template) TemplateRecord {
	return TemplateRecord{
		ID:          tpl.ID,
		Name:        tpl.Name,
		Description: tpl.Description,
		Category:    tpl.Category,
		Content:     tpl.Content,
	}
}
