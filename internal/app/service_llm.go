package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexdesk/internal/llm"
	"lexdesk/internal/store"
)

type GenerateInput struct {
	DocumentType string
	Title        string
	CaseType     string
	Variables    map[string]any
}

// ReviewDocument asks for a legal review. A successful review stamps the
// document metadata with when and on what it focused.
func (s *Service) ReviewDocument(ctx context.Context, session Session, documentID string, focus []string) (llm.Result, error) {
	doc, err := s.loadForView(ctx, session, documentID)
	if err != nil {
		return llm.Result{}, err
	}
	result := s.llm.Review(ctx, documentContext(doc), focus)
	s.recordInteraction(ctx, documentID, session.UserID, "review", "review: "+strings.Join(focus, ", "), result)
	if result.OK() {
		s.updateMetadata(ctx, documentID, func(metadata map[string]any) {
			metadata["llm_last_review"] = s.now().UTC().Format(time.RFC3339)
			metadata["llm_review_focus"] = focus
		})
	}
	return result, nil
}

// SuggestImprovements appends successful suggestions to metadata.llm_suggestions.
func (s *Service) SuggestImprovements(ctx context.Context, session Session, documentID, section string) (llm.Result, error) {
	doc, err := s.loadForView(ctx, session, documentID)
	if err != nil {
		return llm.Result{}, err
	}
	result := s.llm.SuggestImprovements(ctx, documentContext(doc), section)
	s.recordInteraction(ctx, documentID, session.UserID, "suggest", "suggest: "+section, result)
	if result.OK() {
		s.updateMetadata(ctx, documentID, func(metadata map[string]any) {
			existing, _ := metadata["llm_suggestions"].([]any)
			metadata["llm_suggestions"] = append(existing, map[string]any{
				"section":     section,
				"suggestions": result.Text,
				"timestamp":   s.now().UTC().Format(time.RFC3339),
				"user_id":     session.UserID,
			})
		})
	}
	return result, nil
}

func (s *Service) TranslateDocument(ctx context.Context, session Session, documentID, targetLanguage string) (llm.Result, error) {
	doc, err := s.loadForView(ctx, session, documentID)
	if err != nil {
		return llm.Result{}, err
	}
	targetLanguage = strings.TrimSpace(targetLanguage)
	if targetLanguage == "" {
		return llm.Result{}, validationError("target language is required")
	}
	result := s.llm.Translate(ctx, documentContext(doc), targetLanguage)
	s.recordInteraction(ctx, documentID, session.UserID, "translate", "translate to "+targetLanguage, result)
	return result, nil
}

func (s *Service) SummarizeDocument(ctx context.Context, session Session, documentID, summaryType string) (llm.Result, error) {
	doc, err := s.loadForView(ctx, session, documentID)
	if err != nil {
		return llm.Result{}, err
	}
	result := s.llm.Summarize(ctx, documentContext(doc), summaryType)
	s.recordInteraction(ctx, documentID, session.UserID, "summarize", "summarize: "+summaryType, result)
	return result, nil
}

func (s *Service) AnalyzeCompliance(ctx context.Context, session Session, documentID string, regulations []string) (llm.Result, error) {
	doc, err := s.loadForView(ctx, session, documentID)
	if err != nil {
		return llm.Result{}, err
	}
	result := s.llm.AnalyzeCompliance(ctx, documentContext(doc), regulations)
	s.recordInteraction(ctx, documentID, session.UserID, "compliance", "compliance: "+strings.Join(regulations, ", "), result)
	return result, nil
}

func (s *Service) ExtractKeyInformation(ctx context.Context, session Session, documentID string, infoTypes []string) (llm.Result, error) {
	doc, err := s.loadForView(ctx, session, documentID)
	if err != nil {
		return llm.Result{}, err
	}
	result := s.llm.ExtractKeyInformation(ctx, documentContext(doc), infoTypes)
	s.recordInteraction(ctx, documentID, session.UserID, "extract", "extract: "+strings.Join(infoTypes, ", "), result)
	return result, nil
}

// GenerateDocument drafts new content; nothing is stored besides the interaction.
func (s *Service) GenerateDocument(ctx context.Context, session Session, input GenerateInput) (llm.Result, error) {
	if strings.TrimSpace(input.DocumentType) == "" {
		return llm.Result{}, validationError("document type is required")
	}
	result := s.llm.Generate(ctx, input.DocumentType, llm.DocumentContext{
		Title:        input.Title,
		DocumentType: input.DocumentType,
		CaseType:     input.CaseType,
	}, input.Variables)
	s.recordInteraction(ctx, "", session.UserID, "generate", "generate: "+input.DocumentType, result)
	return result, nil
}

func documentContext(doc store.Document) llm.DocumentContext {
	docType, _ := doc.Metadata["document_type"].(string)
	caseType, _ := doc.Metadata["case_type"].(string)
	return llm.DocumentContext{
		Title:        doc.Title,
		Content:      doc.Content,
		DocumentType: docType,
		CaseType:     caseType,
		Metadata:     doc.Metadata,
	}
}

// updateMetadata applies mutate to the latest metadata under the document lock.
func (s *Service) updateMetadata(ctx context.Context, documentID string, mutate func(map[string]any)) {
	unlock := s.lockDocument(documentID)
	defer unlock()
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		s.logger.Warn("load document for metadata failed", zap.String("document_id", documentID), zap.Error(err))
		return
	}
	metadata := copyMap(doc.Metadata)
	mutate(metadata)
	if err := s.store.UpdateDocumentMetadata(ctx, documentID, metadata); err != nil {
		s.logger.Warn("update metadata failed", zap.String("document_id", documentID), zap.Error(err))
	}
}

func (s *Service) recordInteraction(ctx context.Context, documentID, userID, kind, prompt string, result llm.Result) {
	err := s.store.InsertLLMInteraction(ctx, store.LLMInteraction{
		DocumentID:      documentID,
		UserID:          userID,
		InteractionType: kind,
		Prompt:          prompt,
		Response:        result.Text,
		Confidence:      result.Confidence,
		ProcessingTime:  result.ProcessingTime.Seconds(),
		Model:           result.Model,
		Provider:        result.Provider,
		TotalTokens:     result.TokenUsage.TotalTokens,
		Error:           result.Error,
		CreatedAt:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("record llm interaction failed", zap.String("interaction_type", kind), zap.Error(err))
	}
}
