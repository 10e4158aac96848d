package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"lexdesk/internal/llm"
	"lexdesk/internal/rbac"
	"lexdesk/internal/search"
	"lexdesk/internal/store"
	"lexdesk/internal/templating"
	"lexdesk/internal/util"
)

type TemplateInput struct {
	Name        string
	Description string
	Category    string
	Content     string
}

// TemplateView is a stored template with its decoded variable list.
type TemplateView struct {
	Template  store.Template
	Variables []templating.Variable
}

type TemplateValidation struct {
	Valid     bool                  `json:"valid"`
	Errors    []string              `json:"errors"`
	Variables []templating.Variable `json:"variables"`
}

// RenderInput carries the bindings and the reserved context objects.
type RenderInput struct {
	Variables      map[string]any
	Case           map[string]any
	Client         map[string]any
	LegalRefs      map[string]any
	Metadata       map[string]any
	SkipValidation bool
}

type InstantiateInput struct {
	Title string
	RenderInput
}

func (s *Service) CreateTemplate(ctx context.Context, session Session, input TemplateInput) (TemplateView, error) {
	if !rbac.Can(session.Subject().Role, rbac.ActionWrite) {
		return TemplateView{}, permissionDenied("you cannot create templates")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return TemplateView{}, validationError("name is required")
	}
	valid, problems := s.templates.ValidateSyntax(input.Content)
	if !valid {
		out := validationError("template is invalid: " + strings.Join(problems, "; "))
		out.Details = map[string]any{"errors": problems}
		return TemplateView{}, out
	}
	vars, err := s.templates.ParseVariables(input.Content)
	if err != nil {
		return TemplateView{}, translate(err, "template")
	}
	return s.storeTemplate(ctx, session, store.Template{
		Name:        name,
		Description: input.Description,
		Category:    firstNonEmpty(input.Category, "general"),
		Content:     input.Content,
	}, vars)
}

func (s *Service) storeTemplate(ctx context.Context, session Session, tpl store.Template, vars []templating.Variable) (TemplateView, error) {
	encoded, err := json.Marshal(vars)
	if err != nil {
		return TemplateView{}, fmt.Errorf("encode variables: %w", err)
	}
	now := s.now().UTC()
	tpl.ID = util.NewID("tpl")
	tpl.Variables = encoded
	tpl.CreatedBy = session.UserID
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	if err := s.store.InsertTemplate(ctx, tpl); err != nil {
		return TemplateView{}, err
	}
	s.search.IndexTemplate(search.TemplateRecordFrom(tpl))
	return TemplateView{Template: tpl, Variables: vars}, nil
}

func (s *Service) GetTemplate(ctx context.Context, templateID string) (TemplateView, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return TemplateView{}, translate(err, "template")
	}
	return s.templateView(tpl), nil
}

func (s *Service) ListTemplates(ctx context.Context) ([]TemplateView, error) {
	items, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TemplateView, 0, len(items))
	for _, tpl := range items {
		out = append(out, s.templateView(tpl))
	}
	return out, nil
}

// templateView decodes the cached variables, reparsing when the cache is
// missing or unreadable.
func (s *Service) templateView(tpl store.Template) TemplateView {
	var vars []templating.Variable
	if len(tpl.Variables) > 0 && json.Unmarshal(tpl.Variables, &vars) == nil {
		return TemplateView{Template: tpl, Variables: vars}
	}
	vars, err := s.templates.ParseVariables(tpl.Content)
	if err != nil {
		vars = []templating.Variable{}
	}
	return TemplateView{Template: tpl, Variables: vars}
}

func (s *Service) ValidateTemplate(content string) TemplateValidation {
	valid, problems := s.templates.ValidateSyntax(content)
	out := TemplateValidation{Valid: valid, Errors: problems, Variables: []templating.Variable{}}
	if vars, err := s.templates.ParseVariables(content); err == nil {
		out.Variables = vars
	}
	return out
}

func (s *Service) RenderTemplate(ctx context.Context, templateID string, input RenderInput) (string, error) {
	view, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return "", err
	}
	out, err := s.templates.Render(templating.Template{
		Name:     view.Template.Name,
		Category: view.Template.Category,
		Content:  view.Template.Content,
	}, templating.RenderContext{
		Variables: input.Variables,
		Case:      input.Case,
		Client:    input.Client,
		LegalRefs: input.LegalRefs,
		Metadata:  input.Metadata,
	}, !input.SkipValidation)
	if err != nil {
		return "", translate(err, "template")
	}
	return out, nil
}

// PreviewTemplate never fails on template problems; they are part of the text.
func (s *Service) PreviewTemplate(ctx context.Context, templateID string, sample map[string]any) (string, error) {
	view, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return "", err
	}
	if len(sample) == 0 {
		sample = s.templates.SampleData(view.Variables)
	}
	return s.templates.Preview(templating.Template{
		Name:     view.Template.Name,
		Category: view.Template.Category,
		Content:  view.Template.Content,
	}, sample), nil
}

// InstantiateTemplate renders the template and stores the result as a new
// document owned by session.
func (s *Service) InstantiateTemplate(ctx context.Context, session Session, templateID string, input InstantiateInput) (store.Document, error) {
	view, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return store.Document{}, err
	}
	content, err := s.RenderTemplate(ctx, templateID, input.RenderInput)
	if err != nil {
		return store.Document{}, err
	}
	title := firstNonEmpty(strings.TrimSpace(input.Title), view.Template.Name)
	return s.CreateDocument(ctx, session, CreateDocumentInput{
		Title:      title,
		Content:    content,
		TemplateID: templateID,
		Metadata: map[string]any{
			"template_id":   templateID,
			"template_name": view.Template.Name,
			"document_type": view.Template.Category,
			"variables":     input.Variables,
		},
	})
}

// SuggestTemplateVariables enriches the parsed variables with the model's
// suggestions. Any provider problem leaves the parsed list as it is.
func (s *Service) SuggestTemplateVariables(ctx context.Context, session Session, templateID string) ([]templating.Variable, error) {
	view, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	parsed, err := s.templates.ParseVariables(view.Template.Content)
	if err != nil {
		return nil, translate(err, "template")
	}
	if !s.llm.Enabled() {
		return parsed, nil
	}
	result := s.llm.SuggestVariables(ctx, view.Template.Content, view.Template.Category)
	s.recordInteraction(ctx, "", session.UserID, "suggest_variables", "template "+templateID, result)
	if !result.OK() {
		return parsed, nil
	}
	suggested, err := llm.ParseSuggestedVariables(result.Text)
	if err != nil {
		s.logger.Info("unusable variable suggestions", zap.String("template_id", templateID), zap.Error(err))
		return parsed, nil
	}
	return templating.MergeVariables(parsed, convertSuggested(suggested)), nil
}

// EnhanceTemplate asks the model to rework a template. kind is one of
// improve, modernize, simplify or expand.
func (s *Service) EnhanceTemplate(ctx context.Context, session Session, templateID, kind string) (llm.Result, error) {
	view, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return llm.Result{}, err
	}
	result := s.llm.EnhanceTemplate(ctx, view.Template.Name, view.Template.Category, view.Template.Content, kind)
	s.recordInteraction(ctx, "", session.UserID, "enhance_template", fmt.Sprintf("template %s (%s)", templateID, kind), result)
	return result, nil
}

// CreateTemplateFromDocument turns a document into a template. With extract
// set the model replaces specific details with variables; when that fails
// the document text is used as is.
func (s *Service) CreateTemplateFromDocument(ctx context.Context, session Session, documentID, name string, extract bool) (TemplateView, error) {
	doc, err := s.loadForView(ctx, session, documentID)
	if err != nil {
		return TemplateView{}, err
	}
	if !rbac.Can(session.Subject().Role, rbac.ActionWrite) {
		return TemplateView{}, permissionDenied("you cannot create templates")
	}
	category, _ := doc.Metadata["document_type"].(string)
	category = firstNonEmpty(category, "general")

	content := doc.Content
	if extract {
		result := s.llm.TemplateFromContent(ctx, doc.Content, category)
		s.recordInteraction(ctx, documentID, session.UserID, "template_from_document", "document "+documentID, result)
		if candidate := strings.TrimSpace(result.Text); result.OK() && candidate != "" {
			if valid, _ := s.templates.ValidateSyntax(candidate); valid {
				content = candidate
			}
		}
	}

	vars, err := s.templates.ParseVariables(content)
	if err != nil {
		return TemplateView{}, translate(err, "template")
	}
	return s.storeTemplate(ctx, session, store.Template{
		Name:        firstNonEmpty(strings.TrimSpace(name), doc.Title),
		Description: "Generated from document: " + doc.Title,
		Category:    category,
		Content:     content,
	}, vars)
}

func convertSuggested(items []llm.SuggestedVariable) []templating.Variable {
	out := make([]templating.Variable, 0, len(items))
	for _, item := range items {
		v := templating.Variable{
			Name:         item.Name,
			Type:         templating.VariableType(item.Type),
			Label:        item.Label,
			Description:  item.Description,
			DefaultValue: item.DefaultValue,
			DependsOn:    item.DependsOn,
			Validation:   item.ValidationRules,
			AISuggested:  true,
		}
		if item.Required != nil {
			v.Required = *item.Required
		}
		for _, pair := range item.Choices {
			switch len(pair) {
			case 0:
			case 1:
				v.Choices = append(v.Choices, templating.Choice{Value: pair[0], Label: pair[0]})
			default:
				v.Choices = append(v.Choices, templating.Choice{Value: pair[0], Label: pair[1]})
			}
		}
		out = append(out, v)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
