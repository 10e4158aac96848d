// Package templating renders legal document templates and discovers the
// variables a template expects.
//
// Templates use Django-style syntax as implemented by pongo2:
//
//	Kontrata lidhet {{ contract_date|legal_date:"legal" }} me {{ client_name }}.
//	{% if has_guarantor %}Garantues: {{ guarantor_name }}{% endif %}
//
// The legal filters (legal_date, legal_amount, ordinal_number,
// legal_reference, capitalize_legal) and the helpers current_date,
// case_reference, legal_citation and today are always available.
package templating

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
)

// ValidationError is returned for syntax errors and missing required
// variables. Missing lists the absent names when that is the cause.
type ValidationError struct {
	Message string
	Missing []string
}

func (e *ValidationError) Error() string { return e.Message }

type Template struct {
	Name     string
	Category string
	Content  string
}

// RenderContext carries the caller's bindings plus the reserved objects
// exposed to every template.
type RenderContext struct {
	Variables map[string]any
	Case      map[string]any
	Client    map[string]any
	LegalRefs map[string]any
	Metadata  map[string]any
}

type Engine struct {
	set *pongo2.TemplateSet
	now func() time.Time
}

func NewEngine() (*Engine, error) {
	if err := registerFilters(); err != nil {
		return nil, err
	}
	return &Engine{
		set: pongo2.NewSet("lexdesk", pongo2.DefaultLoader),
		now: time.Now,
	}, nil
}

func (e *Engine) compile(content string) (*pongo2.Template, error) {
	tpl, err := e.set.FromString(content)
	if err != nil {
		return nil, &ValidationError{Message: "template syntax error: " + describe(err)}
	}
	return tpl, nil
}

// ParseVariables lists every variable the template reads, with an inferred
// type and whether it is required (no default filter).
func (e *Engine) ParseVariables(content string) ([]Variable, error) {
	if _, err := e.compile(content); err != nil {
		return nil, err
	}
	names := scanNames(content)
	out := make([]Variable, 0, len(names))
	for _, name := range names {
		out = append(out, inferVariable(content, name))
	}
	return out, nil
}

// Render executes the template. With validate set, any required variable
// absent from ctx.Variables fails the render before execution.
func (e *Engine) Render(tpl Template, ctx RenderContext, validate bool) (string, error) {
	compiled, err := e.compile(tpl.Content)
	if err != nil {
		return "", err
	}
	if validate {
		vars, err := e.ParseVariables(tpl.Content)
		if err != nil {
			return "", err
		}
		missing := make([]string, 0)
		for _, v := range vars {
			if _, ok := ctx.Variables[v.Name]; v.Required && !ok {
				missing = append(missing, v.Name)
			}
		}
		if len(missing) > 0 {
			return "", &ValidationError{
				Message: "missing required variables: " + strings.Join(missing, ", "),
				Missing: missing,
			}
		}
	}

	data := helpers(e.now())
	for key, value := range ctx.Variables {
		data[key] = value
	}
	data["case"] = orEmpty(ctx.Case)
	data["client"] = orEmpty(ctx.Client)
	data["legal_refs"] = orEmpty(ctx.LegalRefs)
	data["metadata"] = orEmpty(ctx.Metadata)
	data["template_name"] = tpl.Name
	data["template_category"] = tpl.Category

	out, err := compiled.Execute(data)
	if err != nil {
		return "", &ValidationError{Message: "template render error: " + describe(err)}
	}
	return out, nil
}

// ValidateSyntax parses without rendering. Empty templates and variable
// names outside [A-Za-z0-9_-] are reported as errors.
func (e *Engine) ValidateSyntax(content string) (bool, []string) {
	problems := make([]string, 0)
	if _, err := e.compile(content); err != nil {
		problems = append(problems, err.Error())
		return false, problems
	}
	if strings.TrimSpace(content) == "" {
		problems = append(problems, "template is empty")
	}
	if suspicious := suspiciousNames(scanNames(content)); len(suspicious) > 0 {
		problems = append(problems, "suspicious variable names: "+strings.Join(suspicious, ", "))
	}
	return len(problems) == 0, problems
}

// SampleData fills each variable with a placeholder suitable for previews.
func (e *Engine) SampleData(vars []Variable) map[string]any {
	out := make(map[string]any, len(vars))
	for _, v := range vars {
		switch v.Type {
		case TypeText:
			out[v.Name] = fmt.Sprintf("[%s]", v.Label)
		case TypeNumber:
			out[v.Name] = 1000.00
		case TypeDate:
			out[v.Name] = e.now()
		case TypeBoolean:
			out[v.Name] = true
		case TypeChoice:
			if len(v.Choices) > 0 {
				out[v.Name] = v.Choices[0].Value
				continue
			}
			out[v.Name] = fmt.Sprintf("[%s]", v.Name)
		default:
			out[v.Name] = fmt.Sprintf("[%s]", v.Name)
		}
	}
	return out
}

// Preview renders with sample data and never fails: errors come back as
// text followed by the original template.
func (e *Engine) Preview(tpl Template, sample map[string]any) string {
	if len(sample) == 0 {
		vars, err := e.ParseVariables(tpl.Content)
		if err != nil {
			return previewError(err, tpl)
		}
		sample = e.SampleData(vars)
	}
	out, err := e.Render(tpl, RenderContext{
		Variables: sample,
		Case:      map[string]any{"uid": "SAMPLE-001", "type": "Sample Case"},
		Client:    map[string]any{"name": "Sample Client", "address": "Sample Address"},
	}, false)
	if err != nil {
		return previewError(err, tpl)
	}
	return out
}

// MergeVariables keeps the parsed list authoritative for names and adds
// type, label and choices from suggestions where they exist.
func MergeVariables(parsed, suggested []Variable) []Variable {
	byName := make(map[string]Variable, len(suggested))
	for _, v := range suggested {
		byName[v.Name] = v
	}
	out := make([]Variable, 0, len(parsed))
	for _, v := range parsed {
		if s, ok := byName[v.Name]; ok {
			if s.Type != "" {
				v.Type = s.Type
			}
			if s.Label != "" {
				v.Label = s.Label
			}
			if s.Description != "" {
				v.Description = s.Description
			}
			v.Choices = s.Choices
			v.DependsOn = s.DependsOn
			v.DefaultValue = s.DefaultValue
			v.AISuggested = true
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Required && !out[j].Required })
	return out
}

func previewError(err error, tpl Template) string {
	return fmt.Sprintf("PREVIEW ERROR: %s\n\nOriginal template:\n%s", err.Error(), tpl.Content)
}

func describe(err error) string {
	var perr *pongo2.Error
	if errors.As(err, &perr) && perr.OrigError != nil {
		if perr.Line > 0 {
			return fmt.Sprintf("line %d: %s", perr.Line, perr.OrigError.Error())
		}
		return perr.OrigError.Error()
	}
	return err.Error()
}

func orEmpty(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}
