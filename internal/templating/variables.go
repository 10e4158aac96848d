package templating

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

type VariableType string

const (
	TypeText    VariableType = "text"
	TypeNumber  VariableType = "number"
	TypeDate    VariableType = "date"
	TypeBoolean VariableType = "boolean"
	TypeChoice  VariableType = "choice"
)

type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type Variable struct {
	Name         string         `json:"name"`
	Type         VariableType   `json:"type"`
	Label        string         `json:"label"`
	Description  string         `json:"description,omitempty"`
	Required     bool           `json:"required"`
	DefaultValue any            `json:"defaultValue,omitempty"`
	Choices      []Choice       `json:"choices,omitempty"`
	DependsOn    []string       `json:"dependsOn,omitempty"`
	Validation   map[string]any `json:"validationRules,omitempty"`
	AISuggested  bool           `json:"aiSuggested,omitempty"`
}

// reservedNames are supplied by Render itself.
var reservedNames = map[string]bool{
	"case":              true,
	"client":            true,
	"legal_refs":        true,
	"metadata":          true,
	"template_name":     true,
	"template_category": true,
	"current_date":      true,
	"case_reference":    true,
	"legal_citation":    true,
	"today":             true,
	"forloop":           true,
}

var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true, "as": true,
	"true": true, "false": true, "none": true, "nil": true,
	"True": true, "False": true, "None": true,
	"reversed": true, "sorted": true,
}

var (
	commentBlock = regexp.MustCompile(`(?s)\{%\s*comment\s*%\}.*?\{%\s*endcomment\s*%\}|\{#.*?#\}`)
	tagPattern   = regexp.MustCompile(`(?s)\{\{(.*?)\}\}|\{%(.*?)%\}`)
	stringLit    = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)
	identPattern = regexp.MustCompile(`[\p{L}_][\p{L}\p{N}_]*`)
	safeName     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

type scan struct {
	order []string
	seen  map[string]bool
	// scopes[0] is the template level; for and with blocks push one each.
	scopes []map[string]bool
}

// scanNames lists the free names a template reads, in order of first use.
// A loop or with target is bound only inside its block and a set target
// only for the uses after it. Filter names, attribute accesses and the
// built-in helpers are skipped.
func scanNames(content string) []string {
	s := &scan{seen: map[string]bool{}, scopes: []map[string]bool{{}}}
	content = commentBlock.ReplaceAllString(content, "")

	for _, match := range tagPattern.FindAllStringSubmatch(content, -1) {
		if strings.HasPrefix(match[0], "{{") {
			s.expression(match[1])
			continue
		}
		s.tag(strings.TrimSpace(strings.Trim(match[2], "-")))
	}
	return s.order
}

func (s *scan) bound(name string) bool {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if s.scopes[i][name] {
			return true
		}
	}
	return false
}

func (s *scan) push(targets ...string) {
	scope := make(map[string]bool, len(targets))
	for _, target := range targets {
		scope[strings.TrimSpace(target)] = true
	}
	s.scopes = append(s.scopes, scope)
}

func (s *scan) pop() {
	if len(s.scopes) > 1 {
		s.scopes = s.scopes[:len(s.scopes)-1]
	}
}

func (s *scan) tag(body string) {
	name, rest, _ := strings.Cut(body, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "if", "elif", "firstof", "cycle":
		s.expression(rest)
	case "for":
		targets, iterable, ok := strings.Cut(rest, " in ")
		if !ok {
			s.expression(rest)
			s.push()
			return
		}
		s.expression(iterable)
		s.push(strings.Split(targets, ",")...)
	case "endfor", "endwith":
		s.pop()
	case "with":
		if expr, target, ok := strings.Cut(rest, " as "); ok {
			s.expression(expr)
			s.push(target)
			return
		}
		var targets []string
		for _, pair := range strings.Fields(rest) {
			target, expr, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			s.expression(expr)
			targets = append(targets, target)
		}
		s.push(targets...)
	case "set":
		target, expr, ok := strings.Cut(rest, "=")
		if !ok {
			return
		}
		s.expression(expr)
		s.scopes[len(s.scopes)-1][strings.TrimSpace(target)] = true
	}
}

func (s *scan) expression(expr string) {
	expr = stringLit.ReplaceAllStringFunc(expr, func(lit string) string {
		return strings.Repeat(" ", len(lit))
	})
	for _, loc := range identPattern.FindAllStringIndex(expr, -1) {
		name := expr[loc[0]:loc[1]]
		if keywords[name] || reservedNames[name] || s.bound(name) {
			continue
		}
		if prev := previousNonSpace(expr, loc[0]); prev == '.' || prev == '|' {
			continue
		}
		if loc[0] > 0 && unicode.IsDigit(rune(expr[loc[0]-1])) {
			continue
		}
		if !s.seen[name] {
			s.seen[name] = true
			s.order = append(s.order, name)
		}
	}
}

func previousNonSpace(expr string, end int) rune {
	for i := end - 1; i >= 0; i-- {
		if expr[i] != ' ' && expr[i] != '\t' && expr[i] != '\n' {
			return rune(expr[i])
		}
	}
	return 0
}

// inferVariable guesses type and requiredness from how name is used in
// content. It is a heuristic: unusual naming can mislead it.
func inferVariable(content, name string) Variable {
	quoted := regexp.QuoteMeta(name)
	matches := func(patterns ...string) bool {
		for _, pattern := range patterns {
			if regexp.MustCompile(`(?i)` + pattern).MatchString(content) {
				return true
			}
		}
		return false
	}

	kind := TypeText
	lower := strings.ToLower(name)
	switch {
	case matches(`\b`+quoted+`\s*\|\s*(legal_date|date)\b`) ||
		strings.HasSuffix(lower, "_date") || strings.HasPrefix(lower, "date_") || lower == "date":
		kind = TypeDate
	case matches(`\b`+quoted+`\s*\|\s*(legal_amount|floatformat)\b`) ||
		strings.HasSuffix(lower, "_amount") || strings.HasPrefix(lower, "amount") || strings.HasPrefix(lower, "sum"):
		kind = TypeNumber
	case matches(`\{%-?\s*(el)?if\s+(not\s+)?`+quoted+`\b`, `\b`+quoted+`\s+(and|or)\s+`, `\b(and|or)\s+(not\s+)?`+quoted+`\b`):
		kind = TypeBoolean
	}

	label := Label(name)
	return Variable{
		Name:        name,
		Type:        kind,
		Label:       label,
		Description: fmt.Sprintf("Value for %s", label),
		Required:    !matches(`\b` + quoted + `\s*\|\s*default(_if_none)?\s*:`),
	}
}

// Label turns client_name into "Client Name".
func Label(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' })
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func suspiciousNames(names []string) []string {
	out := make([]string, 0)
	for _, name := range names {
		if !safeName.MatchString(name) {
			out = append(out, name)
		}
	}
	return out
}
