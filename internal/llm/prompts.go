package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

var defaultFocusAreas = []string{"legal_accuracy", "format", "language", "completeness"}

var defaultInfoTypes = []string{"parties", "dates", "obligations", "amounts", "deadlines"}

var summaryDescriptions = map[string]string{
	"executive": "executive summary for senior management",
	"legal":     "legal summary focusing on key legal points",
	"brief":     "brief overview highlighting main points",
	"detailed":  "detailed summary with all important elements",
}

var enhancementInstructions = map[string]string{
	"improve":   "Improve this legal document template by making it more comprehensive, legally accurate, and professionally formatted.",
	"modernize": "Modernize this legal document template with current legal language and current drafting practice.",
	"simplify":  "Simplify this legal document template while maintaining legal accuracy and completeness.",
	"expand":    "Expand this legal document template with additional relevant sections and details.",
}

func orGeneral(s string) string {
	if strings.TrimSpace(s) == "" {
		return "General"
	}
	return s
}

func (g *Gateway) systemPrompt(dc *DocumentContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert legal assistant specialized in %s law.\n", g.cfg.Jurisdiction)
	fmt.Fprintf(&b, "You provide accurate, professional legal document assistance in %s.\n\n", g.cfg.Language)
	b.WriteString("Key guidelines:\n")
	b.WriteString("- Always reference relevant legal articles and statutes\n")
	b.WriteString("- Use proper legal terminology and format\n")
	b.WriteString("- Include appropriate disclaimers when necessary\n")
	b.WriteString("- Maintain professional legal writing style\n")
	fmt.Fprintf(&b, "- Consider the jurisdiction: %s\n", g.cfg.Jurisdiction)
	fmt.Fprintf(&b, "- Respond in %s", g.cfg.Language)

	if dc != nil {
		b.WriteString("\n\nDocument Context:\n")
		fmt.Fprintf(&b, "- Document Type: %s\n", dc.DocumentType)
		fmt.Fprintf(&b, "- Case Type: %s\n", orGeneral(dc.CaseType))
		fmt.Fprintf(&b, "- Title: %s", dc.Title)
		if len(dc.Metadata) > 0 {
			if raw, err := json.Marshal(dc.Metadata); err == nil {
				fmt.Fprintf(&b, "\n- Additional Context: %s", raw)
			}
		}
	}
	return b.String()
}

func (g *Gateway) translatorPrompt() string {
	return fmt.Sprintf("You are an expert legal translator specializing in %s law.\n"+
		"Translate legal documents accurately while maintaining legal terminology and format.\n"+
		"Preserve the legal meaning and structure of the document.", g.cfg.Jurisdiction)
}

func (g *Gateway) generatePrompt(documentType string, dc DocumentContext, vars map[string]any) string {
	if vars == nil {
		vars = map[string]any{}
	}
	rawVars, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		rawVars = []byte("{}")
	}
	contextText := "No additional context provided"
	if dc.Content != "" {
		contextText = truncate(dc.Content, 1000)
	}
	return fmt.Sprintf(`Generate a %[1]s document in %[2]s with the following specifications:

Document Type: %[1]s
Case Type: %[3]s
Title: %[4]s

Template Variables: %[5]s

Requirements:
- Use proper legal format and structure
- Include relevant legal references for %[6]s
- Use formal legal language
- Include necessary disclaimers
- Structure the document with appropriate sections and numbering

Context: %[7]s

Please generate a complete, professional legal document.`,
		documentType, g.cfg.Language, orGeneral(dc.CaseType), dc.Title, rawVars, g.cfg.Jurisdiction, contextText)
}

func (g *Gateway) reviewPrompt(dc DocumentContext, focus []string) string {
	if len(focus) == 0 {
		focus = defaultFocusAreas
	}
	return fmt.Sprintf(`Please review the following %[1]s document and provide detailed feedback:

Document Title: %[2]s
Document Type: %[1]s
Case Type: %[3]s

Focus Areas for Review: %[4]s

Document Content:
%[5]s

Please provide:
1. Overall assessment of the document
2. Specific issues or errors found
3. Suggestions for improvement
4. Legal accuracy check (references to %[6]s law)
5. Format and structure evaluation
6. Language and terminology review

Format your response with clear sections and actionable recommendations.`,
		dc.DocumentType, dc.Title, orGeneral(dc.CaseType), strings.Join(focus, ", "), dc.Content, g.cfg.Jurisdiction)
}

func improvementsPrompt(dc DocumentContext, section string) string {
	if section != "" {
		return fmt.Sprintf(`Please provide specific improvement suggestions for the following section of a %[1]s:

Section to improve: %[2]s

Full document context:
Title: %[3]s
Type: %[1]s
Content: %[4]s...

Please provide:
1. Specific improvements for the mentioned section
2. Alternative phrasing suggestions
3. Legal enhancements
4. Formatting improvements`, dc.DocumentType, section, dc.Title, truncate(dc.Content, 500))
	}
	return fmt.Sprintf(`Please provide comprehensive improvement suggestions for this %s:

Title: %s
Content: %s

Please provide:
1. Structure improvements
2. Content enhancements
3. Legal strengthening suggestions
4. Language and clarity improvements
5. Missing elements that should be added`, dc.DocumentType, dc.Title, dc.Content)
}

func (g *Gateway) translatePrompt(dc DocumentContext, target string) string {
	return fmt.Sprintf(`Please translate the following %[1]s from %[2]s to %[3]s:

Document Title: %[4]s
Document Type: %[1]s

Content to translate:
%[5]s

Requirements:
- Maintain legal accuracy and terminology
- Preserve document structure and formatting
- Use appropriate legal language in %[3]s
- Keep legal references and citations intact
- Ensure the translation is suitable for legal use`, dc.DocumentType, g.cfg.Language, target, dc.Title, dc.Content)
}

func summarizePrompt(dc DocumentContext, summaryType string) string {
	if summaryType == "" {
		summaryType = "executive"
	}
	description, ok := summaryDescriptions[summaryType]
	if !ok {
		description = "general summary"
	}
	return fmt.Sprintf(`Please create a %[1]s of the following %[2]s:

Document Title: %[3]s
Document Type: %[2]s
Case Type: %[4]s

Document Content:
%[5]s

Please provide:
1. Key points and main arguments
2. Important legal references
3. Critical dates or deadlines (if any)
4. Recommended actions (if applicable)
5. Potential risks or considerations

Keep the summary professional and suitable for %[6]s use.`,
		description, dc.DocumentType, dc.Title, orGeneral(dc.CaseType), dc.Content, summaryType)
}

func (g *Gateway) compliancePrompt(dc DocumentContext, regulations []string) string {
	checked := "General legal compliance"
	if len(regulations) > 0 {
		checked = strings.Join(regulations, ", ")
	}
	return fmt.Sprintf(`Please analyze the legal compliance of the following %[1]s:

Document Title: %[2]s
Document Type: %[1]s
Jurisdiction: %[3]s

Specific regulations to check: %[4]s

Document Content:
%[5]s

Please provide:
1. Compliance assessment with %[3]s law
2. Potential legal issues or risks
3. Missing required elements
4. Recommendations for ensuring compliance
5. References to relevant legal articles or statutes
6. Risk level assessment (Low/Medium/High)`, dc.DocumentType, dc.Title, g.cfg.Jurisdiction, checked, dc.Content)
}

func keyInformationPrompt(dc DocumentContext, infoTypes []string) string {
	if len(infoTypes) == 0 {
		infoTypes = defaultInfoTypes
	}
	return fmt.Sprintf(`Please extract key information from the following %s:

Document Title: %s
Document Content: %s

Extract the following types of information: %s

Please provide the information in a structured format:
- Parties involved
- Important dates and deadlines
- Financial amounts or obligations
- Key terms and conditions
- Legal references
- Action items or requirements

Format the response as a structured list or table for easy reference.`, dc.DocumentType, dc.Title, dc.Content, strings.Join(infoTypes, ", "))
}

func suggestVariablesPrompt(content, documentType string) string {
	return fmt.Sprintf(`Analyze this legal document template and suggest appropriate variables with their types and descriptions:

Document Type: %s
Template Content: %s

Please identify variables that should be:
1. Required vs Optional
2. Their data types (text, number, date, boolean, choice)
3. Validation rules
4. Default values if applicable
5. Dependencies between variables

Respond in JSON format with structure:
{
  "variables": [
    {
      "name": "variable_name",
      "type": "text|number|date|boolean|choice",
      "label": "Human readable label",
      "description": "Detailed description",
      "required": true,
      "validation_rules": {},
      "choices": [["value", "label"]],
      "depends_on": ["other_variable"],
      "default_value": "default if any"
    }
  ]
}`, documentType, content)
}

func enhancePrompt(name, category, content, kind string) string {
	instruction, ok := enhancementInstructions[kind]
	if !ok {
		instruction = enhancementInstructions["improve"]
	}
	return fmt.Sprintf(`%s

Current Template:
Name: %s
Category: %s
Content: %s

Please provide:
1. Enhanced template content
2. Explanation of improvements made
3. Suggested variable definitions
4. Legal considerations

Keep the Django template syntax ({{ variable|filter }}, {%% if %%} blocks) and stay compatible with the existing variable names.`, instruction, name, category, content)
}

func templateFromContentPrompt(content, documentType string) string {
	return fmt.Sprintf(`Convert this legal document into a template by replacing specific values with appropriate variables:

Document Type: %s
Content: %s

Guidelines:
1. Replace names, dates, amounts, addresses with variables like {{ client_name }}, {{ contract_date }}, {{ amount }}
2. Keep legal language and structure intact
3. Use meaningful variable names
4. Add filters where appropriate (e.g., {{ date_field|legal_date }})
5. Preserve legal references and standard clauses
6. Use {%% if %%} blocks for optional sections

Return only the template content.`, documentType, content)
}
