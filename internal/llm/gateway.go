package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexdesk/internal/session"
)

// RateLimitMessage is the Result.Error text when the hourly budget is spent.
const RateLimitMessage = "Rate limit exceeded. Please try again later."

const rateWindow = time.Hour

// RateCounter counts requests in a fixed window. Both session stores satisfy it.
type RateCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Gateway struct {
	cfg      Config
	provider Provider
	counter  RateCounter
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Gateway)

func WithRateCounter(counter RateCounter) Option {
	return func(g *Gateway) {
		if counter != nil {
			g.counter = counter
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New builds a gateway around provider. A nil provider is built from cfg.
func New(cfg Config, provider Provider, opts ...Option) (*Gateway, error) {
	cfg = cfg.withDefaults()
	if provider == nil {
		var err error
		provider, err = NewProvider(cfg)
		if err != nil {
			return nil, err
		}
	}
	g := &Gateway{
		cfg:      cfg,
		provider: provider,
		counter:  session.NewMemoryStore(),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gateway) ProviderName() string { return g.provider.Name() }

func (g *Gateway) Model() string { return g.cfg.Model }

// Enabled reports whether a real provider is configured.
func (g *Gateway) Enabled() bool { return g.provider.Name() != ProviderNone }

func (g *Gateway) rateKey(now time.Time) string {
	return fmt.Sprintf("llm:%s:%d", g.provider.Name(), now.UTC().Truncate(rateWindow).Unix())
}

// allow counts the request against the current hour. Counter outages fail open.
func (g *Gateway) allow(ctx context.Context) bool {
	count, err := g.counter.Incr(ctx, g.rateKey(g.now()), rateWindow)
	if err != nil {
		g.logger.Warn("llm rate counter unavailable", zap.String("provider", g.provider.Name()), zap.Error(err))
		return true
	}
	return count <= int64(g.cfg.MaxRequestsPerHour)
}

// Request sends messages through the provider. It never returns an error;
// failures are reported in Result.Error.
func (g *Gateway) Request(ctx context.Context, messages []Message) Result {
	if !g.allow(ctx) {
		return Result{Provider: g.provider.Name(), Model: g.cfg.Model, Error: RateLimitMessage}
	}

	start := g.now()
	result, err := g.provider.Complete(ctx, Request{
		Messages:    messages,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		g.logger.Warn("llm request failed", zap.String("provider", g.provider.Name()), zap.Error(err))
		result = Result{Error: err.Error()}
	}
	result.Provider = g.provider.Name()
	if result.Model == "" {
		result.Model = g.cfg.Model
	}
	result.ProcessingTime = g.now().Sub(start)
	return result
}

func (g *Gateway) ask(ctx context.Context, system, user string) Result {
	return g.Request(ctx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
}

func (g *Gateway) Generate(ctx context.Context, documentType string, dc DocumentContext, vars map[string]any) Result {
	return g.ask(ctx, g.systemPrompt(&dc), g.generatePrompt(documentType, dc, vars))
}

// Review uses the default focus areas when focus is empty.
func (g *Gateway) Review(ctx context.Context, dc DocumentContext, focus []string) Result {
	return g.ask(ctx, g.systemPrompt(&dc), g.reviewPrompt(dc, focus))
}

func (g *Gateway) SuggestImprovements(ctx context.Context, dc DocumentContext, section string) Result {
	return g.ask(ctx, g.systemPrompt(&dc), improvementsPrompt(dc, strings.TrimSpace(section)))
}

func (g *Gateway) Translate(ctx context.Context, dc DocumentContext, targetLanguage string) Result {
	return g.ask(ctx, g.translatorPrompt(), g.translatePrompt(dc, targetLanguage))
}

// Summarize accepts executive, legal, brief or detailed.
func (g *Gateway) Summarize(ctx context.Context, dc DocumentContext, summaryType string) Result {
	return g.ask(ctx, g.systemPrompt(&dc), summarizePrompt(dc, summaryType))
}

func (g *Gateway) AnalyzeCompliance(ctx context.Context, dc DocumentContext, regulations []string) Result {
	return g.ask(ctx, g.systemPrompt(&dc), g.compliancePrompt(dc, regulations))
}

func (g *Gateway) ExtractKeyInformation(ctx context.Context, dc DocumentContext, infoTypes []string) Result {
	return g.ask(ctx, g.systemPrompt(&dc), keyInformationPrompt(dc, infoTypes))
}

// SuggestVariables asks for a JSON variable list; decode Result.Text with
// ParseSuggestedVariables.
func (g *Gateway) SuggestVariables(ctx context.Context, content, documentType string) Result {
	dc := DocumentContext{Title: "Template Analysis - " + documentType, Content: content, DocumentType: documentType}
	return g.ask(ctx, g.systemPrompt(&dc), suggestVariablesPrompt(content, documentType))
}

// EnhanceTemplate accepts improve, modernize, simplify or expand; anything
// else is treated as improve.
func (g *Gateway) EnhanceTemplate(ctx context.Context, name, category, content, kind string) Result {
	dc := DocumentContext{Title: name, Content: content, DocumentType: category}
	return g.ask(ctx, g.systemPrompt(&dc), enhancePrompt(name, category, content, kind))
}

// TemplateFromContent asks the model to replace concrete values in content
// with template variables.
func (g *Gateway) TemplateFromContent(ctx context.Context, content, documentType string) Result {
	dc := DocumentContext{Title: "Variable Extraction - " + documentType, Content: content, DocumentType: documentType}
	return g.ask(ctx, g.systemPrompt(&dc), templateFromContentPrompt(content, documentType))
}

type SuggestedVariable struct {
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	Label           string         `json:"label"`
	Description     string         `json:"description"`
	Required        *bool          `json:"required"`
	ValidationRules map[string]any `json:"validation_rules"`
	Choices         [][]string     `json:"choices"`
	DependsOn       []string       `json:"depends_on"`
	DefaultValue    any            `json:"default_value"`
}

// ParseSuggestedVariables decodes a SuggestVariables answer. Entries without
// a name or type make the whole answer invalid.
func ParseSuggestedVariables(text string) ([]SuggestedVariable, error) {
	var payload struct {
		Variables []SuggestedVariable `json:"variables"`
	}
	if err := DecodeJSON(text, &payload); err != nil {
		return nil, err
	}
	for i, v := range payload.Variables {
		if strings.TrimSpace(v.Name) == "" || strings.TrimSpace(v.Type) == "" {
			return nil, fmt.Errorf("suggested variable %d: name and type are required", i)
		}
	}
	return payload.Variables, nil
}
