package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	openAIBaseURL    = "https://api.openai.com/v1"
	anthropicBaseURL = "https://api.anthropic.com/v1"
	groqBaseURL      = "https://api.groq.com/openai/v1"
	ollamaBaseURL    = "http://localhost:11434"
	anthropicVersion = "2023-06-01"
)

// NewProvider selects the backend named by cfg.Provider.
func NewProvider(cfg Config) (Provider, error) {
	cfg = cfg.withDefaults()
	base := func(fallback string) string {
		if cfg.BaseURL != "" {
			return strings.TrimRight(cfg.BaseURL, "/")
		}
		return fallback
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return newOpenAI(ProviderOpenAI, base(openAIBaseURL), cfg), nil
	case ProviderGroq:
		return newOpenAI(ProviderGroq, base(groqBaseURL), cfg), nil
	case ProviderAnthropic:
		return &anthropicProvider{client: newClient(base(anthropicBaseURL), cfg.Timeout), apiKey: cfg.APIKey, model: cfg.Model}, nil
	case ProviderOllama:
		return &ollamaProvider{client: newClient(base(ollamaBaseURL), cfg.Timeout), model: cfg.Model}, nil
	case ProviderNone, "noop":
		return noopProvider{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

func newClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
}

func statusError(provider string, resp *resty.Response) error {
	return fmt.Errorf("%s API error: status %d: %s", provider, resp.StatusCode(), truncate(strings.TrimSpace(resp.String()), 300))
}

// openAIProvider also serves Groq, which speaks the same protocol.
type openAIProvider struct {
	name   string
	client *resty.Client
	apiKey string
	model  string
}

func newOpenAI(name, baseURL string, cfg Config) *openAIProvider {
	return &openAIProvider{name: name, client: newClient(baseURL, cfg.Timeout), apiKey: cfg.APIKey, model: cfg.Model}
}

type openAIResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage TokenUsage `json:"usage"`
	Model string     `json:"model"`
}

func (p *openAIProvider) Name() string { return p.name }

func (p *openAIProvider) Complete(ctx context.Context, req Request) (Result, error) {
	var out openAIResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.apiKey).
		SetBody(map[string]any{
			"model":             p.model,
			"messages":          req.Messages,
			"max_tokens":        req.MaxTokens,
			"temperature":       req.Temperature,
			"top_p":             0.9,
			"presence_penalty":  0.0,
			"frequency_penalty": 0.0,
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return Result{}, fmt.Errorf("%s request: %w", p.name, err)
	}
	if resp.IsError() {
		return Result{}, statusError(p.name, resp)
	}
	if len(out.Choices) == 0 {
		return Result{}, fmt.Errorf("%s API error: empty choices", p.name)
	}
	return Result{
		Text:       out.Choices[0].Message.Content,
		TokenUsage: out.Usage,
		Model:      p.model,
		Metadata:   map[string]any{"finish_reason": out.Choices[0].FinishReason},
	}, nil
}

type anthropicProvider struct {
	client *resty.Client
	apiKey string
	model  string
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *anthropicProvider) Name() string { return ProviderAnthropic }

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (Result, error) {
	system := ""
	messages := make([]Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		messages = append(messages, msg)
	}
	body := map[string]any{
		"model":       p.model,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"messages":    messages,
	}
	if system != "" {
		body["system"] = system
	}

	var out anthropicResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("x-api-key", p.apiKey).
		SetHeader("anthropic-version", anthropicVersion).
		SetBody(body).
		SetResult(&out).
		Post("/messages")
	if err != nil {
		return Result{}, fmt.Errorf("anthropic request: %w", err)
	}
	if resp.IsError() {
		return Result{}, statusError("anthropic", resp)
	}
	if len(out.Content) == 0 {
		return Result{}, fmt.Errorf("anthropic API error: empty content")
	}
	return Result{
		Text: out.Content[0].Text,
		TokenUsage: TokenUsage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
		Model:    p.model,
		Metadata: map[string]any{"stop_reason": out.StopReason},
	}, nil
}

type ollamaProvider struct {
	client *resty.Client
	model  string
}

type ollamaResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	EvalDuration    int64  `json:"eval_duration"`
}

func (p *ollamaProvider) Name() string { return ProviderOllama }

// Complete flattens the chat into "role: content" lines for /api/generate.
func (p *ollamaProvider) Complete(ctx context.Context, req Request) (Result, error) {
	lines := make([]string, 0, len(req.Messages))
	for _, msg := range req.Messages {
		lines = append(lines, msg.Role+": "+msg.Content)
	}
	var out ollamaResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"model":  p.model,
			"prompt": strings.Join(lines, "\n"),
			"stream": false,
			"options": map[string]any{
				"temperature": req.Temperature,
				"top_p":       0.9,
				"num_predict": req.MaxTokens,
			},
		}).
		SetResult(&out).
		Post("/api/generate")
	if err != nil {
		return Result{}, fmt.Errorf("ollama request: %w", err)
	}
	if resp.IsError() {
		return Result{}, statusError("ollama", resp)
	}
	return Result{
		Text: out.Response,
		TokenUsage: TokenUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
		Model: p.model,
		Metadata: map[string]any{
			"eval_count":    out.EvalCount,
			"eval_duration": out.EvalDuration,
		},
	}, nil
}

// noopProvider is used when no provider is configured.
type noopProvider struct{}

func (noopProvider) Name() string { return ProviderNone }

func (noopProvider) Complete(context.Context, Request) (Result, error) {
	return Result{}, fmt.Errorf("no llm provider configured")
}
