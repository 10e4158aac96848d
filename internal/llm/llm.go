// Package llm is the gateway to large language model providers used for
// drafting, review and template authoring.
//
// Provider failures never surface as Go errors from the gateway's
// operations: every call returns a Result whose Error field callers must
// check before using Text.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGroq      = "groq"
	ProviderOllama    = "ollama"
	ProviderNone      = "none"
)

// Config is passed to the gateway at construction; nothing is read from
// the environment inside this package.
type Config struct {
	Provider           string
	Model              string
	APIKey             string
	BaseURL            string
	Timeout            time.Duration
	MaxRequestsPerHour int
	MaxTokens          int
	Temperature        float64
	Jurisdiction       string
	Language           string
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderNone
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRequestsPerHour <= 0 {
		c.MaxRequestsPerHour = 1000
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.Jurisdiction == "" {
		c.Jurisdiction = "Albania"
	}
	if c.Language == "" {
		c.Language = "Albanian"
	}
	return c
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Result struct {
	Text           string         `json:"text"`
	Confidence     *float64       `json:"confidence,omitempty"`
	TokenUsage     TokenUsage     `json:"token_usage"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Model          string         `json:"model"`
	Provider       string         `json:"provider"`
	Error          string         `json:"error,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (r Result) OK() bool { return r.Error == "" }

// Provider is one backend. Complete reports transport and API failures as
// errors; the gateway folds them into Result.Error.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Result, error)
}

// DocumentContext describes the document a prompt is about.
type DocumentContext struct {
	Title        string
	Content      string
	DocumentType string
	CaseType     string
	Metadata     map[string]any
}

var ErrUnknownProvider = errors.New("unknown llm provider")

// DecodeJSON unmarshals a model answer, tolerating a surrounding Markdown
// code fence.
func DecodeJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
