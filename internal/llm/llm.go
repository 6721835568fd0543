// Package llm wraps the classification endpoint behind a plain text
// completion interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-haiku-20240307"

// ErrRateLimited is returned when the endpoint answers 429.
var ErrRateLimited = errors.New("llm rate limited")

// Completer produces a text completion for a system instruction and prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Config configures the Anthropic completer.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
	BaseURL     string
	HTTPClient  *http.Client
}

type messagesFunc func(context.Context, anthropic.MessageNewParams, ...option.RequestOption) (*anthropic.Message, error)

// Anthropic is a Completer backed by the Anthropic Messages API.
type Anthropic struct {
	newMessage  messagesFunc
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropic builds the completer. SDK-level retries are disabled; the
// classifier owns retry and pacing.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 200
	}
	return &Anthropic{
		newMessage:  client.Messages.New,
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends one user message and returns the concatenated text blocks.
func (a *Anthropic) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := a.newMessage(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return "", fmt.Errorf("create message: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
