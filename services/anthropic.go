package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const (
	// DefaultModel is used when neither the service nor the call names one.
	DefaultModel = string(anthropic.ModelClaudeSonnet4_20250514)

	defaultMaxTokens = 4096
)

// AnthropicLLM implements LLMService on top of the Anthropic Messages API.
type AnthropicLLM struct {
	client *anthropic.Client
	model  string
	log    zerolog.Logger
}

// AnthropicOption configures an AnthropicLLM.
type AnthropicOption func(*AnthropicLLM)

// WithModel sets the default model for calls that do not name one.
func WithModel(model string) AnthropicOption {
	return func(a *AnthropicLLM) { a.model = model }
}

// WithAnthropicLogger sets the service logger.
func WithAnthropicLogger(log zerolog.Logger) AnthropicOption {
	return func(a *AnthropicLLM) { a.log = log }
}

// NewAnthropicLLM builds the service. An empty apiKey defers to the
// ANTHROPIC_API_KEY environment variable picked up by the client.
func NewAnthropicLLM(apiKey string, opts ...AnthropicOption) *AnthropicLLM {
	var reqOpts []option.RequestOption
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(reqOpts...)
	a := &AnthropicLLM{
		client: &client,
		model:  DefaultModel,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Complete sends a single-message completion and returns the concatenated
// text blocks of the reply.
func (a *AnthropicLLM) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = a.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: opts.System},
		}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	start := time.Now()
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", a.mapError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	a.log.Debug().
		Str("model", model).
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Dur("elapsed", time.Since(start)).
		Msg("[anthropic] completion")

	return text, nil
}

func (a *AnthropicLLM) mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return &RateLimitError{Provider: "anthropic", RetryAfter: retryAfter(apiErr)}
		}
		return &ProviderError{Provider: "anthropic", Op: "messages.new", Status: apiErr.StatusCode, Err: err}
	}
	return &ProviderError{Provider: "anthropic", Op: "messages.new", Err: err}
}

func retryAfter(apiErr *anthropic.Error) time.Duration {
	if apiErr.Response == nil {
		return 0
	}
	return parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
}
