// openai.go implements Provider on top of the OpenAI-compatible chat API.
// Both providers speak this format; the secondary one just points at a
// different base URL and model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds the settings for one completion provider.
type Config struct {
	// BaseURL is the API endpoint. Empty means the OpenAI default.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests.
	APIKey string `yaml:"api_key"`

	// Model is the model name (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// Label is the human-readable provider name.
	Label string `yaml:"label"`

	// Marker is the emoji used to tag this provider's responses.
	Marker string `yaml:"marker"`

	// Prefixes are the trigger prefixes that select this provider
	// (e.g. ["cc", "小c"]).
	Prefixes []string `yaml:"prefixes"`

	// Temperature, TopP and MaxTokens are the sampling parameters passed
	// through to the API. Zero values are omitted from the request.
	Temperature float32 `yaml:"temperature"`
	TopP        float32 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`

	// RequestTimeoutSeconds bounds a single completion call. Zero means the
	// 120-second default.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// OpenAI is a Provider backed by an OpenAI-compatible endpoint.
type OpenAI struct {
	id     ProviderID
	cfg    Config
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI creates a provider from config.
func NewOpenAI(id ProviderID, cfg Config, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAI{
		id:     id,
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger.With("component", "llm", "provider", string(id)),
	}
}

// ID returns the provider identity.
func (p *OpenAI) ID() ProviderID { return p.id }

// Label returns the configured provider name.
func (p *OpenAI) Label() string { return p.cfg.Label }

// Marker returns the configured response emoji.
func (p *OpenAI) Marker() string { return p.cfg.Marker }

// Complete sends a chat completion request and returns the response text.
func (p *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	if p.cfg.APIKey == "" {
		return "", fmt.Errorf("llm: %s API key not configured", p.id)
	}

	req := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    toChatMessages(messages),
		Temperature: p.cfg.Temperature,
		TopP:        p.cfg.TopP,
		MaxTokens:   p.cfg.MaxTokens,
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: no response from model %s", p.cfg.Model)
	}

	p.logger.Debug("chat completion done",
		"model", p.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// IsRateLimit reports whether the error is the provider's rate-limit signal.
func IsRateLimit(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests
}

func toChatMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Compile-time interface verification.
var _ Provider = (*OpenAI)(nil)
