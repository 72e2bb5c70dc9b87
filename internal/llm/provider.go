// Package llm provides LLM backend adapters for convoke.
// Supports Ollama (local), OpenAI, Anthropic, and OpenAI-compatible hosted
// backends (Groq, OpenRouter).
package llm

import (
	"context"
	"io"
	"net/http"
	"time"
)

// MaxErrorBodySize limits how much error response body we read (1MB).
// Prevents memory exhaustion from malformed error responses.
const MaxErrorBodySize = 1 * 1024 * 1024

// readLimitedBody reads up to maxBytes from r, returning the bytes read.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Provider defines the interface for LLM backends.
type Provider interface {
	// Chat sends a completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Available reports whether the provider is configured and reachable.
	// It must be cheap and side-effect-free; it is probed on every
	// fallback decision.
	Available() bool

	// MaxContextTokens returns the provider's context window size.
	MaxContextTokens() int
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model to use (provider-specific). Empty means the configured default.
	Model string `json:"model"`

	// SystemPrompt sets the assistant's behavior. Always the first
	// message sent to the backend.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages in the conversation, chronological order.
	Messages []Message `json:"messages"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `json:"temperature,omitempty"`
}

// Message represents a conversation message on the wire.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatResponse contains the backend's reply and usage metadata.
// Token counts are exact when the backend reports them; callers fall back
// to EstimateTokens otherwise.
type ChatResponse struct {
	Content          string        `json:"content"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	TotalTokens      int           `json:"total_tokens,omitempty"`
	Duration         time.Duration `json:"duration"`
	FinishReason     string        `json:"finish_reason,omitempty"`
}

// ProviderConfig contains configuration for an LLM provider.
type ProviderConfig struct {
	// Name identifies the provider (ollama, openai, anthropic, ...).
	Name string

	// Endpoint is the API base URL.
	Endpoint string

	// APIKey for authentication.
	APIKey string

	// Model is the default model to use.
	Model string

	// MaxContextTokens is the context window used for budget tracking.
	MaxContextTokens int

	// MaxTokens default for responses.
	MaxTokens int

	// Temperature default.
	Temperature float64

	// Timeout for API calls.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for a provider.
func DefaultConfig(name string) *ProviderConfig {
	switch name {
	case "ollama":
		return &ProviderConfig{
			Name:             "ollama",
			Endpoint:         "http://127.0.0.1:11434",
			Model:            "llama3",
			MaxContextTokens: 8192,
			MaxTokens:        2048,
			Temperature:      0.7,
			Timeout:          time.Minute,
		}
	case "openai":
		return &ProviderConfig{
			Name:             "openai",
			Endpoint:         "https://api.openai.com/v1",
			Model:            "gpt-4o-mini",
			MaxContextTokens: 128000,
			MaxTokens:        2048,
			Temperature:      0.7,
			Timeout:          time.Minute,
		}
	case "anthropic":
		return &ProviderConfig{
			Name:             "anthropic",
			Endpoint:         "https://api.anthropic.com",
			Model:            "claude-3-5-sonnet-20241022",
			MaxContextTokens: 200000,
			MaxTokens:        2048,
			Temperature:      0.7,
			Timeout:          time.Minute,
		}
	case "groq":
		return &ProviderConfig{
			Name:             "groq",
			Endpoint:         "https://api.groq.com/openai/v1",
			Model:            "llama-3.3-70b-versatile",
			MaxContextTokens: 32768,
			MaxTokens:        2048,
			Temperature:      0.7,
			Timeout:          30 * time.Second,
		}
	case "openrouter":
		return &ProviderConfig{
			Name:             "openrouter",
			Endpoint:         "https://openrouter.ai/api/v1",
			Model:            "meta-llama/llama-3.3-70b-instruct",
			MaxContextTokens: 32768,
			MaxTokens:        2048,
			Temperature:      0.7,
			Timeout:          time.Minute,
		}
	default:
		return &ProviderConfig{
			Name:             name,
			MaxContextTokens: 8192,
			MaxTokens:        2048,
			Temperature:      0.7,
			Timeout:          time.Minute,
		}
	}
}

// baseProvider provides common functionality for HTTP-based LLM providers.
type baseProvider struct {
	config *ProviderConfig
	client *http.Client
}

// newBaseProvider creates a new base provider with defaults applied.
func newBaseProvider(cfg *ProviderConfig, providerName string) baseProvider {
	if cfg == nil {
		cfg = DefaultConfig(providerName)
	}

	defaults := DefaultConfig(providerName)
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxContextTokens == 0 {
		cfg.MaxContextTokens = defaults.MaxContextTokens
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	cfg.Name = providerName

	return baseProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier.
func (b *baseProvider) Name() string {
	return b.config.Name
}

// Available checks if the API key is configured.
func (b *baseProvider) Available() bool {
	return b.config.APIKey != ""
}

// MaxContextTokens returns the configured context window.
func (b *baseProvider) MaxContextTokens() int {
	return b.config.MaxContextTokens
}
