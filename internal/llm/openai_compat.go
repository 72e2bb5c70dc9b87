package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// openAICompat implements the chat-completions wire format shared by
// OpenAI, Groq, and OpenRouter. The concrete provider types differ only in
// endpoint, defaults, and extra headers.
type openAICompat struct {
	baseProvider
	extraHeaders map[string]string
}

// chat sends a chat request in OpenAI chat-completions format.
func (p *openAICompat) chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if p.config.APIKey == "" {
		return nil, &ProviderError{Provider: p.Name(), Transient: false, Err: fmt.Errorf("API key not configured")}
	}

	start := time.Now()

	oaReq := openAIChatRequest{
		Model: req.Model,
	}
	if oaReq.Model == "" {
		oaReq.Model = p.config.Model
	}

	// System prompt travels as the first message.
	if req.SystemPrompt != "" {
		oaReq.Messages = append(oaReq.Messages, openAIMessage{
			Role:    "system",
			Content: req.SystemPrompt,
		})
	}
	for _, msg := range req.Messages {
		oaReq.Messages = append(oaReq.Messages, openAIMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	oaReq.MaxTokens = req.MaxTokens
	if oaReq.MaxTokens == 0 {
		oaReq.MaxTokens = p.config.MaxTokens
	}
	oaReq.Temperature = req.Temperature
	if oaReq.Temperature == 0 {
		oaReq.Temperature = p.config.Temperature
	}

	body, err := json.Marshal(oaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	for k, v := range p.extraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, statusError(p.Name(), resp.StatusCode, bodyBytes)
	}

	var oaResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, transportError(p.Name(), fmt.Errorf("decode response: %w", err))
	}

	if len(oaResp.Choices) == 0 {
		return nil, transportError(p.Name(), fmt.Errorf("empty choices in response"))
	}
	choice := oaResp.Choices[0]

	return &ChatResponse{
		Content:          choice.Message.Content,
		Provider:         p.Name(),
		Model:            oaResp.Model,
		PromptTokens:     oaResp.Usage.PromptTokens,
		CompletionTokens: oaResp.Usage.CompletionTokens,
		TotalTokens:      oaResp.Usage.TotalTokens,
		Duration:         time.Since(start),
		FinishReason:     choice.FinishReason,
	}, nil
}

// OpenAI-compatible API types
type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// OpenAIProvider implements the Provider interface for OpenAI.
type OpenAIProvider struct {
	openAICompat
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg *ProviderConfig) *OpenAIProvider {
	return &OpenAIProvider{
		openAICompat: openAICompat{baseProvider: newBaseProvider(cfg, "openai")},
	}
}

// Chat sends a chat request to OpenAI.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.chat(ctx, req)
}

// GroqProvider implements the Provider interface for Groq's OpenAI-compatible
// API. Groq's inference is fast enough that it runs with a short timeout.
type GroqProvider struct {
	openAICompat
}

// NewGroqProvider creates a new Groq provider.
func NewGroqProvider(cfg *ProviderConfig) *GroqProvider {
	return &GroqProvider{
		openAICompat: openAICompat{baseProvider: newBaseProvider(cfg, "groq")},
	}
}

// Chat sends a chat request to Groq.
func (p *GroqProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.chat(ctx, req)
}

// OpenRouterProvider implements the Provider interface for OpenRouter.
type OpenRouterProvider struct {
	openAICompat
}

// NewOpenRouterProvider creates a new OpenRouter provider.
func NewOpenRouterProvider(cfg *ProviderConfig) *OpenRouterProvider {
	return &OpenRouterProvider{
		openAICompat: openAICompat{
			baseProvider: newBaseProvider(cfg, "openrouter"),
			extraHeaders: map[string]string{
				"HTTP-Referer": "https://github.com/normanking/convoke",
				"X-Title":      "convoke",
			},
		},
	}
}

// Chat sends a chat request to OpenRouter.
func (p *OpenRouterProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.chat(ctx, req)
}
