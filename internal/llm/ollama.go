package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// availabilityProbeTTL bounds how often Available re-probes the Ollama
// server. The probe result is memoized so fallback decisions stay cheap.
const availabilityProbeTTL = 30 * time.Second

// OllamaProvider implements the Provider interface for a local Ollama server.
// Unlike cloud providers it needs no API key; availability means the server
// answers on its endpoint.
type OllamaProvider struct {
	baseProvider

	probeClient *http.Client

	mu          sync.Mutex
	lastProbe   time.Time
	lastProbeOK bool
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg *ProviderConfig) *OllamaProvider {
	return &OllamaProvider{
		baseProvider: newBaseProvider(cfg, "ollama"),
		probeClient:  &http.Client{Timeout: 2 * time.Second},
	}
}

// Available probes the Ollama server, memoizing the result for a short
// window so repeated fallback checks don't hammer the endpoint.
func (p *OllamaProvider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastProbe) < availabilityProbeTTL {
		return p.lastProbeOK
	}

	resp, err := p.probeClient.Get(p.config.Endpoint + "/api/tags")
	p.lastProbe = time.Now()
	if err != nil {
		p.lastProbeOK = false
		return false
	}
	resp.Body.Close()
	p.lastProbeOK = resp.StatusCode == http.StatusOK
	return p.lastProbeOK
}

// Chat sends a non-streaming chat request to Ollama.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	ollamaReq := ollamaChatRequest{
		Model:  req.Model,
		Stream: false,
	}
	if ollamaReq.Model == "" {
		ollamaReq.Model = p.config.Model
	}

	if req.SystemPrompt != "" {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{
			Role:    "system",
			Content: req.SystemPrompt,
		})
	}
	for _, msg := range req.Messages {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}
	ollamaReq.Options = &ollamaOptions{
		NumPredict:  maxTokens,
		Temperature: temperature,
	}

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, statusError(p.Name(), resp.StatusCode, bodyBytes)
	}

	var ollamaResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, transportError(p.Name(), fmt.Errorf("decode response: %w", err))
	}

	return &ChatResponse{
		Content:          ollamaResp.Message.Content,
		Provider:         p.Name(),
		Model:            ollamaResp.Model,
		PromptTokens:     ollamaResp.PromptEvalCount,
		CompletionTokens: ollamaResp.EvalCount,
		TotalTokens:      ollamaResp.PromptEvalCount + ollamaResp.EvalCount,
		Duration:         time.Since(start),
		FinishReason:     ollamaResp.DoneReason,
	}, nil
}

// Ollama API types
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}
