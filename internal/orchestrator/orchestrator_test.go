package orchestrator

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/convoke/internal/llm"
	"github.com/normanking/convoke/internal/persona"
)

// fakeProvider scripts one outcome per call and counts invocations.
type fakeProvider struct {
	name      string
	available bool
	calls     int
	err       error
	reply     string

	lastReq *llm.ChatRequest
}

func (f *fakeProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.reply, Provider: f.name}, nil
}
func (f *fakeProvider) Name() string          { return f.name }
func (f *fakeProvider) Available() bool       { return f.available }
func (f *fakeProvider) MaxContextTokens() int { return 8192 }

func transientErr(provider string) error {
	return &llm.ProviderError{Provider: provider, Status: http.StatusServiceUnavailable, Transient: true, Err: context.DeadlineExceeded}
}

func permanentErr(provider string) error {
	return &llm.ProviderError{Provider: provider, Status: http.StatusUnauthorized, Transient: false, Err: context.Canceled}
}

func newOrchestrator(providers ...*fakeProvider) (*Orchestrator, *llm.Registry) {
	order := make([]string, len(providers))
	for i, p := range providers {
		order[i] = p.name
	}
	registry := llm.NewRegistry(llm.RegistryConfig{
		DefaultProvider: order[0],
		FallbackOrder:   order,
		FallbackEnabled: true,
	})
	for _, p := range providers {
		registry.Register(p)
	}
	return New(registry, nil, 5*time.Second), registry
}

func TestStatefulFallbackSuccess(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, err: transientErr("a")}
	b := &fakeProvider{name: "b", available: true, reply: "hello from b"}
	o, _ := newOrchestrator(a, b)

	resp, err := o.Stateful(context.Background(), StatefulRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from b", resp.Content)
	assert.Equal(t, "b", resp.Provider)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestStatefulExhaustion(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, err: transientErr("a")}
	b := &fakeProvider{name: "b", available: true, err: transientErr("b")}
	o, _ := newOrchestrator(a, b)

	_, err := o.Stateful(context.Background(), StatefulRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	require.True(t, llm.IsExhausted(err))

	var ee *llm.ExhaustedError
	require.ErrorAs(t, err, &ee)
	assert.Len(t, ee.Causes, 2)
	assert.Contains(t, ee.Causes, "a")
	assert.Contains(t, ee.Causes, "b")
}

func TestPermanentFailureAdvancesWithoutRetry(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, err: permanentErr("a")}
	b := &fakeProvider{name: "b", available: true, reply: "ok"}
	o, _ := newOrchestrator(a, b)

	resp, err := o.Stateful(context.Background(), StatefulRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	// No same-provider retry on a permanent failure.
	assert.Equal(t, 1, a.calls)
}

func TestUnavailableFallbackSkipped(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, err: transientErr("a")}
	b := &fakeProvider{name: "b", available: false, reply: "should not be called"}
	c := &fakeProvider{name: "c", available: true, reply: "from c"}
	o, _ := newOrchestrator(a, b, c)

	resp, err := o.Stateful(context.Background(), StatefulRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "from c", resp.Content)
	assert.Equal(t, 0, b.calls)
}

func TestStartProviderAttemptedEvenIfUnavailable(t *testing.T) {
	// The starting provider skips the availability probe; only fallback
	// candidates are filtered.
	a := &fakeProvider{name: "a", available: false, reply: "alive after all"}
	b := &fakeProvider{name: "b", available: true, reply: "fallback"}
	o, _ := newOrchestrator(a, b)

	resp, err := o.Stateful(context.Background(), StatefulRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "alive after all", resp.Content)
	assert.Equal(t, 0, b.calls)
}

func TestProviderOverridePrecedence(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, reply: "from a"}
	b := &fakeProvider{name: "b", available: true, reply: "from b"}
	o, _ := newOrchestrator(a, b)

	resp, err := o.Stateful(context.Background(), StatefulRequest{
		Messages:         []llm.Message{{Role: "user", Content: "hi"}},
		ProviderOverride: "b",
		ScopeProvider:    "a",
	})
	require.NoError(t, err)
	assert.Equal(t, "from b", resp.Content)
	assert.Equal(t, 0, a.calls)
}

func TestUnknownProviderFailsFast(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, reply: "from a"}
	o, _ := newOrchestrator(a)

	_, err := o.Stateful(context.Background(), StatefulRequest{
		Messages:         []llm.Message{{Role: "user", Content: "hi"}},
		ProviderOverride: "ghost",
	})
	require.ErrorIs(t, err, llm.ErrNotFound)
	assert.Equal(t, 0, a.calls)
}

func TestSystemPromptAssemblyOrder(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, reply: "ok"}
	o, _ := newOrchestrator(a)

	_, err := o.Stateful(context.Background(), StatefulRequest{
		Messages:       []llm.Message{{Role: "user", Content: "hi"}},
		CustomPersona:  "Speak like a pirate.",
		SessionContext: "The user likes tea.",
		MemoryContext:  "User's name is Sam.",
	})
	require.NoError(t, err)
	require.NotNil(t, a.lastReq)

	prompt := a.lastReq.SystemPrompt
	base := persona.Default().Render()
	idxBase := strings.Index(prompt, base)
	idxCustom := strings.Index(prompt, "Speak like a pirate.")
	idxCtx := strings.Index(prompt, ContextMarker+"\nThe user likes tea.")
	idxMem := strings.Index(prompt, MemoryMarker+"\nUser's name is Sam.")

	require.GreaterOrEqual(t, idxBase, 0)
	require.Greater(t, idxCustom, idxBase)
	require.Greater(t, idxCtx, idxCustom)
	require.Greater(t, idxMem, idxCtx)
}

func TestSystemPromptOmitsEmptyParts(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, reply: "ok"}
	o, _ := newOrchestrator(a)

	_, err := o.Stateful(context.Background(), StatefulRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.NotContains(t, a.lastReq.SystemPrompt, ContextMarker)
	assert.NotContains(t, a.lastReq.SystemPrompt, MemoryMarker)
}

func TestStatelessUsesNamedProvider(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, reply: "from a"}
	b := &fakeProvider{name: "b", available: true, reply: "summary text"}
	o, _ := newOrchestrator(a, b)

	resp, err := o.Stateless(context.Background(), StatelessRequest{
		Prompt:       "Summarize this.",
		ProviderName: "b",
		MaxTokens:    400,
	})
	require.NoError(t, err)
	assert.Equal(t, "summary text", resp.Content)
	assert.Equal(t, 400, b.lastReq.MaxTokens)
	require.Len(t, b.lastReq.Messages, 1)
	assert.Equal(t, "Summarize this.", b.lastReq.Messages[0].Content)
}

func TestFillUsageEstimates(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, reply: "aaaaaaaa"} // 8 chars, 2 tokens
	o, _ := newOrchestrator(a)

	resp, err := o.Stateful(context.Background(), StatefulRequest{
		Messages: []llm.Message{{Role: "user", Content: "aaaa"}}, // 1 token
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.CompletionTokens)
	assert.Greater(t, resp.PromptTokens, 0)
	assert.Equal(t, resp.PromptTokens+resp.CompletionTokens, resp.TotalTokens)
}
