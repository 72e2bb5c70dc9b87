// Package orchestrator executes completion requests against the provider
// registry: system-prompt assembly, per-attempt timeouts, and transparent
// fallback across backends.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/convoke/internal/llm"
	"github.com/normanking/convoke/internal/persona"
)

// ContextMarker introduces the summarized session context inside the
// system message. The marker text is part of the prompt contract; changing
// it invalidates stored summaries' framing.
const ContextMarker = "Summary of the conversation so far:"

// MemoryMarker introduces the pre-formatted memory context supplied by the
// external memory subsystem. The block is treated as opaque text.
const MemoryMarker = "Relevant long-term memories:"

// Orchestrator routes completion requests through the registry's fallback
// chain. Individual provider errors never escape it; callers see either a
// response or an aggregate ExhaustedError.
type Orchestrator struct {
	registry *llm.Registry
	persona  *persona.Persona
	timeout  time.Duration
}

// New creates an orchestrator. timeout bounds every provider attempt.
func New(registry *llm.Registry, p *persona.Persona, timeout time.Duration) *Orchestrator {
	if p == nil {
		p = persona.Default()
	}
	return &Orchestrator{
		registry: registry,
		persona:  p,
		timeout:  timeout,
	}
}

// StatelessRequest is a one-off generation with no conversation history,
// used by the history optimizer for summarization.
type StatelessRequest struct {
	Prompt          string
	PersonaOverride string
	MaxTokens       int
	ProviderName    string // empty means the registry default
}

// StatefulRequest is a full conversation turn.
type StatefulRequest struct {
	// Messages is the working conversation, chronological order, ending
	// with the new user message.
	Messages []llm.Message
	// PersonaOverride replaces the base persona text when set.
	PersonaOverride string
	// CustomPersona is appended after the base persona (server persona).
	CustomPersona string
	// SessionContext is the session's summarized history, may be empty.
	SessionContext string
	// MemoryContext is the opaque block from the memory subsystem.
	MemoryContext string
	// ProviderOverride is the explicit caller choice, highest precedence.
	ProviderOverride string
	// ScopeProvider is the scope-configured provider, second precedence.
	ScopeProvider string
	// MaxTokens caps the completion length; 0 uses provider defaults.
	MaxTokens int
}

// Stateless executes a one-off generation against one provider chain.
func (o *Orchestrator) Stateless(ctx context.Context, req StatelessRequest) (*llm.ChatResponse, error) {
	start, err := o.registry.ResolveFor(req.ProviderName, "")
	if err != nil {
		return nil, err
	}

	chatReq := &llm.ChatRequest{
		SystemPrompt: o.systemPrompt(req.PersonaOverride, "", "", ""),
		Messages:     []llm.Message{{Role: "user", Content: req.Prompt}},
		MaxTokens:    req.MaxTokens,
	}

	return o.execute(ctx, start, chatReq)
}

// Stateful executes a conversation turn through the fallback chain.
func (o *Orchestrator) Stateful(ctx context.Context, req StatefulRequest) (*llm.ChatResponse, error) {
	start, err := o.registry.ResolveFor(req.ProviderOverride, req.ScopeProvider)
	if err != nil {
		return nil, err
	}

	chatReq := &llm.ChatRequest{
		SystemPrompt: o.systemPrompt(req.PersonaOverride, req.CustomPersona, req.SessionContext, req.MemoryContext),
		Messages:     req.Messages,
		MaxTokens:    req.MaxTokens,
	}

	return o.execute(ctx, start, chatReq)
}

// systemPrompt assembles the system message in fixed order: base persona,
// custom persona, context marker plus session context, memory block.
// Every part except the base persona is optional.
func (o *Orchestrator) systemPrompt(personaOverride, customPersona, sessionContext, memoryContext string) string {
	parts := make([]string, 0, 4)

	base := o.persona.Render()
	if personaOverride != "" {
		base = personaOverride
	}
	parts = append(parts, base)

	if customPersona != "" {
		parts = append(parts, customPersona)
	}
	if sessionContext != "" {
		parts = append(parts, ContextMarker+"\n"+sessionContext)
	}
	if memoryContext != "" {
		parts = append(parts, MemoryMarker+"\n"+memoryContext)
	}

	return strings.Join(parts, "\n\n")
}

// execute walks the fallback chain starting at start. Each attempt gets
// its own timeout; a timeout counts as a transient failure. Permanent
// failures skip to the next provider without a same-provider retry, but do
// not disable the provider for future calls.
func (o *Orchestrator) execute(ctx context.Context, start llm.Provider, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	chain := o.registry.Chain(start)
	causes := make(map[string]error, len(chain))

	for i, p := range chain {
		// The starting provider is always attempted; fallback candidates
		// are probed first.
		if i > 0 && !p.Available() {
			log.Debug().Str("provider", p.Name()).Msg("skipping unavailable fallback provider")
			continue
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if o.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, o.timeout)
		}
		resp, err := p.Chat(attemptCtx, req)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			o.fillUsage(req, resp)
			return resp, nil
		}

		causes[p.Name()] = err
		log.Warn().
			Err(err).
			Str("provider", p.Name()).
			Bool("transient", llm.IsTransient(err)).
			Int("attempt", i+1).
			Msg("provider attempt failed")

		if ctx.Err() != nil {
			break
		}
	}

	return nil, &llm.ExhaustedError{Causes: causes}
}

// fillUsage estimates token usage when the backend did not report it.
func (o *Orchestrator) fillUsage(req *llm.ChatRequest, resp *llm.ChatResponse) {
	if resp.TotalTokens > 0 {
		return
	}
	if resp.PromptTokens == 0 {
		resp.PromptTokens = llm.EstimateTokens(req.SystemPrompt) + llm.EstimateMessages(req.Messages)
	}
	if resp.CompletionTokens == 0 {
		resp.CompletionTokens = llm.EstimateTokens(resp.Content)
	}
	resp.TotalTokens = resp.PromptTokens + resp.CompletionTokens
}
