// Package conversation composes the message cache, provider registry,
// orchestrator, guard, and optimizer queue into the single user-facing
// request/response cycle.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/convoke/internal/cache"
	"github.com/normanking/convoke/internal/guard"
	"github.com/normanking/convoke/internal/llm"
	"github.com/normanking/convoke/internal/orchestrator"
	"github.com/normanking/convoke/internal/session"
)

// FailureReply is the stable user-facing text for an error-class result.
// Raw backend error text is logged, never shown to end users.
const FailureReply = "Sorry, I can't reach any language model backend right now. Please try again in a moment."

// Completer is the orchestrator capability the manager needs.
type Completer interface {
	Stateful(ctx context.Context, req orchestrator.StatefulRequest) (*llm.ChatResponse, error)
}

// Trigger enqueues an out-of-band optimization pass for a session.
type Trigger interface {
	Enqueue(sessionID string) bool
}

// MemorySource supplies the optional pre-formatted memory context block.
// The text is opaque to the manager.
type MemorySource interface {
	MemoryContext(ctx context.Context, scope session.Scope) (string, error)
}

// Config tunes the manager.
type Config struct {
	// TriggerFraction of the provider's context window at which an
	// optimization pass is enqueued. The boundary is inclusive: a session
	// sitting exactly at the fraction triggers.
	TriggerFraction float64
	// ScopeProviders maps scope keys to provider names.
	ScopeProviders map[string]string
	// ScopePersonas maps scope keys to custom persona text appended after
	// the base persona.
	ScopePersonas map[string]string
}

// Manager is the top-level entry point of the orchestration engine.
type Manager struct {
	store    session.Store
	cache    *cache.MessageCache
	registry *llm.Registry
	orch     Completer
	locks    *guard.Guard
	trigger  Trigger
	memory   MemorySource // may be nil
	cfg      Config
}

// New creates a conversation manager. memory and trigger may be nil when
// the memory subsystem or background optimization is disabled.
func New(
	store session.Store,
	msgCache *cache.MessageCache,
	registry *llm.Registry,
	orch Completer,
	locks *guard.Guard,
	trigger Trigger,
	memory MemorySource,
	cfg Config,
) *Manager {
	if cfg.TriggerFraction <= 0 || cfg.TriggerFraction > 1 {
		cfg.TriggerFraction = 0.8
	}
	return &Manager{
		store:    store,
		cache:    msgCache,
		registry: registry,
		orch:     orch,
		locks:    locks,
		trigger:  trigger,
		memory:   memory,
		cfg:      cfg,
	}
}

// HandleMessage runs one conversation turn for the scope. A second call
// while the scope is already in flight returns skipped=true immediately
// without touching any provider. An error-class result is distinct from
// skipped; callers render FailureReply for it.
func (m *Manager) HandleMessage(ctx context.Context, scope session.Scope, userID, text string) (reply string, skipped bool, err error) {
	key := scope.Key()
	if !m.locks.TryAcquire(key) {
		log.Debug().Str("scope", key).Str("user_id", userID).Msg("scope busy, dropping duplicate request")
		return "", true, nil
	}
	defer m.locks.Release(key)

	sess, err := m.activeSession(ctx, scope)
	if err != nil {
		return "", false, fmt.Errorf("resolve session: %w", err)
	}

	history, err := m.cache.History(ctx, sess.ID)
	if err != nil {
		return "", false, fmt.Errorf("load history: %w", err)
	}

	// Working list for this turn; nothing is persisted until the backend
	// call succeeds.
	working := make([]llm.Message, 0, len(history)+1)
	for _, msg := range history {
		working = append(working, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	working = append(working, llm.Message{Role: session.RoleUser, Content: text})

	memoryContext := m.memoryContext(ctx, scope)
	scopeProvider := m.cfg.ScopeProviders[key]
	if scopeProvider == "" {
		scopeProvider = sess.Provider
	}

	resp, err := m.orch.Stateful(ctx, orchestrator.StatefulRequest{
		Messages:       working,
		CustomPersona:  m.cfg.ScopePersonas[key],
		SessionContext: sess.Context,
		MemoryContext:  memoryContext,
		ScopeProvider:  scopeProvider,
	})
	if err != nil {
		log.Error().Err(err).Str("scope", key).Str("session_id", sess.ID).Msg("conversation turn failed")
		return "", false, err
	}

	userMsg := session.NewMessage(sess.ID, session.RoleUser, text, llm.EstimateTokens(text))
	assistantTokens := resp.CompletionTokens
	if assistantTokens == 0 {
		assistantTokens = llm.EstimateTokens(resp.Content)
	}
	assistantMsg := session.NewMessage(sess.ID, session.RoleAssistant, resp.Content, assistantTokens)

	if err := m.cache.Append(ctx, userMsg); err != nil {
		return "", false, fmt.Errorf("persist user message: %w", err)
	}
	if err := m.cache.Append(ctx, assistantMsg); err != nil {
		return "", false, fmt.Errorf("persist assistant message: %w", err)
	}

	now := time.Now().UTC()
	sess.LastActivityAt = now
	if err := m.store.TouchSession(ctx, sess.ID, now); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to update session activity")
	}

	m.maybeOptimize(sess, history, userMsg, assistantMsg)

	return resp.Content, false, nil
}

// activeSession loads the scope's active session, creating one lazily on
// the first message. Creation is the only path that instantiates a new
// session; the store enforces the one-active-per-scope invariant.
func (m *Manager) activeSession(ctx context.Context, scope session.Scope) (*session.Session, error) {
	sess, err := m.store.ActiveSession(ctx, scope)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrNoSession) {
		return nil, err
	}

	sess = session.NewSession(scope)
	sess.Provider = m.cfg.ScopeProviders[scope.Key()]
	if err := m.store.ActivateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	log.Info().Str("scope", scope.Key()).Str("session_id", sess.ID).Msg("session created")
	return sess, nil
}

// memoryContext fetches the opaque memory block. Failures degrade to an
// empty block; memory must never break the reply path.
func (m *Manager) memoryContext(ctx context.Context, scope session.Scope) string {
	if m.memory == nil {
		return ""
	}
	block, err := m.memory.MemoryContext(ctx, scope)
	if err != nil {
		log.Warn().Err(err).Str("scope", scope.Key()).Msg("memory context unavailable")
		return ""
	}
	return block
}

// maybeOptimize enqueues a background optimization pass when the session's
// estimated token load reaches the trigger fraction of the provider's
// context window. The check runs before the budget would be exceeded, so
// the optimizer stays preventive rather than corrective.
func (m *Manager) maybeOptimize(sess *session.Session, history []*session.Message, newMsgs ...*session.Message) {
	if m.trigger == nil {
		return
	}

	provider, err := m.resolveProvider(sess)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("cannot resolve provider for budget check")
		return
	}

	total := sess.ContextTokens
	for _, msg := range history {
		total += msg.TokenEstimate
	}
	for _, msg := range newMsgs {
		total += msg.TokenEstimate
	}

	threshold := m.cfg.TriggerFraction * float64(provider.MaxContextTokens())
	if float64(total) >= threshold {
		enqueued := m.trigger.Enqueue(sess.ID)
		log.Debug().
			Str("session_id", sess.ID).
			Int("estimated_tokens", total).
			Float64("threshold", threshold).
			Bool("enqueued", enqueued).
			Msg("optimization trigger reached")
	}
}

// resolveProvider applies the same precedence the orchestrator uses, so
// the budget check sees the provider that will actually serve the scope.
func (m *Manager) resolveProvider(sess *session.Session) (llm.Provider, error) {
	scoped := m.cfg.ScopeProviders[sess.Scope.Key()]
	if scoped == "" {
		scoped = sess.Provider
	}
	return m.registry.ResolveFor("", scoped)
}

// DeleteSession removes a non-active historical session for a scope. The
// store refuses to delete the scope's only session.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	m.cache.Invalidate(sessionID)
	return nil
}
