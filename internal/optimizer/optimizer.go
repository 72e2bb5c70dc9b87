// Package optimizer compresses aged-out conversation history into a
// persisted summary context so long-running sessions stay inside their
// provider's token budget. It is preventive: the manager triggers it
// before the budget would be exceeded, never after.
package optimizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/convoke/internal/cache"
	"github.com/normanking/convoke/internal/guard"
	"github.com/normanking/convoke/internal/llm"
	"github.com/normanking/convoke/internal/logging"
	"github.com/normanking/convoke/internal/orchestrator"
	"github.com/normanking/convoke/internal/session"
)

// contextSeparator joins an existing session context with a newly
// generated summary before any consolidation pass.
const contextSeparator = "\n\n"

// Summarizer is the orchestrator capability the optimizer needs.
type Summarizer interface {
	Stateless(ctx context.Context, req orchestrator.StatelessRequest) (*llm.ChatResponse, error)
}

// Config tunes one optimization pass. All figures are configuration, not
// constants; the defaults mirror config.Default.
type Config struct {
	// KeepRecent messages stay verbatim; everything older is summarized.
	KeepRecent int
	// SummaryMaxTokens bounds each summarization completion.
	SummaryMaxTokens int
	// ConsolidateThresholdChars triggers the second consolidation pass.
	ConsolidateThresholdChars int
}

// Optimizer folds old messages into the session's summary context.
type Optimizer struct {
	store      session.Store
	cache      *cache.MessageCache
	summarizer Summarizer
	locks      *guard.Guard
	cfg        Config
}

// New creates an optimizer sharing the manager's per-scope guard, so a
// pass never races a live conversation turn.
func New(store session.Store, msgCache *cache.MessageCache, summarizer Summarizer, locks *guard.Guard, cfg Config) *Optimizer {
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = 10
	}
	if cfg.SummaryMaxTokens <= 0 {
		cfg.SummaryMaxTokens = 400
	}
	if cfg.ConsolidateThresholdChars <= 0 {
		cfg.ConsolidateThresholdChars = 2000
	}
	return &Optimizer{
		store:      store,
		cache:      msgCache,
		summarizer: summarizer,
		locks:      locks,
		cfg:        cfg,
	}
}

// ErrBusy reports that the scope's guard could not be acquired promptly;
// the pass defers to the next trigger rather than blocking or racing.
var ErrBusy = fmt.Errorf("scope busy, optimization deferred")

// Optimize runs one summarization pass for a session. With nothing old to
// fold it is a no-op, which makes repeated triggers idempotent. A backend
// failure aborts the pass with the session unchanged; the next trigger
// retries.
func (o *Optimizer) Optimize(ctx context.Context, sessionID string) error {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	scopeKey := sess.Scope.Key()
	if !o.locks.TryAcquire(scopeKey) {
		return ErrBusy
	}
	defer o.locks.Release(scopeKey)

	// Full in-context history, not the capped read-path window.
	msgs, err := o.store.Messages(ctx, sessionID, 0)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	if len(msgs) <= o.cfg.KeepRecent {
		return nil
	}
	old := msgs[:len(msgs)-o.cfg.KeepRecent]

	summary, err := o.summarize(ctx, old)
	if err != nil {
		return fmt.Errorf("summarize old messages: %w", err)
	}

	candidate := summary
	if sess.Context != "" {
		candidate = sess.Context + contextSeparator + summary
	}

	consolidated := false
	if len(candidate) > o.cfg.ConsolidateThresholdChars {
		candidate, err = o.consolidate(ctx, candidate)
		if err != nil {
			return fmt.Errorf("consolidate context: %w", err)
		}
		consolidated = true
	}

	// The context update and the exclusion marks must land together even
	// if the triggering context is cancelled mid-pass, or the summary
	// would double-count on the next turn.
	writeCtx, cancelWrite := logging.DetachContextWithTimeout(ctx, 10*time.Second)
	defer cancelWrite()

	if err := o.store.UpdateSessionContext(writeCtx, sessionID, candidate, llm.EstimateTokens(candidate)); err != nil {
		return fmt.Errorf("persist context: %w", err)
	}

	oldIDs := make([]string, len(old))
	for i, m := range old {
		oldIDs[i] = m.ID
	}
	if err := o.store.ExcludeFromContext(writeCtx, sessionID, oldIDs); err != nil {
		return fmt.Errorf("exclude summarized messages: %w", err)
	}

	// Fast tier only; the durable tier keeps the full transcript.
	o.cache.ClearOld(sessionID, o.cfg.KeepRecent)

	log.Info().
		Str("session_id", sessionID).
		Int("summarized", len(old)).
		Int("kept", o.cfg.KeepRecent).
		Int("context_chars", len(candidate)).
		Bool("consolidated", consolidated).
		Msg("history optimized")

	return nil
}

// summarize folds the old messages into one bounded summary.
func (o *Optimizer) summarize(ctx context.Context, old []*session.Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation excerpt. Preserve facts, names, decisions, and open questions. Reply with the summary only.\n\n")
	for _, m := range old {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	resp, err := o.summarizer.Stateless(ctx, orchestrator.StatelessRequest{
		Prompt:    sb.String(),
		MaxTokens: o.cfg.SummaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// consolidate compresses an oversized merged context into one summary.
func (o *Optimizer) consolidate(ctx context.Context, combined string) (string, error) {
	prompt := "Consolidate the following conversation summaries into a single concise summary. Preserve facts, names, decisions, and open questions. Reply with the summary only.\n\n" + combined

	resp, err := o.summarizer.Stateless(ctx, orchestrator.StatelessRequest{
		Prompt:    prompt,
		MaxTokens: o.cfg.SummaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
