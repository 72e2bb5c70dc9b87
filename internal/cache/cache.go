// Package cache provides the two-tier message cache: a bounded in-memory
// tier for immediate reads over the durable SQLite tier, which remains the
// source of truth across restarts.
package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/normanking/convoke/internal/session"
)

// Options tunes the fast tier.
type Options struct {
	// FastSize is the number of sessions held in the in-memory tier.
	FastSize int
	// FastTTL evicts idle session histories.
	FastTTL time.Duration
	// HistoryLimit caps how many recent messages are kept per session.
	HistoryLimit int
}

// MessageCache stores ordered conversation messages per session. Entries
// are keyed by session ID (the scope's single active session) so a
// session switch can never serve stale history.
//
// Writes reach the durable tier before they are acknowledged; the fast
// tier is updated in the same operation. Mutations for one session are
// serialized by the caller holding the scope's guard.
type MessageCache struct {
	fast    *lru.LRU[string, []*session.Message]
	durable session.MessageStore
	limit   int
}

// New creates a message cache over the durable store.
func New(durable session.MessageStore, opts Options) *MessageCache {
	if opts.FastSize <= 0 {
		opts.FastSize = 256
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}

	return &MessageCache{
		fast:    lru.NewLRU[string, []*session.Message](opts.FastSize, nil, opts.FastTTL),
		durable: durable,
		limit:   opts.HistoryLimit,
	}
}

// History returns the session's recent messages in chronological order.
// A fast-tier hit returns immediately; a miss loads from the durable tier
// and repopulates the fast tier.
func (c *MessageCache) History(ctx context.Context, sessionID string) ([]*session.Message, error) {
	if msgs, ok := c.fast.Get(sessionID); ok {
		return msgs, nil
	}

	msgs, err := c.durable.Messages(ctx, sessionID, c.limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	c.fast.Add(sessionID, msgs)
	log.Debug().
		Str("session_id", sessionID).
		Int("messages", len(msgs)).
		Msg("fast tier repopulated from durable store")
	return msgs, nil
}

// Append persists a message and updates the fast tier. The durable write
// happens first: a crash after Append returns never loses the message.
func (c *MessageCache) Append(ctx context.Context, msg *session.Message) error {
	if err := c.durable.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if msgs, ok := c.fast.Get(msg.SessionID); ok {
		msgs = append(msgs, msg)
		if len(msgs) > c.limit {
			msgs = msgs[len(msgs)-c.limit:]
		}
		c.fast.Add(msg.SessionID, msgs)
	}

	return nil
}

// ClearOld trims the session's fast-tier entry to its keepCount most
// recent messages. The durable tier keeps full history; this is used by
// the optimizer after it folds old messages into the session context.
func (c *MessageCache) ClearOld(sessionID string, keepCount int) {
	msgs, ok := c.fast.Get(sessionID)
	if !ok {
		return
	}
	if keepCount < 0 {
		keepCount = 0
	}
	if len(msgs) <= keepCount {
		return
	}

	c.fast.Add(sessionID, msgs[len(msgs)-keepCount:])
}

// Invalidate drops the session's fast-tier entry entirely.
func (c *MessageCache) Invalidate(sessionID string) {
	c.fast.Remove(sessionID)
}
