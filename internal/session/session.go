// Package session defines the conversation entities shared across the
// orchestration engine: scopes, sessions, and messages, plus the store
// contracts the data layer implements.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles as sent to LLM backends.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Scope identifies one conversation: a server/channel/user tuple.
// Exactly one active Session exists per scope at any time.
type Scope struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// Key returns the canonical string form used as a map/lock/cache key
// and stored in the sessions table.
func (s Scope) Key() string {
	return s.GuildID + ":" + s.ChannelID + ":" + s.UserID
}

// ParseScope parses a key produced by Scope.Key.
func ParseScope(key string) (Scope, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return Scope{}, fmt.Errorf("malformed scope key: %q", key)
	}
	return Scope{GuildID: parts[0], ChannelID: parts[1], UserID: parts[2]}, nil
}

// Session is the mutable record of a conversation for one scope.
// Context holds the summarized history produced by the optimizer;
// ContextTokens is its len/4 estimate.
type Session struct {
	ID             string    `json:"id"`
	Scope          Scope     `json:"scope"`
	Provider       string    `json:"provider,omitempty"`
	Model          string    `json:"model,omitempty"`
	Context        string    `json:"context,omitempty"`
	ContextTokens  int       `json:"context_tokens"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// NewSession creates a fresh active session for a scope.
func NewSession(scope Scope) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             uuid.NewString(),
		Scope:          scope,
		IsActive:       true,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Message is a single conversation turn. It references its session by ID
// only; the session owns the ordered sequence.
type Message struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	TokenEstimate    int       `json:"token_estimate"`
	IncludeInContext bool      `json:"include_in_context"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewMessage creates a message bound to a session. tokens should be the
// caller's estimate (llm.EstimateTokens for locally produced text).
func NewMessage(sessionID, role, content string, tokens int) *Message {
	return &Message{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		Role:             role,
		Content:          content,
		TokenEstimate:    tokens,
		IncludeInContext: true,
		CreatedAt:        time.Now().UTC(),
	}
}

// SessionStore is the durable session contract.
type SessionStore interface {
	// ActiveSession returns the active session for a scope, or ErrNoSession.
	ActiveSession(ctx context.Context, scope Scope) (*Session, error)

	// ActivateSession atomically inserts sess and deactivates any prior
	// active session for the same scope.
	ActivateSession(ctx context.Context, sess *Session) error

	// UpdateSessionContext persists the summary context, its token
	// estimate, and the last-activity timestamp.
	UpdateSessionContext(ctx context.Context, sessionID, summary string, tokens int) error

	// TouchSession updates LastActivityAt.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// GetSession returns a session by ID, or ErrNoSession.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// ListSessions returns all sessions for a scope, newest first.
	ListSessions(ctx context.Context, scope Scope) ([]*Session, error)

	// DeleteSession removes a session and its messages. It fails unless at
	// least one other session remains for the scope.
	DeleteSession(ctx context.Context, sessionID string) error
}

// MessageStore is the durable message contract.
type MessageStore interface {
	// AppendMessage persists a message. The write must be durable before
	// this returns.
	AppendMessage(ctx context.Context, msg *Message) error

	// Messages returns up to limit most recent in-context messages for a
	// session, in chronological order. limit <= 0 means no limit.
	Messages(ctx context.Context, sessionID string, limit int) ([]*Message, error)

	// ExcludeFromContext clears the include-in-context flag on the given
	// messages. The rows remain in the durable tier as full history; they
	// just stop appearing in Messages results once summarized.
	ExcludeFromContext(ctx context.Context, sessionID string, messageIDs []string) error
}

// Store combines both durable contracts.
type Store interface {
	SessionStore
	MessageStore
}
