package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/normanking/convoke/internal/session"
)

const sessionColumns = `
	id, scope_key, guild_id, channel_id, user_id,
	provider, model, context, context_tokens,
	is_active, created_at, last_activity_at`

// ActiveSession returns the active session for a scope, or
// session.ErrNoSession when the scope has never spoken.
func (s *Store) ActiveSession(ctx context.Context, scope session.Scope) (*session.Session, error) {
	query := `SELECT` + sessionColumns + `
		FROM sessions
		WHERE scope_key = ? AND is_active = 1`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, scope.Key()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNoSession
		}
		return nil, fmt.Errorf("query active session: %w", err)
	}
	return sess, nil
}

// GetSession returns a session by ID, or session.ErrNoSession.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	query := `SELECT` + sessionColumns + `
		FROM sessions
		WHERE id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNoSession
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

// ActivateSession atomically inserts sess as the active session for its
// scope, deactivating any prior active session in the same transaction.
func (s *Store) ActivateSession(ctx context.Context, sess *session.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET is_active = 0 WHERE scope_key = ? AND is_active = 1`,
			sess.Scope.Key(),
		); err != nil {
			return fmt.Errorf("deactivate prior session: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (
				id, scope_key, guild_id, channel_id, user_id,
				provider, model, context, context_tokens,
				is_active, created_at, last_activity_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			sess.ID, sess.Scope.Key(), sess.Scope.GuildID, sess.Scope.ChannelID, sess.Scope.UserID,
			sess.Provider, sess.Model, sess.Context, sess.ContextTokens,
			sess.CreatedAt, sess.LastActivityAt,
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		sess.IsActive = true
		return nil
	})
}

// UpdateSessionContext persists the summarized context and its token
// estimate, refreshing the activity timestamp.
func (s *Store) UpdateSessionContext(ctx context.Context, sessionID, summary string, tokens int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET context = ?, context_tokens = ?, last_activity_at = ?
		WHERE id = ?`,
		summary, tokens, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session context: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return session.ErrNoSession
	}

	return nil
}

// TouchSession updates the session's last-activity timestamp.
func (s *Store) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE id = ?`,
		at, sessionID,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// ListSessions returns all sessions for a scope, newest first.
func (s *Store) ListSessions(ctx context.Context, scope session.Scope) ([]*session.Session, error) {
	query := `SELECT` + sessionColumns + `
		FROM sessions
		WHERE scope_key = ?
		ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, scope.Key())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its messages. At least one other
// session must remain for the scope; deleting the last one returns
// session.ErrLastSession.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var scopeKey string
		err := tx.QueryRowContext(ctx,
			`SELECT scope_key FROM sessions WHERE id = ?`, sessionID,
		).Scan(&scopeKey)
		if errors.Is(err, sql.ErrNoRows) {
			return session.ErrNoSession
		}
		if err != nil {
			return fmt.Errorf("query session scope: %w", err)
		}

		var remaining int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE scope_key = ? AND id != ?`,
			scopeKey, sessionID,
		).Scan(&remaining); err != nil {
			return fmt.Errorf("count remaining sessions: %w", err)
		}
		if remaining == 0 {
			return session.ErrLastSession
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// AppendMessage persists a message. The write is durable before this
// returns; the fast cache tier is updated by the caller afterwards.
func (s *Store) AppendMessage(ctx context.Context, msg *session.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, session_id, role, content,
			token_estimate, include_in_context, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content,
		msg.TokenEstimate, msg.IncludeInContext, msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// Messages returns up to limit most recent in-context messages for a
// session, chronological order. limit <= 0 returns everything.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]*session.Message, error) {
	query := `
		SELECT id, session_id, role, content,
		       token_estimate, include_in_context, created_at
		FROM messages
		WHERE session_id = ? AND include_in_context = 1
		ORDER BY created_at DESC, rowid DESC`

	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*session.Message
	for rows.Next() {
		var m session.Message
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.Role, &m.Content,
			&m.TokenEstimate, &m.IncludeInContext, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query walks newest-first for the LIMIT; flip back to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ExcludeFromContext clears the include-in-context flag on the given
// messages. The rows stay in place as full history.
func (s *Store) ExcludeFromContext(ctx context.Context, sessionID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE messages SET include_in_context = 0 WHERE session_id = ? AND id = ?`)
		if err != nil {
			return fmt.Errorf("prepare exclude: %w", err)
		}
		defer stmt.Close()

		for _, id := range messageIDs {
			if _, err := stmt.ExecContext(ctx, sessionID, id); err != nil {
				return fmt.Errorf("exclude message %s: %w", id, err)
			}
		}
		return nil
	})
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.Session, error) {
	var sess session.Session
	var scopeKey string
	if err := row.Scan(
		&sess.ID, &scopeKey, &sess.Scope.GuildID, &sess.Scope.ChannelID, &sess.Scope.UserID,
		&sess.Provider, &sess.Model, &sess.Context, &sess.ContextTokens,
		&sess.IsActive, &sess.CreatedAt, &sess.LastActivityAt,
	); err != nil {
		return nil, err
	}
	return &sess, nil
}
