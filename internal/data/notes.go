package data

import (
	"context"
	"fmt"

	"github.com/normanking/convoke/internal/memory"
)

// AddNote persists a memory note.
func (s *Store) AddNote(ctx context.Context, note *memory.Note) error {
	if note.ID == "" {
		return fmt.Errorf("note ID cannot be empty")
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_notes (id, scope_key, content, created_at)
		VALUES (?, ?, ?, ?)`,
		note.ID, note.ScopeKey, note.Content, note.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}

	return nil
}

// Notes returns up to limit most recent notes for a scope, chronological
// order. limit <= 0 returns everything.
func (s *Store) Notes(ctx context.Context, scopeKey string, limit int) ([]*memory.Note, error) {
	query := `
		SELECT id, scope_key, content, created_at
		FROM memory_notes
		WHERE scope_key = ?
		ORDER BY created_at DESC, rowid DESC`

	args := []any{scopeKey}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []*memory.Note
	for rows.Next() {
		var n memory.Note
		if err := rows.Scan(&n.ID, &n.ScopeKey, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query walks newest-first for the LIMIT; flip back to chronological.
	for i, j := 0, len(notes)-1; i < j; i, j = i+1, j-1 {
		notes[i], notes[j] = notes[j], notes[i]
	}
	return notes, nil
}

// DeleteNote removes a note by ID.
func (s *Store) DeleteNote(ctx context.Context, noteID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_notes WHERE id = ?`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if affected == 0 {
		return memory.ErrNoNote
	}
	return nil
}
