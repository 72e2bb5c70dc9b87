// Package memory supplies durable per-scope facts to the conversation
// manager. Notes are operator-curated and survive session resets, unlike
// the optimizer's summary context, which belongs to a single session.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/convoke/internal/llm"
	"github.com/normanking/convoke/internal/session"
)

// Note is one remembered fact for a scope.
type Note struct {
	ID        string    `json:"id"`
	ScopeKey  string    `json:"scope_key"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNote creates a note bound to a scope.
func NewNote(scopeKey, content string) *Note {
	return &Note{
		ID:        uuid.NewString(),
		ScopeKey:  scopeKey,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// ErrNoNote is returned when a note ID does not exist.
var ErrNoNote = errors.New("note not found")

// Store is the durable notes contract the data layer implements.
type Store interface {
	// AddNote persists a note.
	AddNote(ctx context.Context, note *Note) error

	// Notes returns up to limit most recent notes for a scope, in
	// chronological order. limit <= 0 means no limit.
	Notes(ctx context.Context, scopeKey string, limit int) ([]*Note, error)

	// DeleteNote removes a note by ID, or ErrNoNote.
	DeleteNote(ctx context.Context, noteID string) error
}

// Source renders a scope's notes into the memory block of the system
// prompt, bounded by a token budget. Newer notes win when trimming.
type Source struct {
	store     Store
	maxTokens int
}

// NewSource creates a source with the given token budget. A budget of
// zero or less falls back to 400, matching the summary budget.
func NewSource(store Store, maxTokens int) *Source {
	if maxTokens <= 0 {
		maxTokens = 400
	}
	return &Source{store: store, maxTokens: maxTokens}
}

// MemoryContext returns the formatted memory block for a scope, or an
// empty string when the scope has no notes.
func (s *Source) MemoryContext(ctx context.Context, scope session.Scope) (string, error) {
	notes, err := s.store.Notes(ctx, scope.Key(), 0)
	if err != nil {
		return "", err
	}
	if len(notes) == 0 {
		return "", nil
	}

	// Walk newest-first dropping whatever exceeds the budget, then
	// render the survivors in original order.
	budget := s.maxTokens
	keepFrom := len(notes)
	for i := len(notes) - 1; i >= 0; i-- {
		cost := llm.EstimateTokens(notes[i].Content) + 1
		if cost > budget {
			break
		}
		budget -= cost
		keepFrom = i
	}
	kept := notes[keepFrom:]
	if len(kept) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Remembered facts about this conversation:\n")
	for _, n := range kept {
		sb.WriteString("- ")
		sb.WriteString(n.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
