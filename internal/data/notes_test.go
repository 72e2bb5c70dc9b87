package data

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/normanking/convoke/internal/memory"
)

func TestNotes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scopeKey := testScope(1).Key()

	t.Run("empty scope has no notes", func(t *testing.T) {
		notes, err := store.Notes(ctx, scopeKey, 0)
		if err != nil {
			t.Fatalf("notes: %v", err)
		}
		if len(notes) != 0 {
			t.Fatalf("expected no notes, got %d", len(notes))
		}
	})

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 5; i++ {
		n := memory.NewNote(scopeKey, fmt.Sprintf("fact %d", i))
		n.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.AddNote(ctx, n); err != nil {
			t.Fatalf("add note %d: %v", i, err)
		}
	}

	t.Run("chronological order", func(t *testing.T) {
		notes, err := store.Notes(ctx, scopeKey, 0)
		if err != nil {
			t.Fatalf("notes: %v", err)
		}
		if len(notes) != 5 {
			t.Fatalf("expected 5 notes, got %d", len(notes))
		}
		for i, n := range notes {
			if want := fmt.Sprintf("fact %d", i); n.Content != want {
				t.Fatalf("note %d content = %q, want %q", i, n.Content, want)
			}
		}
	})

	t.Run("limit keeps most recent", func(t *testing.T) {
		notes, err := store.Notes(ctx, scopeKey, 2)
		if err != nil {
			t.Fatalf("notes: %v", err)
		}
		if len(notes) != 2 {
			t.Fatalf("expected 2 notes, got %d", len(notes))
		}
		if notes[0].Content != "fact 3" || notes[1].Content != "fact 4" {
			t.Fatalf("unexpected window: %q, %q", notes[0].Content, notes[1].Content)
		}
	})

	t.Run("scope isolation", func(t *testing.T) {
		notes, err := store.Notes(ctx, testScope(2).Key(), 0)
		if err != nil {
			t.Fatalf("notes: %v", err)
		}
		if len(notes) != 0 {
			t.Fatalf("expected no notes for other scope, got %d", len(notes))
		}
	})

	t.Run("delete", func(t *testing.T) {
		notes, err := store.Notes(ctx, scopeKey, 1)
		if err != nil {
			t.Fatalf("notes: %v", err)
		}
		if err := store.DeleteNote(ctx, notes[0].ID); err != nil {
			t.Fatalf("delete note: %v", err)
		}

		remaining, err := store.Notes(ctx, scopeKey, 0)
		if err != nil {
			t.Fatalf("notes: %v", err)
		}
		if len(remaining) != 4 {
			t.Fatalf("expected 4 notes after delete, got %d", len(remaining))
		}
	})

	t.Run("delete unknown note", func(t *testing.T) {
		err := store.DeleteNote(ctx, "no-such-note")
		if !errors.Is(err, memory.ErrNoNote) {
			t.Fatalf("expected ErrNoNote, got %v", err)
		}
	})
}
