package data

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/normanking/convoke/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testScope(n int) session.Scope {
	return session.Scope{
		GuildID:   fmt.Sprintf("guild-%d", n),
		ChannelID: "general",
		UserID:    "user-1",
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := testScope(1)

	t.Run("no session initially", func(t *testing.T) {
		_, err := store.ActiveSession(ctx, scope)
		if err != session.ErrNoSession {
			t.Fatalf("expected ErrNoSession, got %v", err)
		}
	})

	sess := session.NewSession(scope)
	sess.Provider = "ollama"

	t.Run("activate and read back", func(t *testing.T) {
		if err := store.ActivateSession(ctx, sess); err != nil {
			t.Fatalf("activate: %v", err)
		}

		got, err := store.ActiveSession(ctx, scope)
		if err != nil {
			t.Fatalf("active session: %v", err)
		}
		if got.ID != sess.ID {
			t.Fatalf("got session %s, want %s", got.ID, sess.ID)
		}
		if got.Scope != scope {
			t.Fatalf("got scope %+v, want %+v", got.Scope, scope)
		}
		if got.Provider != "ollama" {
			t.Fatalf("got provider %q", got.Provider)
		}
		if !got.IsActive {
			t.Fatal("session should be active")
		}
	})

	t.Run("get by id", func(t *testing.T) {
		got, err := store.GetSession(ctx, sess.ID)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if got.ID != sess.ID {
			t.Fatalf("got %s, want %s", got.ID, sess.ID)
		}

		if _, err := store.GetSession(ctx, "missing"); err != session.ErrNoSession {
			t.Fatalf("expected ErrNoSession, got %v", err)
		}
	})

	t.Run("touch updates activity", func(t *testing.T) {
		at := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
		if err := store.TouchSession(ctx, sess.ID, at); err != nil {
			t.Fatalf("touch: %v", err)
		}
		got, _ := store.GetSession(ctx, sess.ID)
		if !got.LastActivityAt.Equal(at) {
			t.Fatalf("got %v, want %v", got.LastActivityAt, at)
		}
	})

	t.Run("update context", func(t *testing.T) {
		if err := store.UpdateSessionContext(ctx, sess.ID, "a summary", 3); err != nil {
			t.Fatalf("update context: %v", err)
		}
		got, _ := store.GetSession(ctx, sess.ID)
		if got.Context != "a summary" || got.ContextTokens != 3 {
			t.Fatalf("got context %q tokens %d", got.Context, got.ContextTokens)
		}

		if err := store.UpdateSessionContext(ctx, "missing", "x", 1); err != session.ErrNoSession {
			t.Fatalf("expected ErrNoSession, got %v", err)
		}
	})
}

func TestActivateSessionReplacesActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := testScope(1)

	first := session.NewSession(scope)
	if err := store.ActivateSession(ctx, first); err != nil {
		t.Fatalf("activate first: %v", err)
	}

	second := session.NewSession(scope)
	if err := store.ActivateSession(ctx, second); err != nil {
		t.Fatalf("activate second: %v", err)
	}

	active, err := store.ActiveSession(ctx, scope)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("active is %s, want %s", active.ID, second.ID)
	}

	// Prior session remains as history, deactivated.
	prior, err := store.GetSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("get prior: %v", err)
	}
	if prior.IsActive {
		t.Fatal("prior session must be deactivated")
	}

	sessions, err := store.ListSessions(ctx, scope)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestScopeIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := session.NewSession(testScope(1))
	b := session.NewSession(testScope(2))
	if err := store.ActivateSession(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := store.ActivateSession(ctx, b); err != nil {
		t.Fatal(err)
	}

	gotA, err := store.ActiveSession(ctx, testScope(1))
	if err != nil || gotA.ID != a.ID {
		t.Fatalf("scope 1 active = %v, %v", gotA, err)
	}
	gotB, err := store.ActiveSession(ctx, testScope(2))
	if err != nil || gotB.ID != b.ID {
		t.Fatalf("scope 2 active = %v, %v", gotB, err)
	}
}

func TestDeleteSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := testScope(1)

	first := session.NewSession(scope)
	if err := store.ActivateSession(ctx, first); err != nil {
		t.Fatal(err)
	}

	t.Run("refuses the only session", func(t *testing.T) {
		if err := store.DeleteSession(ctx, first.ID); err != session.ErrLastSession {
			t.Fatalf("expected ErrLastSession, got %v", err)
		}
	})

	second := session.NewSession(scope)
	if err := store.ActivateSession(ctx, second); err != nil {
		t.Fatal(err)
	}

	t.Run("deletes session and messages", func(t *testing.T) {
		msg := session.NewMessage(first.ID, session.RoleUser, "old", 1)
		if err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}

		if err := store.DeleteSession(ctx, first.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := store.GetSession(ctx, first.ID); err != session.ErrNoSession {
			t.Fatalf("expected ErrNoSession, got %v", err)
		}
		msgs, err := store.Messages(ctx, first.ID, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 0 {
			t.Fatalf("messages should be gone, got %d", len(msgs))
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		if err := store.DeleteSession(ctx, "missing"); err != session.ErrNoSession {
			t.Fatalf("expected ErrNoSession, got %v", err)
		}
	})
}

func TestMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := session.NewSession(testScope(1))
	if err := store.ActivateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 15; i++ {
		msg := session.NewMessage(sess.ID, session.RoleUser, fmt.Sprintf("message %d", i), 1)
		msg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		ids = append(ids, msg.ID)
	}

	t.Run("no limit returns all chronologically", func(t *testing.T) {
		msgs, err := store.Messages(ctx, sess.ID, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 15 {
			t.Fatalf("got %d messages", len(msgs))
		}
		if msgs[0].Content != "message 0" || msgs[14].Content != "message 14" {
			t.Fatalf("wrong order: first=%q last=%q", msgs[0].Content, msgs[14].Content)
		}
	})

	t.Run("limit keeps the most recent", func(t *testing.T) {
		msgs, err := store.Messages(ctx, sess.ID, 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 5 {
			t.Fatalf("got %d messages", len(msgs))
		}
		if msgs[0].Content != "message 10" || msgs[4].Content != "message 14" {
			t.Fatalf("wrong window: first=%q last=%q", msgs[0].Content, msgs[4].Content)
		}
	})

	t.Run("excluded messages disappear", func(t *testing.T) {
		if err := store.ExcludeFromContext(ctx, sess.ID, ids[:5]); err != nil {
			t.Fatalf("exclude: %v", err)
		}

		msgs, err := store.Messages(ctx, sess.ID, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 10 {
			t.Fatalf("got %d messages, want 10", len(msgs))
		}
		if msgs[0].Content != "message 5" {
			t.Fatalf("oldest in-context is %q, want message 5", msgs[0].Content)
		}
	})

	t.Run("exclude empty list is a no-op", func(t *testing.T) {
		if err := store.ExcludeFromContext(ctx, sess.ID, nil); err != nil {
			t.Fatal(err)
		}
	})
}

func TestHealth(t *testing.T) {
	store := newTestStore(t)
	if err := store.Health(); err != nil {
		t.Fatalf("health: %v", err)
	}
}
