package guard

import (
	"sync"
	"testing"
	"time"
)

func TestTryAcquireRelease(t *testing.T) {
	g := New()

	if !g.TryAcquire("guild:chan:user") {
		t.Fatal("first acquire should succeed")
	}
	if g.TryAcquire("guild:chan:user") {
		t.Fatal("second acquire on held key should fail")
	}
	if !g.TryAcquire("guild:chan:other") {
		t.Fatal("acquire on a different key should succeed")
	}

	g.Release("guild:chan:user")
	if !g.TryAcquire("guild:chan:user") {
		t.Fatal("acquire after release should succeed")
	}
}

func TestReleaseUnknownKey(t *testing.T) {
	g := New()
	// Must not panic or create an entry.
	g.Release("never-acquired")
	if g.Len() != 0 {
		t.Fatalf("expected no entries, got %d", g.Len())
	}
}

func TestHeld(t *testing.T) {
	g := New()
	if g.Held("k") {
		t.Fatal("unacquired key should not be held")
	}
	g.TryAcquire("k")
	if !g.Held("k") {
		t.Fatal("acquired key should be held")
	}
	g.Release("k")
	if g.Held("k") {
		t.Fatal("released key should not be held")
	}
}

// Concurrent acquires on one key: exactly one winner per round.
func TestMutualExclusion(t *testing.T) {
	g := New()
	const workers = 32

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire("contested") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
}

func TestEvictIdle(t *testing.T) {
	g := New()

	g.TryAcquire("old")
	g.Release("old")
	g.TryAcquire("held")

	// Backdate the released entry.
	g.mu.Lock()
	g.entries["old"].lastUsed = time.Now().Add(-time.Hour)
	g.entries["held"].lastUsed = time.Now().Add(-time.Hour)
	g.mu.Unlock()

	evicted := g.EvictIdle(10 * time.Minute)
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if !g.Held("held") {
		t.Fatal("held entry must survive eviction")
	}
	if g.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", g.Len())
	}
}
