// Package guard provides per-scope, non-blocking mutual exclusion for
// in-flight orchestration calls. A second caller for a scope that is
// already locked is refused immediately, never queued: this bounds backend
// spend under bursty duplicate submissions.
package guard

import (
	"sync"
	"time"
)

// Guard is an owned registry of per-scope locks. Entries are created
// lazily on first use and live until evicted; eviction is a memory
// optimization, not a correctness requirement.
type Guard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	held     bool
	lastUsed time.Time
}

// New creates an empty guard.
func New() *Guard {
	return &Guard{entries: make(map[string]*entry)}
}

// TryAcquire attempts to take the lock for key without blocking.
// It returns false when the key is already held.
func (g *Guard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		e = &entry{}
		g.entries[key] = e
	}
	if e.held {
		return false
	}
	e.held = true
	e.lastUsed = time.Now()
	return true
}

// Release frees the lock for key. Releasing an unheld or unknown key is a
// no-op so deferred releases on error paths stay safe.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[key]; ok {
		e.held = false
		e.lastUsed = time.Now()
	}
}

// Held reports whether key is currently locked.
func (g *Guard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	return ok && e.held
}

// Len returns the number of tracked entries.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// EvictIdle drops unheld entries idle for longer than maxIdle and returns
// how many were removed.
func (g *Guard) EvictIdle(maxIdle time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	evicted := 0
	for key, e := range g.entries {
		if !e.held && e.lastUsed.Before(cutoff) {
			delete(g.entries, key)
			evicted++
		}
	}
	return evicted
}

// SweepIdle starts a background goroutine that evicts idle entries every
// interval until stop is closed.
func (g *Guard) SweepIdle(interval, maxIdle time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.EvictIdle(maxIdle)
			case <-stop:
				return
			}
		}
	}()
}
