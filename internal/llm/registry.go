package llm

import (
	"fmt"
	"sync"
)

// Registry resolves providers by name and owns the fallback configuration.
// Providers are registered once at startup from the configuration; lookups
// after that are read-mostly.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultName     string
	fallbackOrder   []string
	fallbackEnabled bool
}

// RegistryConfig carries the fallback settings into a new registry.
type RegistryConfig struct {
	DefaultProvider string
	FallbackOrder   []string
	FallbackEnabled bool
}

// NewRegistry creates an empty registry with the given fallback settings.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		providers:       make(map[string]Provider),
		defaultName:     cfg.DefaultProvider,
		fallbackOrder:   append([]string(nil), cfg.FallbackOrder...),
		fallbackEnabled: cfg.FallbackEnabled,
	}
}

// Register adds a provider under its name, replacing any previous entry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Resolve returns the provider registered under name, or ErrNotFound.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// ResolveDefault returns the configured default provider.
func (r *Registry) ResolveDefault() (Provider, error) {
	return r.Resolve(r.defaultName)
}

// ResolveFor applies the resolution precedence for one request:
// explicit caller override, then the scope-configured provider, then the
// global default. Empty strings mean "not set".
func (r *Registry) ResolveFor(override, scoped string) (Provider, error) {
	switch {
	case override != "":
		return r.Resolve(override)
	case scoped != "":
		return r.Resolve(scoped)
	default:
		return r.ResolveDefault()
	}
}

// Available returns the registered providers that currently pass their
// availability probe, in fallback order followed by any unordered extras.
func (r *Registry) Available() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.providers))
	var out []Provider
	for _, name := range r.fallbackOrder {
		if p, ok := r.providers[name]; ok && !seen[name] {
			seen[name] = true
			if p.Available() {
				out = append(out, p)
			}
		}
	}
	for name, p := range r.providers {
		if !seen[name] && p.Available() {
			out = append(out, p)
		}
	}
	return out
}

// FallbackEnabled reports whether the fallback chain is active.
func (r *Registry) FallbackEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallbackEnabled
}

// FallbackOrder returns a copy of the configured fallback order.
func (r *Registry) FallbackOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.fallbackOrder...)
}

// Chain returns the providers to attempt for one request: start first, then
// the fallback order with start deduplicated. Total attempts are bounded by
// len(FallbackOrder); with fallback disabled the chain is just start.
// Unregistered names in the order are skipped.
func (r *Registry) Chain(start Provider) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.fallbackEnabled {
		return []Provider{start}
	}

	limit := len(r.fallbackOrder)
	if limit == 0 {
		return []Provider{start}
	}

	chain := []Provider{start}
	for _, name := range r.fallbackOrder {
		if len(chain) >= limit {
			break
		}
		if name == start.Name() {
			continue
		}
		if p, ok := r.providers[name]; ok {
			chain = append(chain, p)
		}
	}
	return chain
}
