package llm

import (
	"context"
	"sync"
	"time"
)

// MetricsProvider wraps a Provider with call, error, token, and latency
// counters. All providers are wrapped before registration so operator
// tooling can report usage per backend.
type MetricsProvider struct {
	inner Provider

	mu           sync.Mutex
	calls        int64
	errors       int64
	tokens       int64
	totalLatency time.Duration
	lastUsed     time.Time
}

// NewMetricsProvider wraps a provider with usage tracking.
func NewMetricsProvider(inner Provider) *MetricsProvider {
	return &MetricsProvider{inner: inner}
}

// Chat delegates to the wrapped provider, recording the outcome.
func (m *MetricsProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := m.inner.Chat(ctx, req)

	m.mu.Lock()
	m.calls++
	m.totalLatency += time.Since(start)
	m.lastUsed = time.Now()
	if err != nil {
		m.errors++
	} else {
		m.tokens += int64(resp.TotalTokens)
	}
	m.mu.Unlock()

	return resp, err
}

func (m *MetricsProvider) Name() string          { return m.inner.Name() }
func (m *MetricsProvider) Available() bool       { return m.inner.Available() }
func (m *MetricsProvider) MaxContextTokens() int { return m.inner.MaxContextTokens() }

// UsageSnapshot is a point-in-time view of one provider's counters.
type UsageSnapshot struct {
	Provider   string        `json:"provider"`
	Calls      int64         `json:"calls"`
	Errors     int64         `json:"errors"`
	Tokens     int64         `json:"tokens"`
	AvgLatency time.Duration `json:"avg_latency"`
	LastUsed   time.Time     `json:"last_used,omitempty"`
}

// Snapshot returns the current counters.
func (m *MetricsProvider) Snapshot() UsageSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := UsageSnapshot{
		Provider: m.inner.Name(),
		Calls:    m.calls,
		Errors:   m.errors,
		Tokens:   m.tokens,
		LastUsed: m.lastUsed,
	}
	if m.calls > 0 {
		snap.AvgLatency = m.totalLatency / time.Duration(m.calls)
	}
	return snap
}
