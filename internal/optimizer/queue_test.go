package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/convoke/internal/guard"
	"github.com/normanking/convoke/internal/llm"
	"github.com/normanking/convoke/internal/orchestrator"
)

// blockingSummarizer parks inside the backend call until released.
type blockingSummarizer struct {
	started chan string
	release chan struct{}
}

func (b *blockingSummarizer) Stateless(ctx context.Context, req orchestrator.StatelessRequest) (*llm.ChatResponse, error) {
	b.started <- req.Prompt
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return &llm.ChatResponse{Content: "summary"}, nil
}

func TestQueueDeduplicatesInFlight(t *testing.T) {
	store, msgCache, sess := setup(t, 12)
	sum := &blockingSummarizer{started: make(chan string, 1), release: make(chan struct{})}
	opt := New(store, msgCache, sum, guard.New(), Config{KeepRecent: 10})

	q := NewQueue(opt, 8, 1)
	defer close(sum.release)
	defer q.Close()

	require.True(t, q.Enqueue(sess.ID))

	// Wait until the pass is inside the backend call, then re-trigger.
	select {
	case <-sum.started:
	case <-time.After(5 * time.Second):
		t.Fatal("optimization pass never started")
	}
	assert.False(t, q.Enqueue(sess.ID), "in-flight session must collapse repeated triggers")
}

func TestQueueDropsWhenFull(t *testing.T) {
	store, msgCache, sess := setup(t, 12)
	sum := &blockingSummarizer{started: make(chan string, 1), release: make(chan struct{})}
	opt := New(store, msgCache, sum, guard.New(), Config{KeepRecent: 10})

	q := NewQueue(opt, 1, 1)
	defer close(sum.release)
	defer q.Close()

	// Park the single worker on the first session.
	require.True(t, q.Enqueue(sess.ID))
	select {
	case <-sum.started:
	case <-time.After(5 * time.Second):
		t.Fatal("optimization pass never started")
	}

	// One slot buffers, the next trigger is dropped without blocking.
	assert.True(t, q.Enqueue("queued-session"))
	assert.False(t, q.Enqueue("dropped-session"))

	// The dropped session is re-enqueueable once there is room again.
	// (inflight was cleared on drop)
	q.mu.Lock()
	_, stillInflight := q.inflight["dropped-session"]
	q.mu.Unlock()
	assert.False(t, stillInflight)
}

func TestQueueCloseStopsWorkers(t *testing.T) {
	store, msgCache, _ := setup(t, 0)
	opt := New(store, msgCache, &fakeSummarizer{reply: "summary"}, guard.New(), Config{KeepRecent: 10})

	q := NewQueue(opt, 4, 2)

	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}
