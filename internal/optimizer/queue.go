package optimizer

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// Queue runs optimization passes out-of-band on a bounded channel with
// at-most-one-in-flight-per-session deduplication. Repeated triggers for
// the same session while a pass is pending or running collapse into one.
// A full queue drops the enqueue; the next trigger re-enqueues.
type Queue struct {
	opt *Optimizer
	ch  chan string

	mu       sync.Mutex
	inflight map[string]bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewQueue creates a queue with the given buffer size and worker count.
func NewQueue(opt *Optimizer, size, workers int) *Queue {
	if size <= 0 {
		size = 32
	}
	if workers <= 0 {
		workers = 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opt:      opt,
		ch:       make(chan string, size),
		inflight: make(map[string]bool),
		cancel:   cancel,
	}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker(ctx)
	}

	return q
}

// Enqueue schedules an optimization pass for the session. It never
// blocks; it returns false when the session is already pending or the
// queue is full.
func (q *Queue) Enqueue(sessionID string) bool {
	q.mu.Lock()
	if q.inflight[sessionID] {
		q.mu.Unlock()
		return false
	}
	q.inflight[sessionID] = true
	q.mu.Unlock()

	select {
	case q.ch <- sessionID:
		return true
	default:
		q.clearInflight(sessionID)
		log.Warn().Str("session_id", sessionID).Msg("optimization queue full, dropping trigger")
		return false
	}
}

// Close stops the workers and waits for in-flight passes to finish.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case sessionID := <-q.ch:
			q.run(ctx, sessionID)
		}
	}
}

// run executes one pass. Failures are logged and retried on the next
// trigger; they never propagate to the reply path.
func (q *Queue) run(ctx context.Context, sessionID string) {
	defer q.clearInflight(sessionID)

	if err := q.opt.Optimize(ctx, sessionID); err != nil {
		if errors.Is(err, ErrBusy) {
			log.Debug().Str("session_id", sessionID).Msg("optimization deferred, scope busy")
			return
		}
		log.Warn().Err(err).Str("session_id", sessionID).Msg("optimization pass failed")
	}
}

func (q *Queue) clearInflight(sessionID string) {
	q.mu.Lock()
	delete(q.inflight, sessionID)
	q.mu.Unlock()
}
