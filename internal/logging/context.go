package logging

import (
	"context"
	"time"
)

// DetachContext returns a context that keeps the parent's values but not
// its cancellation. Used for store writes that must complete even when the
// request that triggered them has already timed out.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout detaches from the parent's cancellation and
// applies a fresh deadline, so the detached work cannot run unbounded.
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
