package shape

import (
	"sync"
	"time"

	"github.com/getlantern/multiwisp/internal/randx"
)

// JitterQueue enforces per-path send ordering under independent random
// delays: each frame's deadline is sampled uniformly from
// [0, jitterMs], but a later-enqueued frame's deadline is clamped
// forward so it never precedes an earlier frame's deadline on the same
// path.
type JitterQueue struct {
	mu            sync.Mutex
	lastDeadline  time.Time
}

// NewJitterQueue creates an empty queue.
func NewJitterQueue() *JitterQueue {
	return &JitterQueue{}
}

// NextDeadline samples a jitter delay in [0, jitterMs] relative to now
// and returns the clamped deadline for the next frame on this path.
func (q *JitterQueue) NextDeadline(now time.Time, jitterMs int, src *randx.Source) time.Time {
	var delay time.Duration
	if jitterMs > 0 {
		delay = time.Duration(src.IntRange(0, jitterMs+1)) * time.Millisecond
	}
	deadline := now.Add(delay)

	q.mu.Lock()
	defer q.mu.Unlock()
	if deadline.Before(q.lastDeadline) {
		deadline = q.lastDeadline
	}
	q.lastDeadline = deadline
	return deadline
}

// Reset clears the queue's ordering state, for use at window
// boundaries or path reconnection.
func (q *JitterQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastDeadline = time.Time{}
}
