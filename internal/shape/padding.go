package shape

import "sync"

// Budget tracks the cumulative padding-to-real byte ratio for one path
// over the current window, enforcing padding_alpha. It resets at every
// window boundary, matching the window-scoped accounting in the
// strategy engine's window tick.
type Budget struct {
	mu        sync.Mutex
	alpha     float64
	padSent   int64
	realSent  int64
	exceeded  int64 // count of times padding was truncated by the budget
}

// NewBudget creates a Budget with the given padding_alpha ratio cap.
func NewBudget(alpha float64) *Budget {
	return &Budget{alpha: alpha}
}

// Reset clears the cumulative counters at a window boundary and adopts
// a possibly-updated alpha from the new strategy snapshot.
func (b *Budget) Reset(alpha float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alpha = alpha
	b.padSent = 0
	b.realSent = 0
	b.exceeded = 0
}

// Allow returns the amount of padding (<= want) permitted for a chunk
// of r real bytes, truncating to stay within the ratio cap. It records
// r as real bytes sent and the returned amount as padding sent.
func (b *Budget) Allow(r int, want int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.realSent += int64(r)
	denom := b.realSent
	if denom < 1 {
		denom = 1
	}

	maxAllowed := int64(b.alpha*float64(denom)) - b.padSent
	if maxAllowed < 0 {
		maxAllowed = 0
	}

	allowed := want
	if int64(allowed) > maxAllowed {
		allowed = int(maxAllowed)
		b.exceeded++
	}
	if allowed < 0 {
		allowed = 0
	}
	b.padSent += int64(allowed)
	return allowed
}

// Ratio returns the current cumulative pad/real byte ratio.
func (b *Budget) Ratio() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	denom := b.realSent
	if denom < 1 {
		denom = 1
	}
	return float64(b.padSent) / float64(denom)
}

// Bytes returns the cumulative padding and real byte counts for the
// current window, for window_logs.jsonl reporting.
func (b *Budget) Bytes() (pad, real int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.padSent, b.realSent
}

// Exceeded returns how many times the budget truncated a padding
// request this window.
func (b *Budget) Exceeded() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceeded
}
