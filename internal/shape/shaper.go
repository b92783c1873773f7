package shape

import (
	"time"

	"github.com/getlantern/multiwisp/internal/randx"
)

// PathShaper applies the full three-transform pipeline to outgoing
// chunks on one path: bucket the real size, pad under budget, then
// compute a jittered send deadline. It holds the mutable per-window
// accounting state (Budget, JitterQueue); Params are swapped in whole
// at each window boundary by the owning strategy snapshot consumer.
type PathShaper struct {
	budget *Budget
	jitter *JitterQueue
	params Params
}

// NewPathShaper creates a shaper for one path with the given initial
// window parameters.
func NewPathShaper(p Params) *PathShaper {
	return &PathShaper{
		budget: NewBudget(p.PaddingAlpha),
		jitter: NewJitterQueue(),
		params: p,
	}
}

// Adopt atomically swaps in a new window's parameters and resets the
// padding budget, matching the window-tick "atomically adopt" wording.
func (s *PathShaper) Adopt(p Params) {
	s.params = p
	s.budget.Reset(p.PaddingAlpha)
}

// Shaped is the result of shaping one chunk.
type Shaped struct {
	// Chunks holds one or more byte slices to be framed, each no
	// larger than the chosen bin size.
	Chunks [][]byte
	// PadBytes is the count of trailing padding bytes within the final
	// chunk's frame (0 if padding was skipped or budget-exhausted).
	PadBytes int
	// Deadline is the earliest time this data may be transmitted.
	Deadline time.Time
}

// Shape runs the pipeline on one real chunk of data.
func (s *PathShaper) Shape(data []byte, now time.Time, src *randx.Source) Shaped {
	chunks := [][]byte{data}
	padBytes := 0

	if s.params.bucketingEnabled() {
		bin, needsFragment := ChooseBin(s.params.SizeBins, len(data))
		if needsFragment {
			chunks = SplitForBin(data, bin)
		} else if s.params.paddingEnabled() {
			want := bin - len(data)
			if want > 0 {
				padBytes = s.budget.Allow(len(data), want)
			} else {
				s.budget.Allow(len(data), 0)
			}
		} else {
			s.budget.Allow(len(data), 0)
		}
	}

	deadline := now
	if s.params.jitterEnabled() {
		deadline = s.jitter.NextDeadline(now, s.params.JitterMs, src)
	}

	return Shaped{Chunks: chunks, PadBytes: padBytes, Deadline: deadline}
}

// BudgetRatio reports the current window's pad/real byte ratio, for
// window_logs.jsonl.
func (s *PathShaper) BudgetRatio() float64 { return s.budget.Ratio() }

// BudgetBytes reports cumulative pad/real bytes for the current window.
func (s *PathShaper) BudgetBytes() (pad, real int64) { return s.budget.Bytes() }
