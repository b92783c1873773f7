// Package schedule implements weighted multi-path fragment assignment
// and inbound redundancy dedup.
package schedule

import (
	"sort"
	"time"

	"github.com/getlantern/multiwisp/internal/frame"
	"github.com/getlantern/multiwisp/internal/pathlink"
	"github.com/getlantern/multiwisp/internal/randx"
)

// PathHandle is the subset of pathlink.Link the scheduler depends on,
// kept as an interface so tests can substitute a fake path.
type PathHandle interface {
	ID() uint32
	State() pathlink.State
	Stats() pathlink.Stats
	Enqueue(f *frame.Frame, deadline time.Time) error
}

type pathEntry struct {
	handle  PathHandle
	weight  float64
	drained bool
}

const defaultDedupTTL = 30 * time.Second

// Scheduler selects, for each outbound fragment, one or more paths,
// and deduplicates inbound fragments delivered redundantly.
type Scheduler struct {
	paths map[uint32]*pathEntry
	order []uint32

	batchSize      int
	batchRemaining int
	currentPath    uint32

	dedup *dedupCache
}

// New creates a Scheduler with the given per-batch stickiness
// (batch_size fragments share a path selection before re-drawing, to
// reduce reordering). The inbound dedup TTL is defaultDedupTTL.
func New(batchSize int) *Scheduler {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Scheduler{
		paths:     make(map[uint32]*pathEntry),
		batchSize: batchSize,
		dedup:     newDedupCache(defaultDedupTTL),
	}
}

// AddPath registers a path with an initial weight.
func (s *Scheduler) AddPath(h PathHandle, weight float64) {
	id := h.ID()
	if _, exists := s.paths[id]; !exists {
		s.order = append(s.order, id)
	}
	s.paths[id] = &pathEntry{handle: h, weight: weight}
}

// RemovePath drops a path from consideration, e.g. after it closes.
func (s *Scheduler) RemovePath(id uint32) {
	delete(s.paths, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.currentPath == id {
		s.batchRemaining = 0
	}
}

// SetWeights applies a new weight vector from a strategy snapshot.
// Weights are floored at 0; drain status from DrainUnhealthy persists
// until cleared by the next call that provides any weight for that
// path.
func (s *Scheduler) SetWeights(weights map[uint32]float64) {
	for id, w := range weights {
		if e, ok := s.paths[id]; ok {
			if w < 0 {
				w = 0
			}
			e.weight = w
			e.drained = false
		}
	}
}

// DrainUnhealthy forces a path's effective weight to 0 until the next
// SetWeights call, per the failure semantics in the scheduler's
// contract: a path whose loss crosses the hard threshold is drained
// for the remainder of the window.
func (s *Scheduler) DrainUnhealthy(id uint32) {
	if e, ok := s.paths[id]; ok {
		e.drained = true
	}
}

// effectiveWeight is 0 for drained paths, the configured weight
// otherwise.
func (e *pathEntry) effectiveWeight() float64 {
	if e.drained {
		return 0
	}
	return e.weight
}

// Assign selects one or more paths for f and enqueues it on each,
// applying deadline to every copy. redundancy (>=1) is inclusive: the
// total number of paths the fragment is sent on, primary included.
func (s *Scheduler) Assign(f *frame.Frame, deadline time.Time, redundancy int, src *randx.Source) ([]uint32, error) {
	if redundancy < 1 {
		redundancy = 1
	}

	ready := s.candidates(pathlink.Ready)
	if len(ready) == 0 {
		ready = s.candidates(pathlink.Busy) // all busy: use every path
	}
	if len(ready) == 0 {
		return nil, ErrNoPaths
	}

	primary := s.choosePrimary(ready, src)
	chosen := []uint32{primary}

	if redundancy > 1 {
		extra := s.nextHighestWeighted(ready, primary, redundancy-1)
		chosen = append(chosen, extra...)
	}

	for _, id := range chosen {
		if err := s.paths[id].handle.Enqueue(f, deadline); err != nil {
			return nil, err
		}
	}
	return chosen, nil
}

// candidates returns path IDs whose current State matches want, in
// stable registration order.
func (s *Scheduler) candidates(want pathlink.State) []uint32 {
	var out []uint32
	for _, id := range s.order {
		e := s.paths[id]
		if e.handle.State() == want {
			out = append(out, id)
		}
	}
	return out
}

// choosePrimary implements batch-sticky weighted random selection:
// the same path is reused for batchSize consecutive fragments before
// a fresh weighted draw, reducing within-path reordering.
func (s *Scheduler) choosePrimary(ready []uint32, src *randx.Source) uint32 {
	stillReady := false
	for _, id := range ready {
		if id == s.currentPath {
			stillReady = true
			break
		}
	}

	if stillReady && s.batchRemaining > 0 {
		s.batchRemaining--
		return s.currentPath
	}

	weights := make([]float64, len(ready))
	for i, id := range ready {
		weights[i] = s.paths[id].effectiveWeight()
	}
	idx := src.WeightedIndex(weights)
	s.currentPath = ready[idx]
	s.batchRemaining = s.batchSize - 1
	return s.currentPath
}

// nextHighestWeighted returns up to n path IDs from ready (excluding
// exclude) ordered by descending effective weight, breaking ties by
// least-loaded (smallest inflight).
func (s *Scheduler) nextHighestWeighted(ready []uint32, exclude uint32, n int) []uint32 {
	type cand struct {
		id       uint32
		weight   float64
		inflight int
	}
	var cands []cand
	for _, id := range ready {
		if id == exclude {
			continue
		}
		e := s.paths[id]
		cands = append(cands, cand{id: id, weight: e.effectiveWeight(), inflight: e.handle.Stats().Inflight})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].weight != cands[j].weight {
			return cands[i].weight > cands[j].weight
		}
		return cands[i].inflight < cands[j].inflight
	})
	if n > len(cands) {
		n = len(cands)
	}
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = cands[i].id
	}
	return out
}

// Dedup reports whether a reassembled message from sender with this
// group_id has already been delivered to the consumer. The first
// complete copy wins; subsequent duplicates should be dropped by the
// caller.
func (s *Scheduler) Dedup(sender string, groupID uint32) bool {
	return s.dedup.SeenOrMark(sender, groupID)
}

// Close stops the dedup cache's background reaper.
func (s *Scheduler) Close() {
	s.dedup.Close()
}
