// Package randx provides the seedable, deterministic randomness used by
// the scheduler, shaper and profile obfuscator. Unlike the crypto/rand
// helpers elsewhere in this codebase's ancestry (which exist to resist
// real traffic analysis and must not be predictable), every source here
// is reproducible given the same seed, because the testable properties
// require identical replay: "encoding is deterministic given (seq,
// path_id, seed)".
package randx

import (
	"encoding/binary"
	"math/rand/v2"

	"golang.org/x/crypto/blake2b"
)

// Source is a seedable generator. A zero Source (seed 0) is usable but
// every caller that cares about determinism should derive one from the
// run's configured seed via New or Derive.
type Source struct {
	rng *rand.Rand
}

// New creates a Source seeded directly from a 64-bit run seed.
func New(seed int64) *Source {
	return &Source{rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9E3779B97F4A7C15))}
}

// Derive creates a Source whose stream is a deterministic function of
// the run seed plus arbitrary caller-supplied context (typically
// (seq, path_id) or (window_index, path_id)), so that two independent
// components never accidentally draw from the same stream while still
// reproducing byte-identical output given the same seed and context.
func Derive(seed int64, context ...uint64) *Source {
	h, _ := blake2b.New512(nil) // nil key: derivation only, not authentication
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	for _, c := range context {
		binary.BigEndian.PutUint64(buf[:], c)
		h.Write(buf[:])
	}
	sum := h.Sum(nil)
	s1 := binary.BigEndian.Uint64(sum[0:8])
	s2 := binary.BigEndian.Uint64(sum[8:16])
	return &Source{rng: rand.New(rand.NewPCG(s1, s2))}
}

// IntRange returns a pseudo-random integer in [min, max).
func (s *Source) IntRange(min, max int) int {
	if max <= min {
		return min
	}
	return min + s.rng.IntN(max-min)
}

// Float64 returns a pseudo-random float in [0, 1).
func (s *Source) Float64() float64 {
	return s.rng.Float64()
}

// Bytes fills and returns n pseudo-random bytes.
func (s *Source) Bytes(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(s.rng.IntN(256))
	}
	return buf
}

// WeightedIndex picks an index into weights proportional to its value.
// weights must be non-empty and sum to > 0.
func (s *Source) WeightedIndex(weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return s.rng.IntN(len(weights))
	}
	r := s.rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if r < cum {
			return i
		}
	}
	return len(weights) - 1
}
