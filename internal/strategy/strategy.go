// Package strategy implements the periodic window tick that
// recomputes path weights, padding/jitter behavior, and the active
// protocol profile, publishing the result as an immutable snapshot
// consumed atomically by the scheduler, shaper and obfuscator.
package strategy

import (
	"math"
	"sync/atomic"
)

// PathMetrics is one path's observed health at the time of a tick,
// snapshotted from its pathlink.Link.
type PathMetrics struct {
	PathID   uint32
	RTTMs    float64
	Loss     float64
	MeanSize float64 // mean observed real-payload frame size this window
}

// Snapshot is the immutable result of one window tick. Every component
// reads the latest snapshot at the next frame it processes; a single
// frame is always shaped and obfuscated with exactly one snapshot.
type Snapshot struct {
	WindowIndex  int
	Weights      map[uint32]float64
	PaddingAlpha float64
	JitterMs     int
	ProfileID    uint8
}

// Config parameterizes the tick algorithm. Fields left at zero value
// adopt the defaults in applyDefaults.
type Config struct {
	Beta              float64 // loss penalty coefficient in weight formula
	WMin              float64 // weight floor after normalization
	PaddingAlphaBase  float64
	PaddingAlphaMax   float64
	JitterMsBase      int
	JitterMsMax       int
	VarianceHighRatio float64 // coefficient-of-variation^2 threshold that triggers tightening
	NumProfiles       int
	ProtoSwitchPeriod int
	AdaptivePaths     bool
	AdaptiveBehavior  bool
	AdaptiveProto     bool
}

func (c Config) applyDefaults() Config {
	if c.Beta <= 0 {
		c.Beta = 1.0
	}
	if c.WMin <= 0 {
		c.WMin = 0.05
	}
	if c.PaddingAlphaMax <= 0 {
		c.PaddingAlphaMax = 0.5
	}
	if c.JitterMsMax <= 0 {
		c.JitterMsMax = 200
	}
	if c.VarianceHighRatio <= 0 {
		c.VarianceHighRatio = 0.15
	}
	if c.NumProfiles <= 0 {
		c.NumProfiles = 1
	}
	if c.ProtoSwitchPeriod <= 0 {
		c.ProtoSwitchPeriod = 1
	}
	return c
}

// Engine owns the mutable tick state (previous weights, current
// behavior parameters, profile rotation index) and publishes each
// tick's result via an atomic pointer swap.
type Engine struct {
	cfg Config

	prevWeights  map[uint32]float64
	paddingAlpha float64
	jitterMs     int
	profileIdx   int

	current atomic.Pointer[Snapshot]
}

// NewEngine creates an Engine seeded with the configured base behavior
// parameters and an empty weight map (populated on the first tick).
func NewEngine(cfg Config) *Engine {
	cfg = cfg.applyDefaults()
	e := &Engine{
		cfg:          cfg,
		prevWeights:  make(map[uint32]float64),
		paddingAlpha: cfg.PaddingAlphaBase,
		jitterMs:     cfg.JitterMsBase,
	}
	e.current.Store(&Snapshot{
		PaddingAlpha: e.paddingAlpha,
		JitterMs:     e.jitterMs,
		Weights:      map[uint32]float64{},
	})
	return e
}

// Load returns the most recently published snapshot. Safe for
// concurrent use by any number of readers.
func (e *Engine) Load() *Snapshot {
	return e.current.Load()
}

// Tick runs the five-step recomputation for one window and publishes
// the resulting Snapshot.
func (e *Engine) Tick(metrics []PathMetrics, windowIndex int) *Snapshot {
	weights := e.recomputeWeights(metrics)
	padding, jitter := e.recomputeBehavior(metrics)
	profile := e.recomputeProfile(windowIndex)

	snap := &Snapshot{
		WindowIndex:  windowIndex,
		Weights:      weights,
		PaddingAlpha: padding,
		JitterMs:     jitter,
		ProfileID:    profile,
	}
	e.current.Store(snap)
	return snap
}

// recomputeWeights is step 1+2: snapshot RTT/loss, then if
// adaptive_paths recompute w_i ∝ 1/(RTT_i*(1+β·loss_i)), normalized to
// sum 1 and clamped to [w_min, 1]. Otherwise the prior weights are
// retained unchanged.
func (e *Engine) recomputeWeights(metrics []PathMetrics) map[uint32]float64 {
	if !e.cfg.AdaptivePaths {
		out := make(map[uint32]float64, len(e.prevWeights))
		for k, v := range e.prevWeights {
			out[k] = v
		}
		return out
	}

	raw := make(map[uint32]float64, len(metrics))
	var total float64
	for _, m := range metrics {
		rtt := m.RTTMs
		if rtt <= 0 {
			rtt = 1
		}
		w := 1.0 / (rtt * (1 + e.cfg.Beta*m.Loss))
		raw[m.PathID] = w
		total += w
	}

	// Per the tick algorithm's stated order: normalize to sum 1 first,
	// then clamp to [w_min, 1]. The floor can push the post-clamp sum
	// slightly above 1 when a path's natural share was far below
	// w_min; this is the accepted reading of "normalize, then clamp"
	// taken literally (see design notes).
	weights := make(map[uint32]float64, len(raw))
	if total <= 0 {
		for id := range raw {
			weights[id] = e.cfg.WMin
		}
	} else {
		for id, w := range raw {
			n := w / total
			if n < e.cfg.WMin {
				n = e.cfg.WMin
			}
			if n > 1 {
				n = 1
			}
			weights[id] = n
		}
	}
	e.prevWeights = weights
	return weights
}

// recomputeBehavior is step 3: if adaptive_behavior, nudge
// padding_alpha and jitter_ms toward their configured targets based on
// the variance of per-path observed frame sizes. Larger variance
// (relative to mean) tightens shaping toward the max; lower variance
// relaxes back toward the base.
func (e *Engine) recomputeBehavior(metrics []PathMetrics) (float64, int) {
	if !e.cfg.AdaptiveBehavior {
		return e.paddingAlpha, e.jitterMs
	}

	mean, variance := sizeMeanVariance(metrics)
	cv2 := 0.0
	if mean > 0 {
		cv2 = variance / (mean * mean)
	}

	if cv2 > e.cfg.VarianceHighRatio {
		e.paddingAlpha = stepToward(e.paddingAlpha, e.cfg.PaddingAlphaMax, 0.1)
		e.jitterMs = int(stepToward(float64(e.jitterMs), float64(e.cfg.JitterMsMax), 0.1))
	} else {
		e.paddingAlpha = stepToward(e.paddingAlpha, e.cfg.PaddingAlphaBase, 0.1)
		e.jitterMs = int(stepToward(float64(e.jitterMs), float64(e.cfg.JitterMsBase), 0.1))
	}
	return e.paddingAlpha, e.jitterMs
}

// recomputeProfile is step 4: if adaptive_proto and windowIndex is a
// multiple of proto_switch_period, rotate to the next profile in the
// catalog. Otherwise the current profile is held.
func (e *Engine) recomputeProfile(windowIndex int) uint8 {
	if e.cfg.AdaptiveProto && windowIndex%e.cfg.ProtoSwitchPeriod == 0 {
		e.profileIdx = (e.profileIdx + 1) % e.cfg.NumProfiles
	}
	return uint8(e.profileIdx)
}

func sizeMeanVariance(metrics []PathMetrics) (mean, variance float64) {
	if len(metrics) == 0 {
		return 0, 0
	}
	var sum float64
	for _, m := range metrics {
		sum += m.MeanSize
	}
	mean = sum / float64(len(metrics))

	var sq float64
	for _, m := range metrics {
		d := m.MeanSize - mean
		sq += d * d
	}
	variance = sq / float64(len(metrics))
	return mean, variance
}

// stepToward moves current a fixed fraction of the way to target,
// deterministic given the same inputs (no randomness in this
// adjustment, per the "bounded and deterministic given the same seed"
// requirement on adaptation).
func stepToward(current, target, frac float64) float64 {
	next := current + (target-current)*frac
	if math.Abs(next-target) < 1e-9 {
		return target
	}
	return next
}
