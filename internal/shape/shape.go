// Package shape implements the behavior-shaping pipeline: size
// bucketing, padding-budget accounting, and send-time jitter, applied
// in that order to each outgoing chunk. Grounded in this codebase's
// original Shaper.Write (chunk -> pad -> jitter-delay-then-write), here
// split into three independently testable transforms driven by a
// per-window Params value published by the strategy engine.
package shape

// Mode selects which of the three transforms are active, per the
// spec's baseline experiment modes.
type Mode int

const (
	// ModeNormal runs all three transforms.
	ModeNormal Mode = iota
	// ModeBaselineDelay runs only jitter.
	ModeBaselineDelay
	// ModeBaselinePadding runs only size bucketing and padding.
	ModeBaselinePadding
)

// Params is one window's shaping configuration, as computed by the
// strategy engine. It is immutable once published.
type Params struct {
	SizeBins     []int // ascending target payload sizes
	PaddingAlpha float64
	JitterMs     int
	Mode         Mode
}

func (p Params) bucketingEnabled() bool {
	return p.Mode == ModeNormal || p.Mode == ModeBaselinePadding
}

func (p Params) paddingEnabled() bool {
	return p.bucketingEnabled()
}

func (p Params) jitterEnabled() bool {
	return p.Mode == ModeNormal || p.Mode == ModeBaselineDelay
}
