// Package profile holds the static, read-only catalog of protocol
// "profiles" — templates that give each path a different on-the-wire
// texture so that a passive observer sees different features from path
// to path.
package profile

import "errors"

// ErrUnknownProfile is returned when a requested id falls outside the
// catalog's range.
var ErrUnknownProfile = errors.New("profile: unknown profile id")

// FillerPolicy names how a template's extra-header bytes are produced.
type FillerPolicy int

const (
	// FillerRandom fills with pseudo-random bytes drawn from the run's
	// seeded source.
	FillerRandom FillerPolicy = iota
	// FillerBrowserLike fills with a static byte pattern lifted from a
	// real browser TLS ClientHello, so the extra-header region "looks
	// like" protocol framing rather than noise.
	FillerBrowserLike
	// FillerASCII fills with printable ASCII bytes, mimicking a
	// plaintext-protocol field.
	FillerASCII
)

// Template is one immutable entry in the profile catalog.
type Template struct {
	ID uint8

	// ExtraLenMin/Max bound the extra-header region this profile may
	// declare, inclusive/exclusive per [min, max).
	ExtraLenMin, ExtraLenMax int

	// Prelude is emitted exactly once, on the first frame of a
	// connection, when Flags has FlagHandshake set. May be empty.
	Prelude []byte

	Filler FillerPolicy

	// browserPattern holds the bytes FillerBrowserLike draws from; it is
	// populated once at catalog build time and is longer than any single
	// template's ExtraLenMax so callers can always slice a window from it.
	browserPattern []byte
}
