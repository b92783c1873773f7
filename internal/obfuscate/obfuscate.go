// Package obfuscate wraps raw payload fragments in wire frames dressed
// up according to a chosen protocol profile: it stamps proto_id and
// flags, draws extra-header bytes from the profile's filler policy, and
// emits the profile's handshake prelude exactly once per connection.
package obfuscate

import (
	"fmt"
	"sync"

	"github.com/getlantern/multiwisp/internal/frame"
	"github.com/getlantern/multiwisp/internal/profile"
	"github.com/getlantern/multiwisp/internal/randx"
)

// Meta carries the per-frame fields the caller already knows and wants
// stamped onto the wire frame.
type Meta struct {
	Flags     uint8
	Seq       uint32
	FragID    uint16
	FragTotal uint16
	GroupID   uint32
	RealLen   uint16
}

// ConnState tracks obfuscation state scoped to a single connection: in
// particular, whether the profile's handshake prelude has already been
// emitted. One ConnState must be used per logical connection; it is not
// safe to share across connections.
type ConnState struct {
	mu             sync.Mutex
	preludeEmitted bool
}

// Obfuscator produces ready-to-transmit frames for a chosen profile.
type Obfuscator struct {
	catalog *profile.Catalog
	seed    int64
}

// New creates an Obfuscator backed by the given profile catalog. seed
// seeds the deterministic extra_len/filler derivation.
func New(catalog *profile.Catalog, seed int64) *Obfuscator {
	return &Obfuscator{catalog: catalog, seed: seed}
}

// Wrap produces a frame for payload under the given profile id and
// path id, stamping proto_id/extra_len/extra-header bytes per the
// profile, and emitting the handshake prelude on the first call for a
// given ConnState.
func (o *Obfuscator) Wrap(payload []byte, meta Meta, profileID uint8, pathID uint32, cs *ConnState) (*frame.Frame, error) {
	tpl, err := o.catalog.Get(profileID)
	if err != nil {
		return nil, fmt.Errorf("%w: proto_id %d", frame.ErrUnknownProfile, profileID)
	}

	src := randx.Derive(o.seed, uint64(meta.Seq), uint64(pathID))
	extraLen := tpl.ExtraLenMin
	if tpl.ExtraLenMax > tpl.ExtraLenMin {
		extraLen = src.IntRange(tpl.ExtraLenMin, tpl.ExtraLenMax)
	}
	extraHdr := tpl.Fill(extraLen, src)

	flags := meta.Flags
	if o.shouldEmitPrelude(tpl, cs) {
		flags |= frame.FlagHandshake
		if len(tpl.Prelude) > 0 {
			// The prelude consumes bytes from within the already-drawn
			// extraLen rather than extending past it, so extra_len stays
			// inside the profile's declared range even on the first
			// frame of a connection.
			n := len(tpl.Prelude)
			if n > len(extraHdr) {
				n = len(extraHdr)
			}
			merged := make([]byte, 0, len(extraHdr))
			merged = append(merged, tpl.Prelude[:n]...)
			merged = append(merged, extraHdr[n:]...)
			extraHdr = merged
		}
	}

	f := &frame.Frame{
		ProtoID:   profileID,
		Flags:     flags,
		Seq:       meta.Seq,
		FragID:    meta.FragID,
		FragTotal: meta.FragTotal,
		GroupID:   meta.GroupID,
		RealLen:   meta.RealLen,
		ExtraHdr:  extraHdr,
		Payload:   payload,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// WrapAck builds an ACK frame acknowledging ackedSeq.
func (o *Obfuscator) WrapAck(ackedSeq uint32, seq uint32, profileID uint8, pathID uint32, cs *ConnState) (*frame.Frame, error) {
	payload := make([]byte, 4)
	payload[0] = byte(ackedSeq >> 24)
	payload[1] = byte(ackedSeq >> 16)
	payload[2] = byte(ackedSeq >> 8)
	payload[3] = byte(ackedSeq)
	return o.Wrap(payload, Meta{
		Flags:     frame.FlagAck,
		Seq:       seq,
		FragID:    0,
		FragTotal: 1,
		GroupID:   0,
		RealLen:   4,
	}, profileID, pathID, cs)
}

func (o *Obfuscator) shouldEmitPrelude(tpl profile.Template, cs *ConnState) bool {
	if cs == nil || len(tpl.Prelude) == 0 {
		return false
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.preludeEmitted {
		return false
	}
	cs.preludeEmitted = true
	return true
}
