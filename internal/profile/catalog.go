package profile

import (
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"

	"github.com/getlantern/multiwisp/internal/randx"
)

// Catalog is the fixed, read-only set of 3 templates addressed by
// proto_id in [0, NumProfiles).
type Catalog struct {
	templates [NumProfiles]Template
}

// NumProfiles is the size of the static catalog, per the data model.
const NumProfiles = 3

// Load builds the catalog. It is called once at node startup; the
// resulting Catalog is never mutated afterward.
func Load() (*Catalog, error) {
	browserPattern, err := chromeClientHelloPattern()
	if err != nil {
		return nil, fmt.Errorf("extracting browser-like filler pattern: %w", err)
	}

	c := &Catalog{
		templates: [NumProfiles]Template{
			{
				ID:          0,
				ExtraLenMin: 4,
				ExtraLenMax: 8,
				Prelude:     nil,
				Filler:      FillerRandom,
			},
			{
				ID:             1,
				ExtraLenMin:    8,
				ExtraLenMax:    16,
				Prelude:        browserPattern[:16],
				Filler:         FillerBrowserLike,
				browserPattern: browserPattern,
			},
			{
				ID:          2,
				ExtraLenMin: 0,
				ExtraLenMax: 4,
				Prelude:     nil,
				Filler:      FillerASCII,
			},
		},
	}
	return c, nil
}

// Get returns the template for id, or ErrUnknownProfile if id is
// outside [0, NumProfiles).
func (c *Catalog) Get(id uint8) (Template, error) {
	if int(id) >= NumProfiles {
		return Template{}, ErrUnknownProfile
	}
	return c.templates[id], nil
}

// Len returns the number of profiles in the catalog.
func (c *Catalog) Len() int { return NumProfiles }

// Fill produces extraLen bytes of filler for the template using src for
// any randomness needed, given the frame's (seq, pathID) for
// deterministic replay.
func (t *Template) Fill(extraLen int, src *randx.Source) []byte {
	switch t.Filler {
	case FillerBrowserLike:
		if extraLen > len(t.browserPattern) {
			extraLen = len(t.browserPattern)
		}
		out := make([]byte, extraLen)
		copy(out, t.browserPattern)
		return out
	case FillerASCII:
		out := make([]byte, extraLen)
		for i := range out {
			out[i] = byte('A' + src.IntRange(0, 26))
		}
		return out
	default: // FillerRandom
		return src.Bytes(extraLen)
	}
}

// chromeClientHelloPattern extracts a static byte pattern shaped like a
// real Chrome TLS ClientHello, for use as profile 1's "browser-like"
// filler. It builds the handshake state of a uTLS client against an
// in-memory pipe and marshals the ClientHello, but never performs an
// actual handshake — the pipe's other end is discarded immediately
// after, exactly like the build-then-mutate-then-remarshal sequence
// this codebase's client already does for embedding auth data, minus
// the final HandshakeContext call.
func chromeClientHelloPattern() ([]byte, error) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	uConn := utls.UClient(clientSide, &utls.Config{ServerName: "www.example.com"}, utls.HelloChrome_Auto)
	if err := uConn.BuildHandshakeState(); err != nil {
		return nil, fmt.Errorf("building handshake state: %w", err)
	}
	if err := uConn.MarshalClientHello(); err != nil {
		return nil, fmt.Errorf("marshaling client hello: %w", err)
	}

	raw := uConn.HandshakeState.Hello.Raw
	if len(raw) < 32 {
		return nil, fmt.Errorf("unexpectedly short ClientHello: %d bytes", len(raw))
	}
	// Use a slice from the middle of the extensions region, past the
	// fixed version/random/session-id/cipher-suite fields, so the
	// filler reads like extension bytes rather than the handshake
	// header.
	start := len(raw) / 3
	end := start + 64
	if end > len(raw) {
		end = len(raw)
		start = end - 64
	}
	pattern := make([]byte, end-start)
	copy(pattern, raw[start:end])
	return pattern, nil
}
