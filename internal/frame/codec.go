package frame

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a Frame into its wire representation: fixed header,
// extra-header region, then payload.
func Encode(f *Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	extraLen := len(f.ExtraHdr)
	payloadLen := len(f.Payload)
	size := HeaderSize + extraLen + payloadLen
	buf := make([]byte, size)

	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = f.ProtoID
	buf[4] = f.Flags
	buf[5] = uint8(extraLen)
	binary.BigEndian.PutUint32(buf[6:10], f.Seq)
	binary.BigEndian.PutUint16(buf[10:12], f.FragID)
	binary.BigEndian.PutUint16(buf[12:14], f.FragTotal)
	binary.BigEndian.PutUint32(buf[14:18], f.GroupID)
	binary.BigEndian.PutUint16(buf[18:20], f.RealLen)
	binary.BigEndian.PutUint16(buf[20:22], uint16(payloadLen))

	copy(buf[HeaderSize:HeaderSize+extraLen], f.ExtraHdr)
	copy(buf[HeaderSize+extraLen:], f.Payload)

	return buf, nil
}

// Decode attempts to parse one frame from the front of buf. On success
// it returns the frame and the number of bytes consumed. If buf does
// not yet hold a complete frame, it returns ErrNeedMore and the caller
// should retry once more bytes have arrived. Structurally inconsistent
// headers are reported as ErrMalformed — the caller is expected to drop
// a single byte and resynchronize, or close the connection after a
// threshold of consecutive failures.
func Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrNeedMore
	}

	magic := binary.BigEndian.Uint16(buf[0:2])
	if magic != Magic {
		return nil, 0, fmt.Errorf("%w: bad magic %x", ErrMalformed, magic)
	}

	extraLen := int(buf[5])
	seq := binary.BigEndian.Uint32(buf[6:10])
	fragID := binary.BigEndian.Uint16(buf[10:12])
	fragTotal := binary.BigEndian.Uint16(buf[12:14])
	groupID := binary.BigEndian.Uint32(buf[14:18])
	realLen := binary.BigEndian.Uint16(buf[18:20])
	payloadLen := binary.BigEndian.Uint16(buf[20:22])

	total := HeaderSize + extraLen + int(payloadLen)
	if total > MaxFrameSize {
		return nil, 0, fmt.Errorf("%w: framed size %d exceeds cap %d", ErrMalformed, total, MaxFrameSize)
	}
	if fragID >= fragTotal || fragTotal == 0 {
		return nil, 0, fmt.Errorf("%w: frag_id %d >= frag_total %d", ErrMalformed, fragID, fragTotal)
	}
	if int(realLen) > int(payloadLen) {
		return nil, 0, fmt.Errorf("%w: real_len %d exceeds payload_len %d", ErrMalformed, realLen, payloadLen)
	}

	if len(buf) < total {
		return nil, 0, ErrNeedMore
	}

	f := &Frame{
		ProtoID:   buf[3],
		Flags:     buf[4],
		Seq:       seq,
		FragID:    fragID,
		FragTotal: fragTotal,
		GroupID:   groupID,
		RealLen:   realLen,
	}

	if extraLen > 0 {
		f.ExtraHdr = append([]byte(nil), buf[HeaderSize:HeaderSize+extraLen]...)
	}
	if payloadLen > 0 {
		f.Payload = append([]byte(nil), buf[HeaderSize+extraLen:total]...)
	}

	if buf[2] != Version {
		return nil, total, fmt.Errorf("%w: unsupported version %d", ErrMalformed, buf[2])
	}

	return f, total, nil
}
