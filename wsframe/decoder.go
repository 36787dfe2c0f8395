package wsframe

import "encoding/binary"

// DecodeStatus tags the outcome of a Decode call.
type DecodeStatus int

const (
	// NeedMore means the buffer holds an incomplete frame; Decode
	// consumed nothing and should be retried once more bytes arrive.
	NeedMore DecodeStatus = iota
	// Ok means a complete frame was decoded.
	Ok
	// Invalid means the buffer's prefix is not a well-formed frame;
	// the caller should treat this as a fatal protocol error and not
	// retry decoding on this stream.
	Invalid
)

// RequireMasked configures whether Decode demands the RFC 6455
// server-side invariant that every client-to-server frame is masked.
type RequireMasked bool

// Decode parses the frame at the head of buf. It never allocates the
// payload slice until every length byte has arrived, so it is safe to
// call repeatedly on a growing read buffer sourced from a non-blocking
// socket.
//
// On Ok it returns the number of bytes consumed from buf. On NeedMore
// it returns 0. On Invalid it returns a *ProtocolError explaining why.
func Decode(buf []byte, requireMasked RequireMasked) (Frame, DecodeStatus, int, error) {
	if len(buf) < 2 {
		return Frame{}, NeedMore, 0, nil
	}

	b0, b1 := buf[0], buf[1]
	f := Frame{
		Fin:    b0&finBit != 0,
		RSV1:   b0&rsv1Bit != 0,
		RSV2:   b0&rsv2Bit != 0,
		RSV3:   b0&rsv3Bit != 0,
		Opcode: Opcode(b0 & opMask),
		Masked: b1&maskBit != 0,
	}

	pos := 2
	lenCode := b1 & lenMask
	var payloadLen uint64
	switch {
	case lenCode <= 125:
		payloadLen = uint64(lenCode)
	case lenCode == 126:
		if len(buf) < pos+2 {
			return Frame{}, NeedMore, 0, nil
		}
		payloadLen = uint64(binary.BigEndian.Uint16(buf[pos:]))
		pos += 2
	default: // 127
		if len(buf) < pos+8 {
			return Frame{}, NeedMore, 0, nil
		}
		raw := binary.BigEndian.Uint64(buf[pos:])
		if raw&(1<<63) != 0 {
			return Frame{}, Invalid, 0, &ProtocolError{Reason: "extended payload length has high bit set"}
		}
		payloadLen = raw
		pos += 8
	}

	if payloadLen > MaxPayloadLen {
		return Frame{}, Invalid, 0, &ProtocolError{Reason: "payload length exceeds implementation limit", Code: CloseMessageTooBig}
	}

	if err := f.validate(int(payloadLen)); err != nil {
		return Frame{}, Invalid, 0, err
	}

	if bool(requireMasked) && !f.Masked {
		return Frame{}, Invalid, 0, &ProtocolError{Reason: "server received an unmasked frame"}
	}
	if !bool(requireMasked) && f.Masked {
		return Frame{}, Invalid, 0, &ProtocolError{Reason: "client received a masked frame"}
	}

	if f.Masked {
		if len(buf) < pos+4 {
			return Frame{}, NeedMore, 0, nil
		}
		copy(f.MaskKey[:], buf[pos:pos+4])
		pos += 4
	}

	end := pos + int(payloadLen)
	if len(buf) < end {
		return Frame{}, NeedMore, 0, nil
	}

	if payloadLen > 0 {
		payload := make([]byte, payloadLen)
		copy(payload, buf[pos:end])
		if f.Masked {
			UnmaskInPlace(payload, f.MaskKey)
		}
		f.Payload = payload
	}

	return f, Ok, end, nil
}
