package wsframe

import "encoding/binary"

// CloseCode is an RFC 6455 §7.4 status code carried in a Close frame's
// payload.
type CloseCode uint16

const (
	CloseNormalClosure      CloseCode = 1000
	CloseGoingAway          CloseCode = 1001
	CloseProtocolError      CloseCode = 1002
	CloseUnsupportedData    CloseCode = 1003
	CloseNoStatusRcvd       CloseCode = 1005 // received-only, invalid to send
	CloseAbnormalClosure    CloseCode = 1006 // received-only, invalid to send
	CloseInvalidPayloadData CloseCode = 1007
	ClosePolicyViolation    CloseCode = 1008
	CloseMessageTooBig      CloseCode = 1009
	CloseMissingExtension   CloseCode = 1010
	CloseInternalServerErr  CloseCode = 1011
	CloseTLSHandshake       CloseCode = 1015 // received-only, invalid to send

	closeAppRangeLow  CloseCode = 3000
	closeAppRangeHigh CloseCode = 4999
)

// receivedOnly holds the codes that a peer may report but that this
// implementation must never send itself.
var receivedOnly = map[CloseCode]bool{
	CloseNoStatusRcvd:    true,
	CloseAbnormalClosure: true,
	CloseTLSHandshake:    true,
}

// ValidReceived reports whether code is an acceptable value inside a
// Close frame payload received from the peer.
func ValidReceived(code CloseCode) bool {
	switch {
	case code >= closeAppRangeLow && code <= closeAppRangeHigh:
		return true
	case receivedOnly[code]:
		return true
	}
	switch code {
	case CloseNormalClosure, CloseGoingAway, CloseProtocolError, CloseUnsupportedData,
		CloseInvalidPayloadData, ClosePolicyViolation, CloseMessageTooBig,
		CloseMissingExtension, CloseInternalServerErr:
		return true
	}
	return false
}

// ValidToSend reports whether code may be placed into a Close frame
// this implementation sends.
func ValidToSend(code CloseCode) bool {
	return ValidReceived(code) && !receivedOnly[code]
}

// EncodeClosePayload builds a Close frame payload carrying code
// followed by an optional UTF-8 reason.
func EncodeClosePayload(code CloseCode, reason string) []byte {
	out := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(out, uint16(code))
	copy(out[2:], reason)
	return out
}

// closeCodeText gives a short human-readable label for known close
// codes, used in log lines and the HTTP error page.
var closeCodeText = map[CloseCode]string{
	CloseNormalClosure:      "normal closure",
	CloseGoingAway:          "going away",
	CloseProtocolError:      "protocol error",
	CloseUnsupportedData:    "unsupported data",
	CloseNoStatusRcvd:       "no status received",
	CloseAbnormalClosure:    "abnormal closure",
	CloseInvalidPayloadData: "invalid payload data",
	ClosePolicyViolation:    "policy violation",
	CloseMessageTooBig:      "message too big",
	CloseMissingExtension:   "missing extension",
	CloseInternalServerErr:  "internal server error",
	CloseTLSHandshake:       "TLS handshake failure",
}

// CloseCodeText returns a short description of code, or "unknown
// close code" when code is outside the recognized/application ranges.
func CloseCodeText(code CloseCode) string {
	if t, ok := closeCodeText[code]; ok {
		return t
	}
	if code >= closeAppRangeLow && code <= closeAppRangeHigh {
		return "application close code"
	}
	return "unknown close code"
}

// DecodeClosePayload extracts the code and reason from a Close frame
// payload. A zero-length payload yields (0, "", nil): "no payload" is
// treated as distinct from an explicit code. A payload of
// length 1 is a protocol error: a close code, if present, is always
// two bytes.
func DecodeClosePayload(payload []byte) (CloseCode, string, error) {
	if len(payload) == 0 {
		return 0, "", nil
	}
	if len(payload) == 1 {
		return 0, "", &ProtocolError{Reason: "close payload shorter than a close code"}
	}
	code := CloseCode(binary.BigEndian.Uint16(payload))
	return code, string(payload[2:]), nil
}
