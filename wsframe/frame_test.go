package wsframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		masked  bool
	}{
		{"empty unmasked", nil, false},
		{"short text unmasked", []byte("Hello"), false},
		{"short text masked", []byte("Hello"), true},
		{"126-boundary", make([]byte, 126), true},
		{"16-bit boundary", make([]byte, 65536), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key := [4]byte{0x11, 0x22, 0x33, 0x44}
			encoded, err := Encode(true, OpBinary, tc.payload, tc.masked, key)
			require.NoError(t, err)

			f, status, n, err := Decode(encoded, RequireMasked(tc.masked))
			require.NoError(t, err)
			require.Equal(t, Ok, status)
			assert.Equal(t, len(encoded), n)
			assert.True(t, f.Fin)
			assert.Equal(t, OpBinary, f.Opcode)
			assert.Equal(t, tc.payload, f.Payload)
		})
	}
}

func TestDecodeNeedsMore(t *testing.T) {
	full, err := Encode(true, OpText, []byte("hello world"), true, [4]byte{1, 2, 3, 4})
	require.NoError(t, err)

	for n := 0; n < len(full); n++ {
		_, status, consumed, err := Decode(full[:n], RequireMasked(true))
		require.NoError(t, err)
		assert.Equal(t, NeedMore, status)
		assert.Zero(t, consumed)
	}
}

func TestDecodeRejectsUnmaskedFromClient(t *testing.T) {
	encoded, err := Encode(true, OpText, []byte("hi"), false, [4]byte{})
	require.NoError(t, err)

	_, status, _, err := Decode(encoded, RequireMasked(true))
	assert.Equal(t, Invalid, status)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestDecodeRejectsFragmentedControlFrame(t *testing.T) {
	buf := []byte{0x09, 0x00} // fin=0, opcode=Ping, unmasked, len=0
	_, status, _, err := Decode(buf, RequireMasked(false))
	assert.Equal(t, Invalid, status)
	assert.Error(t, err)
}

func TestDecodeRejectsOversizedControlFrame(t *testing.T) {
	payload := make([]byte, 126)
	buf := []byte{0x89, 126} // fin=1, opcode=Ping
	var ext [2]byte
	ext[0] = 0
	ext[1] = 126
	buf = append(buf, ext[:]...)
	buf = append(buf, payload...)
	_, status, _, err := Decode(buf, RequireMasked(false))
	assert.Equal(t, Invalid, status)
	assert.Error(t, err)
}

func TestDecodeRejectsReservedBits(t *testing.T) {
	buf := []byte{0x80 | 0x40 | byte(OpText), 0x00}
	_, status, _, err := Decode(buf, RequireMasked(false))
	assert.Equal(t, Invalid, status)
	assert.Error(t, err)
}

func TestCloseCodeValidation(t *testing.T) {
	assert.True(t, ValidToSend(CloseNormalClosure))
	assert.True(t, ValidReceived(CloseNoStatusRcvd))
	assert.False(t, ValidToSend(CloseNoStatusRcvd))
	assert.True(t, ValidReceived(3500))
	assert.False(t, ValidReceived(2999))
	assert.False(t, ValidReceived(5000))
}

func TestClosePayloadRoundTrip(t *testing.T) {
	payload := EncodeClosePayload(CloseGoingAway, "bye")
	code, reason, err := DecodeClosePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, CloseGoingAway, code)
	assert.Equal(t, "bye", reason)
}

func TestDecodeClosePayloadTooShort(t *testing.T) {
	_, _, err := DecodeClosePayload([]byte{0x03})
	assert.Error(t, err)
}
