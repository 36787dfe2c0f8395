package wshandshake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptKnownVector(t *testing.T) {
	// The RFC 6455 §1.3 worked example.
	got := Accept("dGhlIHNhbXBsZSBub25jZQ==")
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", got)
}

func TestParseValidUpgrade(t *testing.T) {
	raw := "GET /chat HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	req, key, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "/chat", req.Path)
	assert.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", key)
}

func TestParseRejectsMissingUpgrade(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n"
	_, _, err := Parse([]byte(raw))
	assert.Error(t, err)
}

func TestParseRejectsBadVersion(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 8\r\n\r\n"
	_, _, err := Parse([]byte(raw))
	assert.Error(t, err)
}

func TestFindHeaderEnd(t *testing.T) {
	assert.Equal(t, -1, FindHeaderEnd([]byte("GET / HTTP/1.1\r\nHost: x\r\n")))
	assert.Equal(t, len("GET / HTTP/1.1\r\n\r\n"), FindHeaderEnd([]byte("GET / HTTP/1.1\r\n\r\n")))
}

func TestRenderErrorPageContainsStatus(t *testing.T) {
	page := RenderErrorPage(413, "headers too large", "harbor/1.0")
	assert.Contains(t, string(page), "413")
	assert.Contains(t, string(page), "harbor/1.0")
}
