package wsframe

import "crypto/rand"

// randomMaskKey draws a cryptographically random 4-byte masking key
// (used by Encode when a masked frame is requested with a zero key; the
// server itself never masks).
func randomMaskKey() [4]byte {
	var key [4]byte
	_, _ = rand.Read(key[:])
	return key
}
