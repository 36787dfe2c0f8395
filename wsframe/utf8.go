package wsframe

import "unicode/utf8"

// ValidUTF8 reports whether b is well-formed UTF-8. Text message
// payloads and non-empty Close reasons must satisfy this; a violation
// triggers Close(1007).
func ValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}
