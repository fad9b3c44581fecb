package ailink

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// MaxRawBytes caps the remote payload kept on an Error.
const MaxRawBytes = 16 << 10

// captureRaw copies a remote payload for Error.Raw. Payloads that are not
// valid JSON or exceed MaxRawBytes are dropped, since a truncated document
// would no longer be valid JSON.
func captureRaw(raw []byte) json.RawMessage {
	if len(raw) == 0 || len(raw) > MaxRawBytes || !json.Valid(raw) {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// truncateDetail bounds Error.Detail to max bytes on a single line, cutting
// on a rune boundary.
func truncateDetail(s string, max int) string {
	s = safeOneLine(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func safeOneLine(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}
