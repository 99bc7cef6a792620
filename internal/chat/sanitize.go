package chat

import (
	"strings"
	"unicode/utf8"
)

// Field length caps, counted in runes.
const (
	MaxUsernameLength = 30
	MaxRoomLength     = 40
	MaxTextLength     = 8000
	MaxQuestionLength = 240
	MaxOptionLength   = 90
	MaxFileNameLength = 120
	MaxMIMELength     = 100
	MaxModeLength     = 20
	MaxPollIDLength   = 60
)

const (
	DefaultUsername = "Guest"
	DefaultRoom     = "general"
)

// Sanitize normalizes CRLF to LF, strips NUL bytes, trims surrounding
// whitespace and truncates to limit runes. Surrounding whitespace never
// counts against the limit. A non-positive limit disables truncation.
// Applying Sanitize to its own output returns the same string.
func Sanitize(value string, limit int) string {
	clean := strings.ReplaceAll(value, "\x00", "")
	for strings.Contains(clean, "\r\n") {
		clean = strings.ReplaceAll(clean, "\r\n", "\n")
	}
	clean = truncate(strings.TrimSpace(clean), limit)
	return strings.TrimSpace(clean)
}

// sanitizeOr returns the sanitized value, or fallback when nothing survives.
func sanitizeOr(value string, limit int, fallback string) string {
	if clean := Sanitize(value, limit); clean != "" {
		return clean
	}
	return fallback
}

func truncate(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	n := 0
	for i := range value {
		if n == limit {
			return value[:i]
		}
		n++
	}
	return value
}
