package textutil

import (
	"strings"
	"unicode"
)

// SanitizeToken lowercases value and keeps ASCII letters, digits, '-', '_'
// and '.'; every other rune becomes '_'. Leading and trailing separators are
// trimmed. An empty result yields fallback.
func SanitizeToken(value, fallback string) string {
	value = strings.TrimSpace(value)
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-.")
	if out == "" {
		return fallback
	}
	return out
}
