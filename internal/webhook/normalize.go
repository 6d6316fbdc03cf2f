package webhook

import (
	"strings"
	"unicode"
)

// MinSearchableLength is the shortest normalized content accepted in search
// contexts. Ingestion itself has no minimum beyond non-emptiness.
const MinSearchableLength = 4

// NormalizeContent canonicalizes message text before storage: CR/LF variants
// collapse to LF, control characters (other than newline and tab) are
// stripped, and surrounding whitespace is trimmed.
func NormalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// SearchNormalize prepares content for use in search contexts. It returns
// false when the normalized text is too short to be a useful search term.
func SearchNormalize(s string) (string, bool) {
	normalized := NormalizeContent(s)
	if len(normalized) < MinSearchableLength {
		return "", false
	}
	return normalized, true
}
