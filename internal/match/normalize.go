package match

import (
	"strings"
	"unicode"
)

// Normalize produces the symmetric matching form used for both queries and
// stored name_norm values: lowercase, non-alphanumerics collapsed to single
// spaces, trimmed. Idempotent.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}

	return strings.TrimSpace(b.String())
}
