package news

import (
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText applies NFKC, lower-cases, drops control characters and
// collapses whitespace runs to one space.
func NormalizeText(input string) string {
	folded := strings.ToLower(norm.NFKC.String(input))
	trimmed := strings.TrimSpace(folded)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// Fingerprint is the blake2b-256 digest of the normalized text. Equal
// fingerprints mean identical content after normalization.
func Fingerprint(text string) []byte {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil
	}
	sum := blake2b.Sum256([]byte(normalized))
	return sum[:]
}
