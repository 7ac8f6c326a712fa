package feed

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ── Key normalizer ─────────────────────────────────────────
// Downstream catalogs accept attribute names matching
// ^_?[A-Za-z0-9_]*$ with no leading digit. Every key that reaches an
// output map goes through NormalizeKey first.

// FallbackKey is returned when normalization leaves nothing usable.
const FallbackKey = "attribute"

// NormalizeKey maps an arbitrary text key onto the constrained attribute
// alphabet:
//
//  1. decompose accents and drop anything outside ASCII
//  2. turn every non-alphanumeric character (whitespace included) into "_"
//  3. collapse "_" runs and strip leading/trailing "_"
//  4. prefix with "_" if the result starts with a digit
//  5. fall back to "attribute" when nothing remains
//
// The function is idempotent. Two distinct raw keys can normalize to the
// same output; the last write wins. That collision behavior is inherited
// from the upstream feed contract and intentionally not "fixed" here.
func NormalizeKey(key string) string {
	decomposed := norm.NFKD.String(key)

	var b strings.Builder
	b.Grow(len(decomposed))
	lastUnderscore := false
	for _, r := range decomposed {
		if r > unicode.MaxASCII {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		// Punctuation and whitespace both collapse into a single "_".
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return FallbackKey
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
