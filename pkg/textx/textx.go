// Package textx holds the text helpers shared by the fact-check pipeline
// (claim tokenization, stop-word filtering) and the message persister
// (content scrubbing).
package textx

import (
	"strings"
	"unicode"
)

// SanitizeText drops control characters other than tab, newline and CR, and
// trims surrounding whitespace. Postgres text columns reject NUL, and model
// output occasionally carries stray control bytes.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Words splits s into lowercase alphanumeric tokens.
func Words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "had": {},
	"has": {}, "have": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"not": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"their": {}, "there": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "which": {}, "will": {}, "with": {},
}

// IsStopWord reports whether w is a common English stop word.
func IsStopWord(w string) bool {
	_, ok := stopWords[strings.ToLower(w)]
	return ok
}

// SignificantWords returns the non-stop-word tokens of s, up to max tokens.
// A max of zero or less means no cap.
func SignificantWords(s string, max int) []string {
	var out []string
	for _, w := range Words(s) {
		if IsStopWord(w) {
			continue
		}
		out = append(out, w)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
