package search

import (
	"strings"
	"unicode"
)

// Snippet returns up to n runes of text with whitespace collapsed, starting
// a little before the first query term found in it.
func Snippet(text, query string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}

	start := 0
	lower := strings.ToLower(text)
	for _, term := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if i := strings.Index(lower, term); i >= 0 {
			start = len([]rune(lower[:i])) - n/4
			break
		}
	}
	start = max(0, min(start, len(runes)-n))

	out := string(runes[start : start+n])
	if start > 0 {
		out = "…" + out
	}
	if start+n < len(runes) {
		out += "…"
	}
	return out
}
