// Package search implements the query service: free-text sanitization,
// paginated search, keyword frequency counts, and aggregations, with an
// optional Redis-backed result cache in front of the document store.
package search

import "strings"

// Maximum raw query lengths, enforced before escaping.
const (
	MaxQueryLength   = 200
	MaxKeywordLength = 100
)

// reserved is the character set escaped in user-supplied query text before it
// reaches any dynamic-text path of the store.
const reserved = `+-=&|!(){}[]^"~*?:\/`

// Sanitize truncates a general search query to MaxQueryLength runes and
// escapes every reserved character with a backslash prefix. All other
// characters, including non-ASCII, pass through verbatim. Empty input yields
// the empty string, which callers treat as "match everything".
func Sanitize(raw string) string {
	return sanitize(raw, MaxQueryLength)
}

// SanitizeKeyword is Sanitize with the tighter keyword-lookup cap of
// MaxKeywordLength runes.
func SanitizeKeyword(raw string) string {
	return sanitize(raw, MaxKeywordLength)
}

func sanitize(raw string, maxLen int) string {
	if raw == "" {
		return ""
	}
	runes := []rune(raw)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	var b strings.Builder
	b.Grow(len(runes) * 2)
	for _, r := range runes {
		if r < 128 && strings.ContainsRune(reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
