// Package retrieval turns documents into TF-IDF vectors and answers
// nearest-neighbour queries over their pairwise similarity.
package retrieval

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize decomposes s, drops combining marks, lowercases, and trims
// surrounding whitespace, so "  Amélie " and "amelie" compare equal.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// Transformers keep state, so each call builds its own chain.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(strings.ToLower(out))
}

// Tokenize splits a document into terms of two or more letters or digits.
// Underscores count as word characters.
func Tokenize(doc string) []string {
	var terms []string
	start := -1
	runesInTerm := 0
	flush := func(end int) {
		if start >= 0 && runesInTerm >= 2 {
			terms = append(terms, doc[start:end])
		}
		start = -1
		runesInTerm = 0
	}
	for i, r := range doc {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if start < 0 {
				start = i
			}
			runesInTerm++
			continue
		}
		flush(i)
	}
	flush(len(doc))
	return terms
}
