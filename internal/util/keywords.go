package util

import (
	"regexp"
	"strings"
	"unicode"
)

var punctuation = regexp.MustCompile(`[^\w\s-]`)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "of": true,
	"to": true, "and": true, "in": true, "on": true, "for": true, "with": true,
	"it": true, "this": true, "that": true, "be": true, "was": true, "were": true,
}

// Tokenize lowercases, strips punctuation, and drops stopwords — the
// same keyword-normalization shape the teacher's inverted-index engine
// uses, for the retriever's keyword leg.
func Tokenize(text string) []string {
	clean := punctuation.ReplaceAllString(strings.ToLower(text), " ")
	fields := strings.Fields(clean)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// NormalizeKeywords lowercases, strips punctuation (keeping hyphens and
// underscores, as Tokenize does), deduplicates, and caps keywords at n
// entries, preserving first-seen order — the spec's keyword-storage
// invariant.
func NormalizeKeywords(keywords []string, n int) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.Map(func(r rune) rune {
			if unicode.IsPunct(r) && r != '-' && r != '_' {
				return -1
			}
			return r
		}, k)
		lk := strings.ToLower(strings.TrimSpace(k))
		if lk == "" || seen[lk] {
			continue
		}
		seen[lk] = true
		out = append(out, lk)
		if len(out) >= n {
			break
		}
	}
	return out
}
