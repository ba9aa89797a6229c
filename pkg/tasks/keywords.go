package tasks

import (
	"strings"
	"unicode"
)

// stopWords are dropped during keyword extraction. Keep this list small:
// similarity matching works on the distinctive tokens, not on coverage.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "into": {},
	"this": {}, "that": {}, "are": {}, "was": {}, "were": {}, "been": {},
	"add": {}, "fix": {}, "update": {}, "implement": {}, "create": {},
	"make": {}, "change": {}, "use": {}, "new": {}, "all": {}, "any": {},
	"please": {}, "should": {}, "would": {}, "could": {}, "need": {},
	"page": {}, "file": {}, "code": {},
}

// ExtractKeywords lowercases a free-text description, strips punctuation,
// and drops stop-words and tokens shorter than three runes.
func ExtractKeywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len([]rune(tok)) < 3 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

// Jaccard returns |a∩b| / |a∪b| for two keyword sets. Two empty sets have
// similarity zero, not one: an empty description should never match anything.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
