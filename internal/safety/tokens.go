package safety

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "your": true, "all": true, "any": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true, "has": true,
	"have": true, "this": true, "that": true, "with": true, "from": true, "they": true,
	"will": true, "would": true, "there": true, "their": true, "what": true, "about": true,
	"which": true, "when": true, "make": true, "like": true, "just": true, "know": true,
	"into": true, "than": true, "then": true, "them": true, "these": true, "some": true,
	"could": true, "been": true, "were": true, "how": true, "its": true, "also": true,
	"does": true, "did": true, "doing": true, "here": true, "why": true, "who": true,
	"yes": true, "really": true, "very": true, "much": true, "more": true, "thanks": true,
	"thank": true, "please": true, "get": true, "got": true, "too": true, "yeah": true,
}

// words lowercases text and splits it into letter/digit runs. Apostrophes are
// dropped so "it's" and "its" compare equal.
func words(text string) []string {
	text = strings.ToLower(strings.NewReplacer("'", "", "’", "").Replace(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range words(text) {
		set[w] = struct{}{}
	}
	return set
}

// meaningfulTokens keeps non-stopwords with at least three letters.
func meaningfulTokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range words(text) {
		if utf8.RuneCountInString(w) < 3 || stopwords[w] {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// overlap is |a∩b| / max(|a|,|b|).
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for t := range a {
		if _, ok := b[t]; ok {
			common++
		}
	}
	return float64(common) / float64(max(len(a), len(b)))
}
