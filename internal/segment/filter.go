package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// defaultDisfluencies are filler tokens that never form a meaningful
// utterance on their own.
var defaultDisfluencies = []string{"um", "uh", "hmm", "mhm", "er", "ah"}

// filter decides whether flushed text is worth sending downstream.
type filter struct {
	minRunes int
	stoplist []string
}

// newFilter builds a filter from the minimum rune count and extra filler
// words appended to the default stoplist. Extra words are lowercased; empty
// entries are dropped.
func newFilter(minRunes int, extra []string) *filter {
	list := make([]string, 0, len(defaultDisfluencies)+len(extra))
	list = append(list, defaultDisfluencies...)
	for _, w := range extra {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			list = append(list, w)
		}
	}
	return &filter{minRunes: minRunes, stoplist: list}
}

// discardReason returns a non-empty reason when text should be dropped:
// "too_short" for text under the minimum rune count after trimming, or
// "disfluency" when every token is filler. Returns "" when the text should
// be translated.
func (f *filter) discardReason(text string) string {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < f.minRunes {
		return "too_short"
	}
	if f.fillerOnly(trimmed) {
		return "disfluency"
	}
	return ""
}

// fillerOnly reports whether every token in text is a stoplist word or bare
// punctuation. Tokens of three or more runes also match stoplist words at
// Levenshtein distance 1, catching recognizer variants like "uhm" or "ahh".
func (f *filter) fillerOnly(text string) bool {
	for tok := range strings.FieldsSeq(strings.ToLower(text)) {
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if tok == "" {
			continue
		}
		if !f.isFiller(tok) {
			return false
		}
	}
	return true
}

func (f *filter) isFiller(tok string) bool {
	fuzzy := utf8.RuneCountInString(tok) >= 3
	for _, d := range f.stoplist {
		if tok == d {
			return true
		}
		if fuzzy && matchr.Levenshtein(tok, d) <= 1 {
			return true
		}
	}
	return false
}
