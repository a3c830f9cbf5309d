package translate

import "strings"

// normalize prepares recognized text for caching and backend submission:
// surrounding whitespace is trimmed, interior whitespace runs collapse to
// single spaces, and runs of the same terminal mark (".", "?", "!") collapse
// to one. Recognizers love to emit "Okay..." and "Okay." variants of the
// same phrase; normalizing keeps those from defeating the cache.
func normalize(text string) string {
	joined := strings.Join(strings.Fields(text), " ")
	if joined == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(joined))
	var prev rune
	for _, r := range joined {
		if r == prev && isTerminal(r) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func isTerminal(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}
