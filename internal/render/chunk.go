package render

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// chunkText splits text into pieces of at most maxRunes runes for synthesis.
// Text that fits is returned as a single chunk. Longer text is cut at
// sentence boundaries first, packing as many whole sentences into a chunk as
// fit. A sentence longer than maxRunes is packed word by word, and a single
// word longer than maxRunes is cut every maxRunes runes, each slice forming a
// chunk of its own. Returns nil for empty or all-whitespace text.
func chunkText(text string, maxRunes int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxRunes <= 0 {
		maxRunes = DefaultMaxChunkRunes
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curRunes := 0

	flush := func() {
		if curRunes > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curRunes = 0
		}
	}
	// add appends piece to the chunk being built, starting a new chunk when
	// piece (plus a joining space) would push it past maxRunes.
	add := func(piece string) {
		n := utf8.RuneCountInString(piece)
		if curRunes > 0 && curRunes+1+n > maxRunes {
			flush()
		}
		if curRunes > 0 {
			cur.WriteByte(' ')
			curRunes++
		}
		cur.WriteString(piece)
		curRunes += n
	}

	for _, sentence := range splitSentences(text) {
		if utf8.RuneCountInString(sentence) <= maxRunes {
			add(sentence)
			continue
		}
		for _, word := range strings.Fields(sentence) {
			if utf8.RuneCountInString(word) <= maxRunes {
				add(word)
				continue
			}
			flush()
			chunks = append(chunks, hardCut(word, maxRunes)...)
		}
	}
	flush()
	return chunks
}

// splitSentences breaks text at sentence-final punctuation. A boundary is a
// run of '.', '?' or '!' followed by whitespace or the end of the text; the
// run stays with the sentence it closes. This is a heuristic and will split
// after abbreviations like "p.m.", which only costs an extra pause point.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); {
		if !isSentenceMark(runes[i]) {
			i++
			continue
		}
		j := i + 1
		for j < len(runes) && isSentenceMark(runes[j]) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i = j
			continue
		}
		if s := strings.TrimSpace(string(runes[start:j])); s != "" {
			sentences = append(sentences, s)
		}
		start = j
		i = j
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// hardCut slices word into pieces of exactly maxRunes runes (the last piece
// may be shorter). Only called for words that exceed maxRunes on their own.
func hardCut(word string, maxRunes int) []string {
	runes := []rune(word)
	var cuts []string
	for len(runes) > maxRunes {
		cuts = append(cuts, string(runes[:maxRunes]))
		runes = runes[maxRunes:]
	}
	if len(runes) > 0 {
		cuts = append(cuts, string(runes))
	}
	return cuts
}

func isSentenceMark(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}
