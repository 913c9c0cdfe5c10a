package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// splitSentences splits text into sentences using punctuation and newlines.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' && r != '\n' {
			continue
		}
		// End of sentence only when followed by whitespace or end of text.
		if r == '\n' || i == len(runes)-1 || unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// pack groups pieces, joined by sep, into strings of at most budget runes.
// A piece longer than budget is broken at word boundaries, and a single
// word longer than budget stands alone.
func pack(pieces []string, sep string, budget int) []string {
	if budget < 1 {
		budget = 1
	}
	var (
		out []string
		buf strings.Builder
		n   int
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
			n = 0
		}
	}
	add := func(p string, psep string) {
		pl := runeLen(p)
		if n > 0 && n+runeLen(psep)+pl > budget {
			flush()
		}
		if n > 0 {
			buf.WriteString(psep)
			n += runeLen(psep)
		}
		buf.WriteString(p)
		n += pl
	}
	for _, p := range pieces {
		if runeLen(p) <= budget {
			add(p, sep)
			continue
		}
		flush()
		for _, w := range strings.Fields(p) {
			add(w, " ")
		}
		flush()
	}
	flush()
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
