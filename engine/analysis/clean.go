package analysis

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strict = bluemonday.StrictPolicy()

	// blockEnd matches tags after which rendered text starts a new line.
	blockEnd   = regexp.MustCompile(`(?i)<br\s*/?>|</(?:p|div|li|h[1-6]|blockquote|pre|tr|aside)>`)
	inlineWS   = regexp.MustCompile(`[ \t\f\v\r\x{00a0}]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// CleanHTML converts a cooked Discourse post body to plain text. Tags are
// dropped, entities decoded, and whitespace collapsed, keeping paragraph
// breaks as single newlines.
func CleanHTML(s string) string {
	if s == "" {
		return ""
	}
	s = blockEnd.ReplaceAllStringFunc(s, func(tag string) string { return tag + "\n" })
	// The policy re-escapes text it keeps, so decode after sanitizing.
	s = html.UnescapeString(strict.Sanitize(s))

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(inlineWS.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
