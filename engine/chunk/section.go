package chunk

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/forumlens/engine/domain"
)

const (
	DefaultSectionMinChars = 100
	DefaultSectionMaxChars = 2000
)

// SectionSource is a markdown document, typically a blog article.
type SectionSource struct {
	DocID       string
	Title       string
	Category    string
	Markdown    string
	PublishedAt time.Time
	Metadata    map[string]string
	// MinChars drops shorter sections. Default DefaultSectionMinChars.
	MinChars int
	// MaxChars bounds a chunk in runes. Default DefaultSectionMaxChars.
	MaxChars int
}

var (
	headerLine = regexp.MustCompile(`^(#{1,3})\s+(.+?)\s*#*\s*$`)
	paraBreak  = regexp.MustCompile(`\n\s*\n`)
)

type section struct {
	heading string
	body    string
}

// splitSections cuts markdown at #, ## and ### headers. Text before the
// first header forms a section without heading. Header-like lines inside
// fenced code are ignored.
func splitSections(md string) []section {
	var (
		out     []section
		cur     section
		body    strings.Builder
		inFence bool
	)
	flush := func() {
		cur.body = strings.TrimSpace(body.String())
		if cur.heading != "" || cur.body != "" {
			out = append(out, cur)
		}
		body.Reset()
	}
	for _, line := range strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence {
			if m := headerLine.FindStringSubmatch(line); m != nil {
				flush()
				cur = section{heading: m[2]}
				continue
			}
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return out
}

// chunkSections emits one chunk per section, prefixed with the document
// title and category and the section heading. Short sections are dropped;
// long ones are split at paragraph breaks with the prefix repeated.
func chunkSections(src SectionSource) []domain.ContentChunk {
	minChars, maxChars := src.MinChars, src.MaxChars
	if minChars <= 0 {
		minChars = DefaultSectionMinChars
	}
	if maxChars <= 0 {
		maxChars = DefaultSectionMaxChars
	}
	docHeader := "Title: " + src.Title
	if src.Category != "" {
		docHeader += " | Category: " + src.Category
	}

	var out []domain.ContentChunk
	for si, sec := range splitSections(src.Markdown) {
		if runeLen(sec.body) < minChars {
			continue
		}
		prefix := docHeader + "\n"
		if sec.heading != "" {
			prefix += "Section: " + sec.heading + "\n"
		}
		prefix += "\n"

		parts := []string{sec.body}
		if runeLen(prefix)+runeLen(sec.body) > maxChars {
			budget := maxChars - runeLen(prefix)
			if budget < maxChars/3 {
				budget = maxChars / 3
			}
			var paras []string
			for _, p := range paraBreak.Split(sec.body, -1) {
				p = strings.TrimSpace(p)
				if p == "" {
					continue
				}
				if runeLen(p) > budget {
					paras = append(paras, pack(splitSentences(p), " ", budget)...)
					continue
				}
				paras = append(paras, p)
			}
			parts = pack(paras, "\n\n", budget)
		}

		for pi, part := range parts {
			out = append(out, domain.ContentChunk{
				Source:      domain.SourceBlog,
				SourceID:    src.DocID,
				ChunkIndex:  len(out),
				Title:       src.Title,
				Text:        prefix + part,
				PublishedAt: src.PublishedAt,
				Metadata: cloneMeta(src.Metadata,
					"category", src.Category,
					"section", sec.heading,
					"section_index", strconv.Itoa(si),
					"part", strconv.Itoa(pi),
				),
			})
		}
	}
	return out
}
