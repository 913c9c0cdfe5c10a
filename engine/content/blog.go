// Package content loads blog articles and video transcripts from disk and
// fetches transcripts from YouTube, producing items for the ingestor.
package content

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/forumlens/engine/chunk"
	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/ingest"
)

// FrontMatter is the YAML header of a blog article.
type FrontMatter struct {
	Title    string   `yaml:"title"`
	Slug     string   `yaml:"slug"`
	Category string   `yaml:"category"`
	Date     string   `yaml:"date"`
	Tags     []string `yaml:"tags"`
	URL      string   `yaml:"url"`
	Draft    bool     `yaml:"draft"`
}

var fence = []byte("---")

// SplitFrontMatter separates a leading "---" delimited YAML block from the
// markdown body. A document without one has an empty front matter.
func SplitFrontMatter(doc []byte) (FrontMatter, string, error) {
	var fm FrontMatter
	doc = bytes.TrimPrefix(doc, []byte("\xef\xbb\xbf"))
	doc = bytes.ReplaceAll(doc, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(doc, fence) {
		return fm, string(doc), nil
	}
	rest := doc[len(fence):]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return fm, "", fmt.Errorf("content: unterminated front matter: %w", domain.ErrParse)
	}
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return fm, "", fmt.Errorf("content: front matter: %w: %w", domain.ErrParse, err)
	}
	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}
	return fm, string(body), nil
}

// Article parses one markdown document. rel is its path relative to the
// blog root and names the document when the front matter has no slug.
func Article(rel string, doc []byte) (chunk.SectionSource, FrontMatter, error) {
	fm, body, err := SplitFrontMatter(doc)
	if err != nil {
		return chunk.SectionSource{}, fm, err
	}
	id := fm.Slug
	if id == "" {
		id = strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
	}
	title := fm.Title
	if title == "" {
		title = firstHeading(body)
	}
	if title == "" {
		title = filepath.Base(id)
	}
	meta := map[string]string{"path": filepath.ToSlash(rel)}
	if fm.URL != "" {
		meta["url"] = fm.URL
	}
	if len(fm.Tags) > 0 {
		meta["tags"] = strings.Join(fm.Tags, ",")
	}
	return chunk.SectionSource{
		DocID:       id,
		Title:       title,
		Category:    fm.Category,
		Markdown:    body,
		PublishedAt: parseTime(fm.Date),
		Metadata:    meta,
	}, fm, nil
}

// LoadBlog reads every .md file under dir. Drafts are left out. Files that
// cannot be read or parsed are reported as failures; the walk continues.
func LoadBlog(dir string) ([]ingest.Item, []domain.Failure, error) {
	var (
		items    []ingest.Item
		failures []domain.Failure
	)
	paths, err := listFiles(dir, ".md", ".markdown")
	if err != nil {
		return nil, nil, err
	}
	for _, p := range paths {
		rel, _ := filepath.Rel(dir, p)
		doc, err := os.ReadFile(p)
		if err != nil {
			failures = append(failures, domain.Failure{ID: rel, Stage: "read", Reason: err.Error()})
			continue
		}
		src, fm, err := Article(rel, doc)
		if err != nil {
			failures = append(failures, domain.Failure{ID: rel, Stage: "parse", Reason: err.Error()})
			continue
		}
		if fm.Draft {
			continue
		}
		items = append(items, ingest.Item{
			Path:   filepath.ToSlash(rel),
			Hash:   ingest.Hash(doc),
			Source: src,
		})
	}
	return items, failures, nil
}

func listFiles(dir string, exts ...string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		for _, e := range exts {
			if ext == e {
				out = append(out, p)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("content: walk %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

func firstHeading(md string) string {
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "January 2, 2006"}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
