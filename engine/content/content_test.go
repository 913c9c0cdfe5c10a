package content

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/forumlens/engine/chunk"
	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/pkg/resilience"
)

const article = `---
title: Fixing sync conflicts
slug: fixing-sync-conflicts
category: how-to
date: 2024-03-05
tags: [sync, mobile]
---
# Fixing sync conflicts

Intro paragraph.
`

func TestSplitFrontMatter(t *testing.T) {
	fm, body, err := SplitFrontMatter([]byte(article))
	if err != nil {
		t.Fatal(err)
	}
	if fm.Title != "Fixing sync conflicts" || fm.Category != "how-to" || len(fm.Tags) != 2 {
		t.Fatalf("front matter = %+v", fm)
	}
	if !strings.HasPrefix(body, "# Fixing sync conflicts") {
		t.Fatalf("body = %q", body)
	}

	fm, body, err = SplitFrontMatter([]byte("just text"))
	if err != nil || fm.Title != "" || body != "just text" {
		t.Fatalf("plain doc: fm=%+v body=%q err=%v", fm, body, err)
	}

	if _, _, err := SplitFrontMatter([]byte("---\ntitle: x\nno end")); !errors.Is(err, domain.ErrParse) {
		t.Fatalf("unterminated: %v", err)
	}
	if _, _, err := SplitFrontMatter([]byte("---\ntitle: [x\n---\nbody")); !errors.Is(err, domain.ErrParse) {
		t.Fatalf("bad yaml: %v", err)
	}
}

func TestArticle(t *testing.T) {
	src, _, err := Article("guides/sync.md", []byte(article))
	if err != nil {
		t.Fatal(err)
	}
	if src.DocID != "fixing-sync-conflicts" || src.Category != "how-to" {
		t.Fatalf("src = %+v", src)
	}
	if !src.PublishedAt.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("published = %v", src.PublishedAt)
	}
	if src.Metadata["tags"] != "sync,mobile" || src.Metadata["path"] != "guides/sync.md" {
		t.Fatalf("meta = %v", src.Metadata)
	}

	src, _, err = Article("notes/offline.md", []byte("# Offline mode\n\nbody"))
	if err != nil {
		t.Fatal(err)
	}
	if src.DocID != "notes/offline" || src.Title != "Offline mode" {
		t.Fatalf("fallbacks: %+v", src)
	}
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadBlog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", article)
	writeFile(t, dir, "sub/b.markdown", "# B\n\nbody")
	writeFile(t, dir, "draft.md", "---\ntitle: wip\ndraft: true\n---\nbody")
	writeFile(t, dir, "broken.md", "---\ntitle: x\n")
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, ".git/c.md", "# hidden")

	items, failures, err := LoadBlog(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
	if items[0].Path != "a.md" || items[1].Path != "sub/b.markdown" {
		t.Fatalf("paths = %s, %s", items[0].Path, items[1].Path)
	}
	if items[0].Hash == "" || items[0].Source.Kind() != domain.SourceBlog {
		t.Fatalf("item = %+v", items[0])
	}
	if len(failures) != 1 || failures[0].ID != "broken.md" || failures[0].Stage != "parse" {
		t.Fatalf("failures = %+v", failures)
	}

	if _, _, err := LoadBlog(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestSaveAndLoadTranscripts(t *testing.T) {
	dir := t.TempDir()
	tr := Transcript{
		VideoID: "abc123",
		Title:   "Sync walkthrough",
		Segments: []chunk.Segment{
			{Start: 0, Duration: 4, Text: "Open settings."},
			{Start: 4, Duration: 5, Text: "Tap sync."},
		},
	}
	p, err := SaveTranscript(dir, tr)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(p) != "abc123.json" {
		t.Fatalf("path = %s", p)
	}
	writeFile(t, dir, "bad.json", "{")
	writeFile(t, dir, "empty.json", `{"video_id":"x","segments":[]}`)

	items, failures, err := LoadTranscripts(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || len(failures) != 2 {
		t.Fatalf("items=%d failures=%+v", len(items), failures)
	}
	src, ok := items[0].Source.(chunk.TranscriptSource)
	if !ok || src.VideoID != "abc123" || len(src.Segments) != 2 {
		t.Fatalf("source = %+v", items[0].Source)
	}
	if src.URL != "https://www.youtube.com/watch?v=abc123" {
		t.Fatalf("url = %s", src.URL)
	}

	if _, err := SaveTranscript(dir, Transcript{}); !errors.Is(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestParseTimedText(t *testing.T) {
	srv3 := `<?xml version="1.0" encoding="utf-8" ?><timedtext format="3"><body>
<p t="0" d="2500">[Music]</p>
<p t="2500" d="3000">it&#39;s   time</p>
<p t="5500" d="1000"><s>to </s><s>sync</s></p>
</body></timedtext>`
	segs, err := ParseTimedText([]byte(srv3))
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 {
		t.Fatalf("segments = %+v", segs)
	}
	if segs[0].Text != "it's time" || segs[0].Start != 2.5 || segs[0].Duration != 3 {
		t.Fatalf("seg0 = %+v", segs[0])
	}
	if segs[1].Text != "to sync" {
		t.Fatalf("seg1 = %+v", segs[1])
	}

	legacy := `<transcript><text start="1.5" dur="2.25">hello &amp;amp; welcome</text></transcript>`
	segs, err = ParseTimedText([]byte(legacy))
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0].Start != 1.5 || segs[0].Text != "hello & welcome" {
		t.Fatalf("legacy = %+v", segs)
	}

	if _, err := ParseTimedText([]byte("<html/>")); !errors.Is(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestCleanCaption(t *testing.T) {
	tests := []struct{ in, want string }{
		{"[Music] hello  world [Applause]", "hello world"},
		{"it&#39;s a &amp; b", "it's a & b"},
		{"  lots   of   spaces  ", "lots of spaces"},
	}
	for _, tt := range tests {
		if got := CleanCaption(tt.in); got != tt.want {
			t.Errorf("CleanCaption(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func testYouTube(srv *httptest.Server) *YouTube {
	y := NewYouTube("key", resilience.Every(time.Millisecond))
	y.playerURL = srv.URL + "/player"
	y.apiBase = srv.URL + "/v3"
	y.client = srv.Client()
	return y
}

func TestYouTubeTranscript(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/player":
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"videoId":"vid1"`) {
				t.Errorf("player body = %s", body)
			}
			io.WriteString(w, `{"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[
				{"baseUrl":"`+srv.URL+`/tt?lang=de","languageCode":"de"},
				{"baseUrl":"`+srv.URL+`/tt?lang=en-asr","languageCode":"en","kind":"asr"},
				{"baseUrl":"`+srv.URL+`/tt?lang=en","languageCode":"en"}]}}}`)
		case "/tt":
			if r.URL.Query().Get("lang") != "en" || r.URL.Query().Get("fmt") != "srv3" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			io.WriteString(w, `<timedtext><body><p t="0" d="1000">Manual captions.</p></body></timedtext>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tr, err := testYouTube(srv).Transcript(context.Background(), VideoMeta{VideoID: "vid1", Title: "T"}).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.Segments) != 1 || tr.Segments[0].Text != "Manual captions." || tr.Title != "T" {
		t.Fatalf("transcript = %+v", tr)
	}
}

func TestYouTubeNoCaptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"captions":{}}`)
	}))
	defer srv.Close()
	_, err := testYouTube(srv).Transcript(context.Background(), VideoMeta{VideoID: "x"}).Unwrap()
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChannelVideos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/v3/search" || q.Get("channelId") != "UC1" || q.Get("key") != "key" || q.Get("maxResults") != "5" {
			t.Errorf("request = %s", r.URL)
		}
		io.WriteString(w, `{"items":[
			{"id":{"videoId":"a"},"snippet":{"title":"Tom &amp; Jerry","channelTitle":"C","publishedAt":"2024-01-02T03:04:05Z"}},
			{"id":{},"snippet":{"title":"playlist"}}]}`)
	}))
	defer srv.Close()

	vids, err := testYouTube(srv).ChannelVideos(context.Background(), "UC1", 5).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if len(vids) != 1 || vids[0].Title != "Tom & Jerry" || vids[0].PublishedAt.Year() != 2024 {
		t.Fatalf("videos = %+v", vids)
	}
}

func TestChannelVideosErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	if _, err := testYouTube(srv).ChannelVideos(context.Background(), "UC1", 5).Unwrap(); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	y := testYouTube(srv)
	y.apiKey = ""
	if _, err := y.ChannelVideos(context.Background(), "UC1", 5).Unwrap(); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
