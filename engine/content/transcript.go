package content

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/WessleyAI/forumlens/engine/chunk"
	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/ingest"
)

// Transcript is the on-disk form of a video transcript.
type Transcript struct {
	VideoID     string          `json:"video_id"`
	Title       string          `json:"title"`
	Channel     string          `json:"channel,omitempty"`
	URL         string          `json:"url,omitempty"`
	PublishedAt time.Time       `json:"published_at,omitempty"`
	Segments    []chunk.Segment `json:"segments"`
}

// Source converts t for the chunker.
func (t Transcript) Source() chunk.TranscriptSource {
	u := t.URL
	if u == "" && t.VideoID != "" {
		u = "https://www.youtube.com/watch?v=" + t.VideoID
	}
	return chunk.TranscriptSource{
		VideoID:     t.VideoID,
		Title:       t.Title,
		Channel:     t.Channel,
		URL:         u,
		PublishedAt: t.PublishedAt,
		Segments:    t.Segments,
	}
}

// SaveTranscript writes t to dir/<video_id>.json.
func SaveTranscript(dir string, t Transcript) (string, error) {
	if t.VideoID == "" {
		return "", fmt.Errorf("content: transcript without video id: %w", domain.ErrParse)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("content: %w", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("content: encode transcript %s: %w", t.VideoID, err)
	}
	p := filepath.Join(dir, t.VideoID+".json")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("content: write %s: %w", p, err)
	}
	return p, nil
}

// LoadTranscripts reads every .json transcript under dir.
func LoadTranscripts(dir string) ([]ingest.Item, []domain.Failure, error) {
	var (
		items    []ingest.Item
		failures []domain.Failure
	)
	paths, err := listFiles(dir, ".json")
	if err != nil {
		return nil, nil, err
	}
	for _, p := range paths {
		rel, _ := filepath.Rel(dir, p)
		rel = filepath.ToSlash(rel)
		data, err := os.ReadFile(p)
		if err != nil {
			failures = append(failures, domain.Failure{ID: rel, Stage: "read", Reason: err.Error()})
			continue
		}
		var t Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			failures = append(failures, domain.Failure{ID: rel, Stage: "parse", Reason: err.Error()})
			continue
		}
		if t.VideoID == "" || len(t.Segments) == 0 {
			failures = append(failures, domain.Failure{ID: rel, Stage: "parse", Reason: "missing video_id or segments"})
			continue
		}
		items = append(items, ingest.Item{
			Path:   rel,
			Hash:   ingest.Hash(data),
			Source: t.Source(),
		})
	}
	return items, failures, nil
}
