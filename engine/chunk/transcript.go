package chunk

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// DefaultTargetDuration is how much video one transcript chunk covers.
const DefaultTargetDuration = 60 * time.Second

// Segment is one timed caption line. Start and Duration are in seconds.
type Segment struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

// End returns the second at which the segment ends.
func (s Segment) End() float64 { return s.Start + s.Duration }

// TranscriptSource is the timed transcript of one video.
type TranscriptSource struct {
	VideoID     string
	Title       string
	Channel     string
	URL         string
	PublishedAt time.Time
	Segments    []Segment
	// TargetDuration closes a chunk once reached. Default 60s.
	TargetDuration time.Duration
}

// chunkTranscript groups consecutive segments. A group closes when it spans
// the target duration, or when it spans at least half of it and the last
// segment ends a sentence.
func chunkTranscript(src TranscriptSource) []domain.ContentChunk {
	target := src.TargetDuration
	if target <= 0 {
		target = DefaultTargetDuration
	}
	full, half := target.Seconds(), target.Seconds()/2

	var (
		out   []domain.ContentChunk
		group []string
		start float64
		end   float64
	)
	flush := func() {
		if len(group) == 0 {
			return
		}
		text := fmt.Sprintf("Video: %s [%s - %s]\n%s", src.Title, clock(start), clock(end), strings.Join(group, " "))
		out = append(out, domain.ContentChunk{
			Source:      domain.SourceVideo,
			SourceID:    src.VideoID,
			ChunkIndex:  len(out),
			Title:       src.Title,
			Text:        text,
			PublishedAt: src.PublishedAt,
			Metadata: cloneMeta(nil,
				"start", strconv.FormatFloat(start, 'f', -1, 64),
				"end", strconv.FormatFloat(end, 'f', -1, 64),
				"channel", src.Channel,
				"url", src.URL,
			),
		})
		group = group[:0]
	}

	for _, seg := range src.Segments {
		t := strings.TrimSpace(seg.Text)
		if t == "" {
			continue
		}
		if len(group) == 0 {
			start = seg.Start
		}
		group = append(group, t)
		end = seg.End()

		elapsed := end - start
		if elapsed >= full || (elapsed >= half && endsSentence(t)) {
			flush()
		}
	}
	flush()
	return out
}

func endsSentence(s string) bool {
	s = strings.TrimRight(s, `"')]`)
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

// clock formats seconds as m:ss, or h:mm:ss past an hour.
func clock(sec float64) string {
	d := time.Duration(sec) * time.Second
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
