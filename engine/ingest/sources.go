package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/WessleyAI/forumlens/engine/chunk"
	"github.com/WessleyAI/forumlens/engine/domain"
)

// AnalysisReader pages through analysed topics.
type AnalysisReader interface {
	ListAnalyzed(ctx context.Context, afterID int64, limit int) ([]int64, error)
	Load(ctx context.Context, topicID int64) (*domain.AnalysisRecord, error)
}

// ForumPath is the marker path of an analysed topic.
func ForumPath(topicID int64) string {
	return "topic/" + strconv.FormatInt(topicID, 10)
}

// ForumItem turns an analysis record into an ingest item. The hash covers
// the whole record, so a re-analysis with different output re-ingests.
func ForumItem(rec *domain.AnalysisRecord) (Item, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return Item{}, fmt.Errorf("ingest: encode topic %d: %w", rec.TopicID, err)
	}
	return Item{
		Path:   ForumPath(rec.TopicID),
		Hash:   Hash(body),
		Marker: strconv.FormatInt(rec.TopicID, 10),
		Source: chunk.QASource{
			TopicID:  rec.TopicID,
			Title:    rec.Summary.Title,
			Category: rec.Summary.Category,
			Date:     parseDate(rec.Summary.Date),
			Pairs:    rec.QAPairs,
		},
	}, nil
}

// ForumItems loads up to limit analysed topics with ids above afterID. next
// is the highest id returned, or afterID when nothing was.
func ForumItems(ctx context.Context, r AnalysisReader, afterID int64, limit int) (items []Item, next int64, err error) {
	ids, err := r.ListAnalyzed(ctx, afterID, limit)
	if err != nil {
		return nil, afterID, err
	}
	next = afterID
	for _, id := range ids {
		rec, err := r.Load(ctx, id)
		if err != nil {
			return items, next, err
		}
		it, err := ForumItem(rec)
		if err != nil {
			return items, next, err
		}
		items = append(items, it)
		next = id
	}
	return items, next, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"}

func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t
		}
	}
	return time.Time{}
}
