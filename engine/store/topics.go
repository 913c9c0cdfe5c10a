package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// UpsertResult tells the caller what UpsertIfChanged did.
type UpsertResult int

const (
	Unchanged UpsertResult = iota
	StoredNew
	StoredUpdated
)

func (r UpsertResult) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case StoredNew:
		return "stored"
	case StoredUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Stored reports whether the row was written.
func (r UpsertResult) Stored() bool { return r == StoredNew || r == StoredUpdated }

// Stats summarises the topic tables.
type Stats struct {
	Topics   int64 `json:"topics"`
	Analyzed int64 `json:"analyzed"`
	Pending  int64 `json:"pending"`
	QAPairs  int64 `json:"qa_pairs"`
}

// Topics is the raw topic table.
type Topics struct {
	db  DB
	now func() time.Time
}

// NewTopics creates a Topics store on db.
func NewTopics(db DB) *Topics {
	return &Topics{db: db, now: time.Now}
}

// UpsertIfChanged writes rt unless the stored checksum already equals
// rt.Checksum. It never retries; on error the topic must be treated as not
// stored.
func (t *Topics) UpsertIfChanged(ctx context.Context, rt domain.RawTopic) (UpsertResult, error) {
	var existing string
	err := t.db.QueryRow(ctx,
		`SELECT checksum FROM forum_topics_raw WHERE topic_id = $1`, rt.TopicID,
	).Scan(&existing)
	switch {
	case err == nil:
		if existing == rt.Checksum {
			return Unchanged, nil
		}
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return Unchanged, dbErr("lookup checksum", err)
	}

	scraped := rt.ScrapedAt
	if scraped.IsZero() {
		scraped = t.now()
	}
	var inserted bool
	err = t.db.QueryRow(ctx, `
		INSERT INTO forum_topics_raw (topic_id, raw_json, checksum, scraped_at, title, post_count, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (topic_id) DO UPDATE SET
			raw_json     = EXCLUDED.raw_json,
			checksum     = EXCLUDED.checksum,
			scraped_at   = EXCLUDED.scraped_at,
			title        = EXCLUDED.title,
			post_count   = EXCLUDED.post_count,
			last_updated = now()
		RETURNING (xmax = 0)`,
		rt.TopicID, rt.RawJSON, rt.Checksum, scraped, rt.Title, rt.PostCount,
	).Scan(&inserted)
	if err != nil {
		return Unchanged, dbErr("upsert topic", err)
	}
	if inserted {
		return StoredNew, nil
	}
	return StoredUpdated, nil
}

// Get loads a stored topic. A missing row yields domain.ErrNotFound.
func (t *Topics) Get(ctx context.Context, topicID int64) (domain.RawTopic, error) {
	rt := domain.RawTopic{TopicID: topicID}
	var raw []byte
	err := t.db.QueryRow(ctx, `
		SELECT raw_json, checksum, scraped_at, title, post_count, last_updated
		FROM forum_topics_raw WHERE topic_id = $1`, topicID,
	).Scan(&raw, &rt.Checksum, &rt.ScrapedAt, &rt.Title, &rt.PostCount, &rt.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return rt, fmt.Errorf("store: topic %d: %w", topicID, domain.ErrNotFound)
	}
	if err != nil {
		return rt, dbErr("get topic", err)
	}
	rt.RawJSON = raw
	return rt, nil
}

// ListUnanalyzed returns up to limit topic ids, newest first, that have at
// least one post and no analysis.
func (t *Topics) ListUnanalyzed(ctx context.Context, limit int) ([]int64, error) {
	rows, err := t.db.Query(ctx, `
		SELECT r.topic_id
		FROM forum_topics_raw r
		LEFT JOIN forum_topic_summaries s ON s.topic_id = r.topic_id
		WHERE s.topic_id IS NULL AND r.post_count > 0
		ORDER BY r.topic_id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, dbErr("list unanalyzed", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, dbErr("scan unanalyzed", err)
	}
	return ids, nil
}

// ListAnalyzed pages through analysed topic ids in ascending order,
// starting after afterID.
func (t *Topics) ListAnalyzed(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := t.db.Query(ctx, `
		SELECT topic_id FROM forum_topic_summaries
		WHERE topic_id > $1
		ORDER BY topic_id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, dbErr("list analyzed", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, dbErr("scan analyzed", err)
	}
	return ids, nil
}

// IsAnalyzed reports whether an analysis exists for topicID.
func (t *Topics) IsAnalyzed(ctx context.Context, topicID int64) (bool, error) {
	var ok bool
	err := t.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM forum_topic_summaries WHERE topic_id = $1)`, topicID,
	).Scan(&ok)
	if err != nil {
		return false, dbErr("is analyzed", err)
	}
	return ok, nil
}

// Stats counts topics, analyses, and Q&A pairs.
func (t *Topics) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := t.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM forum_topics_raw),
			(SELECT count(*) FROM forum_topic_summaries),
			(SELECT count(*) FROM forum_topics_raw r
			 WHERE r.post_count > 0
			   AND NOT EXISTS (SELECT 1 FROM forum_topic_summaries s WHERE s.topic_id = r.topic_id)),
			(SELECT count(*) FROM forum_qa_pairs)`,
	).Scan(&s.Topics, &s.Analyzed, &s.Pending, &s.QAPairs)
	if err != nil {
		return s, dbErr("stats", err)
	}
	return s, nil
}
