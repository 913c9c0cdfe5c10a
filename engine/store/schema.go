package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// migrationLockKey serialises concurrent Migrate calls from several
// processes starting at once.
const migrationLockKey int64 = 0x666f72756d6c656e // "forumlen"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS forum_topics_raw (
		topic_id     BIGINT PRIMARY KEY,
		raw_json     JSONB NOT NULL,
		checksum     CHAR(32) NOT NULL,
		scraped_at   TIMESTAMPTZ NOT NULL,
		title        TEXT NOT NULL DEFAULT '',
		post_count   INTEGER NOT NULL DEFAULT 0,
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS forum_topic_summaries (
		topic_id        BIGINT PRIMARY KEY REFERENCES forum_topics_raw(topic_id),
		category        TEXT NOT NULL DEFAULT '',
		title           TEXT NOT NULL DEFAULT '',
		topic_date      TEXT NOT NULL DEFAULT '',
		is_announcement BOOLEAN NOT NULL DEFAULT false,
		total_posts     INTEGER NOT NULL DEFAULT 0,
		summary         TEXT NOT NULL DEFAULT '',
		priority        JSONB,
		model           TEXT NOT NULL DEFAULT '',
		analyzed_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS forum_qa_pairs (
		topic_id          BIGINT NOT NULL REFERENCES forum_topic_summaries(topic_id),
		sequence          INTEGER NOT NULL,
		qa_date           TEXT NOT NULL DEFAULT '',
		q_username        TEXT NOT NULL DEFAULT '',
		q_content         TEXT NOT NULL,
		q_context         TEXT NOT NULL DEFAULT '',
		q_pain_point      TEXT NOT NULL DEFAULT '',
		q_user_language   TEXT NOT NULL DEFAULT '',
		r_username        TEXT NOT NULL DEFAULT '',
		r_content         TEXT NOT NULL,
		r_response_type   TEXT NOT NULL DEFAULT '',
		r_solution        BOOLEAN NOT NULL DEFAULT false,
		r_platform_lang   TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (topic_id, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS forum_voice_patterns (
		topic_id  BIGINT NOT NULL REFERENCES forum_topic_summaries(topic_id),
		side      TEXT NOT NULL CHECK (side IN ('user', 'platform')),
		phrase    TEXT NOT NULL,
		category  TEXT NOT NULL DEFAULT '',
		frequency INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (topic_id, side, phrase)
	)`,
	`CREATE TABLE IF NOT EXISTS forum_insights (
		topic_id    BIGINT NOT NULL REFERENCES forum_topic_summaries(topic_id),
		ordinal     INTEGER NOT NULL,
		kind        TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		severity    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (topic_id, ordinal)
	)`,
	`CREATE TABLE IF NOT EXISTS topic_claim_leases (
		topic_id   BIGINT PRIMARY KEY,
		holder     TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS processing_metadata (
		source       TEXT NOT NULL,
		source_path  TEXT NOT NULL,
		last_marker  TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (source, source_path)
	)`,
	`CREATE INDEX IF NOT EXISTS forum_topics_raw_post_count_idx ON forum_topics_raw (topic_id DESC) WHERE post_count > 0`,
}

// Migrate creates every table the pipeline needs. It is idempotent.
func Migrate(ctx context.Context, db DB) error {
	return withTx(ctx, db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return dbErr("migrate lock", err)
		}
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return dbErr("migrate", err)
			}
		}
		return nil
	})
}
