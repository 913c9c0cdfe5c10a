package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// Analyses stores structured analysis records across the summary, Q&A,
// voice-pattern, and insight tables.
type Analyses struct {
	db  DB
	now func() time.Time
}

// NewAnalyses creates an Analyses store on db.
func NewAnalyses(db DB) *Analyses {
	return &Analyses{db: db, now: time.Now}
}

// Replace deletes every row of the previous analysis of rec.TopicID and
// inserts rec, all in one transaction. Readers see either the old record
// or the new one.
func (a *Analyses) Replace(ctx context.Context, rec domain.AnalysisRecord) error {
	analyzedAt := rec.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = a.now()
	}
	return withTx(ctx, a.db, func(tx pgx.Tx) error {
		for _, table := range []string{"forum_insights", "forum_voice_patterns", "forum_qa_pairs", "forum_topic_summaries"} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE topic_id = $1`, rec.TopicID); err != nil {
				return dbErr("delete "+table, err)
			}
		}

		s := rec.Summary
		if _, err := tx.Exec(ctx, `
			INSERT INTO forum_topic_summaries
				(topic_id, category, title, topic_date, is_announcement, total_posts, summary, priority, model, analyzed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.TopicID, s.Category, s.Title, s.Date, s.IsAnnouncement, s.TotalPosts, s.Summary,
			rec.PriorityScores, rec.Model, analyzedAt,
		); err != nil {
			return dbErr("insert summary", err)
		}

		batch := &pgx.Batch{}
		for _, qa := range rec.QAPairs {
			batch.Queue(`
				INSERT INTO forum_qa_pairs
					(topic_id, sequence, qa_date, q_username, q_content, q_context, q_pain_point, q_user_language,
					 r_username, r_content, r_response_type, r_solution, r_platform_lang)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				rec.TopicID, qa.Sequence, qa.Date,
				qa.Question.Username, qa.Question.Content, qa.Question.Context, qa.Question.PainPoint, qa.Question.UserLanguage,
				qa.Response.Username, qa.Response.Content, qa.Response.ResponseType, bool(qa.Response.SolutionOffered), qa.Response.PlatformLanguage,
			)
		}
		for _, vp := range MergePhrases(rec.VoicePatterns.User) {
			queuePhrase(batch, rec.TopicID, "user", vp)
		}
		for _, vp := range MergePhrases(rec.VoicePatterns.Platform) {
			queuePhrase(batch, rec.TopicID, "platform", vp)
		}
		for i, in := range rec.Insights {
			batch.Queue(`
				INSERT INTO forum_insights (topic_id, ordinal, kind, description, severity)
				VALUES ($1, $2, $3, $4, $5)`,
				rec.TopicID, i+1, in.Kind, in.Description, in.Severity,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return dbErr("insert analysis rows", err)
		}
		return nil
	})
}

func queuePhrase(b *pgx.Batch, topicID int64, side string, vp domain.VoicePhrase) {
	b.Queue(`
		INSERT INTO forum_voice_patterns (topic_id, side, phrase, category, frequency)
		VALUES ($1, $2, $3, $4, $5)`,
		topicID, side, vp.Phrase, vp.Category, vp.Frequency,
	)
}

// MergePhrases folds case-insensitive duplicate phrases into one entry,
// summing frequencies, and drops blank phrases. Order of first appearance
// is kept. A zero frequency counts as one occurrence.
func MergePhrases(in []domain.VoicePhrase) []domain.VoicePhrase {
	idx := make(map[string]int, len(in))
	var out []domain.VoicePhrase
	for _, vp := range in {
		phrase := strings.TrimSpace(vp.Phrase)
		if phrase == "" {
			continue
		}
		freq := vp.Frequency
		if freq <= 0 {
			freq = 1
		}
		key := strings.ToLower(phrase)
		if i, ok := idx[key]; ok {
			out[i].Frequency += freq
			continue
		}
		idx[key] = len(out)
		out = append(out, domain.VoicePhrase{Phrase: phrase, Category: vp.Category, Frequency: freq})
	}
	return out
}

// Load reads the current analysis of topicID. A topic without analysis
// yields domain.ErrNotFound.
func (a *Analyses) Load(ctx context.Context, topicID int64) (*domain.AnalysisRecord, error) {
	rec := &domain.AnalysisRecord{TopicID: topicID}
	s := &rec.Summary
	err := a.db.QueryRow(ctx, `
		SELECT category, title, topic_date, is_announcement, total_posts, summary, priority, model, analyzed_at
		FROM forum_topic_summaries WHERE topic_id = $1`, topicID,
	).Scan(&s.Category, &s.Title, &s.Date, &s.IsAnnouncement, &s.TotalPosts, &s.Summary,
		&rec.PriorityScores, &rec.Model, &rec.AnalyzedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("store: analysis %d: %w", topicID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("load summary", err)
	}

	rows, err := a.db.Query(ctx, `
		SELECT sequence, qa_date, q_username, q_content, q_context, q_pain_point, q_user_language,
		       r_username, r_content, r_response_type, r_solution, r_platform_lang
		FROM forum_qa_pairs WHERE topic_id = $1 ORDER BY sequence`, topicID)
	if err != nil {
		return nil, dbErr("load qa pairs", err)
	}
	rec.QAPairs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.QAPair, error) {
		var qa domain.QAPair
		var solution bool
		err := row.Scan(&qa.Sequence, &qa.Date,
			&qa.Question.Username, &qa.Question.Content, &qa.Question.Context, &qa.Question.PainPoint, &qa.Question.UserLanguage,
			&qa.Response.Username, &qa.Response.Content, &qa.Response.ResponseType, &solution, &qa.Response.PlatformLanguage)
		qa.Response.SolutionOffered = domain.FlexBool(solution)
		return qa, err
	})
	if err != nil {
		return nil, dbErr("scan qa pairs", err)
	}

	rows, err = a.db.Query(ctx, `
		SELECT side, phrase, category, frequency
		FROM forum_voice_patterns WHERE topic_id = $1 ORDER BY side, frequency DESC, phrase`, topicID)
	if err != nil {
		return nil, dbErr("load voice patterns", err)
	}
	var side string
	var vp domain.VoicePhrase
	_, err = pgx.ForEachRow(rows, []any{&side, &vp.Phrase, &vp.Category, &vp.Frequency}, func() error {
		if side == "platform" {
			rec.VoicePatterns.Platform = append(rec.VoicePatterns.Platform, vp)
		} else {
			rec.VoicePatterns.User = append(rec.VoicePatterns.User, vp)
		}
		return nil
	})
	if err != nil {
		return nil, dbErr("scan voice patterns", err)
	}

	rows, err = a.db.Query(ctx, `
		SELECT kind, description, severity
		FROM forum_insights WHERE topic_id = $1 ORDER BY ordinal`, topicID)
	if err != nil {
		return nil, dbErr("load insights", err)
	}
	rec.Insights, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Insight, error) {
		var in domain.Insight
		err := row.Scan(&in.Kind, &in.Description, &in.Severity)
		return in, err
	})
	if err != nil {
		return nil, dbErr("scan insights", err)
	}
	return rec, nil
}
