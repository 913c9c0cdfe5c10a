package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// Runner executes Cypher. Write runs every statement in one transaction.
type Runner interface {
	Write(ctx context.Context, stmts []Statement) error
	Read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error)
}

// Store reads and writes the insight graph.
type Store struct {
	run Runner
	log *slog.Logger
	now func() time.Time
}

// New creates a Store on a Neo4j driver.
func New(driver neo4j.DriverWithContext, log *slog.Logger) *Store {
	return NewWithRunner(&driverRunner{driver: driver}, log)
}

// NewWithRunner creates a Store on any Runner.
func NewWithRunner(r Runner, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{run: r, log: log.With("component", "graph"), now: time.Now}
}

var schema = []Statement{
	{Cypher: `CREATE CONSTRAINT topic_id IF NOT EXISTS FOR (t:Topic) REQUIRE t.id IS UNIQUE`},
	{Cypher: `CREATE CONSTRAINT user_name IF NOT EXISTS FOR (u:User) REQUIRE u.username IS UNIQUE`},
}

// EnsureSchema creates the uniqueness constraints. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, st := range schema {
		if err := s.run.Write(ctx, []Statement{st}); err != nil {
			return fmt.Errorf("graph: schema: %w: %w", domain.ErrDatabase, err)
		}
	}
	return nil
}

const (
	mergeTopic = `MERGE (t:Topic {id: $id})
SET t.title = $title, t.category = $category, t.date = $date, t.summary = $summary,
    t.is_announcement = $is_announcement, t.total_posts = $total_posts, t.projected_at = $projected_at`

	dropDerived = `MATCH (:Topic {id: $id})-[:HAS_QA|HAS_INSIGHT]->(n) DETACH DELETE n`

	createPairs = `MATCH (t:Topic {id: $id})
UNWIND $pairs AS p
CREATE (q:QA {topic_id: $id, sequence: p.sequence, question: p.question, answer: p.answer,
              pain_point: p.pain_point, response_type: p.response_type, solution_offered: p.solution_offered})
CREATE (t)-[:HAS_QA]->(q)
FOREACH (_ IN CASE WHEN p.asked_by <> '' THEN [1] ELSE [] END |
  MERGE (u:User {username: p.asked_by}) MERGE (u)-[:ASKED]->(q))
FOREACH (_ IN CASE WHEN p.answered_by <> '' THEN [1] ELSE [] END |
  MERGE (u:User {username: p.answered_by}) MERGE (u)-[:ANSWERED]->(q))`

	createInsights = `MATCH (t:Topic {id: $id})
UNWIND $insights AS i
CREATE (n:Insight {topic_id: $id, ordinal: i.ordinal, kind: i.kind, description: i.description, severity: i.severity})
CREATE (t)-[:HAS_INSIGHT]->(n)`
)

// Project writes rec into the graph, replacing the Q&A and insight nodes
// of any previous projection of the same topic. It matches the shape of an
// analysis after-save hook.
func (s *Store) Project(ctx context.Context, rec *domain.AnalysisRecord) error {
	id := rec.TopicID
	stmts := []Statement{
		{Cypher: mergeTopic, Params: map[string]any{
			"id":              id,
			"title":           rec.Summary.Title,
			"category":        rec.Summary.Category,
			"date":            rec.Summary.Date,
			"summary":         rec.Summary.Summary,
			"is_announcement": rec.Summary.IsAnnouncement,
			"total_posts":     int64(rec.Summary.TotalPosts),
			"projected_at":    s.now().UTC(),
		}},
		{Cypher: dropDerived, Params: map[string]any{"id": id}},
	}
	if len(rec.QAPairs) > 0 {
		pairs := make([]map[string]any, 0, len(rec.QAPairs))
		for _, qa := range rec.QAPairs {
			pairs = append(pairs, map[string]any{
				"sequence":         int64(qa.Sequence),
				"question":         qa.Question.Content,
				"answer":           qa.Response.Content,
				"pain_point":       qa.Question.PainPoint,
				"response_type":    qa.Response.ResponseType,
				"solution_offered": bool(qa.Response.SolutionOffered),
				"asked_by":         strings.TrimSpace(qa.Question.Username),
				"answered_by":      strings.TrimSpace(qa.Response.Username),
			})
		}
		stmts = append(stmts, Statement{Cypher: createPairs, Params: map[string]any{"id": id, "pairs": pairs}})
	}
	if len(rec.Insights) > 0 {
		ins := make([]map[string]any, 0, len(rec.Insights))
		for i, in := range rec.Insights {
			ins = append(ins, map[string]any{
				"ordinal":     int64(i),
				"kind":        in.Kind,
				"description": in.Description,
				"severity":    in.Severity,
			})
		}
		stmts = append(stmts, Statement{Cypher: createInsights, Params: map[string]any{"id": id, "insights": ins}})
	}

	if err := s.run.Write(ctx, stmts); err != nil {
		return fmt.Errorf("graph: project topic %d: %w: %w", id, domain.ErrDatabase, err)
	}
	s.log.Debug("topic projected", "topic_id", id, "qa_pairs", len(rec.QAPairs), "insights", len(rec.Insights))
	return nil
}

const relatedInsights = `MATCH (t:Topic)-[:HAS_INSIGHT]->(i:Insight)
WHERE t.id IN $ids
RETURN t.id AS topic_id, t.title AS title, i.kind AS kind, i.description AS description, i.severity AS severity
ORDER BY t.id, i.ordinal
LIMIT $limit`

// RelatedInsights returns the insights recorded for the given topics.
func (s *Store) RelatedInsights(ctx context.Context, topicIDs []int64, limit int) ([]InsightRef, error) {
	if len(topicIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	recs, err := s.run.Read(ctx, relatedInsights, map[string]any{"ids": topicIDs, "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: related insights: %w: %w", domain.ErrDatabase, err)
	}
	out := make([]InsightRef, 0, len(recs))
	for _, r := range recs {
		out = append(out, InsightRef{
			TopicID:     intValue(r, "topic_id"),
			Title:       strValue(r, "title"),
			Kind:        strValue(r, "kind"),
			Description: strValue(r, "description"),
			Severity:    strValue(r, "severity"),
		})
	}
	return out, nil
}

const topUsers = `MATCH (u:User)
OPTIONAL MATCH (u)-[a:ASKED]->()
WITH u, count(a) AS asked
OPTIONAL MATCH (u)-[r:ANSWERED]->()
WITH u, asked, count(r) AS answered
RETURN u.username AS username, asked, answered
ORDER BY asked + answered DESC, username
LIMIT $limit`

// TopUsers returns the most active users across projected topics.
func (s *Store) TopUsers(ctx context.Context, limit int) ([]UserActivity, error) {
	if limit <= 0 {
		limit = 10
	}
	recs, err := s.run.Read(ctx, topUsers, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: top users: %w: %w", domain.ErrDatabase, err)
	}
	out := make([]UserActivity, 0, len(recs))
	for _, r := range recs {
		out = append(out, UserActivity{
			Username: strValue(r, "username"),
			Asked:    intValue(r, "asked"),
			Answered: intValue(r, "answered"),
		})
	}
	return out, nil
}

func strValue(r *neo4j.Record, key string) string {
	v, _, err := neo4j.GetRecordValue[string](r, key)
	if err != nil {
		return ""
	}
	return v
}

func intValue(r *neo4j.Record, key string) int64 {
	v, _, err := neo4j.GetRecordValue[int64](r, key)
	if err != nil {
		return 0
	}
	return v
}
