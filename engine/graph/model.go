// Package graph projects analysed forum topics into a Neo4j graph: topics,
// the users who asked and answered, extracted Q&A pairs and insights. The
// projection is derived data; PostgreSQL stays the system of record.
package graph

// Statement is one parameterised Cypher query.
type Statement struct {
	Cypher string
	Params map[string]any
}

// InsightRef is an insight with the topic it came from.
type InsightRef struct {
	TopicID     int64  `json:"topic_id"`
	Title       string `json:"title"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
}

// UserActivity counts how often a user asked and answered.
type UserActivity struct {
	Username string `json:"username"`
	Asked    int64  `json:"asked"`
	Answered int64  `json:"answered"`
}
