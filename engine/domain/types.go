// Package domain defines the core types shared by the scraping, analysis,
// and retrieval stages, along with the error taxonomy and validation gates
// applied at pipeline entry points.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Post is one post of a forum topic as returned by Discourse. Cooked holds
// the rendered HTML body.
type Post struct {
	ID                int64  `json:"id"`
	PostNumber        int    `json:"post_number"`
	Username          string `json:"username"`
	CreatedAt         string `json:"created_at"`
	Cooked            string `json:"cooked"`
	ReplyToPostNumber int    `json:"reply_to_post_number,omitempty"`
	StaffReply        bool   `json:"staff,omitempty"`
}

// Topic is a normalized forum thread: metadata plus its ordered posts.
type Topic struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Slug         string   `json:"slug"`
	CategoryID   int      `json:"category_id"`
	PostsCount   int      `json:"posts_count"`
	CreatedAt    string   `json:"created_at"`
	LastPostedAt string   `json:"last_posted_at"`
	Tags         []string `json:"tags,omitempty"`
	Posts        []Post   `json:"posts"`
}

// RawTopic is the persisted, unmodified scrape of a topic.
type RawTopic struct {
	TopicID     int64
	RawJSON     json.RawMessage
	Checksum    string
	ScrapedAt   time.Time
	Title       string
	PostCount   int
	LastUpdated time.Time
}

// TopicSummary is the one-per-topic header of an analysis.
type TopicSummary struct {
	Title          string `json:"title"`
	Category       string `json:"category"`
	Date           string `json:"date"`
	IsAnnouncement bool   `json:"is_announcement"`
	TotalPosts     int    `json:"total_posts"`
	Summary        string `json:"summary"`
}

// Question is the user side of a Q&A pair.
type Question struct {
	Username     string `json:"username"`
	Content      string `json:"content"`
	Context      string `json:"context,omitempty"`
	PainPoint    string `json:"pain_point,omitempty"`
	UserLanguage string `json:"user_language,omitempty"`
}

// Response is the platform (or community) side of a Q&A pair.
type Response struct {
	Username         string   `json:"username"`
	Content          string   `json:"content"`
	ResponseType     string   `json:"response_type,omitempty"`
	SolutionOffered  FlexBool `json:"solution_offered"`
	PlatformLanguage string   `json:"platform_language,omitempty"`
}

// QAPair is an extracted question and its answer.
type QAPair struct {
	Sequence int      `json:"sequence"`
	Date     string   `json:"date,omitempty"`
	Question Question `json:"question"`
	Response Response `json:"response"`
}

// VoicePhrase is a recurring phrase attributed to one side of the
// conversation.
type VoicePhrase struct {
	Phrase    string `json:"phrase"`
	Category  string `json:"category,omitempty"`
	Frequency int    `json:"frequency,omitempty"`
}

// VoicePatterns groups phrases by speaker side.
type VoicePatterns struct {
	User     []VoicePhrase `json:"user_side"`
	Platform []VoicePhrase `json:"platform_side"`
}

// Insight is a free-form finding about a topic.
type Insight struct {
	Kind        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
}

// AnalysisRecord is the full structured analysis of one topic. It is
// persisted as a unit: a new record replaces every row of the previous one.
type AnalysisRecord struct {
	TopicID        int64              `json:"topic_id"`
	Summary        TopicSummary       `json:"topic_summary"`
	QAPairs        []QAPair           `json:"qa_pairs"`
	VoicePatterns  VoicePatterns      `json:"voice_patterns"`
	Insights       []Insight          `json:"insights"`
	PriorityScores map[string]float64 `json:"priority_scores,omitempty"`
	Model          string             `json:"-"`
	AnalyzedAt     time.Time          `json:"-"`
}

// SourceKind names where a content chunk came from.
type SourceKind string

const (
	SourceForum SourceKind = "forum"
	SourceBlog  SourceKind = "blog"
	SourceVideo SourceKind = "video"
)

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceForum, SourceBlog, SourceVideo:
		return true
	}
	return false
}

// ContentChunk is an embeddable, self-contained unit of text.
type ContentChunk struct {
	Source      SourceKind        `json:"source"`
	SourceID    string            `json:"source_id"`
	ChunkIndex  int               `json:"chunk_index"`
	Title       string            `json:"title"`
	Text        string            `json:"text"`
	PublishedAt time.Time         `json:"published_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Failure records why a single item was not processed.
type Failure struct {
	ID     string `json:"id"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// FlexBool decodes JSON booleans as well as the string and number forms
// language models tend to produce ("yes", "true", 1).
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = FlexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "y", "1":
			*b = true
		default:
			*b = false
		}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*b = n != 0
		return nil
	}
	return fmt.Errorf("domain: cannot decode %s as bool", data)
}
