package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// SystemPrompt instructs the model to return a single JSON object shaped
// like domain.AnalysisRecord.
const SystemPrompt = `You analyse support forum threads for a product team.
Read the thread and return ONE JSON object, with no commentary, of this shape:

{
  "topic_summary": {"title": "", "category": "", "date": "YYYY-MM-DD",
                    "is_announcement": false, "total_posts": 0, "summary": ""},
  "qa_pairs": [{"sequence": 1, "date": "YYYY-MM-DD",
                "question": {"username": "", "content": "", "context": "",
                             "pain_point": "", "user_language": ""},
                "response": {"username": "", "content": "", "response_type": "",
                             "solution_offered": false, "platform_language": ""}}],
  "voice_patterns": {"user_side": [{"phrase": "", "category": "", "frequency": 1}],
                     "platform_side": [{"phrase": "", "category": "", "frequency": 1}]},
  "insights": [{"type": "", "description": "", "severity": "low|medium|high"}],
  "priority_scores": {"urgency": 0.0, "impact": 0.0, "content_opportunity": 0.0}
}

Rules:
- qa_pairs lists every question that received an answer, in thread order.
- user_language and platform_language quote the exact wording used.
- An announcement is a thread started by staff to inform, not to ask.
- Use an empty list when a section has nothing to report.`

type promptPost struct {
	Number  int    `json:"n"`
	Author  string `json:"author"`
	Staff   bool   `json:"staff,omitempty"`
	Date    string `json:"date"`
	ReplyTo int    `json:"reply_to,omitempty"`
	Text    string `json:"text"`
}

type promptTopic struct {
	TopicID    int64        `json:"topic_id"`
	Title      string       `json:"title"`
	CategoryID int          `json:"category_id,omitempty"`
	Tags       []string     `json:"tags,omitempty"`
	Created    string       `json:"created"`
	PostCount  int          `json:"post_count"`
	Posts      []promptPost `json:"posts"`
}

// BuildPrompt renders the user prompt for a cleaned topic. Posts whose
// text cleaned down to nothing are omitted; the text of each post is cut
// at maxPostChars runes when maxPostChars is positive.
func BuildPrompt(t domain.Topic, maxPostChars int) (string, error) {
	pt := promptTopic{
		TopicID:    t.ID,
		Title:      t.Title,
		CategoryID: t.CategoryID,
		Tags:       t.Tags,
		Created:    day(t.CreatedAt),
		PostCount:  t.PostsCount,
	}
	for _, p := range t.Posts {
		text := p.Cooked
		if text == "" {
			continue
		}
		if maxPostChars > 0 {
			if r := []rune(text); len(r) > maxPostChars {
				text = string(r[:maxPostChars]) + " [truncated]"
			}
		}
		pt.Posts = append(pt.Posts, promptPost{
			Number:  p.PostNumber,
			Author:  p.Username,
			Staff:   p.StaffReply,
			Date:    day(p.CreatedAt),
			ReplyTo: p.ReplyToPostNumber,
			Text:    text,
		})
	}
	var b strings.Builder
	b.WriteString("Analyse this forum thread.\n\n")
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pt); err != nil {
		return "", fmt.Errorf("analysis: encode prompt: %w", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// day trims an RFC 3339 timestamp to its date.
func day(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}
