package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateTopic checks that a fetched topic can be stored.
func ValidateTopic(t Topic) error {
	if t.ID <= 0 {
		return NewValidationError("id", strconv.FormatInt(t.ID, 10), ErrInvalidTopic)
	}
	if strings.TrimSpace(t.Title) == "" {
		return NewValidationError("title", t.Title, ErrInvalidTopic)
	}
	return nil
}

// ValidateAnalysis checks model output before it is persisted. Q&A pairs
// are optional, but those present must carry both sides and sequence
// numbers must be unique. Zero sequence numbers are assigned from position.
func ValidateAnalysis(rec *AnalysisRecord) error {
	if rec.TopicID <= 0 {
		return NewValidationError("topic_id", strconv.FormatInt(rec.TopicID, 10), ErrInvalidTopic)
	}
	s := rec.Summary
	if strings.TrimSpace(s.Title) == "" && strings.TrimSpace(s.Summary) == "" && strings.TrimSpace(s.Category) == "" {
		return NewValidationError("topic_summary", "", ErrMissingSummary)
	}
	if s.TotalPosts < 0 {
		return NewValidationError("topic_summary.total_posts", strconv.Itoa(s.TotalPosts), ErrMissingSummary)
	}

	// Sequence is extraction order, so the model's own numbering is
	// replaced by position.
	for i := range rec.QAPairs {
		qa := &rec.QAPairs[i]
		qa.Sequence = i + 1
		field := fmt.Sprintf("qa_pairs[%d]", i)
		if strings.TrimSpace(qa.Question.Content) == "" {
			return NewValidationError(field+".question.content", "", ErrInvalidQAPair)
		}
		if strings.TrimSpace(qa.Response.Content) == "" {
			return NewValidationError(field+".response.content", "", ErrInvalidQAPair)
		}
	}
	return nil
}

// ParseSourceKinds parses a comma-separated list of source kinds. An empty
// string yields nil, meaning every source.
func ParseSourceKinds(s string) ([]SourceKind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []SourceKind
	for _, part := range strings.Split(s, ",") {
		k := SourceKind(strings.ToLower(strings.TrimSpace(part)))
		if !k.Valid() {
			return nil, NewValidationError("source", part, ErrInvalidSource)
		}
		out = append(out, k)
	}
	return out, nil
}
