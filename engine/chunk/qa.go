package chunk

import (
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// DefaultQAMaxChars bounds one Q&A chunk.
const DefaultQAMaxChars = 1500

const continued = "(continued) "

// QASource is the analysed Q&A of one forum topic.
type QASource struct {
	TopicID  int64
	Title    string
	Category string
	Date     time.Time
	Pairs    []domain.QAPair
	// MaxChars bounds a chunk in runes. Default DefaultQAMaxChars.
	MaxChars int
}

// chunkQA emits one chunk per pair. A pair too long for one chunk is split
// at answer sentence boundaries; each continuation starts with
// "(continued)" and repeats the question.
func chunkQA(src QASource) []domain.ContentChunk {
	maxChars := src.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultQAMaxChars
	}
	var header strings.Builder
	header.WriteString("Topic: ")
	header.WriteString(src.Title)
	if src.Category != "" {
		header.WriteString(" | Category: ")
		header.WriteString(src.Category)
	}
	header.WriteString("\n")

	sourceID := strconv.FormatInt(src.TopicID, 10)
	var out []domain.ContentChunk
	emit := func(qa domain.QAPair, text string, part int) {
		out = append(out, domain.ContentChunk{
			Source:      domain.SourceForum,
			SourceID:    sourceID,
			ChunkIndex:  len(out),
			Title:       src.Title,
			Text:        text,
			PublishedAt: src.Date,
			Metadata: cloneMeta(nil,
				"topic_id", sourceID,
				"sequence", strconv.Itoa(qa.Sequence),
				"part", strconv.Itoa(part),
				"category", src.Category,
				"date", qa.Date,
				"asked_by", qa.Question.Username,
				"answered_by", qa.Response.Username,
			),
		})
	}

	for _, qa := range src.Pairs {
		question := qaQuestion(qa)
		answer := strings.TrimSpace(qa.Response.Content)
		full := header.String() + question + "\nAnswer: " + answer
		if runeLen(full) <= maxChars {
			emit(qa, full, 0)
			continue
		}

		prefix := header.String() + question + "\nAnswer: "
		// The longest prefix, on continuations, bounds the answer budget;
		// keep at least a third of the chunk for answer text.
		budget := maxChars - runeLen(continued+prefix)
		if budget < maxChars/3 {
			budget = maxChars / 3
		}
		for i, part := range pack(splitSentences(answer), " ", budget) {
			text := prefix + part
			if i > 0 {
				text = continued + text
			}
			emit(qa, text, i)
		}
	}
	return out
}

func qaQuestion(qa domain.QAPair) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(qa.Question.Content))
	if c := strings.TrimSpace(qa.Question.Context); c != "" {
		b.WriteString("\nContext: ")
		b.WriteString(c)
	}
	return b.String()
}
