// Package chunk splits forum Q&A, blog articles and video transcripts into
// bounded, self-contained texts for embedding. Each source kind has its own
// strategy; every chunk repeats enough context (title, question, section)
// to be understood on its own.
package chunk

import (
	"strconv"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// Source is one of QASource, SectionSource or TranscriptSource.
type Source interface {
	Kind() domain.SourceKind
	isSource()
}

// Chunk splits src with the strategy for its kind. Chunk indexes start at 0
// and are dense.
func Chunk(src Source) []domain.ContentChunk {
	switch s := src.(type) {
	case QASource:
		return chunkQA(s)
	case *QASource:
		return chunkQA(*s)
	case SectionSource:
		return chunkSections(s)
	case *SectionSource:
		return chunkSections(*s)
	case TranscriptSource:
		return chunkTranscript(s)
	case *TranscriptSource:
		return chunkTranscript(*s)
	}
	return nil
}

// ID returns the source_id every chunk of src carries.
func ID(src Source) string {
	switch s := src.(type) {
	case QASource:
		return strconv.FormatInt(s.TopicID, 10)
	case *QASource:
		return strconv.FormatInt(s.TopicID, 10)
	case SectionSource:
		return s.DocID
	case *SectionSource:
		return s.DocID
	case TranscriptSource:
		return s.VideoID
	case *TranscriptSource:
		return s.VideoID
	}
	return ""
}

func (QASource) Kind() domain.SourceKind         { return domain.SourceForum }
func (SectionSource) Kind() domain.SourceKind    { return domain.SourceBlog }
func (TranscriptSource) Kind() domain.SourceKind { return domain.SourceVideo }

func (QASource) isSource()         {}
func (SectionSource) isSource()    {}
func (TranscriptSource) isSource() {}

func cloneMeta(m map[string]string, extra ...string) map[string]string {
	out := make(map[string]string, len(m)+len(extra)/2)
	for k, v := range m {
		out[k] = v
	}
	for i := 0; i+1 < len(extra); i += 2 {
		if extra[i+1] != "" {
			out[extra[i]] = extra[i+1]
		}
	}
	return out
}
