package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// Memory is an in-process implementation of the Topics, Analyses, and
// Metadata stores with the same observable semantics. It backs tests and
// dry runs.
type Memory struct {
	mu       sync.Mutex
	topics   map[int64]domain.RawTopic
	analyses map[int64]domain.AnalysisRecord
	markers  map[[2]string]Marker
	now      func() time.Time

	// FailReplace, if set, is returned by Replace before anything changes.
	FailReplace error
	// Writes counts successful UpsertIfChanged writes.
	Writes int
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		topics:   make(map[int64]domain.RawTopic),
		analyses: make(map[int64]domain.AnalysisRecord),
		markers:  make(map[[2]string]Marker),
		now:      time.Now,
	}
}

func (m *Memory) UpsertIfChanged(_ context.Context, rt domain.RawTopic) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.topics[rt.TopicID]
	if ok && old.Checksum == rt.Checksum {
		return Unchanged, nil
	}
	if rt.ScrapedAt.IsZero() {
		rt.ScrapedAt = m.now()
	}
	rt.LastUpdated = m.now()
	rt.RawJSON = slices.Clone(rt.RawJSON)
	m.topics[rt.TopicID] = rt
	m.Writes++
	if ok {
		return StoredUpdated, nil
	}
	return StoredNew, nil
}

func (m *Memory) Get(_ context.Context, topicID int64) (domain.RawTopic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.topics[topicID]
	if !ok {
		return domain.RawTopic{TopicID: topicID}, fmt.Errorf("store: topic %d: %w", topicID, domain.ErrNotFound)
	}
	rt.RawJSON = slices.Clone(rt.RawJSON)
	return rt, nil
}

func (m *Memory) ListUnanalyzed(_ context.Context, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, rt := range m.topics {
		if _, done := m.analyses[id]; done || rt.PostCount <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	slices.Reverse(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *Memory) ListAnalyzed(_ context.Context, afterID int64, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id := range m.analyses {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *Memory) IsAnalyzed(_ context.Context, topicID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.analyses[topicID]
	return ok, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Topics: int64(len(m.topics)), Analyzed: int64(len(m.analyses))}
	for id, rt := range m.topics {
		if _, done := m.analyses[id]; !done && rt.PostCount > 0 {
			s.Pending++
		}
	}
	for _, rec := range m.analyses {
		s.QAPairs += int64(len(rec.QAPairs))
	}
	return s, nil
}

func (m *Memory) Replace(_ context.Context, rec domain.AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReplace != nil {
		return dbErr("replace", m.FailReplace)
	}
	if rec.AnalyzedAt.IsZero() {
		rec.AnalyzedAt = m.now()
	}
	rec.QAPairs = slices.Clone(rec.QAPairs)
	rec.Insights = slices.Clone(rec.Insights)
	rec.VoicePatterns.User = MergePhrases(rec.VoicePatterns.User)
	rec.VoicePatterns.Platform = MergePhrases(rec.VoicePatterns.Platform)
	m.analyses[rec.TopicID] = rec
	return nil
}

func (m *Memory) Load(_ context.Context, topicID int64) (*domain.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.analyses[topicID]
	if !ok {
		return nil, fmt.Errorf("store: analysis %d: %w", topicID, domain.ErrNotFound)
	}
	rec.QAPairs = slices.Clone(rec.QAPairs)
	rec.Insights = slices.Clone(rec.Insights)
	return &rec, nil
}

func (m *Memory) Lookup(_ context.Context, source, path string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markers[[2]string{source, path}]
	return mk.Hash, ok, nil
}

func (m *Memory) Record(_ context.Context, mk Marker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[[2]string{mk.Source, mk.Path}] = mk
	return nil
}
