package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/WessleyAI/forumlens/engine/domain"
)

func rawTopic(id int64, checksum string, posts int) domain.RawTopic {
	return domain.RawTopic{
		TopicID:   id,
		RawJSON:   json.RawMessage(`{"id":1}`),
		Checksum:  checksum,
		Title:     "topic",
		PostCount: posts,
	}
}

func TestMemoryUpsertIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rt := rawTopic(1, "aaaa", 3)

	r1, err := m.UpsertIfChanged(ctx, rt)
	if err != nil || r1 != StoredNew {
		t.Fatalf("first upsert = %v, %v", r1, err)
	}
	before, _ := m.Get(ctx, 1)

	r2, err := m.UpsertIfChanged(ctx, rt)
	if err != nil || r2 != Unchanged {
		t.Fatalf("second upsert = %v, %v", r2, err)
	}
	after, _ := m.Get(ctx, 1)
	if string(before.RawJSON) != string(after.RawJSON) || before.Checksum != after.Checksum || !before.ScrapedAt.Equal(after.ScrapedAt) {
		t.Fatal("stored row changed on Unchanged upsert")
	}
	if m.Writes != 1 {
		t.Fatalf("writes = %d", m.Writes)
	}

	rt.Checksum = "bbbb"
	r3, _ := m.UpsertIfChanged(ctx, rt)
	if r3 != StoredUpdated || !r3.Stored() {
		t.Fatalf("changed checksum upsert = %v", r3)
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	_, err := NewMemory().Get(context.Background(), 9)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryListUnanalyzed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, rt := range []domain.RawTopic{rawTopic(1, "a", 2), rawTopic(2, "b", 0), rawTopic(3, "c", 5), rawTopic(4, "d", 1)} {
		if _, err := m.UpsertIfChanged(ctx, rt); err != nil {
			t.Fatal(err)
		}
	}
	_ = m.Replace(ctx, domain.AnalysisRecord{TopicID: 4, Summary: domain.TopicSummary{Title: "x"}})

	ids, _ := m.ListUnanalyzed(ctx, 10)
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 1 {
		t.Fatalf("ids = %v, want [3 1]", ids)
	}
	ids, _ = m.ListUnanalyzed(ctx, 1)
	if len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("limited ids = %v", ids)
	}

	st, _ := m.Stats(ctx)
	if st.Topics != 4 || st.Analyzed != 1 || st.Pending != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMemoryReplaceNotMerge(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	first := domain.AnalysisRecord{
		TopicID: 5,
		Summary: domain.TopicSummary{Title: "first"},
		QAPairs: []domain.QAPair{
			{Sequence: 1, Question: domain.Question{Content: "q1"}, Response: domain.Response{Content: "a1"}},
			{Sequence: 2, Question: domain.Question{Content: "q2"}, Response: domain.Response{Content: "a2"}},
		},
		Insights: []domain.Insight{{Kind: "bug", Description: "old"}},
	}
	second := domain.AnalysisRecord{
		TopicID: 5,
		Summary: domain.TopicSummary{Title: "second"},
		QAPairs: []domain.QAPair{
			{Sequence: 1, Question: domain.Question{Content: "q3"}, Response: domain.Response{Content: "a3"}},
		},
	}
	if err := m.Replace(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := m.Replace(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, err := m.Load(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary.Title != "second" || len(got.QAPairs) != 1 || got.QAPairs[0].Question.Content != "q3" || len(got.Insights) != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestMemoryReplaceFailureKeepsOldRecord(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Replace(ctx, domain.AnalysisRecord{TopicID: 2, Summary: domain.TopicSummary{Title: "kept"}})
	m.FailReplace = errors.New("disk full")
	err := m.Replace(ctx, domain.AnalysisRecord{TopicID: 2, Summary: domain.TopicSummary{Title: "lost"}})
	if !errors.Is(err, domain.ErrDatabase) {
		t.Fatalf("expected ErrDatabase, got %v", err)
	}
	got, _ := m.Load(ctx, 2)
	if got.Summary.Title != "kept" {
		t.Fatalf("title = %q", got.Summary.Title)
	}
}

func TestMemoryMarkers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, ok, _ := m.Lookup(ctx, "blog", "a.md"); ok {
		t.Fatal("unexpected marker")
	}
	_ = m.Record(ctx, Marker{Source: "blog", Path: "a.md", Hash: "h1"})
	h, ok, _ := m.Lookup(ctx, "blog", "a.md")
	if !ok || h != "h1" {
		t.Fatalf("lookup = %q, %v", h, ok)
	}
}

func TestMergePhrases(t *testing.T) {
	got := MergePhrases([]domain.VoicePhrase{
		{Phrase: "Doesn't work", Frequency: 2},
		{Phrase: " "},
		{Phrase: "doesn't work"},
		{Phrase: "thanks", Category: "gratitude"},
	})
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Phrase != "Doesn't work" || got[0].Frequency != 3 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Frequency != 1 || got[1].Category != "gratitude" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestUpsertResultString(t *testing.T) {
	for r, want := range map[UpsertResult]string{Unchanged: "unchanged", StoredNew: "stored", StoredUpdated: "updated", UpsertResult(9): "unknown"} {
		if r.String() != want {
			t.Errorf("%d: %q", r, r.String())
		}
	}
}
