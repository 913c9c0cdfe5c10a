package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/forumlens/engine/analysis"
	"github.com/WessleyAI/forumlens/engine/checksum"
	"github.com/WessleyAI/forumlens/engine/claim"
	"github.com/WessleyAI/forumlens/engine/discourse"
	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/store"
)

const garminRaw = `{
  "id": 7, "title": "Garmin sync broken", "posts_count": 3,
  "last_posted_at": "2024-03-02T10:00:00Z",
  "post_stream": {"posts": [
    {"id": 1, "post_number": 1, "username": "ann", "created_at": "2024-03-01T09:00:00Z", "cooked": "<p>My Garmin won&#39;t sync.</p>"},
    {"id": 2, "post_number": 2, "username": "sam", "created_at": "2024-03-01T10:00:00Z", "cooked": "<p>Re-pair the watch.</p>"},
    {"id": 3, "post_number": 3, "username": "ann", "created_at": "2024-03-02T10:00:00Z", "cooked": "<p>Worked, thanks!</p>"}
  ]}
}`

const oneQA = "```json\n" + `{
  "topic_summary": {"title": "Garmin sync broken", "category": "integrations"},
  "qa_pairs": [{"question": {"username": "ann", "content": "Garmin won't sync"},
                "response": {"username": "sam", "content": "Re-pair the watch"}}]
}` + "\n```"

type stubLLM struct{ out string }

func (s stubLLM) Complete(context.Context, string, string, float64) (string, error) {
	return s.out, nil
}

// countingAnalyzer marks topics analysed in the store, failing on request.
type countingAnalyzer struct {
	mem   *store.Memory
	fail  map[int64]error
	mu    sync.Mutex
	calls map[int64]int
	delay time.Duration
}

func (a *countingAnalyzer) Analyze(ctx context.Context, id int64) (*domain.AnalysisRecord, error) {
	a.mu.Lock()
	if a.calls == nil {
		a.calls = make(map[int64]int)
	}
	a.calls[id]++
	a.mu.Unlock()
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if err := a.fail[id]; err != nil {
		return nil, err
	}
	rec := domain.AnalysisRecord{TopicID: id, QAPairs: make([]domain.QAPair, 2)}
	if err := a.mem.Replace(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (a *countingAnalyzer) count(id int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[id]
}

func seeded(t *testing.T, ids ...int64) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	for _, id := range ids {
		seed(t, m, id)
	}
	return m
}

func seed(t *testing.T, m *store.Memory, id int64) {
	t.Helper()
	_, err := m.UpsertIfChanged(context.Background(), domain.RawTopic{
		TopicID: id, RawJSON: json.RawMessage(`{}`), Checksum: fmt.Sprint(id), PostCount: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestEndToEndAnalysis(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	topic, err := discourse.DecodeTopic([]byte(garminRaw))
	if err != nil {
		t.Fatal(err)
	}
	res, err := mem.UpsertIfChanged(ctx, domain.RawTopic{
		TopicID: topic.ID, RawJSON: json.RawMessage(garminRaw), Checksum: checksum.Compute(topic),
		Title: topic.Title, PostCount: topic.PostsCount,
	})
	if err != nil || res != store.StoredNew {
		t.Fatalf("upsert = %v, %v", res, err)
	}

	claims := claim.NewMemory()
	coord := claim.NewCoordinator(mem, claims, claim.Options{})
	pipe := analysis.New(mem, stubLLM{out: oneQA}, mem, analysis.Options{Model: "stub"})
	sum := New(coord, pipe, Options{Workers: 2, Once: true}).Run(ctx)

	if sum.Analyzed != 1 || sum.Failed != 0 || sum.QAPairs != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	rec, err := mem.Load(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.QAPairs) != 1 || rec.Summary.TotalPosts != 3 {
		t.Fatalf("qa=%d total_posts=%d", len(rec.QAPairs), rec.Summary.TotalPosts)
	}
	if claims.Held() != 0 {
		t.Fatalf("claims still held: %d", claims.Held())
	}
}

func TestPoolAnalysesEachTopicOnce(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5, 6}
	mem := seeded(t, ids...)
	an := &countingAnalyzer{mem: mem, delay: 5 * time.Millisecond}
	coord := claim.NewCoordinator(mem, claim.NewMemory(), claim.Options{})

	sum := New(coord, an, Options{Workers: 3, Once: true}).Run(context.Background())
	if sum.Analyzed != len(ids) || sum.QAPairs != 2*len(ids) {
		t.Fatalf("summary = %+v", sum)
	}
	for _, id := range ids {
		if n := an.count(id); n != 1 {
			t.Errorf("topic %d analysed %d times", id, n)
		}
	}
}

func TestPoolSkipsFailedTopicsWithinRun(t *testing.T) {
	mem := seeded(t, 1, 2, 3)
	an := &countingAnalyzer{mem: mem, fail: map[int64]error{
		2: domain.NewStageError(2, domain.StageParse, domain.ErrParse),
	}}
	coord := claim.NewCoordinator(mem, claim.NewMemory(), claim.Options{})

	sum := New(coord, an, Options{Once: true}).Run(context.Background())
	if sum.Analyzed != 2 || sum.Failed != 1 || sum.ByStage["parse"] != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if an.count(2) != 1 {
		t.Fatalf("failed topic retried %d times", an.count(2))
	}
	if len(sum.Failures) != 1 || sum.Failures[0].ID != "2" {
		t.Fatalf("failures = %+v", sum.Failures)
	}
}

func TestPoolMaxTopics(t *testing.T) {
	mem := seeded(t, 1, 2, 3, 4, 5)
	an := &countingAnalyzer{mem: mem}
	claims := claim.NewMemory()
	coord := claim.NewCoordinator(mem, claims, claim.Options{})

	sum := New(coord, an, Options{MaxTopics: 2, IdleWait: time.Hour}).Run(context.Background())
	if sum.Analyzed != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if claims.Held() != 0 {
		t.Fatal("claim over the limit was not released")
	}
}

func TestPoolWakesAndStopsOnCancel(t *testing.T) {
	mem := seeded(t)
	an := &countingAnalyzer{mem: mem}
	coord := claim.NewCoordinator(mem, claim.NewMemory(), claim.Options{})
	wake := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Summary)
	go func() { done <- New(coord, an, Options{IdleWait: time.Hour, Wake: wake}).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	seed(t, mem, 9)
	wake <- struct{}{}
	deadline := time.Now().Add(2 * time.Second)
	for an.count(9) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case sum := <-done:
		if sum.Analyzed != 1 {
			t.Fatalf("summary = %+v", sum)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop on cancel")
	}
}

// expiringClaimer hands out holds that report themselves lost at once.
type expiringClaimer struct {
	mu       sync.Mutex
	released int
}

type expiringHold struct {
	c    *expiringClaimer
	lost chan struct{}
}

func (c *expiringClaimer) TryClaim(context.Context, int64) (claim.Hold, bool, error) {
	h := &expiringHold{c: c, lost: make(chan struct{})}
	close(h.lost)
	return h, true, nil
}

func (h *expiringHold) Lost() <-chan struct{} { return h.lost }

func (h *expiringHold) Release(context.Context) error {
	h.c.mu.Lock()
	h.c.released++
	h.c.mu.Unlock()
	return nil
}

type blockingAnalyzer struct{}

func (blockingAnalyzer) Analyze(ctx context.Context, id int64) (*domain.AnalysisRecord, error) {
	<-ctx.Done()
	return nil, domain.NewStageError(id, domain.StageLLM, ctx.Err())
}

func TestLostClaimCancelsAnalysis(t *testing.T) {
	mem := seeded(t, 4)
	cl := &expiringClaimer{}
	coord := claim.NewCoordinator(mem, cl, claim.Options{})

	sum := New(coord, blockingAnalyzer{}, Options{Once: true}).Run(context.Background())
	if sum.Failed != 1 || sum.ByStage["llm_call"] != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if cl.released != 1 {
		t.Fatalf("released = %d", cl.released)
	}
}

func TestReduce(t *testing.T) {
	sum := Reduce([]Outcome{
		{TopicID: 1, QAPairs: 3},
		{TopicID: 2, Err: domain.NewStageError(2, domain.StageFetch, domain.ErrNotFound)},
		{TopicID: 3, Err: errors.New("boom")},
	})
	if sum.Analyzed != 1 || sum.Failed != 2 || sum.QAPairs != 3 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.ByStage["fetch"] != 1 || sum.ByStage["unknown"] != 1 {
		t.Fatalf("by stage = %v", sum.ByStage)
	}
}
