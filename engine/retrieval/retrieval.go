// Package retrieval answers "what do we already know about X" for article
// generation. It embeds the query, searches the unified vector store,
// drops weak matches per source, optionally favours recent content and
// renders the survivors as a prompt context block.
package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/graph"
	"github.com/WessleyAI/forumlens/engine/semantic"
	"github.com/WessleyAI/forumlens/pkg/metrics"
)

// Embedder turns the query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher abstracts the vector store.
type Searcher interface {
	Search(ctx context.Context, vec []float32, opts semantic.SearchOpts) ([]semantic.Hit, error)
}

// InsightGraph optionally adds insights recorded for the forum topics a
// search returned.
type InsightGraph interface {
	RelatedInsights(ctx context.Context, topicIDs []int64, limit int) ([]graph.InsightRef, error)
}

// DefaultThresholds is the maximum cosine distance kept per source.
var DefaultThresholds = map[domain.SourceKind]float64{
	domain.SourceForum: 0.55,
	domain.SourceBlog:  0.60,
	domain.SourceVideo: 0.65,
}

// Options configures a Service.
type Options struct {
	TopK int
	// Thresholds overrides DefaultThresholds per source.
	Thresholds map[domain.SourceKind]float64
	// RecencyScale is the age at which the recency boost decays to 1/e.
	RecencyScale time.Duration
	// Overfetch multiplies TopK for the vector search so thresholding
	// still leaves enough hits.
	Overfetch     int
	SearchTimeout time.Duration
	Graph         InsightGraph
	Metrics       *metrics.Registry
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		RecencyScale:  180 * 24 * time.Hour,
		Overfetch:     4,
		SearchTimeout: 10 * time.Second,
	}
}

// Query is one retrieval request.
type Query struct {
	Text    string              `json:"query"`
	Sources []domain.SourceKind `json:"sources,omitempty"`
	TopK    int                 `json:"top_k,omitempty"`
	// RecencyWeight scales the recency boost. Zero disables it.
	RecencyWeight float64 `json:"recency_weight,omitempty"`
}

// Result is a retained hit. Score is similarity plus any recency boost.
type Result struct {
	Chunk    domain.ContentChunk `json:"chunk"`
	Distance float64             `json:"distance"`
	Score    float64             `json:"score"`
}

// Service runs retrieval queries.
type Service struct {
	emb    Embedder
	search Searcher
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	queries *metrics.Counter
	dropped *metrics.Counter
}

// New creates a Service. Zero option fields take DefaultOptions values.
func New(emb Embedder, search Searcher, opts Options, log *slog.Logger) *Service {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.RecencyScale <= 0 {
		opts.RecencyScale = def.RecencyScale
	}
	if opts.Overfetch <= 0 {
		opts.Overfetch = def.Overfetch
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	th := make(map[domain.SourceKind]float64, len(DefaultThresholds))
	for k, v := range DefaultThresholds {
		th[k] = v
	}
	for k, v := range opts.Thresholds {
		th[k] = v
	}
	opts.Thresholds = th
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		emb:     emb,
		search:  search,
		opts:    opts,
		log:     log.With("component", "retrieval"),
		now:     time.Now,
		queries: opts.Metrics.Counter("forumlens_retrieval_queries_total", "Retrieval queries served."),
		dropped: opts.Metrics.Counter("forumlens_retrieval_dropped_total", "Hits dropped by the distance threshold."),
	}
}

// Search returns at most TopK results, best first. An empty query returns
// domain.ErrEmptyQuery.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("retrieval: %w", domain.ErrEmptyQuery)
	}
	for _, k := range q.Sources {
		if !k.Valid() {
			return nil, fmt.Errorf("retrieval: %w", domain.NewValidationError("sources", string(k), domain.ErrInvalidSource))
		}
	}
	topK := q.TopK
	if topK <= 0 {
		topK = s.opts.TopK
	}
	s.queries.Inc()

	vec, err := s.emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()
	hits, err := s.search.Search(searchCtx, vec, semantic.SearchOpts{Sources: q.Sources, Limit: topK * s.opts.Overfetch})
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}

	now := s.now()
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		d := h.Distance()
		if limit, ok := s.opts.Thresholds[h.Chunk.Source]; ok && d > limit {
			s.dropped.Inc()
			continue
		}
		out = append(out, Result{
			Chunk:    h.Chunk,
			Distance: d,
			Score:    1 - d + s.recencyBoost(q.RecencyWeight, h.Chunk.PublishedAt, now),
		})
	}
	slices.SortStableFunc(out, func(a, b Result) int { return cmp.Compare(b.Score, a.Score) })
	if len(out) > topK {
		out = out[:topK]
	}
	s.log.Info("retrieval query", "query_len", len(text), "hits", len(hits), "kept", len(out))
	return out, nil
}

// recencyBoost is w·exp(-age/scale). Undated chunks get no boost.
func (s *Service) recencyBoost(w float64, published, now time.Time) float64 {
	if w <= 0 || published.IsZero() {
		return 0
	}
	age := now.Sub(published)
	if age < 0 {
		age = 0
	}
	return w * math.Exp(-float64(age)/float64(s.opts.RecencyScale))
}

// Context runs Search and renders the results, plus related graph insights
// when a graph is configured, as a prompt context block.
func (s *Service) Context(ctx context.Context, q Query) (string, []Result, error) {
	results, err := s.Search(ctx, q)
	if err != nil {
		return "", nil, err
	}
	var insights []graph.InsightRef
	if s.opts.Graph != nil {
		insights = s.relatedInsights(ctx, results)
	}
	return BuildContext(results, insights), results, nil
}

// relatedInsights failures are logged and skipped.
func (s *Service) relatedInsights(ctx context.Context, results []Result) []graph.InsightRef {
	var ids []int64
	for _, r := range results {
		if r.Chunk.Source != domain.SourceForum {
			continue
		}
		id, err := strconv.ParseInt(r.Chunk.SourceID, 10, 64)
		if err == nil && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	ins, err := s.opts.Graph.RelatedInsights(ctx, ids, 2*len(ids))
	if err != nil {
		s.log.Warn("graph insights failed, continuing without", "err", err)
		return nil
	}
	return ins
}

// BuildContext renders results as numbered excerpts followed by any
// insights.
func BuildContext(results []Result, insights []graph.InsightRef) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s: %s", i+1, r.Chunk.Source, r.Chunk.Title)
		if !r.Chunk.PublishedAt.IsZero() {
			fmt.Fprintf(&b, " (%s)", r.Chunk.PublishedAt.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, " [score %.3f]\n%s\n\n", r.Score, strings.TrimSpace(r.Chunk.Text))
	}
	if len(insights) > 0 {
		b.WriteString("Related insights:\n")
		for _, in := range insights {
			fmt.Fprintf(&b, "- [topic %d] %s: %s", in.TopicID, in.Kind, in.Description)
			if in.Severity != "" {
				fmt.Fprintf(&b, " (%s)", in.Severity)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
