// Package ingest embeds content chunks and writes them to the vector store,
// skipping source items whose content hash has not changed since the last
// successful ingest.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/WessleyAI/forumlens/engine/chunk"
	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/semantic"
	"github.com/WessleyAI/forumlens/engine/store"
	"github.com/WessleyAI/forumlens/pkg/metrics"
	"github.com/WessleyAI/forumlens/pkg/resilience"
)

// Embedder turns text into a vector of the configured dimensionality.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorWriter is the write side of the vector store.
type VectorWriter interface {
	Upsert(ctx context.Context, pts []semantic.Point) error
	DeleteFrom(ctx context.Context, source domain.SourceKind, sourceID string, fromIndex int) error
}

// MarkerStore remembers the content hash of each ingested item.
type MarkerStore interface {
	Lookup(ctx context.Context, source, path string) (string, bool, error)
	Record(ctx context.Context, mk store.Marker) error
}

// Item is one source file or record to ingest.
type Item struct {
	// Path identifies the item in the marker store, e.g. a file path or
	// "topic/123".
	Path string
	// Hash is the content hash compared against the stored marker.
	Hash string
	// Marker is an optional progress marker stored alongside the hash.
	Marker string
	Source chunk.Source
}

// Batch is a set of items of one source kind.
type Batch struct {
	Kind  domain.SourceKind
	Items []Item
	// Force re-ingests items whose hash is unchanged.
	Force bool
}

// Result counts the outcome of a batch. Stored, Skipped and Failed count
// items; Chunks and ChunkErrors count chunks.
type Result struct {
	Stored      int              `json:"stored"`
	Skipped     int              `json:"skipped"`
	Failed      int              `json:"failed"`
	Chunks      int              `json:"chunks"`
	ChunkErrors int              `json:"chunk_errors"`
	Failures    []domain.Failure `json:"failures,omitempty"`
}

// Merge adds o into r.
func (r Result) Merge(o Result) Result {
	r.Stored += o.Stored
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Chunks += o.Chunks
	r.ChunkErrors += o.ChunkErrors
	r.Failures = append(r.Failures, o.Failures...)
	return r
}

// Options tunes an Ingestor.
type Options struct {
	// Limiter spaces embedding calls. Default one call per 100ms.
	Limiter resilience.Waiter
	// EmbedTimeout bounds a single embedding call. Default 30s.
	EmbedTimeout time.Duration
	Metrics      *metrics.Registry
	Logger       *slog.Logger
}

// Ingestor chunks, embeds and stores batches. Embedding calls are made one
// at a time through the limiter.
type Ingestor struct {
	emb     Embedder
	vec     VectorWriter
	markers MarkerStore
	limiter resilience.Waiter
	timeout time.Duration
	log     *slog.Logger

	embedded *metrics.Counter
	failed   *metrics.Counter
	skipped  *metrics.Counter
	embedDur *metrics.Histogram
}

// New creates an Ingestor.
func New(emb Embedder, vec VectorWriter, markers MarkerStore, opts Options) *Ingestor {
	if opts.Limiter == nil {
		opts.Limiter = resilience.Every(100 * time.Millisecond)
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 30 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		emb:      emb,
		vec:      vec,
		markers:  markers,
		limiter:  opts.Limiter,
		timeout:  opts.EmbedTimeout,
		log:      log.With("component", "ingest"),
		embedded: opts.Metrics.Counter("forumlens_chunks_embedded_total", "Chunks embedded and stored."),
		failed:   opts.Metrics.Counter("forumlens_chunk_failures_total", "Chunks that failed to embed or store."),
		skipped:  opts.Metrics.Counter("forumlens_items_skipped_total", "Source items skipped as unchanged."),
		embedDur: opts.Metrics.Histogram("forumlens_embed_seconds", "Duration of embedding calls.", nil),
	}
}

// Ingest processes every item of b. Per-item and per-chunk failures are
// recorded in the result and never stop the batch; only a cancelled
// context does.
func (in *Ingestor) Ingest(ctx context.Context, b Batch) Result {
	var res Result
	for _, it := range b.Items {
		if ctx.Err() != nil {
			break
		}
		res = res.Merge(in.ingestItem(ctx, b.Kind, it, b.Force))
	}
	in.log.Info("batch ingested",
		"source", b.Kind,
		"items", len(b.Items),
		"stored", res.Stored,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"chunks", res.Chunks,
	)
	return res
}

func (in *Ingestor) ingestItem(ctx context.Context, kind domain.SourceKind, it Item, force bool) Result {
	var res Result
	fail := func(stage string, err error) Result {
		res.Failed++
		res.Failures = append(res.Failures, domain.Failure{ID: it.Path, Stage: stage, Reason: err.Error()})
		in.log.Warn("item failed", "source", kind, "path", it.Path, "stage", stage, "err", err)
		return res
	}

	if !force && it.Hash != "" {
		prev, ok, err := in.markers.Lookup(ctx, string(kind), it.Path)
		if err != nil {
			return fail("lookup", err)
		}
		if ok && prev == it.Hash {
			in.skipped.Inc()
			res.Skipped++
			return res
		}
	}

	chunks := chunk.Chunk(it.Source)
	pts := make([]semantic.Point, 0, len(chunks))
	for _, c := range chunks {
		vec, err := in.embed(ctx, c.Text)
		if err != nil {
			in.failed.Inc()
			res.ChunkErrors++
			res.Failures = append(res.Failures, domain.Failure{
				ID:     it.Path + "#" + strconv.Itoa(c.ChunkIndex),
				Stage:  "embed",
				Reason: err.Error(),
			})
			continue
		}
		pts = append(pts, semantic.Point{Chunk: c, Vector: vec})
	}

	if err := in.vec.Upsert(ctx, pts); err != nil {
		in.failed.Add(int64(len(pts)))
		return fail("upsert", err)
	}
	res.Chunks += len(pts)
	in.embedded.Add(int64(len(pts)))

	// A partially embedded item keeps its old marker so the next run
	// retries it.
	if res.ChunkErrors > 0 {
		res.Failed++
		return res
	}
	if err := in.vec.DeleteFrom(ctx, kind, chunk.ID(it.Source), len(chunks)); err != nil {
		return fail("delete_stale", err)
	}
	if err := in.markers.Record(ctx, store.Marker{Source: string(kind), Path: it.Path, Marker: it.Marker, Hash: it.Hash}); err != nil {
		return fail("marker", err)
	}
	res.Stored++
	return res
}

func (in *Ingestor) embed(ctx context.Context, text string) ([]float32, error) {
	if err := in.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()
	start := time.Now()
	vec, err := in.emb.Embed(ctx, text)
	in.embedDur.Since(start)
	if err != nil {
		return nil, fmt.Errorf("ingest: embed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("ingest: embed: empty vector: %w", domain.ErrParse)
	}
	return vec, nil
}

// Hash returns the hex SHA-256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
