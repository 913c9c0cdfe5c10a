// Package worker runs analysis workers. Each worker repeatedly claims an
// unanalysed topic, analyses it and releases the claim; workers share no
// state beyond the claim coordinator, so any number of them may run in any
// number of processes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/forumlens/engine/claim"
	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/pkg/metrics"
)

// Claims hands out topics.
type Claims interface {
	ClaimNextSkipping(ctx context.Context, workerID string, skip claim.Skipper) (*claim.Claimed, error)
}

// Analyzer analyses one claimed topic.
type Analyzer interface {
	Analyze(ctx context.Context, topicID int64) (*domain.AnalysisRecord, error)
}

// Options configures a Pool.
type Options struct {
	// Workers is the number of concurrent workers. Default 1.
	Workers int
	// IdleWait is how long a worker sleeps when nothing is claimable.
	// Default 30s.
	IdleWait time.Duration
	// Once makes a worker exit instead of sleeping when nothing is
	// claimable.
	Once bool
	// MaxTopics stops the pool after this many topics. Zero means no limit.
	MaxTopics int
	// ReleaseTimeout bounds the release of a claim after the run context
	// was cancelled. Default 5s.
	ReleaseTimeout time.Duration
	// Wake, if set, cuts an idle wait short.
	Wake    <-chan struct{}
	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// Outcome is the result of one topic.
type Outcome struct {
	TopicID  int64
	WorkerID string
	QAPairs  int
	Duration time.Duration
	Err      error
}

// Summary reduces the outcomes of a run.
type Summary struct {
	Analyzed int              `json:"analyzed"`
	Failed   int              `json:"failed"`
	QAPairs  int              `json:"qa_pairs"`
	ByStage  map[string]int   `json:"by_stage,omitempty"`
	Failures []domain.Failure `json:"failures,omitempty"`
}

// Reduce folds outcomes into a Summary.
func Reduce(outs []Outcome) Summary {
	var s Summary
	for _, o := range outs {
		if o.Err == nil {
			s.Analyzed++
			s.QAPairs += o.QAPairs
			continue
		}
		s.Failed++
		stage := string(domain.StageOf(o.Err))
		if stage == "" {
			stage = "unknown"
		}
		if s.ByStage == nil {
			s.ByStage = make(map[string]int)
		}
		s.ByStage[stage]++
		s.Failures = append(s.Failures, domain.Failure{ID: fmt.Sprint(o.TopicID), Stage: stage, Reason: o.Err.Error()})
	}
	return s
}

// Pool runs workers.
type Pool struct {
	claims  Claims
	analyze Analyzer
	opts    Options
	log     *slog.Logger
	skip    *failedSet
	started atomic.Int64

	analyzed *metrics.Counter
	failed   *metrics.Counter
	busy     *metrics.Gauge
	duration *metrics.Histogram
}

// New creates a Pool.
func New(claims Claims, an Analyzer, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = 30 * time.Second
	}
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = 5 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		claims:   claims,
		analyze:  an,
		opts:     opts,
		log:      opts.Logger.With("component", "worker"),
		skip:     &failedSet{ids: make(map[int64]struct{})},
		analyzed: opts.Metrics.Counter("forumlens_topics_analyzed_total", "Topics analysed successfully."),
		failed:   opts.Metrics.Counter("forumlens_analysis_failures_total", "Topics whose analysis failed."),
		busy:     opts.Metrics.Gauge("forumlens_workers_busy", "Workers currently analysing a topic."),
		duration: opts.Metrics.Histogram("forumlens_analysis_seconds", "Duration of one topic analysis.", nil),
	}
}

// Run starts the workers and blocks until all of them stop: on context
// cancellation, when MaxTopics is reached, or in Once mode when nothing is
// left to claim. Topics that fail are not retried within the same run.
func (p *Pool) Run(ctx context.Context) Summary {
	outs := make(chan Outcome, p.opts.Workers)
	var all []Outcome
	collected := make(chan struct{})
	go func() {
		for o := range outs {
			all = append(all, o)
		}
		close(collected)
	}()

	run := uuid.NewString()[:8]
	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p.work(ctx, id, outs)
		}(fmt.Sprintf("%s-%d", run, i))
	}
	wg.Wait()
	close(outs)
	<-collected

	sum := Reduce(all)
	p.log.Info("workers finished", "analyzed", sum.Analyzed, "failed", sum.Failed, "qa_pairs", sum.QAPairs)
	return sum
}

func (p *Pool) work(ctx context.Context, id string, outs chan<- Outcome) {
	log := p.log.With("worker", id)
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for ctx.Err() == nil {
		c, err := p.claims.ClaimNextSkipping(ctx, id, p.skip)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("claim failed", "err", err)
			if p.opts.Once || !p.idle(ctx) {
				return
			}
			continue
		}
		if c == nil {
			if p.opts.Once || !p.idle(ctx) {
				return
			}
			continue
		}
		if limit := int64(p.opts.MaxTopics); limit > 0 && p.started.Add(1) > limit {
			p.release(ctx, c, log)
			return
		}
		outs <- p.handle(ctx, c, log)
	}
}

// handle analyses one claimed topic and always releases the claim, using
// a fresh context if ctx is already done.
func (p *Pool) handle(ctx context.Context, c *claim.Claimed, log *slog.Logger) Outcome {
	p.busy.Inc()
	defer p.busy.Dec()

	actx, cancel := context.WithCancel(ctx)
	if lost := c.Lost(); lost != nil {
		go func() {
			select {
			case <-lost:
				log.Warn("claim lost, abandoning topic", "topic_id", c.TopicID)
				cancel()
			case <-actx.Done():
			}
		}()
	}
	start := time.Now()
	rec, err := p.analyze.Analyze(actx, c.TopicID)
	cancel()
	p.duration.Since(start)
	p.release(ctx, c, log)

	out := Outcome{TopicID: c.TopicID, WorkerID: c.WorkerID, Duration: time.Since(start), Err: err}
	if err != nil {
		p.failed.Inc()
		p.skip.add(c.TopicID)
		if !errors.Is(err, context.Canceled) {
			log.Warn("analysis failed", "topic_id", c.TopicID, "stage", domain.StageOf(err), "err", err)
		}
		return out
	}
	p.analyzed.Inc()
	if rec != nil {
		out.QAPairs = len(rec.QAPairs)
	}
	return out
}

func (p *Pool) release(ctx context.Context, c *claim.Claimed, log *slog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.ReleaseTimeout)
	defer cancel()
	if err := c.Release(rctx); err != nil {
		log.Warn("release failed", "topic_id", c.TopicID, "err", err)
	}
}

// idle waits for IdleWait, a wake-up or cancellation. It returns false on
// cancellation.
func (p *Pool) idle(ctx context.Context) bool {
	t := time.NewTimer(p.opts.IdleWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	case <-p.opts.Wake:
	}
	return true
}

// failedSet holds topics that failed during this run.
type failedSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func (f *failedSet) add(id int64) {
	f.mu.Lock()
	f.ids[id] = struct{}{}
	f.mu.Unlock()
}

func (f *failedSet) Skip(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[id]
	return ok
}

func (f *failedSet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}
