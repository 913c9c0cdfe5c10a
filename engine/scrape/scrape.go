// Package scrape walks the forum's latest topics and stores every topic
// whose content changed since the previous scrape.
package scrape

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/WessleyAI/forumlens/engine/checksum"
	"github.com/WessleyAI/forumlens/engine/discourse"
	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/engine/store"
	"github.com/WessleyAI/forumlens/pkg/fn"
	"github.com/WessleyAI/forumlens/pkg/metrics"
)

// Fetcher reads the forum.
type Fetcher interface {
	Latest(ctx context.Context, page int) fn.Result[discourse.LatestPage]
	Topic(ctx context.Context, topicID int64) fn.Result[discourse.FetchedTopic]
}

// TopicWriter persists raw topics.
type TopicWriter interface {
	UpsertIfChanged(ctx context.Context, rt domain.RawTopic) (store.UpsertResult, error)
}

// Notifier is told about every stored topic.
type Notifier interface {
	TopicStored(ctx context.Context, topicID int64, result, checksum string)
}

// Options bounds one run.
type Options struct {
	// Pages is how many latest.json pages to walk. Default 1.
	Pages int
	// MaxTopics stops the run after this many topics. Zero means no limit.
	MaxTopics int
	// TopicIDs, when set, replaces the latest.json walk.
	TopicIDs []int64
}

// Summary is the outcome of a run.
type Summary struct {
	Processed int              `json:"processed"`
	Stored    int              `json:"stored"`
	Updated   int              `json:"updated"`
	Unchanged int              `json:"unchanged"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Failures  []domain.Failure `json:"failures,omitempty"`
}

func (s *Summary) fail(id, stage string, err error) {
	s.Failed++
	s.Failures = append(s.Failures, domain.Failure{ID: id, Stage: stage, Reason: err.Error()})
}

// Runner drives fetch, checksum and store.
type Runner struct {
	fetch  Fetcher
	topics TopicWriter
	notify Notifier
	log    *slog.Logger
	now    func() time.Time

	stored    *metrics.Counter
	updated   *metrics.Counter
	unchanged *metrics.Counter
	failed    *metrics.Counter
	fetchDur  *metrics.Histogram

	stage fn.Stage[int64, outcome]
}

type outcome struct {
	topic  domain.RawTopic
	result store.UpsertResult
}

// New creates a Runner. notify may be nil.
func New(f Fetcher, topics TopicWriter, notify Notifier, reg *metrics.Registry, log *slog.Logger) *Runner {
	if reg == nil {
		reg = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		fetch:     f,
		topics:    topics,
		notify:    notify,
		log:       log.With("component", "scrape"),
		now:       time.Now,
		stored:    reg.Counter("forumlens_topics_stored_total", "Topics stored for the first time."),
		updated:   reg.Counter("forumlens_topics_updated_total", "Topics whose content changed."),
		unchanged: reg.Counter("forumlens_topics_unchanged_total", "Topics fetched with an unchanged checksum."),
		failed:    reg.Counter("forumlens_topic_failures_total", "Topics that could not be fetched or stored."),
		fetchDur:  reg.Histogram("forumlens_topic_fetch_seconds", "Duration of topic fetches.", nil),
	}
	r.stage = fn.Then(
		fn.TracedStage("scrape.fetch", r.fetchTopic),
		fn.TracedStage("scrape.store", r.storeTopic),
	)
	return r
}

// Run scrapes according to opts. Per-topic errors are recorded in the
// summary and never abort the run; a cancelled context stops it early.
func (r *Runner) Run(ctx context.Context, opts Options) Summary {
	var sum Summary
	ids := opts.TopicIDs
	if len(ids) > 0 {
		r.process(ctx, ids, opts.MaxTopics, &sum)
	} else {
		pages := opts.Pages
		if pages <= 0 {
			pages = 1
		}
		for page := 0; page < pages && ctx.Err() == nil; page++ {
			lp, err := r.fetch.Latest(ctx, page).Unwrap()
			if err != nil {
				sum.fail("latest/"+strconv.Itoa(page), "latest", err)
				r.log.Warn("latest page failed", "page", page, "err", err)
				break
			}
			ids = ids[:0]
			for _, ref := range lp.Topics {
				ids = append(ids, ref.ID)
			}
			if !r.process(ctx, ids, opts.MaxTopics, &sum) || !lp.More {
				break
			}
		}
	}
	r.log.Info("scrape finished",
		"processed", sum.Processed,
		"stored", sum.Stored,
		"updated", sum.Updated,
		"unchanged", sum.Unchanged,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
	return sum
}

// process returns false once the run should stop.
func (r *Runner) process(ctx context.Context, ids []int64, maxTopics int, sum *Summary) bool {
	for _, id := range ids {
		if ctx.Err() != nil {
			return false
		}
		if maxTopics > 0 && sum.Processed >= maxTopics {
			return false
		}
		sum.Processed++
		out, err := r.stage(ctx, id).Unwrap()
		if err != nil {
			r.record(id, err, sum)
			continue
		}
		switch out.result {
		case store.StoredNew:
			sum.Stored++
			r.stored.Inc()
		case store.StoredUpdated:
			sum.Updated++
			r.updated.Inc()
		default:
			sum.Unchanged++
			r.unchanged.Inc()
		}
		if out.result.Stored() && r.notify != nil {
			r.notify.TopicStored(ctx, id, out.result.String(), out.topic.Checksum)
		}
	}
	return true
}

func (r *Runner) record(id int64, err error, sum *Summary) {
	sid := strconv.FormatInt(id, 10)
	if errors.Is(err, domain.ErrNotFound) {
		sum.Skipped++
		r.log.Info("topic not found, skipping", "topic_id", id)
		return
	}
	stage := "fetch"
	switch {
	case errors.Is(err, domain.ErrDatabase):
		stage = "store"
	case errors.Is(err, domain.ErrInvalidTopic):
		stage = "validate"
	}
	r.failed.Inc()
	sum.fail(sid, stage, err)
	r.log.Warn("topic failed", "topic_id", id, "stage", stage, "err", err)
}

func (r *Runner) fetchTopic(ctx context.Context, id int64) fn.Result[discourse.FetchedTopic] {
	start := time.Now()
	res := r.fetch.Topic(ctx, id)
	r.fetchDur.Since(start)
	return res
}

func (r *Runner) storeTopic(ctx context.Context, ft discourse.FetchedTopic) fn.Result[outcome] {
	if err := domain.ValidateTopic(ft.Topic); err != nil {
		return fn.Err[outcome](err)
	}
	posts := ft.Topic.PostsCount
	if posts <= 0 {
		posts = len(ft.Topic.Posts)
	}
	rt := domain.RawTopic{
		TopicID:   ft.Topic.ID,
		RawJSON:   ft.Raw,
		Checksum:  checksum.Compute(ft.Topic),
		ScrapedAt: r.now(),
		Title:     ft.Topic.Title,
		PostCount: posts,
	}
	res, err := r.topics.UpsertIfChanged(ctx, rt)
	if err != nil {
		return fn.Err[outcome](err)
	}
	return fn.Ok(outcome{topic: rt, result: res})
}
