// Package analysis turns a stored raw topic into a structured analysis
// record using a language model.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/forumlens/engine/discourse"
	"github.com/WessleyAI/forumlens/engine/domain"
	"github.com/WessleyAI/forumlens/pkg/fn"
	"github.com/WessleyAI/forumlens/pkg/metrics"
)

// TopicSource loads stored raw topics.
type TopicSource interface {
	Get(ctx context.Context, topicID int64) (domain.RawTopic, error)
}

// Writer persists an analysis, replacing any previous one for the topic.
type Writer interface {
	Replace(ctx context.Context, rec domain.AnalysisRecord) error
}

// Completer is a language model completion endpoint.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
}

// Hook runs after an analysis is saved. Hook errors are logged and do not
// fail the analysis.
type Hook func(ctx context.Context, rec *domain.AnalysisRecord) error

// Options tunes a Pipeline.
type Options struct {
	Model       string
	Temperature float64
	// LLMTimeout bounds a single completion call. Default 2m.
	LLMTimeout time.Duration
	// MaxPostChars truncates very long posts in the prompt. Default 4000.
	MaxPostChars int
	AfterSave    []Hook
	// OnFailure is told about every failed analysis.
	OnFailure func(ctx context.Context, err *domain.StageError)
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Pipeline runs fetch, clean, prompt, llm, parse, validate and persist for
// one topic. It performs no retries; a failed topic stays unanalysed and is
// picked up again by a later run.
type Pipeline struct {
	src    TopicSource
	llm    Completer
	out    Writer
	opts   Options
	log    *slog.Logger
	now    func() time.Time
	run    fn.Stage[*job, *job]
	llmDur *metrics.Histogram
}

// job carries one topic through the stages.
type job struct {
	id     int64
	raw    domain.RawTopic
	topic  domain.Topic
	prompt string
	output string
	rec    *domain.AnalysisRecord
}

// New creates a Pipeline.
func New(src TopicSource, llm Completer, out Writer, opts Options) *Pipeline {
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 2 * time.Minute
	}
	if opts.MaxPostChars == 0 {
		opts.MaxPostChars = 4000
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		src:  src,
		llm:  llm,
		out:  out,
		opts: opts,
		log:  log.With("component", "analysis"),
		now:  time.Now,
	}
	if opts.Metrics != nil {
		p.llmDur = opts.Metrics.Histogram("forumlens_llm_call_seconds", "Duration of analysis completion calls.", nil)
	}
	p.run = fn.Pipeline(
		fn.TracedStage("analysis.fetch", p.fetch),
		fn.TracedStage("analysis.clean", p.clean),
		fn.TracedStage("analysis.llm", p.complete),
		fn.TracedStage("analysis.parse", p.parse),
		fn.TracedStage("analysis.validate", p.validate),
		fn.TracedStage("analysis.persist", p.persist),
	)
	return p
}

// Analyze produces and saves the analysis of topicID. On failure the
// returned error is a *domain.StageError and nothing has been written.
func (p *Pipeline) Analyze(ctx context.Context, topicID int64) (*domain.AnalysisRecord, error) {
	start := p.now()
	j, err := p.run(ctx, &job{id: topicID}).Unwrap()
	if err != nil {
		var se *domain.StageError
		if !errors.As(err, &se) {
			se = domain.NewStageError(topicID, domain.StageFetch, err)
		}
		p.log.Warn("analysis failed", "topic_id", topicID, "stage", se.Stage, "err", se.Err)
		if p.opts.OnFailure != nil {
			p.opts.OnFailure(ctx, se)
		}
		return nil, se
	}

	for _, h := range p.opts.AfterSave {
		if err := h(ctx, j.rec); err != nil {
			p.log.Warn("after-save hook failed", "topic_id", topicID, "err", err)
		}
	}
	p.log.Info("topic analysed",
		"topic_id", topicID,
		"qa_pairs", len(j.rec.QAPairs),
		"insights", len(j.rec.Insights),
		"duration", p.now().Sub(start).Round(time.Millisecond),
	)
	return j.rec, nil
}

func fail(j *job, stage domain.Stage, err error) fn.Result[*job] {
	return fn.Err[*job](domain.NewStageError(j.id, stage, err))
}

func (p *Pipeline) fetch(ctx context.Context, j *job) fn.Result[*job] {
	raw, err := p.src.Get(ctx, j.id)
	if err != nil {
		return fail(j, domain.StageFetch, err)
	}
	j.raw = raw
	return fn.Ok(j)
}

func (p *Pipeline) clean(_ context.Context, j *job) fn.Result[*job] {
	t, err := discourse.DecodeTopic(j.raw.RawJSON)
	if err != nil {
		return fail(j, domain.StageClean, err)
	}
	if t.ID == 0 {
		t.ID = j.id
	}
	if t.Title == "" {
		t.Title = j.raw.Title
	}
	if t.PostsCount == 0 {
		t.PostsCount = j.raw.PostCount
	}
	for i := range t.Posts {
		t.Posts[i].Cooked = CleanHTML(t.Posts[i].Cooked)
	}
	j.topic = t

	prompt, err := BuildPrompt(t, p.opts.MaxPostChars)
	if err != nil {
		return fail(j, domain.StageClean, err)
	}
	j.prompt = prompt
	return fn.Ok(j)
}

func (p *Pipeline) complete(ctx context.Context, j *job) fn.Result[*job] {
	ctx, cancel := context.WithTimeout(ctx, p.opts.LLMTimeout)
	defer cancel()

	start := time.Now()
	out, err := p.llm.Complete(ctx, SystemPrompt, j.prompt, p.opts.Temperature)
	if p.llmDur != nil {
		p.llmDur.Since(start)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrLLM) {
			err = fmt.Errorf("analysis: complete: %w: %w", domain.ErrLLM, err)
		}
		return fail(j, domain.StageLLM, err)
	}
	if strings.TrimSpace(out) == "" {
		return fail(j, domain.StageLLM, fmt.Errorf("analysis: empty completion: %w", domain.ErrLLM))
	}
	j.output = out
	return fn.Ok(j)
}

func (p *Pipeline) parse(_ context.Context, j *job) fn.Result[*job] {
	rec, err := ExtractJSON[domain.AnalysisRecord](j.output)
	if err != nil {
		return fail(j, domain.StageParse, err)
	}
	j.rec = &rec
	return fn.Ok(j)
}

func (p *Pipeline) validate(_ context.Context, j *job) fn.Result[*job] {
	rec := j.rec
	rec.TopicID = j.id
	if rec.Summary.TotalPosts <= 0 {
		rec.Summary.TotalPosts = j.raw.PostCount
	}
	if err := domain.ValidateAnalysis(rec); err != nil {
		return fail(j, domain.StageValidate, fmt.Errorf("analysis: %w: %w", domain.ErrParse, err))
	}
	if rec.Summary.Title == "" {
		rec.Summary.Title = j.topic.Title
	}
	if rec.Summary.Date == "" {
		rec.Summary.Date = day(j.topic.CreatedAt)
	}
	return fn.Ok(j)
}

func (p *Pipeline) persist(ctx context.Context, j *job) fn.Result[*job] {
	j.rec.Model = p.opts.Model
	j.rec.AnalyzedAt = p.now().UTC()
	if err := p.out.Replace(ctx, *j.rec); err != nil {
		if !errors.Is(err, domain.ErrDatabase) {
			err = fmt.Errorf("analysis: save: %w: %w", domain.ErrDatabase, err)
		}
		return fail(j, domain.StagePersist, err)
	}
	return fn.Ok(j)
}
