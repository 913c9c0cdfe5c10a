// Package claim hands unanalysed topics to workers so that each topic is
// processed by at most one worker at a time.
//
// A Coordinator reads a window of candidate topic ids and tries a
// non-blocking exclusive claim on each in turn. The claim itself is
// delegated to a Claimer: a PostgreSQL session advisory lock, a lease row
// with expiry, or an in-process set.
package claim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultWindow is how many candidate topics are considered per attempt.
const DefaultWindow = 50

// DefaultReleaseTimeout bounds releasing a claim on an already analysed
// topic.
const DefaultReleaseTimeout = 5 * time.Second

// Candidates lists topics that need analysis.
type Candidates interface {
	ListUnanalyzed(ctx context.Context, limit int) ([]int64, error)
	IsAnalyzed(ctx context.Context, topicID int64) (bool, error)
}

// Hold is a live exclusive claim on one topic.
type Hold interface {
	Release(ctx context.Context) error
}

// Claimer makes a non-blocking attempt at an exclusive claim. ok is false
// when another holder has the topic.
type Claimer interface {
	TryClaim(ctx context.Context, topicID int64) (hold Hold, ok bool, err error)
}

// Skipper excludes topics from consideration, e.g. topics a run already
// failed on.
type Skipper interface {
	Skip(topicID int64) bool
	Len() int
}

// Options configures a Coordinator.
type Options struct {
	Window         int
	ReleaseTimeout time.Duration
	Logger         *slog.Logger
}

// Coordinator assigns candidate topics to workers.
type Coordinator struct {
	cands      Candidates
	claimer    Claimer
	window     int
	relTimeout time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cands Candidates, claimer Claimer, opts Options) *Coordinator {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = DefaultReleaseTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		cands:      cands,
		claimer:    claimer,
		window:     opts.Window,
		relTimeout: opts.ReleaseTimeout,
		log:        opts.Logger.With("component", "claim"),
		now:        time.Now,
	}
}

// ClaimNext returns the first candidate this worker could claim, or nil
// when every visible candidate is held by someone else. The caller must
// Release the returned claim.
func (c *Coordinator) ClaimNext(ctx context.Context, workerID string) (*Claimed, error) {
	return c.ClaimNextSkipping(ctx, workerID, nil)
}

// ClaimNextSkipping is ClaimNext with topics in skip left alone. The
// candidate window grows by skip.Len() so skipped topics cannot starve it.
func (c *Coordinator) ClaimNextSkipping(ctx context.Context, workerID string, skip Skipper) (*Claimed, error) {
	limit := c.window
	if skip != nil {
		limit += skip.Len()
	}
	ids, err := c.cands.ListUnanalyzed(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("claim: list candidates: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if skip != nil && skip.Skip(id) {
			continue
		}
		hold, ok, err := c.claimer.TryClaim(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("claim: topic %d: %w", id, err)
		}
		if !ok {
			continue
		}

		// Another worker may have finished this topic between listing and
		// claiming.
		done, err := c.cands.IsAnalyzed(ctx, id)
		if err != nil || done {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.relTimeout)
			if rErr := hold.Release(rctx); rErr != nil {
				c.log.Warn("release after recheck failed", "topic_id", id, "err", rErr)
			}
			cancel()
			if err != nil {
				return nil, fmt.Errorf("claim: recheck topic %d: %w", id, err)
			}
			c.log.Debug("already analysed", "topic_id", id, "worker", workerID)
			continue
		}

		c.log.Debug("claimed", "topic_id", id, "worker", workerID)
		return &Claimed{TopicID: id, WorkerID: workerID, ClaimedAt: c.now(), hold: hold}, nil
	}
	return nil, nil
}

// Claimed is a topic held by one worker.
type Claimed struct {
	TopicID   int64
	WorkerID  string
	ClaimedAt time.Time

	hold Hold
	once sync.Once
	err  error
}

// Release gives the topic back. Only the first call does anything; later
// calls return the first call's result.
func (c *Claimed) Release(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.hold.Release(ctx)
	})
	return c.err
}

// Lost is closed if the claim expired while held. It is nil for claimers
// whose claims cannot expire.
func (c *Claimed) Lost() <-chan struct{} {
	if l, ok := c.hold.(interface{ Lost() <-chan struct{} }); ok {
		return l.Lost()
	}
	return nil
}
