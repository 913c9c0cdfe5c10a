package resilience

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Waiter blocks until the caller may proceed. *Limiter, *RedisSpacer and
// Chain satisfy it, so a process-local limit can be combined with a shared
// one.
type Waiter interface {
	Wait(ctx context.Context) error
}

// LimiterOpts configures a token bucket.
type LimiterOpts struct {
	// Rate is tokens per second.
	Rate float64
	// Burst is the bucket capacity. Default 1.
	Burst int
}

// Limiter is a token bucket shared by every goroutine that holds it.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter creates a token bucket.
func NewLimiter(opts LimiterOpts) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(opts.Rate), max(opts.Burst, 1))}
}

// Every admits one call per interval. A non-positive interval admits
// everything.
func Every(interval time.Duration) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{rl: rate.NewLimiter(limit, 1)}
}

// Wait blocks until a token is available. It fails fast when ctx would
// expire before then.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.rl.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("resilience: wait: %w", err)
	}
	return nil
}
