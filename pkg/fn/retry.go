package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	// MaxWait caps a single sleep. Zero means no cap.
	MaxWait time.Duration
	// Jitter scales each sleep by a random factor in [0.5, 1.5).
	Jitter bool
	// Retryable reports whether an error is worth another attempt.
	// Nil means every error is retried.
	Retryable func(error) bool
	// OnRetry is called before each sleep with the failed attempt number.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// backoff is the sleep after the given failed attempt (1-based).
func (o RetryOpts) backoff(attempt int) time.Duration {
	d := o.InitialWait << (attempt - 1)
	if d < o.InitialWait {
		d = o.MaxWait
	}
	if o.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}
	if o.MaxWait > 0 && d > o.MaxWait {
		d = o.MaxWait
	}
	return d
}

// Retry calls f until it succeeds, MaxAttempts calls were made, Retryable
// rejects the error or ctx is done. Sleeps double between attempts.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	var res Result[T]
	for attempt := 1; ; attempt++ {
		res = f(ctx)
		if res.IsOk() || attempt >= attempts {
			return res
		}
		_, err := res.Unwrap()
		if opts.Retryable != nil && !opts.Retryable(err) {
			return res
		}
		if ctx.Err() != nil {
			return Err[T](ctx.Err())
		}

		wait := opts.backoff(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
	}
}
