// Package resilience guards calls to shared upstreams: a circuit breaker,
// a token-bucket limiter and a Redis-backed spacer that extends the limit
// across processes.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned without calling through while the breaker is
// open or its half-open probes are used up.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before letting probes
	// through.
	Timeout time.Duration
	// HalfOpenMax is how many probe calls run while half-open.
	HalfOpenMax int
	// IsFailure decides whether an error counts against the upstream.
	// Default: every error except context.Canceled.
	IsFailure func(error) bool
	// OnStateChange, if set, is called after every transition. It runs
	// with the breaker lock held and must not call back into the breaker.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts trips after five straight failures and probes again
// after 30s.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

func countsAsFailure(err error) bool { return !errors.Is(err, context.Canceled) }

// Breaker stops calling an upstream that keeps failing.
type Breaker struct {
	opts BreakerOpts
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

// NewBreaker creates a closed breaker. Zero options take
// DefaultBreakerOpts values.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	if opts.IsFailure == nil {
		opts.IsFailure = countsAsFailure
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refresh()
}

// refresh moves an expired open breaker to half-open. Must hold mu.
func (b *Breaker) refresh() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// transition must hold mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures, b.probes = 0, 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
}

// admit reports whether a call may go through and reserves a probe slot
// when half-open.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.refresh() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			return false
		}
		b.probes++
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		b.failures = 0
	case !b.opts.IsFailure(err):
		if b.state == StateHalfOpen && b.probes > 0 {
			b.probes--
		}
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.transition(StateOpen)
		}
	}
}

// Call runs f unless the breaker is open, in which case it returns
// ErrCircuitOpen.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := f(ctx)
	b.record(err)
	return err
}
