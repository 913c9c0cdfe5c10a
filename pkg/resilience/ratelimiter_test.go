package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLimiterBurstThenWaits(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 20, Burst: 3})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Fatal("burst should not wait")
	}
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("fourth call after %v, expected a refill wait", elapsed)
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first token: %v", err)
	}
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected Wait to fail when the next token is past the deadline")
	}
}

func TestLimiterWaitAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewLimiter(LimiterOpts{Rate: 1}).Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestEverySpacesCalls(t *testing.T) {
	l := Every(20 * time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Fatalf("three calls took %v, expected at least two intervals", elapsed)
	}
}

func TestEveryZeroIsUnlimited(t *testing.T) {
	l := Every(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}

// fakeRedis embeds the interface so only the two commands the spacer uses
// need implementing.
type fakeRedis struct {
	redis.Cmdable
	held  int
	setnx int
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) *redis.BoolCmd {
	f.setnx++
	if f.held > 0 {
		f.held--
		return redis.NewBoolResult(false, nil)
	}
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) PTTL(ctx context.Context, key string) *redis.DurationCmd {
	return redis.NewDurationResult(3*time.Millisecond, nil)
}

func TestRedisSpacerWaitsForSlot(t *testing.T) {
	rdb := &fakeRedis{held: 2}
	s := NewRedisSpacer(rdb, "forumlens:embed", 50*time.Millisecond)
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rdb.setnx != 3 || len(slept) != 2 || slept[0] != 3*time.Millisecond {
		t.Fatalf("setnx=%d slept=%v", rdb.setnx, slept)
	}
}

func TestChainSkipsNil(t *testing.T) {
	var calls int
	w := waiterFunc(func(context.Context) error { calls++; return nil })
	if err := (Chain{nil, w, w}).Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
	boom := errors.New("boom")
	err := Chain{waiterFunc(func(context.Context) error { return boom }), w}.Wait(context.Background())
	if !errors.Is(err, boom) || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

type waiterFunc func(context.Context) error

func (f waiterFunc) Wait(ctx context.Context) error { return f(ctx) }
