package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSpacer enforces a minimum interval between calls across processes.
// Each Wait claims a short-lived key with SET NX PX; whoever holds the key
// owns the current slot and everyone else sleeps until it expires.
type RedisSpacer struct {
	rdb      redis.Cmdable
	key      string
	interval time.Duration
	sleep    func(context.Context, time.Duration) error
}

// NewRedisSpacer creates a spacer on key. interval must be positive.
func NewRedisSpacer(rdb redis.Cmdable, key string, interval time.Duration) *RedisSpacer {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &RedisSpacer{rdb: rdb, key: key, interval: interval, sleep: sleepCtx}
}

// Wait blocks until this caller owns the next slot.
func (s *RedisSpacer) Wait(ctx context.Context) error {
	for {
		ok, err := s.rdb.SetNX(ctx, s.key, 1, s.interval).Result()
		if err != nil {
			return fmt.Errorf("resilience: spacer setnx: %w", err)
		}
		if ok {
			return nil
		}
		ttl, err := s.rdb.PTTL(ctx, s.key).Result()
		if err != nil {
			return fmt.Errorf("resilience: spacer pttl: %w", err)
		}
		// A key without expiry (-1) or a vanished key (-2) both report a
		// negative ttl; retry soon rather than block for a whole interval.
		if ttl <= 0 {
			ttl = time.Millisecond
		}
		if err := s.sleep(ctx, ttl); err != nil {
			return err
		}
	}
}

// Chain waits on each waiter in order.
type Chain []Waiter

func (c Chain) Wait(ctx context.Context) error {
	for _, w := range c {
		if w == nil {
			continue
		}
		if err := w.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
