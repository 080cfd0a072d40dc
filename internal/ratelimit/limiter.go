// Package ratelimit enforces the intake gateway's per-webhook (per-minute,
// per-hour) caps using a Redis sorted-set sliding window: each accepted
// request timestamp is a ZSET member scored by its own Unix-nanosecond time,
// and a window's count is the cardinality of members newer than now-window.
// A sliding window was chosen over a token bucket so the rate-limit boundary
// invariant (a request at t+window-1ms still counts, t+window+1ms resets)
// holds exactly rather than approximately.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aristath/signalbridge/internal/domain"
)

// Limiter enforces sliding-window caps backed by Redis.
type Limiter struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Allow records one request for webhookID against both windows in policy,
// evicting expired entries first. It returns a domain.ErrRateLimitExceeded
// taxonomy error (and does not record the request) if either window's cap
// would be exceeded — the more restrictive of the two wins.
func (l *Limiter) Allow(ctx context.Context, webhookID string, policy domain.RateLimitPolicy) error {
	now := time.Now()

	minuteKey := fmt.Sprintf("ratelimit:%s:minute", webhookID)
	hourKey := fmt.Sprintf("ratelimit:%s:hour", webhookID)

	minuteCount, err := l.windowCount(ctx, minuteKey, now, time.Minute)
	if err != nil {
		return fmt.Errorf("ratelimit: minute window: %w", err)
	}
	if minuteCount >= policy.PerMinute {
		return domain.Classify(domain.ErrRateLimitExceeded, "per-minute cap exceeded", nil)
	}

	hourCount, err := l.windowCount(ctx, hourKey, now, time.Hour)
	if err != nil {
		return fmt.Errorf("ratelimit: hour window: %w", err)
	}
	if hourCount >= policy.PerHour {
		return domain.Classify(domain.ErrRateLimitExceeded, "per-hour cap exceeded", nil)
	}

	member := fmt.Sprintf("%d", now.UnixNano())
	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, minuteKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, minuteKey, time.Minute+time.Second)
	pipe.ZAdd(ctx, hourKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, hourKey, time.Hour+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratelimit: record request: %w", err)
	}
	return nil
}

// windowCount evicts members older than now-window and returns the
// remaining cardinality.
func (l *Limiter) windowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	cutoff := now.Add(-window).UnixNano()
	if err := l.rdb.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return 0, err
	}
	count, err := l.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
