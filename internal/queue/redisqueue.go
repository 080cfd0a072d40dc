package queue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aristath/signalbridge/internal/msgenc"
	"github.com/aristath/signalbridge/internal/retry"
)

const (
	payloadHashKey  = "queue:payloads"
	inflightZSetKey = "queue:inflight"
	visibilityWin   = 60 * time.Second
)

// Backoff matches the spec's retry shape: base 2s, factor 2, ±20% jitter,
// capped at 60s.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Factor: 2, Cap: 60 * time.Second}
}

func (b Backoff) delay(attempt int) time.Duration {
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
	}
	if d > float64(b.Cap) {
		d = float64(b.Cap)
	}
	jitter := d * 0.2 * (rand.Float64()*2 - 1)
	final := time.Duration(d + jitter)
	if final < 0 {
		final = 0
	}
	return final
}

// RedisQueue is the Job Queue Facade's concrete substrate: one sorted set
// per priority for ready/delayed items, a companion hash for payloads, and
// an in-flight sorted set scored by visibility deadline for crash recovery.
type RedisQueue struct {
	rdb         *redis.Client
	log         zerolog.Logger
	prefix      string
	backoff     Backoff
	maxAttempts map[MessageType]int
}

// defaultMaxAttempts mirrors the in-process retry layer's bounds (§4.B):
// execute_alert jobs get retry.DefaultPolicy's 5 attempts, reconcile_account
// jobs get retry.ReconcilePolicy's 2.
func defaultMaxAttempts() map[MessageType]int {
	return map[MessageType]int{
		MessageExecuteAlert:     retry.DefaultPolicy().MaxAttempts,
		MessageReconcileAccount: retry.ReconcilePolicy().MaxAttempts,
	}
}

func New(rdb *redis.Client, log zerolog.Logger) *RedisQueue {
	return &RedisQueue{rdb: rdb, log: log, prefix: "queue:ready", backoff: DefaultBackoff(), maxAttempts: defaultMaxAttempts()}
}

// maxAttemptsFor returns the bound for msg's type, falling back to the
// execution default if the type is unrecognized.
func (q *RedisQueue) maxAttemptsFor(t MessageType) int {
	if max, ok := q.maxAttempts[t]; ok {
		return max
	}
	return retry.DefaultPolicy().MaxAttempts
}

// Enqueue durably stores msg, keyed for pop-ordering by priority then
// available-at timestamp. DedupKey is informational here — true dedup lives
// at the Job-table unique constraint (§4.A); the queue only prevents the
// same Message.ID from being stored twice.
func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	if msg.AvailableAt.IsZero() {
		msg.AvailableAt = msg.EnqueuedAt
	}
	payload, err := msgenc.Encode(msg)
	if err != nil {
		return fmt.Errorf("queue: encode message: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, payloadHashKey, msg.ID, payload)
	pipe.ZAdd(ctx, msg.Priority.key(q.prefix), redis.Z{Score: float64(msg.AvailableAt.UnixNano()), Member: msg.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Pop claims the earliest-due ready message across priorities (critical
// first), or returns (nil, nil) if nothing is ready. The returned Delivery's
// Ack/Nack report the outcome back to this substrate.
func (q *RedisQueue) Pop(ctx context.Context) (*Delivery, error) {
	now := time.Now()
	for _, p := range priorityOrder {
		key := p.key(q.prefix)
		ids, err := q.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: "-inf", Max: fmt.Sprintf("%d", now.UnixNano()), Count: 1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: scan ready set %s: %w", key, err)
		}
		if len(ids) == 0 {
			continue
		}
		id := ids[0]

		removed, err := q.rdb.ZRem(ctx, key, id).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: claim %s: %w", id, err)
		}
		if removed == 0 {
			// Another consumer claimed it first; try the next priority/tick.
			continue
		}

		payload, err := q.rdb.HGet(ctx, payloadHashKey, id).Bytes()
		if err != nil {
			return nil, fmt.Errorf("queue: fetch payload %s: %w", id, err)
		}
		var msg Message
		if err := msgenc.Decode(payload, &msg); err != nil {
			return nil, fmt.Errorf("queue: decode payload %s: %w", id, err)
		}

		if err := q.rdb.ZAdd(ctx, inflightZSetKey, redis.Z{
			Score: float64(now.Add(visibilityWin).UnixNano()), Member: id,
		}).Err(); err != nil {
			return nil, fmt.Errorf("queue: mark inflight %s: %w", id, err)
		}

		return &Delivery{
			Message: msg,
			ack: func() error {
				return q.ack(ctx, id)
			},
			nack: func(retryable bool) error {
				return q.nack(ctx, msg, retryable)
			},
		}, nil
	}
	return nil, nil
}

func (q *RedisQueue) ack(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, inflightZSetKey, id)
	pipe.HDel(ctx, payloadHashKey, id)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: ack %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) nack(ctx context.Context, msg Message, retryable bool) error {
	if !retryable {
		return q.ack(ctx, msg.ID) // drop: caller already persisted a terminal status
	}

	attemptsUsed := msg.Attempt + 1
	if max := q.maxAttemptsFor(msg.Type); attemptsUsed >= max {
		q.log.Warn().Str("message_id", msg.ID).Int("attempts", attemptsUsed).Msg("job exhausted max attempts, dropping")
		return q.ack(ctx, msg.ID)
	}

	msg.Attempt++
	delay := q.backoff.delay(msg.Attempt)
	msg.AvailableAt = time.Now().Add(delay)

	payload, err := msgenc.Encode(msg)
	if err != nil {
		return fmt.Errorf("queue: encode retry %s: %w", msg.ID, err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, inflightZSetKey, msg.ID)
	pipe.HSet(ctx, payloadHashKey, msg.ID, payload)
	pipe.ZAdd(ctx, msg.Priority.key(q.prefix), redis.Z{Score: float64(msg.AvailableAt.UnixNano()), Member: msg.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: nack reschedule %s: %w", msg.ID, err)
	}
	q.log.Warn().Str("message_id", msg.ID).Int("attempt", msg.Attempt).Dur("delay", delay).Msg("job rescheduled after failure")
	return nil
}

// ReclaimExpired returns in-flight messages whose visibility deadline has
// lapsed (their consumer presumably crashed) to the ready set at their
// original priority, so another worker can pick them up.
func (q *RedisQueue) ReclaimExpired(ctx context.Context) (int, error) {
	now := time.Now()
	ids, err := q.rdb.ZRangeByScore(ctx, inflightZSetKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixNano()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: scan expired inflight: %w", err)
	}
	for _, id := range ids {
		payload, err := q.rdb.HGet(ctx, payloadHashKey, id).Bytes()
		if err != nil {
			continue
		}
		var msg Message
		if err := msgenc.Decode(payload, &msg); err != nil {
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, inflightZSetKey, id)
		pipe.ZAdd(ctx, msg.Priority.key(q.prefix), redis.Z{Score: float64(now.UnixNano()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("queue: reclaim %s: %w", id, err)
		}
	}
	return len(ids), nil
}
