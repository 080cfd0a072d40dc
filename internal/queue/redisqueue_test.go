package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, zerolog.Nop())
}

func TestEnqueuePopAck(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	msg := Message{ID: "m1", Type: MessageExecuteAlert, JobID: "j1", Priority: PriorityHigh, EnqueuedAt: time.Now()}
	require.NoError(t, q.Enqueue(ctx, msg))

	d, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "j1", d.Message.JobID)

	require.NoError(t, d.Ack())

	d2, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, d2)
}

func TestPopReturnsNilWhenEmpty(t *testing.T) {
	q := newTestQueue(t)
	d, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestPriorityOrdering(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{ID: "low1", Priority: PriorityLow, EnqueuedAt: time.Now()}))
	require.NoError(t, q.Enqueue(ctx, Message{ID: "crit1", Priority: PriorityCritical, EnqueuedAt: time.Now()}))

	d, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "crit1", d.Message.ID)
}

func TestNackRetryableReschedules(t *testing.T) {
	q := newTestQueue(t)
	q.backoff = Backoff{Base: time.Millisecond, Factor: 1, Cap: time.Millisecond}
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{ID: "m1", Priority: PriorityMedium, EnqueuedAt: time.Now()}))
	d, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	require.NoError(t, d.Nack(true))

	time.Sleep(5 * time.Millisecond)
	d2, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, d2)
	assert.Equal(t, 1, d2.Message.Attempt)
}

func TestNackNonRetryableDrops(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{ID: "m1", Priority: PriorityMedium, EnqueuedAt: time.Now()}))
	d, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	require.NoError(t, d.Nack(false))

	d2, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, d2)
}

func TestReclaimExpiredReturnsMessageToReadySet(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{ID: "m1", Priority: PriorityMedium, EnqueuedAt: time.Now()}))
	d, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	require.NoError(t, q.rdb.ZAdd(ctx, inflightZSetKey, redis.Z{Score: 1, Member: "m1"}).Err())

	n, err := q.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d2, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, d2)
	assert.Equal(t, "m1", d2.Message.ID)
}
