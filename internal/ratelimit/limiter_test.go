package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signalbridge/internal/domain"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb), mr
}

func TestAllowWithinCapsSucceeds(t *testing.T) {
	l, _ := newTestLimiter(t)
	policy := domain.RateLimitPolicy{PerMinute: 3, PerHour: 100}

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(context.Background(), "wh1", policy))
	}
}

func TestAllowRejectsOverPerMinuteCap(t *testing.T) {
	l, _ := newTestLimiter(t)
	policy := domain.RateLimitPolicy{PerMinute: 2, PerHour: 100}

	require.NoError(t, l.Allow(context.Background(), "wh1", policy))
	require.NoError(t, l.Allow(context.Background(), "wh1", policy))

	err := l.Allow(context.Background(), "wh1", policy)
	require.Error(t, err)
	assert.Equal(t, domain.ErrRateLimitExceeded, domain.KindOf(err))
}

func TestAllowResetsAfterWindowElapses(t *testing.T) {
	l, mr := newTestLimiter(t)
	policy := domain.RateLimitPolicy{PerMinute: 1, PerHour: 100}

	require.NoError(t, l.Allow(context.Background(), "wh1", policy))
	err := l.Allow(context.Background(), "wh1", policy)
	require.Error(t, err)

	mr.FastForward(time.Minute + time.Second)

	require.NoError(t, l.Allow(context.Background(), "wh1", policy))
}

func TestAllowIsPerWebhook(t *testing.T) {
	l, _ := newTestLimiter(t)
	policy := domain.RateLimitPolicy{PerMinute: 1, PerHour: 100}

	require.NoError(t, l.Allow(context.Background(), "wh1", policy))
	require.NoError(t, l.Allow(context.Background(), "wh2", policy))
}
