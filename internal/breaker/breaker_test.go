package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signalbridge/internal/domain"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	reg := NewRegistry(Config{Window: time.Minute, FailureThreshold: 3, Cooldown: 10 * time.Millisecond})
	key := "exchange-place-order-binance"
	failing := errors.New("boom")

	for i := 0; i < 2; i++ {
		err := reg.Execute(context.Background(), key, func(ctx context.Context) error { return failing })
		assert.ErrorIs(t, err, failing)
	}
	assert.Equal(t, gobreaker.StateClosed, reg.State(key))

	err := reg.Execute(context.Background(), key, func(ctx context.Context) error { return failing })
	assert.ErrorIs(t, err, failing)
	assert.Equal(t, gobreaker.StateOpen, reg.State(key))

	err = reg.Execute(context.Background(), key, func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, domain.ErrCircuitOpen, domain.KindOf(err))
}

func TestBreakerClosesAfterCooldownAndSuccess(t *testing.T) {
	reg := NewRegistry(Config{Window: time.Minute, FailureThreshold: 1, Cooldown: 5 * time.Millisecond})
	key := "exchange-ticker-bybit"
	failing := errors.New("boom")

	_ = reg.Execute(context.Background(), key, func(ctx context.Context) error { return failing })
	assert.Equal(t, gobreaker.StateOpen, reg.State(key))

	time.Sleep(20 * time.Millisecond)

	err := reg.Execute(context.Background(), key, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, reg.State(key))
}

