package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signalbridge/internal/domain"
)

func fastPolicy(attempts int) Policy {
	return Policy{Base: time.Millisecond, Factor: 1.5, MaxBackoff: 10 * time.Millisecond, MaxAttempts: attempts}
}

func TestDoRetriesRetryableKind(t *testing.T) {
	calls := 0
	err := Do(context.Background(), zerolog.Nop(), fastPolicy(3), "test-op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return domain.Classify(domain.ErrExchangeTransient, "simulated timeout", errors.New("timeout"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryNonRetryableKind(t *testing.T) {
	calls := 0
	err := Do(context.Background(), zerolog.Nop(), fastPolicy(5), "test-op", func(ctx context.Context) error {
		calls++
		return domain.Classify(domain.ErrAuthCredentialsInvalid, "bad key", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, domain.ErrAuthCredentialsInvalid, domain.KindOf(err))
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), zerolog.Nop(), fastPolicy(3), "test-op", func(ctx context.Context) error {
		calls++
		return domain.Classify(domain.ErrExchangeTransient, "always fails", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, domain.ErrExchangeTransient, domain.KindOf(err))
}
