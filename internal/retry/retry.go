// Package retry centralizes the classified-retry policy used by the
// executor and reconciler. Adapters never retry internally; retry lives at
// the layer that owns the business meaning of a repeated attempt.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aristath/signalbridge/internal/domain"
)

// Policy is the exponential-backoff shape from the spec: base 2s, factor 2,
// jitter, capped at 60s.
type Policy struct {
	Base       time.Duration
	Factor     float64
	MaxBackoff time.Duration
	MaxAttempts int
}

// DefaultPolicy matches §4.B: base 2s, factor 2, cap 60s, 5 attempts.
func DefaultPolicy() Policy {
	return Policy{Base: 2 * time.Second, Factor: 2, MaxBackoff: 60 * time.Second, MaxAttempts: 5}
}

// ReconcilePolicy matches the reconciler's tighter bound: 2 attempts.
func ReconcilePolicy() Policy {
	p := DefaultPolicy()
	p.MaxAttempts = 2
	return p
}

func (p Policy) toBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.Multiplier = p.Factor
	eb.MaxInterval = p.MaxBackoff
	eb.RandomizationFactor = 0.2 // matches the spec's ±20% jitter
	return backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1))
}

// Do runs fn, retrying according to policy only when the error classifies as
// retryable per domain.ErrorKind.Retryable. A non-retryable classified error,
// or the final retryable failure, is returned unwrapped from backoff's
// internal state so the caller sees the original *domain.TaxonomyError.
func Do(ctx context.Context, log zerolog.Logger, policy Policy, opName string, fn func(ctx context.Context) error) error {
	var lastErr error
	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.KindOf(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("op", opName).Dur("wait", wait).Msg("retrying after classified failure")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(policy.toBackoff(), ctx), notify); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
