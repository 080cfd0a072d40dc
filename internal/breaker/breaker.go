// Package breaker wraps sony/gobreaker behind a small named registry so
// callers never construct a gobreaker.CircuitBreaker directly — they ask the
// registry for the breaker keyed by, e.g., "exchange-place-order-binance".
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/signalbridge/internal/domain"
)

// Config tunes one breaker's state machine.
type Config struct {
	Window            time.Duration
	FailureThreshold  uint32
	Cooldown          time.Duration
}

// DefaultConfig matches the exchange-API defaults from the spec: a 60s
// sliding window, 10 consecutive/threshold failures, 30s cooldown.
func DefaultConfig() Config {
	return Config{
		Window:           60 * time.Second,
		FailureThreshold: 10,
		Cooldown:         30 * time.Second,
	}
}

// Registry hands out per-key circuit breakers, constructing them lazily on
// first use with a given or default Config.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      Config
}

// NewRegistry creates a Registry whose lazily-constructed breakers all use cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{breakers: make(map[string]*gobreaker.CircuitBreaker), cfg: cfg}
}

func (r *Registry) get(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    r.cfg.Window,
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.FailureThreshold
		},
	})
	r.breakers[key] = b
	return b
}

// Execute runs fn through the breaker keyed by key. If the breaker is open,
// fn is never called and a domain.ErrCircuitOpen error is returned.
func (r *Registry) Execute(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	b := r.get(key)
	_, err := b.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return domain.Classify(domain.ErrCircuitOpen, fmt.Sprintf("breaker %q is open", key), err)
	}
	return err
}

// State reports the current state of the breaker keyed by key, for health
// reporting and tests. Returns gobreaker.StateClosed if the key has never
// been used (it has not yet been constructed, which is equivalent to closed).
func (r *Registry) State(key string) gobreaker.State {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return b.State()
}
