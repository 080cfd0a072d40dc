// Package exchange is the uniform façade over heterogeneous exchange REST
// semantics (§4.E). Every concrete adapter implements Adapter; dispatch is
// by domain.ExchangeTag through a Registry. Adapters never retry internally
// — retry and circuit-breaking live at the layer that calls them.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/signalbridge/internal/domain"
)

// OrderRequest is the canonical order shape the worker submits; each
// adapter translates it into the exchange's native wire shape.
type OrderRequest struct {
	Symbol        string
	Side          domain.Side
	Amount        float64
	Type          domain.OrderType
	Price         float64 // 0 for market orders
	ClientOrderID string
	ReduceOnly    bool
	StopLoss      float64
	TakeProfit    float64
}

// Adapter is the capability set every exchange implementation must provide.
type Adapter interface {
	Ping(ctx context.Context) error
	NormalizeSymbol(raw string) string
	GetTicker(ctx context.Context, symbol string) (domain.Ticker, error)
	GetBalance(ctx context.Context) (map[string]float64, error)
	GetPositions(ctx context.Context, symbol string) ([]domain.Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)
	GetTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Trade, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req OrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	ValidateBalance(ctx context.Context, symbol string, side domain.Side, amount, price float64, leverage int) (bool, string, error)
}

// StreamingAdapter is the optional capability (§4.E) an adapter may add for
// a websocket ticker fast-path.
type StreamingAdapter interface {
	StreamTicker(ctx context.Context, symbol string) (<-chan domain.Ticker, error)
}

// Credentials is the plaintext bundle the vault hands back to the executor,
// re-declared here to avoid the exchange package importing vault.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Factory constructs one adapter instance for a given account's credentials
// and testnet flag.
type Factory func(creds Credentials, testnet bool) Adapter

// Registry resolves exchange tags to adapter factories, and caches
// constructed instances per (exchange, testnet, apiKey) so repeated jobs for
// the same account reuse one adapter's connection and worker goroutine.
type Registry struct {
	mu        sync.Mutex
	factories map[domain.ExchangeTag]Factory
	instances map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[domain.ExchangeTag]Factory),
		instances: make(map[string]Adapter),
	}
}

// Register binds tag to a constructor. Called once per supported exchange
// at process boot.
func (r *Registry) Register(tag domain.ExchangeTag, f Factory) {
	r.factories[tag] = f
}

// Get returns the adapter for tag, constructing and caching it on first use
// for this set of credentials.
func (r *Registry) Get(tag domain.ExchangeTag, creds Credentials, testnet bool) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.factories[tag]
	if !ok {
		return nil, domain.Classify(domain.ErrConfigUnsupportedExch, fmt.Sprintf("no adapter registered for %q", tag), nil)
	}
	cacheKey := fmt.Sprintf("%s:%v:%s", tag, testnet, creds.APIKey)
	if inst, ok := r.instances[cacheKey]; ok {
		return inst, nil
	}
	inst := f(creds, testnet)
	r.instances[cacheKey] = inst
	return inst, nil
}
