package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signalbridge/internal/breaker"
	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/domain"
	"github.com/aristath/signalbridge/internal/exchange"
	"github.com/aristath/signalbridge/internal/repository"
	"github.com/aristath/signalbridge/internal/stats"
)

type fakePingAdapter struct {
	pingErr error
}

func (f *fakePingAdapter) Ping(ctx context.Context) error              { return f.pingErr }
func (f *fakePingAdapter) NormalizeSymbol(raw string) string           { return raw }
func (f *fakePingAdapter) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return domain.Ticker{}, nil
}
func (f *fakePingAdapter) GetBalance(ctx context.Context) (map[string]float64, error) {
	return nil, nil
}
func (f *fakePingAdapter) GetPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	return nil, nil
}
func (f *fakePingAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return nil, nil
}
func (f *fakePingAdapter) GetTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (f *fakePingAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}
func (f *fakePingAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (domain.Order, error) {
	return domain.Order{}, nil
}
func (f *fakePingAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakePingAdapter) ValidateBalance(ctx context.Context, symbol string, side domain.Side, amount, price float64, leverage int) (bool, string, error) {
	return true, "", nil
}

func setupChecker(t *testing.T, pingErr error) (*Checker, domain.ExchangeTag) {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(database.Config{DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	registry := exchange.NewRegistry()
	registry.Register(domain.ExchangeBinance, func(creds exchange.Credentials, testnet bool) exchange.Adapter {
		return &fakePingAdapter{pingErr: pingErr}
	})

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	return NewChecker(db, rc, registry, breakers, stats.NewCalculator(repository.NewTradeRepository(db))), domain.ExchangeBinance
}

func TestCheckAllHealthyReportsHealthy(t *testing.T) {
	checker, tag := setupChecker(t, nil)

	report := checker.Check(context.Background(), []ExchangePing{
		{Exchange: tag, Creds: exchange.Credentials{APIKey: "k"}, Testnet: true},
	}, nil)

	require.Equal(t, StatusHealthy, report.Status)
	for _, p := range report.Probes {
		require.Equal(t, StatusHealthy, p.Status, p.Name)
	}
}

func TestCheckExchangeDownMakesOverallUnhealthy(t *testing.T) {
	checker, tag := setupChecker(t, errors.New("connection refused"))

	report := checker.Check(context.Background(), []ExchangePing{
		{Exchange: tag, Creds: exchange.Credentials{APIKey: "k"}, Testnet: true},
	}, nil)

	require.Equal(t, StatusDown, report.Status)
}

func TestCheckUnregisteredExchangeIsDown(t *testing.T) {
	checker, _ := setupChecker(t, nil)

	report := checker.Check(context.Background(), []ExchangePing{
		{Exchange: domain.ExchangeBybit, Creds: exchange.Credentials{APIKey: "k"}},
	}, nil)

	require.Equal(t, StatusDown, report.Status)
}

func TestCheckWithNoExchangePingsStillChecksDBAndRedis(t *testing.T) {
	checker, _ := setupChecker(t, nil)

	report := checker.Check(context.Background(), nil, nil)

	require.Equal(t, StatusHealthy, report.Status)
	require.Len(t, report.Probes, 3) // database, redis, memory
	require.Empty(t, report.PnLStats)
}

func TestCheckWithAccountIDsIncludesPnLStats(t *testing.T) {
	checker, _ := setupChecker(t, nil)
	ctx := context.Background()

	_, err := checker.db.ExecContext(ctx, `INSERT INTO users (id, email, display_name, active) VALUES ('u1','u1@example.com','',1)`)
	require.NoError(t, err)
	_, err = checker.db.ExecContext(ctx, `
		INSERT INTO exchange_accounts (id, owner_id, display_name, exchange, testnet, active, primary_for_user,
		                                api_key_cipher, secret_cipher, passphrase_cipher, created_at, updated_at)
		VALUES ('acc1','u1','','binance',0,1,1,'x','y','', datetime('now'), datetime('now'))
	`)
	require.NoError(t, err)
	_, err = checker.db.ExecContext(ctx, `
		INSERT INTO orders (id, client_order_id, exchange_order_id, account_id, exchange, symbol, side, type,
		                     quantity, price, filled, remaining, status, reduce_only, created_at, updated_at)
		VALUES ('o1','co1','eo1','acc1','binance','BTCUSDT','buy','market',1,50000,1,0,'filled',0, datetime('now'), datetime('now'))
	`)
	require.NoError(t, err)
	trades := repository.NewTradeRepository(checker.db)
	_, err = trades.InsertIfNew(ctx, domain.Trade{
		TradeID: "t1", OrderID: "o1", AccountID: "acc1", Symbol: "BTCUSDT",
		Side: domain.SideBuy, Quantity: 1, Price: 100, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	report := checker.Check(ctx, nil, []string{"acc1"})

	require.Len(t, report.PnLStats, 1)
	require.Equal(t, "acc1", report.PnLStats[0].AccountID)
	require.Equal(t, 1, report.PnLStats[0].Count)
}
