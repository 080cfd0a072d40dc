package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signalbridge/internal/breaker"
	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/domain"
	"github.com/aristath/signalbridge/internal/exchange"
	"github.com/aristath/signalbridge/internal/repository"
	"github.com/aristath/signalbridge/internal/vault"
)

// fakeAdapter is a minimal in-memory exchange.Adapter stand-in, driven
// entirely by the fields a test sets before invoking the worker.
type fakeAdapter struct {
	ticker       domain.Ticker
	tickerErr    error
	balances     map[string]float64
	validateOK   bool
	validateMsg  string
	placedOrders []exchange.OrderRequest
	placeErr     error
}

func (f *fakeAdapter) Ping(ctx context.Context) error          { return nil }
func (f *fakeAdapter) NormalizeSymbol(raw string) string       { return raw }
func (f *fakeAdapter) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return f.ticker, f.tickerErr
}
func (f *fakeAdapter) GetBalance(ctx context.Context) (map[string]float64, error) {
	return f.balances, nil
}
func (f *fakeAdapter) GetPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	return nil, nil
}
func (f *fakeAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) GetTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (f *fakeAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (f *fakeAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (domain.Order, error) {
	if f.placeErr != nil {
		return domain.Order{}, f.placeErr
	}
	f.placedOrders = append(f.placedOrders, req)
	return domain.Order{
		ID: "ord_" + req.ClientOrderID, ClientOrderID: req.ClientOrderID, ExchangeOrderID: "ex_1",
		Symbol: req.Symbol, Side: req.Side, Type: req.Type, Quantity: req.Amount, Price: req.Price,
		Status: domain.OrderSubmitted, ReduceOnly: req.ReduceOnly, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}, nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeAdapter) ValidateBalance(ctx context.Context, symbol string, side domain.Side, amount, price float64, leverage int) (bool, string, error) {
	return f.validateOK, f.validateMsg, nil
}

func setupTestWorker(t *testing.T) (*Worker, *database.DB, domain.ExchangeAccount, *fakeAdapter) {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(database.Config{DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	v, err := vault.New(key)
	require.NoError(t, err)

	apiCT, secCT, _, err := v.EncryptCredentials(vault.Credentials{APIKey: "key", Secret: "secret"})
	require.NoError(t, err)

	accounts := repository.NewAccountRepository(db)
	jobs := repository.NewJobRepository(db)
	orders := repository.NewOrderRepository(db)
	positions := repository.NewPositionRepository(db)

	_, err = db.ExecContext(ctx, `INSERT INTO users (id, email, display_name, active) VALUES (?, ?, ?, 1)`,
		"u1", "u1@example.com", "Test User")
	require.NoError(t, err)
	account := domain.ExchangeAccount{
		ID: "acc1", OwnerID: "u1", Exchange: domain.ExchangeBinance, Active: true,
		APIKeyCipher: apiCT, SecretCipher: secCT, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO exchange_accounts (id, owner_id, display_name, exchange, testnet, active, primary_for_user,
		                                api_key_cipher, secret_cipher, passphrase_cipher, created_at, updated_at)
		VALUES (?, ?, '', ?, 0, 1, 1, ?, ?, '', ?, ?)
	`, account.ID, account.OwnerID, account.Exchange, account.APIKeyCipher, account.SecretCipher, account.CreatedAt, account.UpdatedAt)
	require.NoError(t, err)

	fake := &fakeAdapter{
		ticker:     domain.Ticker{Symbol: "BTCUSDT", Price: 50000, Timestamp: time.Now()},
		balances:   map[string]float64{"USDT": 10000},
		validateOK: true,
	}
	registry := exchange.NewRegistry()
	registry.Register(domain.ExchangeBinance, func(creds exchange.Credentials, testnet bool) exchange.Adapter {
		return fake
	})

	w := NewWorker(zerolog.Nop(), nil, v, registry, breaker.NewRegistry(breaker.DefaultConfig()), accounts, jobs, orders, positions)
	return w, db, account, fake
}

func TestExecuteOpenPlacesMarketOrder(t *testing.T) {
	w, _, account, fake := setupTestWorker(t)
	ctx := context.Background()

	job := domain.Job{
		ID: "job1", AlertID: "alert1", AccountID: account.ID, UserID: account.OwnerID,
		Alert: domain.Alert{Ticker: "BTCUSDT", Action: domain.ActionBuy, SizeMode: domain.SizeModeQuote, SizeValue: 100, Leverage: 10},
	}

	err := w.execute(ctx, job)
	require.NoError(t, err)
	require.Len(t, fake.placedOrders, 1)
	require.Equal(t, domain.SideBuy, fake.placedOrders[0].Side)
	require.InDelta(t, 0.02, fake.placedOrders[0].Amount, 1e-9)
}

func TestExecuteOpenRejectsInsufficientBalance(t *testing.T) {
	w, _, account, fake := setupTestWorker(t)
	fake.validateOK = false
	fake.validateMsg = "insufficient margin"
	ctx := context.Background()

	job := domain.Job{
		ID: "job2", AlertID: "alert2", AccountID: account.ID, UserID: account.OwnerID,
		Alert: domain.Alert{Ticker: "BTCUSDT", Action: domain.ActionBuy, SizeMode: domain.SizeModeQuote, SizeValue: 100, Leverage: 10},
	}

	err := w.execute(ctx, job)
	require.Error(t, err)
	require.Equal(t, domain.ErrFundsInsufficient, domain.KindOf(err))
	require.Empty(t, fake.placedOrders)
}

func TestExecuteCloseWithNoOpenPositionSkipsSilently(t *testing.T) {
	w, _, account, fake := setupTestWorker(t)
	ctx := context.Background()

	job := domain.Job{
		ID: "job3", AlertID: "alert3", AccountID: account.ID, UserID: account.OwnerID,
		Alert: domain.Alert{Ticker: "BTCUSDT", Action: domain.ActionClose},
	}

	err := w.execute(ctx, job)
	require.NoError(t, err)
	require.Empty(t, fake.placedOrders)
}

func TestExecuteClosePlacesReduceOnlyOppositeOrder(t *testing.T) {
	w, _, account, fake := setupTestWorker(t)
	ctx := context.Background()

	require.NoError(t, w.positions.ReplaceForAccount(ctx, account.ID, []domain.Position{
		{AccountID: account.ID, Symbol: "BTCUSDT", Exchange: account.Exchange, Side: domain.PositionLong, Size: 0.5, MarkPrice: 51000, UpdatedAt: time.Now()},
	}))

	job := domain.Job{
		ID: "job4", AlertID: "alert4", AccountID: account.ID, UserID: account.OwnerID,
		Alert: domain.Alert{Ticker: "BTCUSDT", Action: domain.ActionClose},
	}

	err := w.execute(ctx, job)
	require.NoError(t, err)
	require.Len(t, fake.placedOrders, 1)
	require.True(t, fake.placedOrders[0].ReduceOnly)
	require.Equal(t, domain.SideSell, fake.placedOrders[0].Side)
	require.InDelta(t, 0.5, fake.placedOrders[0].Amount, 1e-9)
}

func TestExecuteUnknownActionIsInternalError(t *testing.T) {
	w, _, account, _ := setupTestWorker(t)
	ctx := context.Background()

	job := domain.Job{
		ID: "job5", AlertID: "alert5", AccountID: account.ID, UserID: account.OwnerID,
		Alert: domain.Alert{Ticker: "BTCUSDT", Action: "frobnicate"},
	}

	err := w.execute(ctx, job)
	require.Error(t, err)
	require.Equal(t, domain.ErrInternal, domain.KindOf(err))
}
