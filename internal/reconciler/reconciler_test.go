package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signalbridge/internal/breaker"
	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/domain"
	"github.com/aristath/signalbridge/internal/events"
	"github.com/aristath/signalbridge/internal/exchange"
	"github.com/aristath/signalbridge/internal/queue"
	"github.com/aristath/signalbridge/internal/repository"
	"github.com/aristath/signalbridge/internal/vault"
)

type fakeReconcileAdapter struct {
	positions []domain.Position
	trades    map[string][]domain.Trade // symbol -> trades
	posErr    error
}

func (f *fakeReconcileAdapter) Ping(ctx context.Context) error    { return nil }
func (f *fakeReconcileAdapter) NormalizeSymbol(s string) string  { return s }
func (f *fakeReconcileAdapter) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return domain.Ticker{}, nil
}
func (f *fakeReconcileAdapter) GetBalance(ctx context.Context) (map[string]float64, error) {
	return nil, nil
}
func (f *fakeReconcileAdapter) GetPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	return f.positions, f.posErr
}
func (f *fakeReconcileAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return nil, nil
}
func (f *fakeReconcileAdapter) GetTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Trade, error) {
	return f.trades[symbol], nil
}
func (f *fakeReconcileAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}
func (f *fakeReconcileAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (domain.Order, error) {
	return domain.Order{}, nil
}
func (f *fakeReconcileAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}
func (f *fakeReconcileAdapter) ValidateBalance(ctx context.Context, symbol string, side domain.Side, amount, price float64, leverage int) (bool, string, error) {
	return true, "", nil
}

type fakeReleaser struct{ released []string }

func (f *fakeReleaser) ReleaseAccount(accountID string) { f.released = append(f.released, accountID) }

func setupTestReconciler(t *testing.T) (*Reconciler, domain.ExchangeAccount, *fakeReconcileAdapter, *database.DB) {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(database.Config{DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	key := make([]byte, 32)
	v, err := vault.New(key)
	require.NoError(t, err)
	apiCT, secCT, _, err := v.EncryptCredentials(vault.Credentials{APIKey: "key", Secret: "secret"})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO users (id, email, display_name, active) VALUES (?, ?, '', 1)`, "u1", "u1@example.com")
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

	fake := &fakeReconcileAdapter{trades: make(map[string][]domain.Trade)}
	registry := exchange.NewRegistry()
	registry.Register(domain.ExchangeBinance, func(creds exchange.Credentials, testnet bool) exchange.Adapter {
		return fake
	})

	accounts := repository.NewAccountRepository(db)
	orders := repository.NewOrderRepository(db)
	trades := repository.NewTradeRepository(db)
	positions := repository.NewPositionRepository(db)
	pnl := repository.NewPnLRepository(db)
	bus := events.NewBus(zerolog.Nop())

	rc := New(zerolog.Nop(), nil, &fakeReleaser{}, v, registry, breaker.NewRegistry(breaker.DefaultConfig()),
		accounts, orders, trades, positions, pnl, bus)
	return rc, account, fake, db
}

func TestCycleReplacesPositionsAndSnapshotsPnL(t *testing.T) {
	rc, account, fake, db := setupTestReconciler(t)
	ctx := context.Background()

	fake.positions = []domain.Position{
		{Symbol: "BTCUSDT", Side: domain.PositionLong, Size: 1, EntryPrice: 50000, MarkPrice: 51000, UnrealizedPnL: 1000, UpdatedAt: time.Now()},
	}

	err := rc.cycle(ctx, account.ID)
	require.NoError(t, err)

	stored, err := repository.NewPositionRepository(db).ListOpenByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "BTCUSDT", stored[0].Symbol)

	var count int
	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pnl_records WHERE account_id = ?`, account.ID)
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}

func TestCycleDeactivatesAccountOnInvalidCredentials(t *testing.T) {
	rc, account, fake, db := setupTestReconciler(t)
	ctx := context.Background()
	fake.posErr = domain.Classify(domain.ErrAuthCredentialsInvalid, "bad key", nil)

	err := rc.cycle(ctx, account.ID)
	require.Error(t, err)

	reloaded, err := repository.NewAccountRepository(db).GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, reloaded.Active)
}

func TestRunReleasesAccountAfterCycle(t *testing.T) {
	rc, account, fake, _ := setupTestReconciler(t)
	ctx := context.Background()
	fake.positions = nil

	released := &fakeReleaser{}
	rc.scheduler = released

	mr := miniredis.RunT(t)
	rc.q = queue.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zerolog.Nop())
	require.NoError(t, rc.q.Enqueue(ctx, queue.Message{
		ID: "m1", Type: queue.MessageReconcileAccount, AccountID: account.ID,
		Priority: queue.PriorityMedium, EnqueuedAt: time.Now(),
	}))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		rc.Run(runCtx)
		close(done)
	}()
	// The payload hash empties once Run acks the delivery; ReleaseAccount
	// follows in the same loop iteration, before Run can observe cancel.
	require.Eventually(t, func() bool {
		keys, _ := mr.HKeys("queue:payloads")
		return len(keys) == 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	require.Contains(t, released.released, account.ID)
}
