package stats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/domain"
	"github.com/aristath/signalbridge/internal/repository"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.New(database.Config{DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	_, err = db.ExecContext(ctx, `INSERT INTO users (id, email, display_name, active) VALUES ('u1','u1@example.com','',1)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO exchange_accounts (id, owner_id, display_name, exchange, testnet, active, primary_for_user,
		                                api_key_cipher, secret_cipher, passphrase_cipher, created_at, updated_at)
		VALUES ('acc1','u1','','binance',0,1,1,'x','y','', datetime('now'), datetime('now'))
	`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO orders (id, client_order_id, exchange_order_id, account_id, exchange, symbol, side, type,
		                     quantity, price, filled, remaining, status, reduce_only, created_at, updated_at)
		VALUES ('o1','co1','eo1','acc1','binance','BTCUSDT','buy','market',1,50000,1,0,'filled',0, datetime('now'), datetime('now'))
	`)
	require.NoError(t, err)
	return db
}

func TestSummarizeWithNoTradesReturnsZeroSummary(t *testing.T) {
	db := setupDB(t)
	calc := NewCalculator(repository.NewTradeRepository(db))

	summary, err := calc.Summarize(context.Background(), "acc1", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Count)
	require.Zero(t, summary.Mean)
	require.Zero(t, summary.StdDev)
}

func TestSummarizeComputesMeanAndStdDev(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	trades := repository.NewTradeRepository(db)

	now := time.Now()
	for i, qp := range []struct{ qty, price float64 }{{1, 100}, {2, 100}, {1, 300}} {
		_, err := trades.InsertIfNew(ctx, domain.Trade{
			TradeID: fmt.Sprintf("t%d", i), OrderID: "o1", AccountID: "acc1", Symbol: "BTCUSDT",
			Side: domain.SideBuy, Quantity: qp.qty, Price: qp.price, Timestamp: now,
		})
		require.NoError(t, err)
	}

	calc := NewCalculator(trades)
	summary, err := calc.Summarize(ctx, "acc1", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Count)
	// notionals: 100, 200, 300 -> mean 200
	require.InDelta(t, 200, summary.Mean, 1e-9)
	require.Greater(t, summary.StdDev, 0.0)
}
