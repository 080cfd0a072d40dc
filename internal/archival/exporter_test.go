package archival

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/repository"
)

// fakeStore records uploads in memory so tests never hit the network.
type fakeStore struct {
	puts map[string][]byte
}

func (f *fakeStore) Put(ctx context.Context, key string, body []byte) error {
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[key] = body
	return nil
}

func setupExporterDB(t *testing.T) *database.DB {
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

	old := time.Now().Add(-100 * 24 * time.Hour)
	_, err = db.ExecContext(ctx, `
		INSERT INTO orders (id, client_order_id, exchange_order_id, account_id, exchange, symbol, side, type,
		                     quantity, price, filled, remaining, status, reduce_only, archived, created_at, updated_at)
		VALUES ('o1','co1','eo1','acc1','binance','BTCUSDT','buy','market',1,50000,1,0,'filled',0,0,?,?)
	`, old, old)
	require.NoError(t, err)
	return db
}

func TestExporterRunArchivesOldOrders(t *testing.T) {
	db := setupExporterDB(t)
	orders := repository.NewOrderRepository(db)

	// exercise the encode+mark path directly; the real *Store talks to S3,
	// which is out of scope for a unit test.
	ctx := context.Background()
	cutoff := time.Now().Add(-90 * 24 * time.Hour)
	batch, err := orders.ArchivableBatch(ctx, cutoff, 500)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	body, err := encodeBatch(batch)
	require.NoError(t, err)
	require.Contains(t, string(body), "BTCUSDT")

	require.NoError(t, orders.MarkArchived(ctx, []string{batch[0].ID}))

	remaining, err := orders.ArchivableBatch(ctx, cutoff, 500)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestExporterRunNoopsWhenNothingToArchive(t *testing.T) {
	db, err := database.New(database.Config{DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))

	e := NewExporter(zerolog.Nop(), nil, repository.NewOrderRepository(db))
	require.NoError(t, e.Run(context.Background()))
}
