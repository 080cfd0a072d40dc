package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/domain"
)

// TradeRepository persists Trade rows, whose primary uniqueness is
// (trade_id, order_id).
type TradeRepository struct {
	db *database.DB
}

func NewTradeRepository(db *database.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// InsertIfNew inserts t unless a row with the same (trade_id, order_id)
// already exists, returning inserted=false in that case.
func (r *TradeRepository) InsertIfNew(ctx context.Context, t domain.Trade) (bool, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades (trade_id, order_id, account_id, symbol, side, quantity, price, fee_amount, fee_currency, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.TradeID, t.OrderID, t.AccountID, t.Symbol, t.Side, t.Quantity, t.Price, t.FeeAmount, t.FeeCurrency, t.Timestamp)
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, fmt.Errorf("repository: insert trade: %w", err)
}

// MostRecentTimestamp returns the timestamp of the most recent local trade
// for accountID, used as the reconciler's trades-sync "since" watermark.
// Returns the zero time and ErrNotFound if the account has no trades yet.
func (r *TradeRepository) MostRecentTimestamp(ctx context.Context, accountID string) (time.Time, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT timestamp FROM trades WHERE account_id = ? ORDER BY timestamp DESC LIMIT 1
	`, accountID)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("repository: most recent trade timestamp: %w", err)
	}
	return ts, nil
}

// SumByOrder returns the total filled quantity across all trades for orderID,
// used to cross-check an Order's filled field against its trades.
func (r *TradeRepository) SumByOrder(ctx context.Context, orderID string) (float64, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM trades WHERE order_id = ?`, orderID)
	var sum float64
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("repository: sum trades by order: %w", err)
	}
	return sum, nil
}

// RealizedDeltasSince returns one sample per trade for accountID since the
// given time, feeding the gonum-backed secondary PnL statistic (§11). The
// sample is the trade's notional (quantity * price), a coarse proxy: price -
// entry is not tracked per trade, so no true realized delta is available.
// It is never authoritative.
func (r *TradeRepository) RealizedDeltasSince(ctx context.Context, accountID string, since time.Time) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT quantity * price FROM trades WHERE account_id = ? AND timestamp >= ?
	`, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("repository: realized deltas: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("repository: scan realized delta: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
