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

// OrderRepository persists Order rows.
type OrderRepository struct {
	db *database.DB
}

func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Upsert inserts o, or updates it by client_order_id if it already exists.
func (r *OrderRepository) Upsert(ctx context.Context, o domain.Order) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, client_order_id, exchange_order_id, account_id, exchange, symbol, side, type,
		                     quantity, price, filled, remaining, status, reduce_only, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id,
			filled = excluded.filled,
			remaining = excluded.remaining,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, o.ID, o.ClientOrderID, o.ExchangeOrderID, o.AccountID, o.Exchange, o.Symbol, o.Side, o.Type,
		o.Quantity, o.Price, o.Filled, o.Remaining, o.Status, o.ReduceOnly, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: upsert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByExchangeOrderID(ctx context.Context, accountID, exchangeOrderID string) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, client_order_id, exchange_order_id, account_id, exchange, symbol, side, type,
		       quantity, price, filled, remaining, status, reduce_only, created_at, updated_at
		FROM orders WHERE account_id = ? AND exchange_order_id = ?
	`, accountID, exchangeOrderID)
	return scanOrder(row)
}

func (r *OrderRepository) GetByClientOrderID(ctx context.Context, clientOrderID string) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, client_order_id, exchange_order_id, account_id, exchange, symbol, side, type,
		       quantity, price, filled, remaining, status, reduce_only, created_at, updated_at
		FROM orders WHERE client_order_id = ?
	`, clientOrderID)
	return scanOrder(row)
}

// MostRecentOpenOrderPrice backs the third step of the price-source
// fallback chain: the price of the most recent open order for the symbol.
func (r *OrderRepository) MostRecentOpenOrderPrice(ctx context.Context, accountID, symbol string) (float64, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT price FROM orders
		WHERE account_id = ? AND symbol = ? AND status IN ('pending','submitted','open','partially_filled') AND price > 0
		ORDER BY created_at DESC LIMIT 1
	`, accountID, symbol)
	var price float64
	if err := row.Scan(&price); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("repository: most recent open order price: %w", err)
	}
	return price, nil
}

// UpdateFill applies a fill delta to an order's filled/remaining/status,
// called by the reconciler's trades-sync step.
func (r *OrderRepository) UpdateFill(ctx context.Context, orderID string, filled, remaining float64, status domain.OrderStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET filled = ?, remaining = ?, status = ?, updated_at = ? WHERE id = ?
	`, filled, remaining, status, time.Now(), orderID)
	return err
}

// ArchivableBatch returns up to limit orders older than cutoff that have not
// yet been archived, for the audit archival exporter.
func (r *OrderRepository) ArchivableBatch(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, client_order_id, exchange_order_id, account_id, exchange, symbol, side, type,
		       quantity, price, filled, remaining, status, reduce_only, created_at, updated_at
		FROM orders WHERE archived = 0 AND created_at < ? ORDER BY created_at ASC LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: archivable batch: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrderFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkArchived flags a batch of orders as archived after a successful export.
func (r *OrderRepository) MarkArchived(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx, `UPDATE orders SET archived = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("repository: mark archived %s: %w", id, err)
		}
	}
	return nil
}

func scanOrder(row *sql.Row) (domain.Order, error) {
	o, err := scanOrderFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, ErrNotFound
	}
	return o, err
}

func scanOrderFrom(s scanner) (domain.Order, error) {
	var o domain.Order
	err := s.Scan(&o.ID, &o.ClientOrderID, &o.ExchangeOrderID, &o.AccountID, &o.Exchange, &o.Symbol, &o.Side, &o.Type,
		&o.Quantity, &o.Price, &o.Filled, &o.Remaining, &o.Status, &o.ReduceOnly, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("repository: scan order: %w", err)
	}
	return o, nil
}
