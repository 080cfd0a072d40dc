package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/domain"
)

// PositionRepository persists the authoritative mirror of open exchange
// positions, including the transactional set-replace the reconciler's
// positions-sync step requires (§5).
type PositionRepository struct {
	db *database.DB
}

func NewPositionRepository(db *database.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// ReplaceForAccount runs the positions-sync set-replace inside one
// transaction: every row in live is upserted, and every local row for
// accountID not present in live is deleted. This guards against a reader
// observing a partially-replaced set mid-cycle.
func (r *PositionRepository) ReplaceForAccount(ctx context.Context, accountID string, live []domain.Position) error {
	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		liveSymbols := make(map[string]bool, len(live))
		for _, p := range live {
			liveSymbols[p.Symbol] = true
			_, err := tx.ExecContext(ctx, `
				INSERT INTO positions (account_id, symbol, exchange, side, size, entry_price, mark_price,
				                        unrealized_pnl, realized_pnl, leverage, liquidation_px, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(account_id, symbol) DO UPDATE SET
					side = excluded.side, size = excluded.size, entry_price = excluded.entry_price,
					mark_price = excluded.mark_price, unrealized_pnl = excluded.unrealized_pnl,
					realized_pnl = excluded.realized_pnl, leverage = excluded.leverage,
					liquidation_px = excluded.liquidation_px, updated_at = excluded.updated_at
			`, p.AccountID, p.Symbol, p.Exchange, p.Side, p.Size, p.EntryPrice, p.MarkPrice,
				p.UnrealizedPnL, p.RealizedPnL, p.Leverage, p.LiquidationPx, p.UpdatedAt)
			if err != nil {
				return fmt.Errorf("repository: upsert position %s: %w", p.Symbol, err)
			}
		}

		rows, err := tx.QueryContext(ctx, `SELECT symbol FROM positions WHERE account_id = ?`, accountID)
		if err != nil {
			return fmt.Errorf("repository: list local positions: %w", err)
		}
		var toDelete []string
		for rows.Next() {
			var sym string
			if err := rows.Scan(&sym); err != nil {
				rows.Close()
				return fmt.Errorf("repository: scan local position symbol: %w", err)
			}
			if !liveSymbols[sym] {
				toDelete = append(toDelete, sym)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, sym := range toDelete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE account_id = ? AND symbol = ?`, accountID, sym); err != nil {
				return fmt.Errorf("repository: delete closed position %s: %w", sym, err)
			}
		}
		return nil
	})
}

// GetOpen returns the open position for (accountID, symbol), or ErrNotFound
// if there is none — used by the close-semantics step and the price-source
// fallback chain's second rung.
func (r *PositionRepository) GetOpen(ctx context.Context, accountID, symbol string) (domain.Position, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT account_id, symbol, exchange, side, size, entry_price, mark_price,
		       unrealized_pnl, realized_pnl, leverage, liquidation_px, updated_at
		FROM positions WHERE account_id = ? AND symbol = ?
	`, accountID, symbol)
	var p domain.Position
	err := row.Scan(&p.AccountID, &p.Symbol, &p.Exchange, &p.Side, &p.Size, &p.EntryPrice, &p.MarkPrice,
		&p.UnrealizedPnL, &p.RealizedPnL, &p.Leverage, &p.LiquidationPx, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Position{}, ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("repository: scan position: %w", err)
	}
	return p, nil
}

// ListOpenByAccount returns every open position for accountID, used by
// close_all and by the PnL snapshot step.
func (r *PositionRepository) ListOpenByAccount(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, symbol, exchange, side, size, entry_price, mark_price,
		       unrealized_pnl, realized_pnl, leverage, liquidation_px, updated_at
		FROM positions WHERE account_id = ?
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("repository: list open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Exchange, &p.Side, &p.Size, &p.EntryPrice, &p.MarkPrice,
			&p.UnrealizedPnL, &p.RealizedPnL, &p.Leverage, &p.LiquidationPx, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan position row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
