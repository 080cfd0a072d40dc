package repository

import (
	"context"
	"fmt"

	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/domain"
)

// PnLRepository appends PnLRecord snapshots; records are never updated or
// deleted, only inserted.
type PnLRepository struct {
	db *database.DB
}

func NewPnLRepository(db *database.DB) *PnLRepository {
	return &PnLRepository{db: db}
}

func (r *PnLRepository) Insert(ctx context.Context, p domain.PnLRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pnl_records (id, account_id, user_id, realized_pnl, unreal_pnl, equity, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.AccountID, p.UserID, p.RealizedPnL, p.UnrealPnL, p.Equity, p.Timestamp)
	if err != nil {
		return fmt.Errorf("repository: insert pnl record: %w", err)
	}
	return nil
}
