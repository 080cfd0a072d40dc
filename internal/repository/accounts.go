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

// AccountRepository persists ExchangeAccount rows.
type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (domain.ExchangeAccount, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, display_name, exchange, testnet, active, primary_for_user,
		       api_key_cipher, secret_cipher, passphrase_cipher, created_at, updated_at
		FROM exchange_accounts WHERE id = ?
	`, id)
	return scanAccount(row)
}

// GetPrimaryForUser resolves the webhook owner's primary account for the
// given exchange tag, as used by the intake gateway's account-resolution step.
func (r *AccountRepository) GetPrimaryForUser(ctx context.Context, ownerID string, exchange domain.ExchangeTag) (domain.ExchangeAccount, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, display_name, exchange, testnet, active, primary_for_user,
		       api_key_cipher, secret_cipher, passphrase_cipher, created_at, updated_at
		FROM exchange_accounts
		WHERE owner_id = ? AND exchange = ? AND primary_for_user = 1 AND active = 1
	`, ownerID, exchange)
	return scanAccount(row)
}

// ListActive returns every active account, used by the reconciler's
// per-tick account enumeration.
func (r *AccountRepository) ListActive(ctx context.Context) ([]domain.ExchangeAccount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, display_name, exchange, testnet, active, primary_for_user,
		       api_key_cipher, secret_cipher, passphrase_cipher, created_at, updated_at
		FROM exchange_accounts WHERE active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("repository: list active accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.ExchangeAccount
	for rows.Next() {
		a, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListActiveIDs returns just the IDs of active accounts, satisfying
// queue.AccountLister for the scheduler's per-tick enumeration without
// pulling the full row (including cipher fields) into that path.
func (r *AccountRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM exchange_accounts WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("repository: list active account ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository: scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Deactivate flags an account inactive, used when the reconciler observes
// auth/credentials_invalid and must stop scheduling the account.
func (r *AccountRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE exchange_accounts SET active = 0, updated_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row *sql.Row) (domain.ExchangeAccount, error) {
	a, err := scanAccountFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ExchangeAccount{}, ErrNotFound
	}
	return a, err
}

func scanAccountRows(rows *sql.Rows) (domain.ExchangeAccount, error) {
	return scanAccountFrom(rows)
}

func scanAccountFrom(s scanner) (domain.ExchangeAccount, error) {
	var a domain.ExchangeAccount
	err := s.Scan(&a.ID, &a.OwnerID, &a.DisplayName, &a.Exchange, &a.Testnet, &a.Active, &a.PrimaryForUser,
		&a.APIKeyCipher, &a.SecretCipher, &a.PassphraseCipher, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.ExchangeAccount{}, fmt.Errorf("repository: scan account: %w", err)
	}
	return a, nil
}
