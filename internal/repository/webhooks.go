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

// WebhookRepository persists Webhook rows and their auto-pause counters.
type WebhookRepository struct {
	db *database.DB
}

func NewWebhookRepository(db *database.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) GetByURLPath(ctx context.Context, urlPath string) (domain.Webhook, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, url_path, secret, public, status, rate_per_minute, rate_per_hour,
		       error_threshold, consecutive_fails, delivery_count, created_at, updated_at
		FROM webhooks WHERE url_path = ?
	`, urlPath)
	w, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Webhook{}, ErrNotFound
	}
	return w, err
}

func scanWebhook(row *sql.Row) (domain.Webhook, error) {
	var w domain.Webhook
	err := row.Scan(&w.ID, &w.OwnerID, &w.URLPath, &w.Secret, &w.Public, &w.Status,
		&w.RateLimit.PerMinute, &w.RateLimit.PerHour, &w.ErrorThreshold, &w.ConsecutiveFails,
		&w.DeliveryCount, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return domain.Webhook{}, fmt.Errorf("repository: scan webhook: %w", err)
	}
	return w, nil
}

// RecordOutcome increments delivery_count always, and either resets or
// increments the consecutive-failure counter. When the counter crosses
// threshold, the webhook transitions to paused and the (possibly changed)
// status is returned so the caller can emit a notification event.
func (r *WebhookRepository) RecordOutcome(ctx context.Context, id string, success bool) (domain.WebhookStatus, error) {
	var status domain.WebhookStatus
	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT consecutive_fails, error_threshold, status FROM webhooks WHERE id = ?`, id)
		var fails, threshold int
		if err := row.Scan(&fails, &threshold, &status); err != nil {
			return fmt.Errorf("repository: read webhook counters: %w", err)
		}

		if success {
			fails = 0
		} else {
			fails++
		}
		if fails >= threshold && status == domain.WebhookActive {
			status = domain.WebhookPaused
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE webhooks SET delivery_count = delivery_count + 1, consecutive_fails = ?, status = ?, updated_at = ?
			WHERE id = ?
		`, fails, status, time.Now(), id)
		return err
	})
	return status, err
}
