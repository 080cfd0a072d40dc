// Package repository implements the store-backed persistence for every
// entity in the data model, using raw parameterized SQL against *database.DB
// in the idiom this lineage's repositories follow.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/domain"
)

// ErrNotFound is returned by lookup methods when no row matches.
var ErrNotFound = errors.New("repository: not found")

// JobRepository persists and retrieves Job rows, including the
// alert-identifier deduplication insert the intake gateway relies on.
type JobRepository struct {
	db *database.DB
}

func NewJobRepository(db *database.DB) *JobRepository {
	return &JobRepository{db: db}
}

// InsertOrGetExisting attempts to insert a fresh pending Job keyed by
// job.AlertID. If a Job with that alert_id already exists, it returns that
// existing Job and created=false instead of erroring — this is the single
// atomic action the intake gateway's dedup-and-enqueue step performs.
func (r *JobRepository) InsertOrGetExisting(ctx context.Context, job domain.Job) (domain.Job, bool, error) {
	alertJSON, err := json.Marshal(job.Alert)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("repository: marshal alert: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, alert_id, account_id, user_id, alert_json, status, retry_count, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, '', ?)
	`, job.ID, job.AlertID, job.AccountID, job.UserID, string(alertJSON), domain.JobPending, job.CreatedAt)

	if err == nil {
		job.Status = domain.JobPending
		return job, true, nil
	}
	if !isUniqueViolation(err) {
		return domain.Job{}, false, fmt.Errorf("repository: insert job: %w", err)
	}

	existing, lookupErr := r.GetByAlertID(ctx, job.AlertID)
	if lookupErr != nil {
		return domain.Job{}, false, fmt.Errorf("repository: insert job: %w (and lookup after conflict failed: %v)", err, lookupErr)
	}
	return existing, false, nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint,
// matching on the driver's error text since modernc.org/sqlite does not
// expose a typed sentinel for this.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func (r *JobRepository) GetByAlertID(ctx context.Context, alertID string) (domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, alert_id, account_id, user_id, alert_json, status, retry_count, last_error, created_at, completed_at
		FROM jobs WHERE alert_id = ?
	`, alertID)
	return scanJob(row)
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, alert_id, account_id, user_id, alert_json, status, retry_count, last_error, created_at, completed_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (domain.Job, error) {
	var (
		j           domain.Job
		alertJSON   string
		completedAt sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.AlertID, &j.AccountID, &j.UserID, &alertJSON, &j.Status, &j.RetryCount, &j.LastError, &j.CreatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, ErrNotFound
		}
		return domain.Job{}, fmt.Errorf("repository: scan job: %w", err)
	}
	if err := json.Unmarshal([]byte(alertJSON), &j.Alert); err != nil {
		return domain.Job{}, fmt.Errorf("repository: unmarshal alert: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}

// MarkProcessing transitions a pending job to processing. It is a no-op
// guard point: the worker refuses to act on a job not in pending/processing.
func (r *JobRepository) MarkProcessing(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, domain.JobProcessing, id)
	return err
}

// MarkCompleted transitions a job to completed with a completion timestamp.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = ?, completed_at = ? WHERE id = ?`, domain.JobCompleted, at, id)
	return err
}

// MarkFailed increments retry_count and records the classified error reason.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, retry_count = retry_count + 1, last_error = ? WHERE id = ?
	`, domain.JobFailed, reason, id)
	return err
}
