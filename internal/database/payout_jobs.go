package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quadra/internal/models"
)

const payoutJobColumns = `id, reservation_id, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func scanPayoutJob(row rowScanner) (*models.PayoutJob, error) {
	var (
		j                      models.PayoutJob
		lastErr                sql.NullString
		created                string
		processed, nextAttempt sql.NullString
	)
	if err := row.Scan(&j.ID, &j.ReservationID, &j.Status, &j.RetryCount, &lastErr, &created, &processed, &nextAttempt); err != nil {
		return nil, err
	}
	var err error
	j.LastError = stringPtr(lastErr)
	if j.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if j.ProcessedAt, err = parseNullTime(processed); err != nil {
		return nil, err
	}
	if j.NextRetryAt, err = parseNullTime(nextAttempt); err != nil {
		return nil, err
	}
	return &j, nil
}

// CreatePayoutJob persists a settlement request. If an open job already exists
// for the reservation it is returned instead and created is false.
func (db *DB) CreatePayoutJob(ctx context.Context, reservationID string) (job *models.PayoutJob, created bool, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT `+payoutJobColumns+` FROM payout_jobs
		 WHERE reservation_id = ? AND status IN (?, ?, ?) ORDER BY id DESC LIMIT 1`,
		reservationID, models.JobStatusPending, models.JobStatusRetry, models.JobStatusProcessing)
	existing, err := scanPayoutJob(row)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("failed to look up payout job: %w", err)
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO payout_jobs (reservation_id, status, retry_count, created_at) VALUES (?, ?, 0, ?)`,
		reservationID, models.JobStatusPending, formatTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create payout job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit payout job: %w", err)
	}

	return &models.PayoutJob{
		ID:            id,
		ReservationID: reservationID,
		Status:        models.JobStatusPending,
		CreatedAt:     now,
	}, true, nil
}

func (db *DB) GetPayoutJob(ctx context.Context, id int64) (*models.PayoutJob, error) {
	j, err := scanPayoutJob(db.QueryRowContext(ctx, `SELECT `+payoutJobColumns+` FROM payout_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout job: %w", err)
	}
	return j, nil
}

func (db *DB) listPayoutJobs(ctx context.Context, query string, args ...any) ([]models.PayoutJob, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.PayoutJob
	for rows.Next() {
		j, err := scanPayoutJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// GetPendingPayoutJobs returns jobs that are due at now.
func (db *DB) GetPendingPayoutJobs(ctx context.Context, now time.Time, limit int) ([]models.PayoutJob, error) {
	jobs, err := db.listPayoutJobs(ctx,
		`SELECT `+payoutJobColumns+` FROM payout_jobs
		 WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		models.JobStatusPending, models.JobStatusRetry, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending payout jobs: %w", err)
	}
	return jobs, nil
}

func (db *DB) GetFailedPayoutJobs(ctx context.Context) ([]models.PayoutJob, error) {
	jobs, err := db.listPayoutJobs(ctx,
		`SELECT `+payoutJobColumns+` FROM payout_jobs WHERE status = ? ORDER BY created_at DESC`,
		models.JobStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed payout jobs: %w", err)
	}
	return jobs, nil
}

func (db *DB) UpdatePayoutJobStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var (
		query string
		args  []any
	)
	lastErr := sql.NullString{String: errMsg, Valid: errMsg != ""}

	switch status {
	case models.JobStatusRetry:
		query = `UPDATE payout_jobs SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, lastErr, formatNullTime(nextRetryAt), id}
	case models.JobStatusCompleted, models.JobStatusFailed:
		now := time.Now().UTC()
		query = `UPDATE payout_jobs SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`
		args = []any{status, lastErr, formatTime(now), id}
	default:
		query = `UPDATE payout_jobs SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, lastErr, formatNullTime(nextRetryAt), id}
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update payout job status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}
