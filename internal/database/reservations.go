package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"quadra/internal/models"
)

const reservationColumns = `id, court_id, requester_id, start_time, end_time, duration, total_price,
	status_payment, expires_at, payment_transaction_id, payment_received_at, status_payout,
	system_fee_amount, net_payout_amount, payout_date, payout_transaction_id, cancelled_at,
	created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r                                     models.Reservation
		start, end, expires, created, updated string
		paymentTxn, payoutTxn                 sql.NullString
		paymentAt, payoutDate, cancelledAt    sql.NullString
		fee, net                              sql.NullInt64
		statusPayment, statusPayout           string
	)
	err := row.Scan(
		&r.ID, &r.CourtID, &r.RequesterID, &start, &end, &r.Duration, &r.TotalPrice,
		&statusPayment, &expires, &paymentTxn, &paymentAt, &statusPayout,
		&fee, &net, &payoutDate, &payoutTxn, &cancelledAt,
		&created, &updated, &r.Version,
	)
	if err != nil {
		return nil, err
	}

	r.StatusPayment = models.PaymentStatus(statusPayment)
	r.StatusPayout = models.PayoutStatus(statusPayout)
	r.PaymentTransactionID = stringPtr(paymentTxn)
	r.PayoutTransactionID = stringPtr(payoutTxn)
	r.SystemFeeAmount = int64Ptr(fee)
	r.NetPayoutAmount = int64Ptr(net)

	for _, f := range []struct {
		src string
		dst *time.Time
	}{
		{start, &r.StartTime}, {end, &r.EndTime}, {expires, &r.ExpiresAt},
		{created, &r.CreatedAt}, {updated, &r.UpdatedAt},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	if r.PaymentReceivedAt, err = parseNullTime(paymentAt); err != nil {
		return nil, err
	}
	if r.PayoutDate, err = parseNullTime(payoutDate); err != nil {
		return nil, err
	}
	if r.CancelledAt, err = parseNullTime(cancelledAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return r, nil
}

const overlapQuery = `SELECT ` + reservationColumns + ` FROM reservations
	WHERE court_id = ? AND status_payment IN (?, ?) AND start_time < ? AND end_time > ?
	ORDER BY start_time ASC LIMIT 1`

// FindOverlapping returns one active reservation on the court whose interval
// intersects [start, end), or nil when the slot is free.
func (db *DB) FindOverlapping(ctx context.Context, courtID string, start, end time.Time) (*models.Reservation, error) {
	return findOverlapping(ctx, db.DB, courtID, start, end)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findOverlapping(ctx context.Context, q queryRower, courtID string, start, end time.Time) (*models.Reservation, error) {
	row := q.QueryRowContext(ctx, overlapQuery, courtID,
		models.PaymentPending, models.PaymentConfirmed, formatTime(end), formatTime(start))
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping reservation: %w", err)
	}
	return r, nil
}

const insertReservation = `INSERT INTO reservations (` + reservationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertReservationRow(ctx context.Context, e execer, r *models.Reservation) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	r.Version = 1

	_, err := e.ExecContext(ctx, insertReservation,
		r.ID, r.CourtID, r.RequesterID, formatTime(r.StartTime), formatTime(r.EndTime), r.Duration, r.TotalPrice,
		string(r.StatusPayment), formatTime(r.ExpiresAt), nullString(r.PaymentTransactionID),
		formatNullTime(r.PaymentReceivedAt), string(r.StatusPayout),
		nullInt64(r.SystemFeeAmount), nullInt64(r.NetPayoutAmount), formatNullTime(r.PayoutDate),
		nullString(r.PayoutTransactionID), formatNullTime(r.CancelledAt),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), r.Version,
	)
	return err
}

func (db *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	if err := insertReservationRow(ctx, db.DB, r); err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// CreateReservationWithLock runs the overlap check and the insert in one
// write transaction, so two requests for the same slot cannot both succeed.
func (db *DB) CreateReservationWithLock(ctx context.Context, r *models.Reservation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := findOverlapping(ctx, tx, r.CourtID, r.StartTime, r.EndTime)
	if err != nil {
		return fmt.Errorf("failed to check overlap in tx: %w", err)
	}
	if existing != nil {
		return ErrOverlap
	}

	if err := insertReservationRow(ctx, tx, r); err != nil {
		return fmt.Errorf("failed to insert reservation in tx: %w", err)
	}

	return tx.Commit()
}

const updateReservation = `UPDATE reservations SET
	status_payment = ?, payment_transaction_id = ?, payment_received_at = ?, status_payout = ?,
	system_fee_amount = ?, net_payout_amount = ?, payout_date = ?, payout_transaction_id = ?,
	cancelled_at = ?, updated_at = ?, version = version + 1
	WHERE id = ? AND version = ?`

// The payment and payout sides of a reservation move independently: a
// cancellation and a settlement may land on the same row, and neither may
// overwrite the columns the other owns.
const updatePaymentSide = `UPDATE reservations SET
	status_payment = ?, payment_transaction_id = ?, payment_received_at = ?,
	cancelled_at = ?, updated_at = ?, version = version + 1
	WHERE id = ? AND status_payment = ?`

const updatePayoutSide = `UPDATE reservations SET
	status_payout = ?, system_fee_amount = ?, net_payout_amount = ?, payout_date = ?,
	payout_transaction_id = ?, updated_at = ?, version = version + 1
	WHERE id = ? AND status_payout = ?`

func updatedAt(r *models.Reservation) string {
	if r.UpdatedAt.IsZero() {
		return formatTime(time.Now().UTC())
	}
	return formatTime(r.UpdatedAt)
}

func (db *DB) execUpdate(ctx context.Context, r *models.Reservation, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	r.Version++
	return nil
}

// UpdateReservation writes every mutable field of r if nobody else has
// written the row since r was read.
func (db *DB) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	return db.execUpdate(ctx, r, updateReservation,
		string(r.StatusPayment), nullString(r.PaymentTransactionID), formatNullTime(r.PaymentReceivedAt),
		string(r.StatusPayout), nullInt64(r.SystemFeeAmount), nullInt64(r.NetPayoutAmount),
		formatNullTime(r.PayoutDate), nullString(r.PayoutTransactionID), formatNullTime(r.CancelledAt),
		updatedAt(r), r.ID, r.Version,
	)
}

// UpdateReservationIfStatus writes the payment-side fields of r only while
// the stored payment status is still expected. Payout fields are left as
// stored. A zero-row update returns ErrConcurrentModification.
func (db *DB) UpdateReservationIfStatus(ctx context.Context, r *models.Reservation, expected models.PaymentStatus) error {
	return db.execUpdate(ctx, r, updatePaymentSide,
		string(r.StatusPayment), nullString(r.PaymentTransactionID), formatNullTime(r.PaymentReceivedAt),
		formatNullTime(r.CancelledAt), updatedAt(r), r.ID, string(expected),
	)
}

// UpdateReservationIfPayout is the payout-side counterpart of
// UpdateReservationIfStatus. Payment fields are left as stored.
func (db *DB) UpdateReservationIfPayout(ctx context.Context, r *models.Reservation, expected models.PayoutStatus) error {
	return db.execUpdate(ctx, r, updatePayoutSide,
		string(r.StatusPayout), nullInt64(r.SystemFeeAmount), nullInt64(r.NetPayoutAmount),
		formatNullTime(r.PayoutDate), nullString(r.PayoutTransactionID), updatedAt(r), r.ID, string(expected),
	)
}

func (db *DB) queryReservations(ctx context.Context, query string, args ...any) ([]*models.Reservation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListExpiredPending returns unpaid reservations whose payment window closed before now.
func (db *DB) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error) {
	out, err := db.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status_payment = ? AND expires_at <= ? ORDER BY expires_at ASC LIMIT ?`,
		models.PaymentPending, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	return out, nil
}

// ListSettleable returns confirmed reservations with a pending payout that ended before t.
func (db *DB) ListSettleable(ctx context.Context, endedBefore time.Time, limit int) ([]*models.Reservation, error) {
	out, err := db.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status_payment = ? AND status_payout = ? AND end_time <= ? ORDER BY end_time ASC LIMIT ?`,
		models.PaymentConfirmed, models.PayoutPending, formatTime(endedBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list settleable reservations: %w", err)
	}
	return out, nil
}

// ListReservationsByOwner returns reservations on the owner's courts starting in [from, to).
func (db *DB) ListReservationsByOwner(ctx context.Context, ownerID string, from, to time.Time) ([]*models.Reservation, error) {
	out, err := db.queryReservations(ctx,
		`SELECT `+prefixed("r.", reservationColumns)+` FROM reservations r
		 JOIN courts c ON c.id = r.court_id
		 WHERE c.owner_id = ? AND r.start_time >= ? AND r.start_time < ?
		 ORDER BY r.start_time ASC`,
		ownerID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list owner reservations: %w", err)
	}
	return out, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
