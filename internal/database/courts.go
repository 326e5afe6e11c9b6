package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quadra/internal/models"
)

// UpsertCourt inserts or replaces the court row. Courts are managed by the
// catalog service; this path exists for seeding.
func (db *DB) UpsertCourt(ctx context.Context, c *models.Court) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `INSERT INTO courts (
				id, owner_id, name, price_hour, open_time, close_time, open_days,
				max_duration_hours, is_active, payout_destination, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				owner_id = excluded.owner_id, name = excluded.name, price_hour = excluded.price_hour,
				open_time = excluded.open_time, close_time = excluded.close_time,
				open_days = excluded.open_days, max_duration_hours = excluded.max_duration_hours,
				is_active = excluded.is_active, payout_destination = excluded.payout_destination,
				updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, query,
		c.ID, c.OwnerID, c.Name, c.PriceHour, c.OpenTime, c.CloseTime, encodeDays(c.OpenDays),
		c.MaxDurationHours, c.IsActive, c.PayoutDestination, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert court: %w", err)
	}
	return nil
}

func (db *DB) GetCourt(ctx context.Context, id string) (*models.Court, error) {
	var (
		c                      models.Court
		days, created, updated string
	)
	query := `SELECT id, owner_id, name, price_hour, open_time, close_time, open_days,
	                 max_duration_hours, is_active, payout_destination, created_at, updated_at
              FROM courts WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.PriceHour, &c.OpenTime, &c.CloseTime, &days,
		&c.MaxDurationHours, &c.IsActive, &c.PayoutDestination, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get court: %w", err)
	}

	if c.OpenDays, err = decodeDays(days); err != nil {
		return nil, fmt.Errorf("court %s: %w", id, err)
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}

// open_days is stored as a comma-separated list of weekday numbers (0 = Sunday).
func encodeDays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeDays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday %q", p)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}
