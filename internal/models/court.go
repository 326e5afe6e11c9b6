package models

import (
	"fmt"
	"time"
)

type Court struct {
	ID                string         `json:"id" yaml:"id"`
	OwnerID           string         `json:"owner_id" yaml:"owner_id"`
	Name              string         `json:"name" yaml:"name"`
	PriceHour         int64          `json:"price_hour" yaml:"price_hour"`
	OpenTime          string         `json:"open_time" yaml:"open_time"`   // HH:MM
	CloseTime         string         `json:"close_time" yaml:"close_time"` // HH:MM
	OpenDays          []time.Weekday `json:"open_days" yaml:"open_days"`
	MaxDurationHours  int            `json:"max_duration_hours" yaml:"max_duration_hours"`
	IsActive          bool           `json:"is_active" yaml:"is_active"`
	PayoutDestination string         `json:"payout_destination" yaml:"payout_destination"`
	CreatedAt         time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time      `json:"updated_at" yaml:"-"`
}

func (c *Court) IsOpenOn(day time.Weekday) bool {
	for _, d := range c.OpenDays {
		if d == day {
			return true
		}
	}
	return false
}

// OpeningWindow returns the open and close instants on the calendar day of t.
func (c *Court) OpeningWindow(t time.Time) (time.Time, time.Time, error) {
	open, err := clockOnDay(t, c.OpenTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("court %s open_time: %w", c.ID, err)
	}
	closing, err := clockOnDay(t, c.CloseTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("court %s close_time: %w", c.ID, err)
	}
	return open, closing, nil
}

func clockOnDay(day time.Time, hhmm string) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, parsed.Hour(), parsed.Minute(), 0, 0, day.Location()), nil
}

type Role string

const (
	RoleOwner  Role = "OWNER"
	RolePlayer Role = "PLAYER"
	RoleAdmin  Role = "ADMIN"
)

type User struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Email     string    `json:"email" yaml:"email"`
	Role      Role      `json:"role" yaml:"role"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

func (u *User) HasRole(role Role) bool {
	return u != nil && u.Role == role
}
