package service

import (
	"context"
	"fmt"
	"time"

	"quadra/internal/domain"
)

// ConflictChecker owns only the overlap rule; court validity is checked by the caller.
type ConflictChecker struct {
	store domain.ReservationStore
}

func NewConflictChecker(store domain.ReservationStore) *ConflictChecker {
	return &ConflictChecker{store: store}
}

func (c *ConflictChecker) Check(ctx context.Context, courtID string, start, end time.Time) error {
	existing, err := c.store.FindOverlapping(ctx, courtID, start, end)
	if err != nil {
		return fmt.Errorf("check conflict: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: overlaps reservation %s", ErrBookingConflict, existing.ID)
	}
	return nil
}
