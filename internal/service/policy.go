package service

import (
	"fmt"

	"quadra/internal/models"
)

type Action string

const (
	ActionCreate      Action = "create"
	ActionView        Action = "view"
	ActionCancel      Action = "cancel"
	ActionRetryPayout Action = "retry_payout"
	ActionReport      Action = "report"
)

// Authorize is the single place where role and ownership rules live. court
// and r may be nil for actions that do not involve them.
func Authorize(actor *models.User, action Action, court *models.Court, r *models.Reservation) error {
	if actor == nil {
		return fmt.Errorf("%w: anonymous %s", ErrAccessDenied, action)
	}

	switch action {
	case ActionCreate:
		if court == nil {
			return fmt.Errorf("%w: no court", ErrAccessDenied)
		}
		if court.OwnerID == actor.ID {
			return fmt.Errorf("%w: owners cannot book their own court", ErrAccessDenied)
		}
		return nil

	case ActionView:
		if r == nil {
			return fmt.Errorf("%w: no reservation", ErrAccessDenied)
		}
		if r.RequesterID == actor.ID || actor.HasRole(models.RoleAdmin) {
			return nil
		}
		if court != nil && court.OwnerID == actor.ID {
			return nil
		}

	case ActionCancel:
		if r != nil && r.RequesterID == actor.ID {
			return nil
		}

	case ActionRetryPayout:
		if actor.HasRole(models.RoleAdmin) {
			return nil
		}
		if court != nil && court.OwnerID == actor.ID && actor.HasRole(models.RoleOwner) {
			return nil
		}

	case ActionReport:
		if actor.HasRole(models.RoleOwner) || actor.HasRole(models.RoleAdmin) {
			return nil
		}

	default:
		return fmt.Errorf("%w: unknown action %q", ErrAccessDenied, action)
	}

	return fmt.Errorf("%w: user %s may not %s", ErrAccessDenied, actor.ID, action)
}
