// Package report builds owner financial reports and exports them to Excel.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quadra/internal/clock"
	"quadra/internal/database"
	"quadra/internal/domain"
	"quadra/internal/models"
	"quadra/internal/service"

	"github.com/rs/zerolog"
)

type Row struct {
	ReservationID string
	CourtName     string
	Start         time.Time
	Hours         int
	StatusPayment models.PaymentStatus
	StatusPayout  models.PayoutStatus
	Gross         int64
	Fee           int64
	Net           int64
	PaidOut       int64
}

type Totals struct {
	Gross    int64
	Fee      int64
	Net      int64
	PaidOut  int64
	ByStatus map[models.PaymentStatus]int
}

type OwnerReport struct {
	OwnerID     string
	OwnerName   string
	From        time.Time
	To          time.Time
	FeeRateBP   int64
	GeneratedAt time.Time
	Rows        []Row
	Totals      Totals
}

type Builder struct {
	store  domain.ReservationStore
	lookup domain.Lookup
	fees   service.FeeCalculator
	clock  clock.Clock
	logger *zerolog.Logger
}

func NewBuilder(store domain.ReservationStore, lookup domain.Lookup, fees service.FeeCalculator, clk clock.Clock, logger *zerolog.Logger) *Builder {
	return &Builder{store: store, lookup: lookup, fees: fees, clock: clk, logger: logger}
}

// Build reports on ownerID's courts for reservations starting in [from, to).
// An empty ownerID means the actor's own courts; only admins may ask for
// somebody else's.
func (b *Builder) Build(ctx context.Context, actorID, ownerID string, from, to time.Time) (*OwnerReport, error) {
	actor, err := b.lookup.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", actorID, service.ErrNotFound)
		}
		return nil, err
	}
	if err := service.Authorize(actor, service.ActionReport, nil, nil); err != nil {
		return nil, err
	}
	if ownerID == "" {
		ownerID = actor.ID
	}
	owner := actor
	if ownerID != actor.ID {
		if !actor.HasRole(models.RoleAdmin) {
			return nil, fmt.Errorf("%w: report for another owner", service.ErrAccessDenied)
		}
		if owner, err = b.lookup.GetUser(ctx, ownerID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, fmt.Errorf("owner %s: %w", ownerID, service.ErrNotFound)
			}
			return nil, err
		}
	}
	if !to.After(from) {
		return nil, fmt.Errorf("%w: empty report period", service.ErrDurationInvalid)
	}

	reservations, err := b.store.ListReservationsByOwner(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}

	rep := &OwnerReport{
		OwnerID:     owner.ID,
		OwnerName:   owner.Name,
		From:        from,
		To:          to,
		FeeRateBP:   b.fees.RateBasisPoints(),
		GeneratedAt: b.clock.Now(),
		Totals:      Totals{ByStatus: make(map[models.PaymentStatus]int)},
	}

	courtNames := make(map[string]string)
	for _, r := range reservations {
		name, ok := courtNames[r.CourtID]
		if !ok {
			name = r.CourtID
			if c, err := b.lookup.GetCourt(ctx, r.CourtID); err == nil {
				name = c.Name
			}
			courtNames[r.CourtID] = name
		}

		row := b.row(r, name)
		rep.Rows = append(rep.Rows, row)
		rep.Totals.Gross += row.Gross
		rep.Totals.Fee += row.Fee
		rep.Totals.Net += row.Net
		rep.Totals.PaidOut += row.PaidOut
		rep.Totals.ByStatus[r.StatusPayment]++
	}

	b.logger.Debug().Str("owner_id", ownerID).Int("rows", len(rep.Rows)).Msg("Owner report built")
	return rep, nil
}

// Revenue is money the platform kept: confirmed bookings and confirmed
// bookings cancelled without a refund.
func earned(r *models.Reservation) bool {
	switch r.StatusPayment {
	case models.PaymentConfirmed:
		return true
	case models.PaymentCancelled:
		return r.HasPaymentTransaction()
	default:
		return false
	}
}

func (b *Builder) row(r *models.Reservation, courtName string) Row {
	row := Row{
		ReservationID: r.ID,
		CourtName:     courtName,
		Start:         r.StartTime,
		Hours:         r.Duration,
		StatusPayment: r.StatusPayment,
		StatusPayout:  r.StatusPayout,
	}
	if !earned(r) {
		return row
	}

	row.Gross = r.TotalPrice
	if r.SystemFeeAmount != nil && r.NetPayoutAmount != nil {
		row.Fee, row.Net = *r.SystemFeeAmount, *r.NetPayoutAmount
	} else {
		row.Fee, row.Net = b.fees.Split(r.TotalPrice)
	}
	if r.StatusPayout == models.PayoutSuccess {
		row.PaidOut = row.Net
	}
	return row
}
