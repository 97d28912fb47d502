/*
accrual.go - Overtime to TOIL conversion on timesheet approval

PURPOSE:
  When a manager approves a weekly submission, logged hours above the
  user's contracted weekly hours are credited to the TOIL balance and
  recorded in the accrual history with an expiry date.

FORMULA:
  toil = max(0, logged - contracted)

  40h logged, 37.5h contracted -> 2.5h credited
  35h logged, 37.5h contracted -> nothing

NO CAPACITY RECORD:
  If the user has no capacity record effective on the week-ending date
  the accrual is skipped with a warning. This is not an error.

ONCE PER SUBMISSION:
  The history row is unique per submission id, so a second accrual for the
  same submission fails with generic.ErrDuplicateAccrual and the caller's
  transaction rolls back.

EXPIRY:
  ExpiryPolicy.Months after the week-ending date (6 by default, configured
  by TOIL_EXPIRY_MONTHS).
*/
package toil

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/practicehub/timesheet-engine/generic"
)

// DefaultExpiryMonths is how long accrued TOIL stays usable.
const DefaultExpiryMonths = 6

// ExpiryPolicy decides when an accrual lapses.
type ExpiryPolicy struct {
	Months int
}

// ExpiresOn returns the expiry date for hours accrued for weekEnding.
// Months <= 0 means the default.
func (p ExpiryPolicy) ExpiresOn(weekEnding generic.Date) generic.Date {
	months := p.Months
	if months <= 0 {
		months = DefaultExpiryMonths
	}
	return weekEnding.AddMonths(months)
}

// AccrualInput is what the calculator needs from an approved submission.
type AccrualInput struct {
	TenantID     string
	UserID       string
	SubmissionID string
	WeekEnding   generic.Date
	LoggedHours  generic.Hours
}

// Accruer credits overtime from approved submissions.
type Accruer struct {
	Ledger Ledger
	Policy ExpiryPolicy

	now func() time.Time
}

func NewAccruer(ledger Ledger, policy ExpiryPolicy) *Accruer {
	return &Accruer{Ledger: ledger, Policy: policy, now: time.Now}
}

// Overtime returns max(0, logged - contracted).
func Overtime(logged, contracted generic.Hours) generic.Hours {
	return logged.Sub(contracted).Max(generic.ZeroHours)
}

// Accrue credits the overtime for one approved submission. Returns nil, nil
// when nothing was accrued.
func (a *Accruer) Accrue(ctx context.Context, s Store, in AccrualInput) (*AccrualRecord, error) {
	capacity, err := s.GetCapacity(ctx, in.TenantID, in.UserID, in.WeekEnding)
	if err != nil {
		return nil, fmt.Errorf("failed to load capacity: %w", err)
	}
	if capacity == nil {
		log.Printf("[Accrual] No capacity record for user %s (tenant %s) - skipping TOIL accrual for submission %s",
			in.UserID, in.TenantID, in.SubmissionID)
		return nil, nil
	}

	toilHours := Overtime(in.LoggedHours, capacity.WeeklyHours)
	if !toilHours.IsPositive() {
		return nil, nil
	}

	now := a.now().UTC()
	record := AccrualRecord{
		ID:              uuid.NewString(),
		TenantID:        in.TenantID,
		UserID:          in.UserID,
		SubmissionID:    in.SubmissionID,
		WeekEnding:      in.WeekEnding,
		HoursAccrued:    toilHours,
		LoggedHours:     in.LoggedHours,
		ContractedHours: capacity.WeeklyHours,
		BalanceYear:     in.WeekEnding.Year(),
		AccrualDate:     now,
		ExpiryDate:      a.Policy.ExpiresOn(in.WeekEnding),
		CreatedAt:       now,
	}
	if err := s.InsertAccrual(ctx, record); err != nil {
		return nil, err
	}

	if _, err := a.Ledger.Credit(ctx, s, Posting{
		TenantID:    in.TenantID,
		UserID:      in.UserID,
		Date:        in.WeekEnding,
		Hours:       toilHours,
		Reason:      "Overtime accrual",
		ReferenceID: in.SubmissionID,
	}); err != nil {
		return nil, fmt.Errorf("failed to credit TOIL: %w", err)
	}

	log.Printf("[Accrual] Credited %sh TOIL to user %s for week ending %s (logged %sh, contracted %sh)",
		toilHours, in.UserID, in.WeekEnding, in.LoggedHours, capacity.WeeklyHours)
	return &record, nil
}
