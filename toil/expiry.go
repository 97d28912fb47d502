package toil

import (
	"context"
	"fmt"
	"log"

	"github.com/practicehub/timesheet-engine/generic"
)

// Service answers balance queries and expires old accruals.
type Service struct {
	Tx     Transactor
	Ledger Ledger
}

func NewService(tx Transactor, ledger Ledger) *Service {
	return &Service{Tx: tx, Ledger: ledger}
}

// BalanceSummary is the TOIL position of one user for one year.
type BalanceSummary struct {
	UserID string
	Year   int
	Hours  generic.Hours
	Days   generic.Hours
}

// Balance returns the balance for a year. A missing row reads as zero.
func (s *Service) Balance(ctx context.Context, tenantID, userID string, year int) (BalanceSummary, error) {
	summary := BalanceSummary{UserID: userID, Year: year, Hours: generic.ZeroHours, Days: generic.ZeroHours}
	err := s.Tx.InTx(ctx, func(st Store) error {
		bal, err := st.GetBalance(ctx, tenantID, userID, year)
		if err != nil {
			return err
		}
		if bal != nil {
			summary.Hours = bal.ToilBalance
			summary.Days = bal.Days()
		}
		return nil
	})
	return summary, err
}

// History lists accrual records, newest first. limit is clamped to 1..100.
func (s *Service) History(ctx context.Context, tenantID, userID string, limit, offset int) ([]AccrualRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var records []AccrualRecord
	err := s.Tx.InTx(ctx, func(st Store) error {
		var err error
		records, err = st.ListAccruals(ctx, AccrualFilter{
			TenantID: tenantID,
			UserID:   userID,
			Limit:    limit,
			Offset:   offset,
		})
		return err
	})
	return records, err
}

// ExpiringSummary lists unexpired accruals lapsing within a window.
type ExpiringSummary struct {
	Records    []AccrualRecord
	TotalHours generic.Hours
	TotalDays  generic.Hours
}

// Expiring returns accruals expiring in [today, today+daysAhead].
func (s *Service) Expiring(ctx context.Context, tenantID, userID string, today generic.Date, daysAhead int) (ExpiringSummary, error) {
	if daysAhead < 1 || daysAhead > 90 {
		return ExpiringSummary{}, generic.BadRequest("days_ahead must be between 1 and 90, got %d", daysAhead)
	}
	notExpired := false
	until := today.AddDays(daysAhead)
	out := ExpiringSummary{TotalHours: generic.ZeroHours}
	err := s.Tx.InTx(ctx, func(st Store) error {
		records, err := st.ListAccruals(ctx, AccrualFilter{
			TenantID:     tenantID,
			UserID:       userID,
			Expired:      &notExpired,
			ExpiryFrom:   &today,
			ExpiryTo:     &until,
			SortByExpiry: true,
		})
		if err != nil {
			return err
		}
		out.Records = records
		for _, r := range records {
			out.TotalHours = out.TotalHours.Add(r.HoursAccrued)
		}
		return nil
	})
	out.TotalDays = out.TotalHours.Div(generic.HoursPerDay).Round(1)
	return out, err
}

// ExpiredAccrual reports one record processed by Sweep.
type ExpiredAccrual struct {
	ID           string
	UserID       string
	HoursExpired generic.Hours
	ExpiryDate   generic.Date
}

// SweepResult summarises one Sweep run.
type SweepResult struct {
	MarkedExpired int
	UsersAffected int
	Expired       []ExpiredAccrual
}

// Sweep expires every accrual with expiry_date <= today for the tenant
// (all tenants when tenantID is empty) and debits the hours from the
// balance year they were credited to. A balance never goes below zero:
// hours already spent are simply gone, and HoursExpired reports only what
// was actually debited. Each record is its own transaction.
func (s *Service) Sweep(ctx context.Context, tenantID string, today generic.Date) (SweepResult, error) {
	notExpired := false
	var due []AccrualRecord
	err := s.Tx.InTx(ctx, func(st Store) error {
		var err error
		due, err = st.ListAccruals(ctx, AccrualFilter{
			TenantID:     tenantID,
			Expired:      &notExpired,
			ExpiryTo:     &today,
			SortByExpiry: true,
		})
		return err
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list due accruals: %w", err)
	}

	var result SweepResult
	users := make(map[string]bool)
	for _, rec := range due {
		marked := false
		debited := generic.ZeroHours
		err := s.Tx.InTx(ctx, func(st Store) error {
			ok, err := st.MarkAccrualExpired(ctx, rec.TenantID, rec.ID)
			if err != nil || !ok {
				return err
			}
			marked = true
			before, err := st.GetBalance(ctx, rec.TenantID, rec.UserID, rec.BalanceYear)
			if err != nil {
				return fmt.Errorf("failed to load balance: %w", err)
			}
			if before == nil {
				return nil
			}
			after, err := s.Ledger.Debit(ctx, st, Posting{
				TenantID:    rec.TenantID,
				UserID:      rec.UserID,
				Date:        generic.NewDate(rec.BalanceYear, 1, 1),
				Hours:       rec.HoursAccrued,
				Partial:     true,
				Reason:      "TOIL expired",
				ReferenceID: rec.ID,
			})
			if err != nil {
				return err
			}
			if after != nil {
				debited = before.ToilBalance.Sub(after.ToilBalance)
			}
			return nil
		})
		if err != nil {
			log.Printf("[Expiry] Failed to expire accrual %s: %v", rec.ID, err)
			continue
		}
		if !marked {
			continue
		}
		result.MarkedExpired++
		users[rec.TenantID+"/"+rec.UserID] = true
		result.Expired = append(result.Expired, ExpiredAccrual{
			ID:           rec.ID,
			UserID:       rec.UserID,
			HoursExpired: debited,
			ExpiryDate:   rec.ExpiryDate,
		})
	}
	result.UsersAffected = len(users)
	return result, nil
}
