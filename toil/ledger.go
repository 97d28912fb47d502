/*
ledger.go - The single write path for TOIL balances

PURPOSE:
  Every flow that changes a TOIL balance goes through a Ledger: TOIL-typed
  time entries (debit on create, credit on delete), overtime accrual on
  timesheet approval (credit), and expiry (partial debit). Nothing else
  writes leave_balances.toil_balance.

CRITICAL INVARIANTS:
  1. NON-NEGATIVE: A debit larger than the balance fails with
     *generic.InsufficientBalanceError and writes nothing.
  2. SAME TRANSACTION: Debit/Credit take the caller's transaction-scoped
     Store, so a failed debit rolls back the entry that triggered it.
  3. NO LOST UPDATES: Writes are compare-and-set on the row version read
     in the same transaction.

AMOUNTS:
  The absolute value of Posting.Hours is used. Zero is a no-op.

LAZY ROWS:
  Debit on a missing row creates it with a zero balance (and then fails
  unless the debit is zero). A partial debit on a missing row writes
  nothing and returns a nil balance. Credit on a missing row creates it
  holding the credited hours.
*/
package toil

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/practicehub/timesheet-engine/generic"
	"github.com/shopspring/decimal"
)

// Ledger is the debit/credit primitive over TOIL balances.
type Ledger interface {
	// Debit removes hours. Returns *generic.InsufficientBalanceError when the
	// balance cannot cover them (unless p.Partial).
	Debit(ctx context.Context, s Store, p Posting) (*LeaveBalance, error)

	// Credit adds hours.
	Credit(ctx context.Context, s Store, p Posting) (*LeaveBalance, error)
}

// DefaultLedger implements Ledger on top of Store.
type DefaultLedger struct {
	now func() time.Time
}

func NewLedger() *DefaultLedger {
	return &DefaultLedger{now: time.Now}
}

var _ Ledger = (*DefaultLedger)(nil)

func (l *DefaultLedger) Debit(ctx context.Context, s Store, p Posting) (*LeaveBalance, error) {
	amount, err := normalize(p)
	if err != nil {
		return nil, err
	}

	if amount.IsZero() {
		return s.GetBalance(ctx, p.TenantID, p.UserID, p.Date.Year())
	}

	bal, err := s.GetBalance(ctx, p.TenantID, p.UserID, p.Date.Year())
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	if bal == nil {
		if p.Partial {
			return nil, nil
		}
		if bal, err = l.create(ctx, s, p, generic.ZeroHours); err != nil {
			return nil, err
		}
	}

	if !bal.ToilBalance.Covers(amount) {
		if !p.Partial {
			return nil, &generic.InsufficientBalanceError{
				TenantID:  p.TenantID,
				UserID:    p.UserID,
				Year:      bal.Year,
				Available: bal.ToilBalance,
				Requested: amount,
			}
		}
		amount = bal.ToilBalance
		if !amount.IsPositive() {
			return bal, nil
		}
	}

	// Within Epsilon of zero rounds to zero rather than going negative.
	next := bal.ToilBalance.Sub(amount).Max(generic.ZeroHours)
	return l.write(ctx, s, bal, next)
}

func (l *DefaultLedger) Credit(ctx context.Context, s Store, p Posting) (*LeaveBalance, error) {
	amount, err := normalize(p)
	if err != nil {
		return nil, err
	}

	existing, err := s.GetBalance(ctx, p.TenantID, p.UserID, p.Date.Year())
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	if existing == nil {
		if amount.IsZero() {
			return nil, nil
		}
		// A missing row starts out holding the credited hours.
		return l.create(ctx, s, p, amount)
	}
	if amount.IsZero() {
		return existing, nil
	}
	return l.write(ctx, s, existing, existing.ToilBalance.Add(amount))
}

func normalize(p Posting) (generic.Hours, error) {
	if p.TenantID == "" || p.UserID == "" {
		return generic.Hours{}, fmt.Errorf("posting requires tenant and user")
	}
	if p.Date.IsZero() {
		return generic.Hours{}, fmt.Errorf("posting requires a date")
	}
	return p.Hours.Abs(), nil
}

func (l *DefaultLedger) create(ctx context.Context, s Store, p Posting, toil generic.Hours) (*LeaveBalance, error) {
	now := l.now().UTC()
	bal := LeaveBalance{
		ID:                uuid.NewString(),
		TenantID:          p.TenantID,
		UserID:            p.UserID,
		Year:              p.Date.Year(),
		AnnualEntitlement: decimal.NewFromInt(DefaultAnnualEntitlement),
		AnnualUsed:        decimal.Zero,
		CarriedOver:       decimal.Zero,
		SickUsed:          decimal.Zero,
		ToilBalance:       toil,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.InsertBalance(ctx, bal); err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}
	return &bal, nil
}

func (l *DefaultLedger) write(ctx context.Context, s Store, bal *LeaveBalance, next generic.Hours) (*LeaveBalance, error) {
	updated := *bal
	updated.ToilBalance = next
	updated.UpdatedAt = l.now().UTC()
	if err := s.UpdateToilBalance(ctx, updated); err != nil {
		return nil, err
	}
	updated.Version++
	return &updated, nil
}
