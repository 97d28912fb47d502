// Package toil keeps the per-user TOIL (time off in lieu) balance: the
// debit/credit ledger primitive, overtime accrual from approved timesheets,
// and expiry of old accruals.
package toil

import (
	"context"
	"time"

	"github.com/practicehub/timesheet-engine/generic"
	"github.com/shopspring/decimal"
)

// DefaultAnnualEntitlement is the annual leave (days) a lazily created
// balance row starts with.
const DefaultAnnualEntitlement = 25

// LeaveBalance is one row per (tenant, user, year). ToilBalance is only
// written through a Ledger.
type LeaveBalance struct {
	ID                string
	TenantID          string
	UserID            string
	Year              int
	AnnualEntitlement decimal.Decimal // days
	AnnualUsed        decimal.Decimal
	CarriedOver       decimal.Decimal
	SickUsed          decimal.Decimal
	ToilBalance       generic.Hours
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Days converts the TOIL balance to working days of 7.5h.
func (b LeaveBalance) Days() generic.Hours {
	return b.ToilBalance.Div(generic.HoursPerDay).Round(1)
}

// Posting is a single debit or credit request against a balance.
type Posting struct {
	TenantID string
	UserID   string
	Date     generic.Date // year of the balance row is taken from here
	Hours    generic.Hours

	// Partial lets a debit take whatever is left instead of failing.
	// Only expiry uses it.
	Partial bool

	Reason      string
	ReferenceID string
}

// Capacity is a user's contracted weekly hours from a given date.
type Capacity struct {
	ID            string
	TenantID      string
	UserID        string
	EffectiveFrom generic.Date
	WeeklyHours   generic.Hours
	Notes         string
	CreatedAt     time.Time
}

// AccrualRecord is the history row written whenever overtime is credited.
type AccrualRecord struct {
	ID              string
	TenantID        string
	UserID          string
	SubmissionID    string
	WeekEnding      generic.Date
	HoursAccrued    generic.Hours
	LoggedHours     generic.Hours
	ContractedHours generic.Hours
	BalanceYear     int
	AccrualDate     time.Time
	ExpiryDate      generic.Date
	Expired         bool
	CreatedAt       time.Time
}

// AccrualFilter narrows ListAccruals. Zero fields are ignored. Results are
// newest accrual first, or soonest expiry first with SortByExpiry.
type AccrualFilter struct {
	TenantID     string
	UserID       string
	Expired      *bool
	ExpiryFrom   *generic.Date
	ExpiryTo     *generic.Date
	SortByExpiry bool
	Limit        int
	Offset       int
}

// Store is the persistence the ledger and accrual code need. Every method
// is called with a transaction-scoped implementation.
type Store interface {
	// GetBalance returns nil, nil when no row exists.
	GetBalance(ctx context.Context, tenantID, userID string, year int) (*LeaveBalance, error)
	InsertBalance(ctx context.Context, b LeaveBalance) error

	// UpdateToilBalance writes b.ToilBalance only if the stored version still
	// equals b.Version, and bumps the version. Returns
	// generic.ErrConcurrentModification otherwise.
	UpdateToilBalance(ctx context.Context, b LeaveBalance) error

	// GetCapacity returns the latest capacity effective on or before asOf,
	// or nil, nil.
	GetCapacity(ctx context.Context, tenantID, userID string, asOf generic.Date) (*Capacity, error)
	InsertCapacity(ctx context.Context, c Capacity) error

	// InsertAccrual returns generic.ErrDuplicateAccrual if the submission
	// already has a record.
	InsertAccrual(ctx context.Context, r AccrualRecord) error
	ListAccruals(ctx context.Context, f AccrualFilter) ([]AccrualRecord, error)

	// MarkAccrualExpired returns false if the record was already expired.
	MarkAccrualExpired(ctx context.Context, tenantID, id string) (bool, error)
}

// Transactor runs fn inside one store transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(Store) error) error
}
