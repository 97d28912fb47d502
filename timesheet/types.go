/*
Package timesheet implements time recording and the weekly approval workflow.

PURPOSE:
  Staff record time entries against dates (optionally with a start and end
  clock time). A week of entries is submitted for approval; a manager
  approves it (crediting overtime as TOIL) or rejects it (releasing the
  entries for editing and resubmission).

KEY CONCEPTS:
  TimeEntry:   Hours worked on a date. WorkType TOIL means the hours were
               taken as time off and are debited from the TOIL balance.
  Submission:  A user's week (at most 7 days) sent for approval, with a
               snapshot of the week's total hours.
  Actor:       Tenant, user and role of the caller, resolved by transport.

CRITICAL INVARIANTS:
  1. DAILY CAP: Hours per (tenant, user, date) never exceed 24.
  2. NO OVERLAP: Entries with both clock times on the same date never
     intersect on [start, end). Touching endpoints are fine.
  3. ONE ACTIVE SUBMISSION: At most one pending/resubmitted submission per
     (tenant, user, week start).
  4. ATOMIC: Every operation that writes does so in one store transaction.
     Checks read through that transaction.

SUBMISSION STATE MACHINE:
  none ──► pending ──► approved
              │
              └──► rejected ──► resubmitted ──► approved
                       ▲              │
                       └──────────────┘

  Anything else is a CONFLICT.

SEE ALSO:
  - toil/ledger.go: TOIL balance debit/credit
  - toil/accrual.go: Overtime credited on approval
  - store/sqlite: Persistence
*/
package timesheet

import (
	"fmt"
	"strings"
	"time"

	"github.com/practicehub/timesheet-engine/generic"
)

// =============================================================================
// CALLER IDENTITY
// =============================================================================

const (
	RoleStaff    = "staff"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
	RoleOrgAdmin = "org:admin"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	TenantID string
	UserID   string
	Role     string
}

// IsManager reports whether the actor may review submissions.
func (a Actor) IsManager() bool {
	switch a.Role {
	case RoleManager, RoleAdmin, RoleOrgAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether the actor may change tenant settings.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleOrgAdmin
}

func (a Actor) validate() error {
	if a.TenantID == "" || a.UserID == "" {
		return generic.Unauthorized("missing tenant or user identity")
	}
	return nil
}

// =============================================================================
// ENUMERATIONS
// =============================================================================

type WorkType string

const (
	WorkTypeWork WorkType = "WORK"
	WorkTypeTOIL WorkType = "TOIL"
)

// ParseWorkType accepts WORK or TOIL (any case). Empty means WORK.
func ParseWorkType(s string) (WorkType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(WorkTypeWork):
		return WorkTypeWork, nil
	case string(WorkTypeTOIL):
		return WorkTypeTOIL, nil
	}
	return "", generic.BadRequest("invalid work type %q", s)
}

type EntryStatus string

const (
	EntryDraft     EntryStatus = "draft"
	EntrySubmitted EntryStatus = "submitted"
	EntryApproved  EntryStatus = "approved"
	EntryRejected  EntryStatus = "rejected"
)

type SubmissionStatus string

const (
	// StatusNone is the state of a week that has never been submitted.
	StatusNone        SubmissionStatus = ""
	StatusPending     SubmissionStatus = "pending"
	StatusResubmitted SubmissionStatus = "resubmitted"
	StatusApproved    SubmissionStatus = "approved"
	StatusRejected    SubmissionStatus = "rejected"
)

var transitions = map[SubmissionStatus][]SubmissionStatus{
	StatusNone:        {StatusPending},
	StatusRejected:    {StatusResubmitted},
	StatusPending:     {StatusApproved, StatusRejected},
	StatusResubmitted: {StatusApproved, StatusRejected},
}

// CanTransition reports whether a submission may move from one status to
// another.
func CanTransition(from, to SubmissionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the submission is awaiting review.
func (s SubmissionStatus) IsActive() bool {
	return s == StatusPending || s == StatusResubmitted
}

// ParseSubmissionStatus rejects anything outside the four known statuses.
func ParseSubmissionStatus(s string) (SubmissionStatus, error) {
	switch st := SubmissionStatus(s); st {
	case StatusPending, StatusResubmitted, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown submission status %q", s)
}

// =============================================================================
// RECORDS
// =============================================================================

// TimeEntry is hours recorded by one user on one date.
type TimeEntry struct {
	ID        string
	TenantID  string
	UserID    string
	Date      generic.Date
	StartTime *generic.ClockTime
	EndTime   *generic.ClockTime
	Hours     generic.Hours
	Billable  bool
	WorkType  WorkType
	Status    EntryStatus

	// SubmissionID is empty while the entry is not part of a submission.
	SubmissionID string

	Description string
	Notes       string
	ClientID    string
	TaskID      string
	ServiceID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Range returns the entry's clock range when both times are set.
func (e TimeEntry) Range() (generic.TimeRange, bool) {
	if e.StartTime == nil || e.EndTime == nil {
		return generic.TimeRange{}, false
	}
	return generic.TimeRange{Start: *e.StartTime, End: *e.EndTime}, true
}

// IsTOIL reports whether the entry's hours come out of the TOIL balance.
func (e TimeEntry) IsTOIL() bool { return e.WorkType == WorkTypeTOIL }

// Submission is one week of a user's time sent for approval.
type Submission struct {
	ID               string
	TenantID         string
	UserID           string
	WeekStart        generic.Date
	WeekEnd          generic.Date
	TotalHours       generic.Hours
	Status           SubmissionStatus
	SubmittedAt      time.Time
	ReviewedBy       string
	ReviewedAt       *time.Time
	ReviewerComments string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PendingSubmission is a submission awaiting review, with the submitter's
// name and email for the approver's list.
type PendingSubmission struct {
	Submission
	UserName  string
	UserEmail string
}

// User is the engine's copy of the directory data it needs.
type User struct {
	ID        string
	TenantID  string
	Email     string
	FirstName string
	LastName  string
	Role      string

	// MinWeeklyHours overrides the tenant default submission minimum.
	MinWeeklyHours *generic.Hours

	// Locale selects the notification language, e.g. "en" or "de".
	Locale string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ActivityLog is one append-only audit row.
type ActivityLog struct {
	ID          string
	TenantID    string
	EntityType  string
	EntityID    string
	Action      string
	Description string
	UserID      string
	OldValues   map[string]any
	NewValues   map[string]any
	CreatedAt   time.Time
}

// Audit entity types and actions.
const (
	EntityTimeEntry  = "time_entry"
	EntitySubmission = "timesheet_submission"

	ActionCreated     = "created"
	ActionUpdated     = "updated"
	ActionDeleted     = "deleted"
	ActionSubmitted   = "submitted"
	ActionResubmitted = "resubmitted"
	ActionApproved    = "approved"
	ActionRejected    = "rejected"
)

// EntryFilter narrows ListEntries. Zero fields are ignored.
type EntryFilter struct {
	TenantID     string
	UserID       string
	From         *generic.Date
	To           *generic.Date
	ClientID     string
	Billable     *bool
	SubmissionID string
	Limit        int
	Offset       int
}

// Summary aggregates a user's entries over a date range.
type Summary struct {
	TotalHours       generic.Hours
	BillableHours    generic.Hours
	NonBillableHours generic.Hours
	EntryCount       int
	DaysWorked       int
	UniqueClients    int
}
