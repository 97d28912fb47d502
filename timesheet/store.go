package timesheet

import (
	"context"

	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/toil"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Store is the transaction-scoped persistence used by the services. Every
// lookup is scoped by tenant.
type Store interface {
	toil.Store

	// Time entries. GetEntry returns nil, nil when missing.
	GetEntry(ctx context.Context, tenantID, id string) (*TimeEntry, error)
	InsertEntry(ctx context.Context, e TimeEntry) error
	UpdateEntry(ctx context.Context, e TimeEntry) error
	DeleteEntry(ctx context.Context, tenantID, id string) error
	ListEntries(ctx context.Context, f EntryFilter) ([]TimeEntry, error)

	// LinkEntries attaches every entry of the user in the week to the
	// submission and marks it submitted. Returns the number linked.
	LinkEntries(ctx context.Context, tenantID, userID string, week generic.Week, submissionID string) (int, error)

	// SetEntryStatusBySubmission sets the status of every linked entry.
	SetEntryStatusBySubmission(ctx context.Context, tenantID, submissionID string, status EntryStatus) (int, error)

	// UnlinkEntries clears submission_id on linked entries and marks them
	// rejected.
	UnlinkEntries(ctx context.Context, tenantID, submissionID string) (int, error)

	// Submissions. GetSubmission and LatestSubmission return nil, nil when
	// missing.
	GetSubmission(ctx context.Context, tenantID, id string) (*Submission, error)
	LatestSubmission(ctx context.Context, tenantID, userID string, weekStart generic.Date) (*Submission, error)

	// InsertSubmission returns generic.ErrDuplicateSubmission if an active
	// submission exists for the same week.
	InsertSubmission(ctx context.Context, s Submission) error

	// UpdateSubmission writes s only if the stored status still equals from.
	// Returns generic.ErrConcurrentModification otherwise.
	UpdateSubmission(ctx context.Context, s Submission, from SubmissionStatus) error

	// ListSubmissions returns the tenant's submissions in the given statuses
	// (all when none), newest first.
	ListSubmissions(ctx context.Context, tenantID string, statuses ...SubmissionStatus) ([]Submission, error)

	// Users. GetUser returns nil, nil when missing.
	GetUser(ctx context.Context, tenantID, id string) (*User, error)
	SaveUser(ctx context.Context, u User) error

	// Audit trail, append-only.
	AppendActivity(ctx context.Context, a ActivityLog) error
	ListActivity(ctx context.Context, tenantID, entityID string) ([]ActivityLog, error)
}

// TxStore runs a function inside one store transaction. If fn returns an
// error every write made through the Store it was given is rolled back.
type TxStore interface {
	WithTx(ctx context.Context, fn func(Store) error) error
}

// ToilTransactor exposes a TxStore to the toil package.
func ToilTransactor(s TxStore) toil.Transactor {
	return toilTransactor{s: s}
}

type toilTransactor struct {
	s TxStore
}

func (t toilTransactor) InTx(ctx context.Context, fn func(toil.Store) error) error {
	return t.s.WithTx(ctx, func(st Store) error { return fn(st) })
}
