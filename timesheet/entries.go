/*
entries.go - Time entry create/update/delete and queries

PURPOSE:
  EntryService is the only writer of time entries. Each write runs in one
  store transaction: validation reads, the row write, any TOIL ledger
  posting and the audit row commit or roll back together.

TOIL ENTRIES:
  An entry with WorkType TOIL is time taken off. Its hours are debited
  from the TOIL balance of the entry date's year when created, and
  credited back when deleted. An update first credits the old hours (if
  the old entry was TOIL) and then debits the new ones (if the new entry
  is TOIL), so a failed debit leaves the entry unchanged.

OWNERSHIP:
  Only the owner or a manager/admin may update or delete an entry.
  Updates never change the submission link.
*/
package timesheet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/toil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/practicehub/timesheet-engine/timesheet")

func startSpan(ctx context.Context, name string, actor Actor) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("tenant.id", actor.TenantID),
		attribute.String("user.id", actor.UserID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// EntryInput is a new time entry. Billable defaults to true and WorkType
// to WORK.
type EntryInput struct {
	Date        generic.Date
	StartTime   *generic.ClockTime
	EndTime     *generic.ClockTime
	Hours       generic.Hours
	Billable    *bool
	WorkType    WorkType
	Description string
	Notes       string
	ClientID    string
	TaskID      string
	ServiceID   string
}

// EntryPatch changes the non-nil fields of an entry.
type EntryPatch struct {
	Date      *generic.Date
	StartTime *generic.ClockTime
	EndTime   *generic.ClockTime

	// ClearTimes drops both clock times, turning the entry into an untimed
	// one. It wins over StartTime and EndTime.
	ClearTimes bool

	Hours       *generic.Hours
	Billable    *bool
	WorkType    *WorkType
	Description *string
	Notes       *string
	ClientID    *string
	TaskID      *string
	ServiceID   *string
}

func (p EntryPatch) apply(e TimeEntry) TimeEntry {
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.StartTime != nil {
		e.StartTime = p.StartTime
	}
	if p.EndTime != nil {
		e.EndTime = p.EndTime
	}
	if p.ClearTimes {
		e.StartTime, e.EndTime = nil, nil
	}
	if p.Hours != nil {
		e.Hours = *p.Hours
	}
	if p.Billable != nil {
		e.Billable = *p.Billable
	}
	if p.WorkType != nil {
		e.WorkType = *p.WorkType
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Notes != nil {
		e.Notes = *p.Notes
	}
	if p.ClientID != nil {
		e.ClientID = *p.ClientID
	}
	if p.TaskID != nil {
		e.TaskID = *p.TaskID
	}
	if p.ServiceID != nil {
		e.ServiceID = *p.ServiceID
	}
	return e
}

// EntryService manages time entries.
type EntryService struct {
	store     TxStore
	ledger    toil.Ledger
	validator *Validator
	now       func() time.Time
}

func NewEntryService(store TxStore, ledger toil.Ledger) *EntryService {
	return &EntryService{
		store:     store,
		ledger:    ledger,
		validator: NewValidator(),
		now:       time.Now,
	}
}

// Create records a new entry for the actor.
func (s *EntryService) Create(ctx context.Context, actor Actor, in EntryInput) (_ *TimeEntry, err error) {
	ctx, span := startSpan(ctx, "timesheet.CreateEntry", actor)
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := TimeEntry{
		ID:          uuid.NewString(),
		TenantID:    actor.TenantID,
		UserID:      actor.UserID,
		Date:        in.Date,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Hours:       in.Hours,
		Billable:    true,
		WorkType:    in.WorkType,
		Status:      EntryDraft,
		Description: in.Description,
		Notes:       in.Notes,
		ClientID:    in.ClientID,
		TaskID:      in.TaskID,
		ServiceID:   in.ServiceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Billable != nil {
		entry.Billable = *in.Billable
	}
	if entry.WorkType == "" {
		entry.WorkType = WorkTypeWork
	}
	// Timed entries without explicit hours take the span of their range.
	if entry.Hours.IsZero() {
		if r, ok := entry.Range(); ok && r.Valid() {
			entry.Hours = r.Hours()
		}
	}
	if err := validateShape(entry); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(st Store) error {
		if err := s.validator.Check(ctx, st, entry); err != nil {
			return err
		}
		if err := st.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to insert time entry: %w", err)
		}
		if entry.IsTOIL() {
			if _, err := s.ledger.Debit(ctx, st, toil.Posting{
				TenantID:    entry.TenantID,
				UserID:      entry.UserID,
				Date:        entry.Date,
				Hours:       entry.Hours,
				Reason:      "TOIL taken",
				ReferenceID: entry.ID,
			}); err != nil {
				return err
			}
		}
		return appendActivity(ctx, st, now, actor, EntityTimeEntry, entry.ID, ActionCreated,
			fmt.Sprintf("Logged %sh for %s", entry.Hours, describe(entry)),
			nil, entrySnapshot(entry))
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Update applies patch to an existing entry.
func (s *EntryService) Update(ctx context.Context, actor Actor, id string, patch EntryPatch) (_ *TimeEntry, err error) {
	ctx, span := startSpan(ctx, "timesheet.UpdateEntry", actor)
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}

	var updated TimeEntry
	err = s.store.WithTx(ctx, func(st Store) error {
		existing, err := s.ownedEntry(ctx, st, actor, id)
		if err != nil {
			return err
		}

		updated = patch.apply(*existing)
		updated.UpdatedAt = s.now().UTC()
		if err := validateShape(updated); err != nil {
			return err
		}
		if err := s.validator.Check(ctx, st, updated); err != nil {
			return err
		}

		if existing.IsTOIL() {
			if _, err := s.ledger.Credit(ctx, st, toil.Posting{
				TenantID:    existing.TenantID,
				UserID:      existing.UserID,
				Date:        existing.Date,
				Hours:       existing.Hours,
				Reason:      "TOIL entry updated",
				ReferenceID: existing.ID,
			}); err != nil {
				return err
			}
		}
		if err := st.UpdateEntry(ctx, updated); err != nil {
			return fmt.Errorf("failed to update time entry: %w", err)
		}
		if updated.IsTOIL() {
			if _, err := s.ledger.Debit(ctx, st, toil.Posting{
				TenantID:    updated.TenantID,
				UserID:      updated.UserID,
				Date:        updated.Date,
				Hours:       updated.Hours,
				Reason:      "TOIL taken",
				ReferenceID: updated.ID,
			}); err != nil {
				return err
			}
		}
		return appendActivity(ctx, st, updated.UpdatedAt, actor, EntityTimeEntry, id, ActionUpdated,
			"Updated time entry", entrySnapshot(*existing), entrySnapshot(updated))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes an entry, refunding TOIL hours.
func (s *EntryService) Delete(ctx context.Context, actor Actor, id string) (err error) {
	ctx, span := startSpan(ctx, "timesheet.DeleteEntry", actor)
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(st Store) error {
		existing, err := s.ownedEntry(ctx, st, actor, id)
		if err != nil {
			return err
		}
		if existing.IsTOIL() {
			if _, err := s.ledger.Credit(ctx, st, toil.Posting{
				TenantID:    existing.TenantID,
				UserID:      existing.UserID,
				Date:        existing.Date,
				Hours:       existing.Hours,
				Reason:      "TOIL entry deleted",
				ReferenceID: existing.ID,
			}); err != nil {
				return err
			}
		}
		if err := st.DeleteEntry(ctx, actor.TenantID, id); err != nil {
			return fmt.Errorf("failed to delete time entry: %w", err)
		}
		return appendActivity(ctx, st, s.now().UTC(), actor, EntityTimeEntry, id, ActionDeleted,
			fmt.Sprintf("Deleted time entry (%sh)", existing.Hours),
			entrySnapshot(*existing), nil)
	})
}

// Get returns one entry. Staff only see their own entries.
func (s *EntryService) Get(ctx context.Context, actor Actor, id string) (*TimeEntry, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	var entry *TimeEntry
	err := s.store.WithTx(ctx, func(st Store) error {
		var err error
		entry, err = s.ownedEntry(ctx, st, actor, id)
		return err
	})
	return entry, err
}

// List returns entries matching f within the actor's tenant. Staff are
// limited to their own entries; managers may filter by any user.
func (s *EntryService) List(ctx context.Context, actor Actor, f EntryFilter) ([]TimeEntry, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	f.TenantID = actor.TenantID
	if !actor.IsManager() || f.UserID == "" {
		f.UserID = actor.UserID
	}
	var entries []TimeEntry
	err := s.store.WithTx(ctx, func(st Store) error {
		var err error
		entries, err = st.ListEntries(ctx, f)
		return err
	})
	return entries, err
}

// Summary aggregates hours over [from, to] for userID (the actor when
// empty or when the actor is not a manager).
func (s *EntryService) Summary(ctx context.Context, actor Actor, from, to generic.Date, userID string) (Summary, error) {
	if from.After(to) {
		return Summary{}, generic.BadRequest("start date must not be after end date")
	}
	entries, err := s.List(ctx, actor, EntryFilter{UserID: userID, From: &from, To: &to})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(entries), nil
}

// Summarize totals a set of entries.
func Summarize(entries []TimeEntry) Summary {
	sum := Summary{
		TotalHours:       generic.ZeroHours,
		BillableHours:    generic.ZeroHours,
		NonBillableHours: generic.ZeroHours,
	}
	days := make(map[string]bool)
	clients := make(map[string]bool)
	for _, e := range entries {
		sum.EntryCount++
		sum.TotalHours = sum.TotalHours.Add(e.Hours)
		if e.Billable {
			sum.BillableHours = sum.BillableHours.Add(e.Hours)
		} else {
			sum.NonBillableHours = sum.NonBillableHours.Add(e.Hours)
		}
		days[e.Date.String()] = true
		if e.ClientID != "" {
			clients[e.ClientID] = true
		}
	}
	sum.DaysWorked = len(days)
	sum.UniqueClients = len(clients)
	return sum
}

func (s *EntryService) ownedEntry(ctx context.Context, st Store, actor Actor, id string) (*TimeEntry, error) {
	entry, err := st.GetEntry(ctx, actor.TenantID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load time entry: %w", err)
	}
	if entry == nil {
		return nil, generic.NotFound("time entry")
	}
	if entry.UserID != actor.UserID && !actor.IsManager() {
		return nil, generic.Forbidden("time entry belongs to another user")
	}
	return entry, nil
}

func describe(e TimeEntry) string {
	if e.Description != "" {
		return e.Description
	}
	return e.Date.String()
}

func entrySnapshot(e TimeEntry) map[string]any {
	snap := map[string]any{
		"date":      e.Date.String(),
		"hours":     e.Hours.String(),
		"billable":  e.Billable,
		"work_type": string(e.WorkType),
		"status":    string(e.Status),
	}
	if e.StartTime != nil {
		snap["start_time"] = e.StartTime.String()
	}
	if e.EndTime != nil {
		snap["end_time"] = e.EndTime.String()
	}
	if e.ClientID != "" {
		snap["client_id"] = e.ClientID
	}
	if e.Description != "" {
		snap["description"] = e.Description
	}
	return snap
}

func appendActivity(ctx context.Context, st Store, at time.Time, actor Actor, entityType, entityID, action, description string, oldValues, newValues map[string]any) error {
	err := st.AppendActivity(ctx, ActivityLog{
		ID:          uuid.NewString(),
		TenantID:    actor.TenantID,
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		Description: description,
		UserID:      actor.UserID,
		OldValues:   oldValues,
		NewValues:   newValues,
		CreatedAt:   at,
	})
	if err != nil {
		return fmt.Errorf("failed to write activity log: %w", err)
	}
	return nil
}
