package timesheet

import (
	"context"
	"fmt"
	"strings"

	"github.com/practicehub/timesheet-engine/generic"
)

// Validator enforces the per-day rules on time entries. It reads through
// the store it is given, normally the caller's transaction.
type Validator struct {
	DailyLimit generic.Hours
}

func NewValidator() *Validator {
	return &Validator{DailyLimit: generic.DailyLimit}
}

// validateShape checks what can be checked without the store.
func validateShape(e TimeEntry) error {
	if e.Date.IsZero() {
		return generic.BadRequest("date is required")
	}
	if !e.Hours.IsPositive() {
		return generic.BadRequest("hours must be greater than 0")
	}
	if e.Hours.GreaterThan(generic.DailyLimit) {
		return generic.BadRequest("hours cannot exceed %s", generic.DailyLimit).
			With("hours", e.Hours)
	}
	if r, ok := e.Range(); ok && !r.Valid() {
		return generic.BadRequest("end time must be after start time").
			With("start_time", r.Start.String()).
			With("end_time", r.End.String())
	}
	return nil
}

// entriesOn returns the user's entries on date, without excludeID.
func entriesOn(ctx context.Context, s Store, tenantID, userID string, date generic.Date, excludeID string) ([]TimeEntry, error) {
	entries, err := s.ListEntries(ctx, EntryFilter{
		TenantID: tenantID,
		UserID:   userID,
		From:     &date,
		To:       &date,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load entries for %s: %w", date, err)
	}
	out := entries[:0]
	for _, e := range entries {
		if e.ID != excludeID {
			out = append(out, e)
		}
	}
	return out, nil
}

// FindOverlaps returns the ids of timed entries on date whose range
// intersects r. Touching ranges do not overlap.
func (v *Validator) FindOverlaps(ctx context.Context, s Store, tenantID, userID string, date generic.Date, r generic.TimeRange, excludeID string) ([]string, error) {
	entries, err := entriesOn(ctx, s, tenantID, userID, date, excludeID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		existing, ok := e.Range()
		if ok && existing.Overlaps(r) {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

// DailyTotal sums the user's hours on date, without excludeID.
func (v *Validator) DailyTotal(ctx context.Context, s Store, tenantID, userID string, date generic.Date, excludeID string) (generic.Hours, error) {
	entries, err := entriesOn(ctx, s, tenantID, userID, date, excludeID)
	if err != nil {
		return generic.Hours{}, err
	}
	total := generic.ZeroHours
	for _, e := range entries {
		total = total.Add(e.Hours)
	}
	return total, nil
}

// Check runs the overlap and daily-limit rules for e, ignoring the stored
// copy of e itself.
func (v *Validator) Check(ctx context.Context, s Store, e TimeEntry) error {
	if r, ok := e.Range(); ok {
		ids, err := v.FindOverlaps(ctx, s, e.TenantID, e.UserID, e.Date, r, e.ID)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			return generic.BadRequest("time entry overlaps with %d existing entries", len(ids)).
				With("overlapping_ids", strings.Join(ids, ","))
		}
	}

	current, err := v.DailyTotal(ctx, s, e.TenantID, e.UserID, e.Date, e.ID)
	if err != nil {
		return err
	}
	limit := v.DailyLimit
	if limit.IsZero() {
		limit = generic.DailyLimit
	}
	if current.Add(e.Hours).GreaterThan(limit) {
		return generic.BadRequest("daily limit exceeded: %sh already logged, %sh requested, limit %sh",
			current, e.Hours, limit).
			With("current_total", current).
			With("requested", e.Hours).
			With("limit", limit)
	}
	return nil
}
