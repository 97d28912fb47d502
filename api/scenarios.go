/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates users and capacity records in the
	"demo" tenant, then drives the real services to log time, submit and
	review weeks.

AVAILABLE SCENARIOS:

	overtime-week:   40h logged against a 37.5h contract, approved (2.5h TOIL)
	pending-review:  One pending and one resubmitted week for a manager to review
	toil-expiry:     Old overtime past its expiry, recent overtime expiring soon

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create users and capacity records
 3. Log time entries through the entry service
 4. Submit and review through the workflow

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "overtime-week"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/timesheet"
	"github.com/practicehub/timesheet-engine/toil"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const demoTenant = "demo"

var scenarios = []ScenarioDTO{
	{
		ID:          "overtime-week",
		Name:        "Overtime Week",
		Description: "40h logged against a 37.5h contract and approved, crediting 2.5h TOIL",
	},
	{
		ID:          "pending-review",
		Name:        "Pending Review",
		Description: "A pending week and a rejected-then-resubmitted week awaiting a manager",
	},
	{
		ID:          "toil-expiry",
		Name:        "TOIL Expiry",
		Description: "Overtime accrued long enough ago to expire, plus overtime expiring soon",
	},
}

var (
	demoStaff   = timesheet.Actor{TenantID: demoTenant, UserID: "alice", Role: timesheet.RoleStaff}
	demoStaff2  = timesheet.Actor{TenantID: demoTenant, UserID: "ben", Role: timesheet.RoleStaff}
	demoManager = timesheet.Actor{TenantID: demoTenant, UserID: "morgan", Role: timesheet.RoleManager}
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var loader func(context.Context) error
	switch id {
	case "overtime-week":
		loader = h.loadOvertimeWeekScenario
	case "pending-review":
		loader = h.loadPendingReviewScenario
	case "toil-expiry":
		loader = h.loadToilExpiryScenario
	default:
		return generic.BadRequest("unknown scenario %q", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	h.currentScenario = ""
	if err := loader(ctx); err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", id, err)
	}
	h.currentScenario = id
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadOvertimeWeekScenario(ctx context.Context) error {
	if err := h.seedDemoDirectory(ctx, generic.NewDate(2025, 1, 1)); err != nil {
		return err
	}

	// Mon-Fri 8h = 40h against 37.5h contracted
	week := generic.NewDate(2025, 3, 3)
	if err := h.logWeek(ctx, demoStaff, week, 8, 8, 8, 8, 8); err != nil {
		return err
	}
	sub, err := h.Workflow.Submit(ctx, demoStaff, week, week.AddDays(6))
	if err != nil {
		return err
	}
	_, err = h.Workflow.Approve(ctx, demoManager, sub.ID)
	return err
}

func (h *Handler) loadPendingReviewScenario(ctx context.Context) error {
	if err := h.seedDemoDirectory(ctx, generic.NewDate(2025, 1, 1)); err != nil {
		return err
	}

	week := generic.NewDate(2025, 3, 10)
	if err := h.logWeek(ctx, demoStaff, week, 7.5, 7.5, 7.5, 7.5, 7.5); err != nil {
		return err
	}
	if _, err := h.Workflow.Submit(ctx, demoStaff, week, week.AddDays(6)); err != nil {
		return err
	}

	if err := h.logWeek(ctx, demoStaff2, week, 8, 7.5, 7.5, 7, 7.5); err != nil {
		return err
	}
	first, err := h.Workflow.Submit(ctx, demoStaff2, week, week.AddDays(6))
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Reject(ctx, demoManager, first.ID, "Please split Thursday between clients"); err != nil {
		return err
	}
	_, err = h.Workflow.Submit(ctx, demoStaff2, week, week.AddDays(6))
	return err
}

func (h *Handler) loadToilExpiryScenario(ctx context.Context) error {
	today := h.today()
	if err := h.seedDemoDirectory(ctx, today.AddMonths(-12)); err != nil {
		return err
	}

	// Roughly seven months ago: already past the six month expiry.
	old := mondayOf(today.AddDays(-7 * 30))
	// Roughly five and a half months ago: expires within a few weeks.
	recent := mondayOf(today.AddDays(-7 * 24))

	for _, week := range []generic.Date{old, recent} {
		if err := h.logWeek(ctx, demoStaff, week, 9, 9, 9, 9, 9); err != nil {
			return err
		}
		sub, err := h.Workflow.Submit(ctx, demoStaff, week, week.AddDays(6))
		if err != nil {
			return err
		}
		if _, err := h.Workflow.Approve(ctx, demoManager, sub.ID); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedDemoDirectory(ctx context.Context, capacityFrom generic.Date) error {
	now := time.Now().UTC()
	users := []timesheet.User{
		{ID: "alice", Email: "alice@example.com", FirstName: "Alice", LastName: "Archer", Role: timesheet.RoleStaff, Locale: "en"},
		{ID: "ben", Email: "ben@example.com", FirstName: "Ben", LastName: "Becker", Role: timesheet.RoleStaff, Locale: "de"},
		{ID: "morgan", Email: "morgan@example.com", FirstName: "Morgan", LastName: "Marsh", Role: timesheet.RoleManager, Locale: "en"},
	}
	return h.Store.WithTx(ctx, func(st timesheet.Store) error {
		for _, u := range users {
			u.TenantID = demoTenant
			u.CreatedAt, u.UpdatedAt = now, now
			if err := st.SaveUser(ctx, u); err != nil {
				return err
			}
			if u.Role != timesheet.RoleStaff {
				continue
			}
			if err := st.InsertCapacity(ctx, toil.Capacity{
				ID:            uuid.NewString(),
				TenantID:      demoTenant,
				UserID:        u.ID,
				EffectiveFrom: capacityFrom,
				WeeklyHours:   generic.NewHours(37.5),
				Notes:         "Full time",
				CreatedAt:     now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// logWeek records one WORK entry per day from weekStart with the given
// hours.
func (h *Handler) logWeek(ctx context.Context, actor timesheet.Actor, weekStart generic.Date, hours ...float64) error {
	for i, hrs := range hours {
		if _, err := h.Entries.Create(ctx, actor, timesheet.EntryInput{
			Date:        weekStart.AddDays(i),
			Hours:       generic.NewHours(hrs),
			ClientID:    "client-acme",
			Description: "Client work",
		}); err != nil {
			return err
		}
	}
	return nil
}

func mondayOf(d generic.Date) generic.Date {
	return d.AddDays(-((int(d.Weekday()) + 6) % 7))
}
