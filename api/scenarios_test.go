/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Users and capacity are created
	- Submissions end in the expected status
	- TOIL balances match expected values

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/timesheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_OvertimeWeek(t *testing.T) {
	// GIVEN: The overtime-week scenario
	h := setupTestHandler(t)
	ctx := context.Background()

	// WHEN: Loading it
	require.NoError(t, h.loadScenario(ctx, "overtime-week"))

	// THEN: Alice has 2.5h TOIL for 2025 and an approved week
	bal, err := h.Toil.Balance(ctx, demoTenant, "alice", 2025)
	require.NoError(t, err)
	assert.Equal(t, "2.5", bal.Hours.String())

	sub, err := h.Workflow.Status(ctx, demoStaff, generic.NewDate(2025, 3, 3))
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, timesheet.StatusApproved, sub.Status)
	assert.Equal(t, "40", sub.TotalHours.String())
}

func TestScenario_PendingReview(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadScenario(ctx, "pending-review"))

	pending, err := h.Workflow.PendingApprovals(ctx, demoManager)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	statuses := map[string]timesheet.SubmissionStatus{}
	for _, p := range pending {
		statuses[p.UserID] = p.Status
		assert.NotEmpty(t, p.UserName)
		assert.NotEmpty(t, p.UserEmail)
	}
	assert.Equal(t, timesheet.StatusPending, statuses["alice"])
	assert.Equal(t, timesheet.StatusResubmitted, statuses["ben"])
}

func TestScenario_ToilExpiry(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadScenario(ctx, "toil-expiry"))

	// Two weeks of 45h against 37.5h: 7.5h each
	history, err := h.Toil.History(ctx, demoTenant, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// The recent accrual is flagged as expiring within 30 days
	expiring, err := h.Toil.Expiring(ctx, demoTenant, "alice", h.today(), 30)
	require.NoError(t, err)
	require.Len(t, expiring.Records, 1)
	assert.Equal(t, "7.5", expiring.TotalHours.String())

	// The old accrual is swept
	result, err := h.Toil.Sweep(ctx, demoTenant, h.today())
	require.NoError(t, err)
	assert.Equal(t, 1, result.MarkedExpired)
}

func TestScenario_LoadResetsPreviousData(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadScenario(ctx, "pending-review"))
	require.NoError(t, h.loadScenario(ctx, "overtime-week"))

	pending, err := h.Workflow.PendingApprovals(ctx, demoManager)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, "overtime-week", h.currentScenario)
}

func TestScenario_UnknownIsBadRequest(t *testing.T) {
	_, router := setupTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", &admin, map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", &admin, map[string]string{"scenario_id": "overtime-week"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", &admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "overtime-week", decode[ScenarioDTO](t, rec).ID)

	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", &admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/scenarios/current", &admin, nil)
	assert.Equal(t, "null\n", rec.Body.String())
}
