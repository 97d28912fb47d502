package timesheet_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/store/memory"
	"github.com/practicehub/timesheet-engine/timesheet"
	"github.com/practicehub/timesheet-engine/toil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	staff   = timesheet.Actor{TenantID: "t1", UserID: "alice", Role: timesheet.RoleStaff}
	staff2  = timesheet.Actor{TenantID: "t1", UserID: "ben", Role: timesheet.RoleStaff}
	manager = timesheet.Actor{TenantID: "t1", UserID: "morgan", Role: timesheet.RoleManager}
)

var monday = generic.NewDate(2025, 3, 3)

type fixture struct {
	store    *memory.Store
	entries  *timesheet.EntryService
	workflow *timesheet.Workflow
	toil     *toil.Service
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ledger := toil.NewLedger()
	notifier := &recordingNotifier{}
	accruer := toil.NewAccruer(ledger, toil.ExpiryPolicy{})
	return &fixture{
		store:    store,
		entries:  timesheet.NewEntryService(store, ledger),
		workflow: timesheet.NewWorkflow(store, accruer, notifier, timesheet.WorkflowConfig{}),
		toil:     toil.NewService(timesheet.ToilTransactor(store), ledger),
		notifier: notifier,
	}
}

func (f *fixture) logHours(t *testing.T, actor timesheet.Actor, date generic.Date, hours float64) *timesheet.TimeEntry {
	t.Helper()
	e, err := f.entries.Create(context.Background(), actor, timesheet.EntryInput{
		Date:     date,
		Hours:    generic.NewHours(hours),
		ClientID: "client-1",
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) balance(t *testing.T, userID string, year int) string {
	t.Helper()
	bal, err := f.toil.Balance(context.Background(), "t1", userID, year)
	require.NoError(t, err)
	return bal.Hours.String()
}

func (f *fixture) seedBalance(t *testing.T, userID string, hours string) {
	t.Helper()
	require.NoError(t, f.store.WithTx(context.Background(), func(st timesheet.Store) error {
		_, err := toil.NewLedger().Credit(context.Background(), st, toil.Posting{
			TenantID: "t1",
			UserID:   userID,
			Date:     monday,
			Hours:    generic.MustParseHours(hours),
		})
		return err
	}))
}

func clock(t *testing.T, s string) *generic.ClockTime {
	t.Helper()
	c, err := generic.ParseClock(s)
	require.NoError(t, err)
	return &c
}

func kindOf(err error) generic.Kind { return generic.KindOf(err) }

type recordingNotifier struct {
	mu       sync.Mutex
	approved []timesheet.Notice
	rejected []timesheet.Notice
	fail     bool
}

func (n *recordingNotifier) SubmissionApproved(_ context.Context, notice timesheet.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approved = append(n.approved, notice)
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (n *recordingNotifier) SubmissionRejected(_ context.Context, notice timesheet.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, notice)
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

func TestEntries_CreateDefaults(t *testing.T) {
	f := newFixture(t)

	e := f.logHours(t, staff, monday, 7.5)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "t1", e.TenantID)
	assert.Equal(t, "alice", e.UserID)
	assert.True(t, e.Billable)
	assert.Equal(t, timesheet.WorkTypeWork, e.WorkType)
	assert.Equal(t, timesheet.EntryDraft, e.Status)
	assert.Empty(t, e.SubmissionID)

	logs, err := f.workflow.Activity(context.Background(), staff, e.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, timesheet.ActionCreated, logs[0].Action)
	assert.Nil(t, logs[0].OldValues)
	assert.Equal(t, "7.5", logs[0].NewValues["hours"])
}

func TestEntries_CreateRejectsBadShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]timesheet.EntryInput{
		"missing date":   {Hours: generic.NewHours(1)},
		"zero hours":     {Date: monday, Hours: generic.ZeroHours},
		"negative hours": {Date: monday, Hours: generic.NewHours(-1)},
		"over 24 hours":  {Date: monday, Hours: generic.NewHours(24.5)},
		"end before start": {
			Date: monday, Hours: generic.NewHours(1),
			StartTime: clock(t, "10:00"), EndTime: clock(t, "09:00"),
		},
	}
	for name, in := range cases {
		_, err := f.entries.Create(ctx, staff, in)
		assert.Equal(t, generic.KindBadRequest, kindOf(err), name)
	}

	entries, err := f.entries.List(ctx, staff, timesheet.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEntries_CreateDerivesHoursFromRange(t *testing.T) {
	f := newFixture(t)

	e, err := f.entries.Create(context.Background(), staff, timesheet.EntryInput{
		Date: monday, StartTime: clock(t, "09:00"), EndTime: clock(t, "11:45"),
	})

	require.NoError(t, err)
	assert.Equal(t, "2.75", e.Hours.String())
}

func TestEntries_UpdateClearsTimes(t *testing.T) {
	// GIVEN: A timed entry
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.entries.Create(ctx, staff, timesheet.EntryInput{
		Date: monday, Hours: generic.NewHours(3),
		StartTime: clock(t, "09:00"), EndTime: clock(t, "12:00"),
	})
	require.NoError(t, err)

	// WHEN: Clearing its clock times
	updated, err := f.entries.Update(ctx, staff, e.ID, timesheet.EntryPatch{ClearTimes: true})

	// THEN: It becomes untimed and keeps its hours
	require.NoError(t, err)
	assert.Nil(t, updated.StartTime)
	assert.Nil(t, updated.EndTime)
	assert.Equal(t, "3", updated.Hours.String())

	stored, err := f.entries.Get(ctx, staff, e.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.StartTime)

	// And a new entry may now take the freed morning slot
	_, err = f.entries.Create(ctx, staff, timesheet.EntryInput{
		Date: monday, Hours: generic.NewHours(1),
		StartTime: clock(t, "10:00"), EndTime: clock(t, "11:00"),
	})
	assert.NoError(t, err)
}

func TestEntries_CreateRequiresIdentity(t *testing.T) {
	f := newFixture(t)

	_, err := f.entries.Create(context.Background(), timesheet.Actor{TenantID: "t1"}, timesheet.EntryInput{
		Date: monday, Hours: generic.NewHours(1),
	})

	assert.Equal(t, generic.KindUnauthorized, kindOf(err))
}

func TestEntries_DailyLimit(t *testing.T) {
	// GIVEN: 20h already logged on Monday
	f := newFixture(t)
	f.logHours(t, staff, monday, 20)

	// WHEN: Logging up to exactly 24h, then beyond
	f.logHours(t, staff, monday, 4)
	_, err := f.entries.Create(context.Background(), staff, timesheet.EntryInput{
		Date: monday, Hours: generic.NewHours(0.25),
	})

	// THEN: The entry that crosses 24h is refused with the totals
	var e *generic.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, generic.KindBadRequest, e.Kind)
	assert.Equal(t, "24", e.Details["current_total"].(generic.Hours).String())
	assert.Equal(t, "0.25", e.Details["requested"].(generic.Hours).String())

	// Other users and other days are unaffected
	f.logHours(t, staff2, monday, 10)
	f.logHours(t, staff, monday.AddDays(1), 10)
}

func TestEntries_Overlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.entries.Create(ctx, staff, timesheet.EntryInput{
		Date: monday, Hours: generic.NewHours(1),
		StartTime: clock(t, "09:00"), EndTime: clock(t, "10:00"),
	})
	require.NoError(t, err)

	// Touching ranges are fine
	_, err = f.entries.Create(ctx, staff, timesheet.EntryInput{
		Date: monday, Hours: generic.NewHours(1),
		StartTime: clock(t, "10:00"), EndTime: clock(t, "11:00"),
	})
	require.NoError(t, err)

	// Intersecting ranges are not
	_, err = f.entries.Create(ctx, staff, timesheet.EntryInput{
		Date: monday, Hours: generic.NewHours(1),
		StartTime: clock(t, "09:30"), EndTime: clock(t, "10:30"),
	})
	var e *generic.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, generic.KindBadRequest, e.Kind)
	assert.Contains(t, e.Details["overlapping_ids"], first.ID)

	// Untimed entries never overlap
	f.logHours(t, staff, monday, 2)
}

// =============================================================================
// TOIL ENTRIES
// =============================================================================

func TestEntries_ToilWithoutBalanceWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.entries.Create(ctx, staff, timesheet.EntryInput{
		Date: monday, Hours: generic.NewHours(3.75), WorkType: timesheet.WorkTypeTOIL,
	})

	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
	assert.Equal(t, generic.KindPreconditionFailed, kindOf(err))
	entries, err := f.entries.List(ctx, staff, timesheet.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEntries_ToilRoundTrip(t *testing.T) {
	// GIVEN: 7.5h TOIL available
	f := newFixture(t)
	ctx := context.Background()
	f.seedBalance(t, "alice", "7.5")

	// WHEN: Taking half a day off
	e, err := f.entries.Create(ctx, staff, timesheet.EntryInput{
		Date: monday, Hours: generic.NewHours(3.75), WorkType: timesheet.WorkTypeTOIL,
	})
	require.NoError(t, err)

	// THEN: The balance is debited
	assert.Equal(t, "3.75", f.balance(t, "alice", 2025))

	// And changing it to a full day debits the difference
	full := generic.NewHours(7.5)
	_, err = f.entries.Update(ctx, staff, e.ID, timesheet.EntryPatch{Hours: &full})
	require.NoError(t, err)
	assert.Equal(t, "0", f.balance(t, "alice", 2025))

	// And going over the balance leaves the entry and balance untouched
	tooMuch := generic.NewHours(8)
	_, err = f.entries.Update(ctx, staff, e.ID, timesheet.EntryPatch{Hours: &tooMuch})
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
	got, err := f.entries.Get(ctx, staff, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "7.5", got.Hours.String())
	assert.Equal(t, "0", f.balance(t, "alice", 2025))

	// And converting it to WORK refunds it
	work := timesheet.WorkTypeWork
	_, err = f.entries.Update(ctx, staff, e.ID, timesheet.EntryPatch{WorkType: &work})
	require.NoError(t, err)
	assert.Equal(t, "7.5", f.balance(t, "alice", 2025))
}

func TestEntries_DeleteToilRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedBalance(t, "alice", "5")

	e, err := f.entries.Create(ctx, staff, timesheet.EntryInput{
		Date: monday, Hours: generic.NewHours(5), WorkType: timesheet.WorkTypeTOIL,
	})
	require.NoError(t, err)
	assert.Equal(t, "0", f.balance(t, "alice", 2025))

	require.NoError(t, f.entries.Delete(ctx, staff, e.ID))

	assert.Equal(t, "5", f.balance(t, "alice", 2025))
	_, err = f.entries.Get(ctx, staff, e.ID)
	assert.Equal(t, generic.KindNotFound, kindOf(err))

	logs, err := f.workflow.Activity(ctx, staff, e.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, timesheet.ActionDeleted, logs[1].Action)
	assert.Nil(t, logs[1].NewValues)
}

// =============================================================================
// UPDATE / OWNERSHIP / QUERIES
// =============================================================================

func TestEntries_UpdateRevalidatesAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.logHours(t, staff, monday, 8)
	f.logHours(t, staff, monday, 12)

	// Raising to 12h would total 24h: allowed. 12.5h is not.
	twelve := generic.NewHours(12)
	_, err := f.entries.Update(ctx, staff, e.ID, timesheet.EntryPatch{Hours: &twelve})
	require.NoError(t, err)
	over := generic.NewHours(12.5)
	_, err = f.entries.Update(ctx, staff, e.ID, timesheet.EntryPatch{Hours: &over})
	assert.Equal(t, generic.KindBadRequest, kindOf(err))

	desc := "Audit prep"
	updated, err := f.entries.Update(ctx, staff, e.ID, timesheet.EntryPatch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "12", updated.Hours.String())
	assert.Equal(t, "Audit prep", updated.Description)

	logs, err := f.workflow.Activity(ctx, staff, e.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, timesheet.ActionUpdated, logs[2].Action)
	assert.Equal(t, "12", logs[2].OldValues["hours"])
}

func TestEntries_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.logHours(t, staff, monday, 4)

	// Another staff member cannot touch it
	_, err := f.entries.Get(ctx, staff2, e.ID)
	assert.Equal(t, generic.KindForbidden, kindOf(err))
	assert.Equal(t, generic.KindForbidden, kindOf(f.entries.Delete(ctx, staff2, e.ID)))

	// Another tenant cannot see it at all
	other := timesheet.Actor{TenantID: "t2", UserID: "alice", Role: timesheet.RoleManager}
	_, err = f.entries.Get(ctx, other, e.ID)
	assert.Equal(t, generic.KindNotFound, kindOf(err))

	// A manager can edit it
	notes := "checked"
	_, err = f.entries.Update(ctx, manager, e.ID, timesheet.EntryPatch{Notes: &notes})
	require.NoError(t, err)
}

func TestEntries_ListScopesStaffToThemselves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.logHours(t, staff, monday, 4)
	f.logHours(t, staff2, monday, 5)

	own, err := f.entries.List(ctx, staff, timesheet.EntryFilter{UserID: "ben"})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "alice", own[0].UserID)

	bens, err := f.entries.List(ctx, manager, timesheet.EntryFilter{UserID: "ben"})
	require.NoError(t, err)
	require.Len(t, bens, 1)
	assert.Equal(t, "ben", bens[0].UserID)
}

func TestEntries_Summary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.logHours(t, staff, monday, 6)
	f.logHours(t, staff, monday.AddDays(1), 2)
	nonBillable := false
	_, err := f.entries.Create(ctx, staff, timesheet.EntryInput{
		Date: monday.AddDays(1), Hours: generic.NewHours(1.5), Billable: &nonBillable, ClientID: "client-2",
	})
	require.NoError(t, err)
	f.logHours(t, staff, monday.AddDays(10), 3) // outside the range

	sum, err := f.entries.Summary(ctx, staff, monday, monday.AddDays(6), "")

	require.NoError(t, err)
	assert.Equal(t, "9.5", sum.TotalHours.String())
	assert.Equal(t, "8", sum.BillableHours.String())
	assert.Equal(t, "1.5", sum.NonBillableHours.String())
	assert.Equal(t, 3, sum.EntryCount)
	assert.Equal(t, 2, sum.DaysWorked)
	assert.Equal(t, 2, sum.UniqueClients)

	_, err = f.entries.Summary(ctx, staff, monday.AddDays(1), monday, "")
	assert.Equal(t, generic.KindBadRequest, kindOf(err))
}

func TestEntries_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := f.entries.Create(ctx, staff, timesheet.EntryInput{Date: monday, Hours: generic.NewHours(1)})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
