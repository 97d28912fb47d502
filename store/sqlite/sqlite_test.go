package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/store/sqlite"
	"github.com/practicehub/timesheet-engine/timesheet"
	"github.com/practicehub/timesheet-engine/toil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "timesheet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func inTx(t *testing.T, store *sqlite.Store, fn func(st timesheet.Store)) {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), func(st timesheet.Store) error {
		fn(st)
		return nil
	}))
}

var (
	ctx    = context.Background()
	monday = generic.NewDate(2025, 3, 3)
	alice  = timesheet.Actor{TenantID: "t1", UserID: "alice", Role: timesheet.RoleStaff}
)

// =============================================================================
// TIME ENTRIES
// =============================================================================

func TestEntries_RoundTrip(t *testing.T) {
	store := newStore(t)
	start, end := generic.ClockTime(9*3600), generic.ClockTime(10*3600+1800)
	now := time.Now().UTC()
	entry := timesheet.TimeEntry{
		ID: "e1", TenantID: "t1", UserID: "alice", Date: monday,
		StartTime: &start, EndTime: &end, Hours: generic.NewHours(1.5),
		Billable: false, WorkType: timesheet.WorkTypeTOIL, Status: timesheet.EntryDraft,
		Description: "Dentist", ClientID: "c1", CreatedAt: now, UpdatedAt: now,
	}

	inTx(t, store, func(st timesheet.Store) {
		require.NoError(t, st.InsertEntry(ctx, entry))
	})

	inTx(t, store, func(st timesheet.Store) {
		got, err := st.GetEntry(ctx, "t1", "e1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "2025-03-03", got.Date.String())
		assert.Equal(t, "1.5", got.Hours.String())
		require.NotNil(t, got.StartTime)
		assert.Equal(t, start, *got.StartTime)
		assert.Equal(t, end, *got.EndTime)
		assert.False(t, got.Billable)
		assert.Equal(t, timesheet.WorkTypeTOIL, got.WorkType)
		assert.Equal(t, "Dentist", got.Description)
		assert.Empty(t, got.SubmissionID)
		assert.True(t, now.Equal(got.CreatedAt))

		// Scoped by tenant
		other, err := st.GetEntry(ctx, "t2", "e1")
		require.NoError(t, err)
		assert.Nil(t, other)
	})
}

func TestEntries_ListFiltersAndLinking(t *testing.T) {
	store := newStore(t)
	inTx(t, store, func(st timesheet.Store) {
		for i, hours := range []float64{8, 7, 6} {
			require.NoError(t, st.InsertEntry(ctx, timesheet.TimeEntry{
				ID: "e" + string(rune('a'+i)), TenantID: "t1", UserID: "alice",
				Date: monday.AddDays(i * 4), Hours: generic.NewHours(hours),
				Billable: true, WorkType: timesheet.WorkTypeWork, Status: timesheet.EntryDraft,
				CreatedAt: time.Now(), UpdatedAt: time.Now(),
			}))
		}
	})

	week, err := generic.NewWeek(monday, monday.AddDays(6))
	require.NoError(t, err)

	inTx(t, store, func(st timesheet.Store) {
		sunday := monday.AddDays(6)
		inWeek, err := st.ListEntries(ctx, timesheet.EntryFilter{TenantID: "t1", UserID: "alice", From: &monday, To: &sunday})
		require.NoError(t, err)
		require.Len(t, inWeek, 2)
		assert.Equal(t, "eb", inWeek[0].ID, "newest date first")

		paged, err := st.ListEntries(ctx, timesheet.EntryFilter{TenantID: "t1", Limit: 1, Offset: 2})
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, "ea", paged[0].ID)

		require.NoError(t, st.InsertSubmission(ctx, submission("sub-1", timesheet.StatusPending, time.Now())))
		n, err := st.LinkEntries(ctx, "t1", "alice", week, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = st.SetEntryStatusBySubmission(ctx, "t1", "sub-1", timesheet.EntryApproved)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		linked, err := st.ListEntries(ctx, timesheet.EntryFilter{TenantID: "t1", SubmissionID: "sub-1"})
		require.NoError(t, err)
		assert.Len(t, linked, 2)
		for _, e := range linked {
			assert.Equal(t, timesheet.EntryApproved, e.Status)
		}

		n, err = st.UnlinkEntries(ctx, "t1", "sub-1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		got, err := st.GetEntry(ctx, "t1", "ea")
		require.NoError(t, err)
		assert.Empty(t, got.SubmissionID)
		assert.Equal(t, timesheet.EntryRejected, got.Status)
	})
}

func TestEntries_LinkRequiresExistingSubmission(t *testing.T) {
	// GIVEN: An entry in the week and no submission row
	store := newStore(t)
	inTx(t, store, func(st timesheet.Store) {
		require.NoError(t, st.InsertEntry(ctx, timesheet.TimeEntry{
			ID: "e1", TenantID: "t1", UserID: "alice", Date: monday, Hours: generic.NewHours(8),
			WorkType: timesheet.WorkTypeWork, Status: timesheet.EntryDraft,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}))
	})
	week, err := generic.NewWeek(monday, monday.AddDays(6))
	require.NoError(t, err)

	// WHEN: Linking the entries to an unknown submission id
	err = store.WithTx(ctx, func(st timesheet.Store) error {
		_, err := st.LinkEntries(ctx, "t1", "alice", week, "ghost")
		return err
	})

	// THEN: The foreign key refuses it and the entry stays unlinked
	require.Error(t, err)
	inTx(t, store, func(st timesheet.Store) {
		got, err := st.GetEntry(ctx, "t1", "e1")
		require.NoError(t, err)
		assert.Empty(t, got.SubmissionID)
	})
}

func TestEntries_UpdateAndDeleteMissing(t *testing.T) {
	store := newStore(t)

	err := store.WithTx(ctx, func(st timesheet.Store) error {
		return st.UpdateEntry(ctx, timesheet.TimeEntry{ID: "nope", TenantID: "t1", Date: monday, Hours: generic.NewHours(1)})
	})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	err = store.WithTx(ctx, func(st timesheet.Store) error {
		return st.DeleteEntry(ctx, "t1", "nope")
	})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// SUBMISSIONS
// =============================================================================

func submission(id string, status timesheet.SubmissionStatus, submittedAt time.Time) timesheet.Submission {
	return timesheet.Submission{
		ID: id, TenantID: "t1", UserID: "alice",
		WeekStart: monday, WeekEnd: monday.AddDays(6),
		TotalHours: generic.NewHours(40), Status: status,
		SubmittedAt: submittedAt, CreatedAt: submittedAt, UpdatedAt: submittedAt,
	}
}

func TestSubmissions_OneActivePerWeek(t *testing.T) {
	store := newStore(t)
	t0 := time.Now().UTC()

	inTx(t, store, func(st timesheet.Store) {
		require.NoError(t, st.InsertSubmission(ctx, submission("s1", timesheet.StatusPending, t0)))
	})

	err := store.WithTx(ctx, func(st timesheet.Store) error {
		return st.InsertSubmission(ctx, submission("s2", timesheet.StatusResubmitted, t0.Add(time.Second)))
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateSubmission)

	// Rejecting frees the week for a resubmission
	inTx(t, store, func(st timesheet.Store) {
		rejected := submission("s1", timesheet.StatusRejected, t0)
		reviewed := t0.Add(time.Minute)
		rejected.ReviewedBy = "morgan"
		rejected.ReviewedAt = &reviewed
		rejected.ReviewerComments = "fix"
		require.NoError(t, st.UpdateSubmission(ctx, rejected, timesheet.StatusPending))
		require.NoError(t, st.InsertSubmission(ctx, submission("s2", timesheet.StatusResubmitted, t0.Add(time.Hour))))
	})

	inTx(t, store, func(st timesheet.Store) {
		latest, err := st.LatestSubmission(ctx, "t1", "alice", monday)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "s2", latest.ID)

		old, err := st.GetSubmission(ctx, "t1", "s1")
		require.NoError(t, err)
		assert.Equal(t, timesheet.StatusRejected, old.Status)
		assert.Equal(t, "morgan", old.ReviewedBy)
		require.NotNil(t, old.ReviewedAt)
		assert.Equal(t, "fix", old.ReviewerComments)

		active, err := st.ListSubmissions(ctx, "t1", timesheet.StatusPending, timesheet.StatusResubmitted)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "s2", active[0].ID)

		all, err := st.ListSubmissions(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestSubmissions_UpdateIsCompareAndSet(t *testing.T) {
	store := newStore(t)
	inTx(t, store, func(st timesheet.Store) {
		require.NoError(t, st.InsertSubmission(ctx, submission("s1", timesheet.StatusApproved, time.Now())))
	})

	err := store.WithTx(ctx, func(st timesheet.Store) error {
		return st.UpdateSubmission(ctx, submission("s1", timesheet.StatusRejected, time.Now()), timesheet.StatusPending)
	})

	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
}

// =============================================================================
// USERS AND ACTIVITY
// =============================================================================

func TestUsers_SaveUpserts(t *testing.T) {
	store := newStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	minimum := generic.NewHours(20)

	inTx(t, store, func(st timesheet.Store) {
		require.NoError(t, st.SaveUser(ctx, timesheet.User{
			ID: "alice", TenantID: "t1", Email: "a@example.com", Role: timesheet.RoleStaff,
			CreatedAt: created, UpdatedAt: created,
		}))
		require.NoError(t, st.SaveUser(ctx, timesheet.User{
			ID: "alice", TenantID: "t1", Email: "alice@example.com", FirstName: "Alice",
			Role: timesheet.RoleStaff, MinWeeklyHours: &minimum, Locale: "de",
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}))
	})

	inTx(t, store, func(st timesheet.Store) {
		u, err := st.GetUser(ctx, "t1", "alice")
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, "alice@example.com", u.Email)
		assert.Equal(t, "de", u.Locale)
		require.NotNil(t, u.MinWeeklyHours)
		assert.Equal(t, "20", u.MinWeeklyHours.String())
		assert.True(t, created.Equal(u.CreatedAt), "created_at is kept")

		missing, err := st.GetUser(ctx, "t2", "alice")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestActivity_OrderedWithValues(t *testing.T) {
	store := newStore(t)
	at := time.Now().UTC()

	inTx(t, store, func(st timesheet.Store) {
		for _, action := range []string{timesheet.ActionSubmitted, timesheet.ActionRejected, timesheet.ActionResubmitted} {
			require.NoError(t, st.AppendActivity(ctx, timesheet.ActivityLog{
				ID: action, TenantID: "t1", EntityType: timesheet.EntitySubmission, EntityID: "s1",
				Action: action, UserID: "alice", NewValues: map[string]any{"status": action},
				CreatedAt: at, // identical timestamps keep insertion order
			}))
		}
	})

	inTx(t, store, func(st timesheet.Store) {
		logs, err := st.ListActivity(ctx, "t1", "s1")
		require.NoError(t, err)
		require.Len(t, logs, 3)
		assert.Equal(t, timesheet.ActionSubmitted, logs[0].Action)
		assert.Equal(t, timesheet.ActionResubmitted, logs[2].Action)
		assert.Nil(t, logs[0].OldValues)
		assert.Equal(t, "rejected", logs[1].NewValues["status"])
	})
}

// =============================================================================
// TOIL
// =============================================================================

func TestActivity_CorruptValuesAreReported(t *testing.T) {
	// GIVEN: An audit row whose old_values column is not valid JSON
	path := filepath.Join(t.TempDir(), "timesheet.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Exec(`INSERT INTO activity_logs
		(id, tenant_id, entity_type, entity_id, action, user_id, old_values, created_at)
		VALUES ('a1', 't1', 'time_entry', 'e1', 'update', 'alice', '{broken', ?)`,
		time.Now().UTC().Format(time.RFC3339Nano))
	require.NoError(t, err)

	// WHEN: Listing the entity's activity
	err = store.WithTx(ctx, func(st timesheet.Store) error {
		_, err := st.ListActivity(ctx, "t1", "e1")
		return err
	})

	// THEN: The decode failure surfaces instead of an empty value map
	require.Error(t, err)
	assert.Contains(t, err.Error(), "old values of activity log a1")
}

func TestToil_BalanceVersioning(t *testing.T) {
	store := newStore(t)
	ledger := toil.NewLedger()
	posting := toil.Posting{TenantID: "t1", UserID: "alice", Date: monday, Hours: generic.NewHours(2.5)}

	inTx(t, store, func(st timesheet.Store) {
		_, err := ledger.Credit(ctx, st, posting)
		require.NoError(t, err)
		_, err = ledger.Credit(ctx, st, posting)
		require.NoError(t, err)
	})

	var bal *toil.LeaveBalance
	inTx(t, store, func(st timesheet.Store) {
		var err error
		bal, err = st.GetBalance(ctx, "t1", "alice", 2025)
		require.NoError(t, err)
	})
	require.NotNil(t, bal)
	assert.Equal(t, "5", bal.ToilBalance.String())
	assert.Equal(t, 2, bal.Version)
	assert.Equal(t, "25", bal.AnnualEntitlement.String())

	stale := *bal
	stale.Version = 1
	err := store.WithTx(ctx, func(st timesheet.Store) error {
		return st.UpdateToilBalance(ctx, stale)
	})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	err = store.WithTx(ctx, func(st timesheet.Store) error {
		return st.InsertBalance(ctx, *bal)
	})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
}

func TestToil_CapacityAndAccruals(t *testing.T) {
	store := newStore(t)
	inTx(t, store, func(st timesheet.Store) {
		for i, c := range []struct {
			from   generic.Date
			weekly float64
		}{
			{generic.NewDate(2024, 1, 1), 37.5},
			{generic.NewDate(2025, 2, 1), 30},
			{generic.NewDate(2025, 6, 1), 20},
		} {
			require.NoError(t, st.InsertCapacity(ctx, toil.Capacity{
				ID: string(rune('a' + i)), TenantID: "t1", UserID: "alice",
				EffectiveFrom: c.from, WeeklyHours: generic.NewHours(c.weekly), CreatedAt: time.Now(),
			}))
		}
	})

	inTx(t, store, func(st timesheet.Store) {
		c, err := st.GetCapacity(ctx, "t1", "alice", generic.NewDate(2025, 3, 9))
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, "30", c.WeeklyHours.String())

		none, err := st.GetCapacity(ctx, "t1", "alice", generic.NewDate(2023, 12, 31))
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	accruer := toil.NewAccruer(toil.NewLedger(), toil.ExpiryPolicy{})
	in := toil.AccrualInput{
		TenantID: "t1", UserID: "alice", SubmissionID: "s1",
		WeekEnding: generic.NewDate(2025, 3, 9), LoggedHours: generic.NewHours(40),
	}
	inTx(t, store, func(st timesheet.Store) {
		rec, err := accruer.Accrue(ctx, st, in)
		require.NoError(t, err)
		assert.Equal(t, "10", rec.HoursAccrued.String())
	})

	err := store.WithTx(ctx, func(st timesheet.Store) error {
		_, err := accruer.Accrue(ctx, st, in)
		return err
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateAccrual)

	inTx(t, store, func(st timesheet.Store) {
		notExpired := false
		from, to := generic.NewDate(2025, 9, 1), generic.NewDate(2025, 9, 30)
		due, err := st.ListAccruals(ctx, toil.AccrualFilter{
			TenantID: "t1", Expired: &notExpired, ExpiryFrom: &from, ExpiryTo: &to, SortByExpiry: true,
		})
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "s1", due[0].SubmissionID)
		assert.Equal(t, "2025-09-09", due[0].ExpiryDate.String())
		assert.Equal(t, "30", due[0].ContractedHours.String())

		ok, err := st.MarkAccrualExpired(ctx, "t1", due[0].ID)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = st.MarkAccrualExpired(ctx, "t1", due[0].ID)
		require.NoError(t, err)
		assert.False(t, ok)

		left, err := st.ListAccruals(ctx, toil.AccrualFilter{TenantID: "t1", Expired: &notExpired})
		require.NoError(t, err)
		assert.Empty(t, left)
	})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newStore(t)

	err := store.WithTx(ctx, func(st timesheet.Store) error {
		require.NoError(t, st.InsertEntry(ctx, timesheet.TimeEntry{
			ID: "e1", TenantID: "t1", UserID: "alice", Date: monday, Hours: generic.NewHours(1),
			WorkType: timesheet.WorkTypeWork, Status: timesheet.EntryDraft,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}))
		return generic.BadRequest("abort")
	})
	require.Error(t, err)

	inTx(t, store, func(st timesheet.Store) {
		got, err := st.GetEntry(ctx, "t1", "e1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestConcurrentCreates_DailyLimitHolds(t *testing.T) {
	// GIVEN: Two 20h entries for the same day racing each other
	store := newStore(t)
	entries := timesheet.NewEntryService(store, toil.NewLedger())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := entries.Create(ctx, alice, timesheet.EntryInput{Date: monday, Hours: generic.NewHours(20)})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// THEN: Exactly one wins and the day never exceeds 24h
	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.Equal(t, generic.KindBadRequest, generic.KindOf(err))
		}
	}
	assert.Equal(t, 1, failures)

	list, err := entries.List(ctx, alice, timesheet.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConcurrentToilDebits_NeverNegative(t *testing.T) {
	store := newStore(t)
	ledger := toil.NewLedger()
	inTx(t, store, func(st timesheet.Store) {
		_, err := ledger.Credit(ctx, st, toil.Posting{TenantID: "t1", UserID: "alice", Date: monday, Hours: generic.NewHours(7.5)})
		require.NoError(t, err)
	})
	entries := timesheet.NewEntryService(store, ledger)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(day int) {
			defer wg.Done()
			_, err := entries.Create(ctx, alice, timesheet.EntryInput{
				Date: monday.AddDays(day), Hours: generic.NewHours(3), WorkType: timesheet.WorkTypeTOIL,
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, ok)
	inTx(t, store, func(st timesheet.Store) {
		bal, err := st.GetBalance(ctx, "t1", "alice", 2025)
		require.NoError(t, err)
		assert.Equal(t, "1.5", bal.ToilBalance.String())
	})
}

func TestReset(t *testing.T) {
	store := newStore(t)
	inTx(t, store, func(st timesheet.Store) {
		require.NoError(t, st.SaveUser(ctx, timesheet.User{ID: "alice", TenantID: "t1", Role: timesheet.RoleStaff}))
	})

	require.NoError(t, store.Reset(ctx))
	require.NoError(t, store.Ping(ctx))

	inTx(t, store, func(st timesheet.Store) {
		u, err := st.GetUser(ctx, "t1", "alice")
		require.NoError(t, err)
		assert.Nil(t, u)
	})
}
