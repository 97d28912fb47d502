package toil_test

import (
	"context"
	"testing"
	"time"

	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/toil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedTwoAccruals credits 2.5h for the week ending 2025-03-09 (expires
// 2025-09-09) and 5h for the week ending 2025-06-08 (expires 2025-12-08).
func seedTwoAccruals(t *testing.T) (toil.Transactor, *toil.Service) {
	t.Helper()
	tx := newTransactor(t)
	ledger := toil.NewLedger()
	addCapacity(t, tx, generic.NewDate(2025, 1, 1), "37.5")
	a := toil.NewAccruer(ledger, toil.ExpiryPolicy{})

	_, err := accrue(tx, a, accrualInput("sub-march", "40"))
	require.NoError(t, err)
	june := accrualInput("sub-june", "42.5")
	june.WeekEnding = generic.NewDate(2025, 6, 8)
	_, err = accrue(tx, a, june)
	require.NoError(t, err)

	return tx, toil.NewService(tx, ledger)
}

func TestService_BalanceMissingRowIsZero(t *testing.T) {
	svc := toil.NewService(newTransactor(t), toil.NewLedger())

	bal, err := svc.Balance(context.Background(), "t1", "alice", 2025)

	require.NoError(t, err)
	assert.Equal(t, "alice", bal.UserID)
	assert.True(t, bal.Hours.IsZero())
	assert.True(t, bal.Days.IsZero())
}

func TestService_Balance(t *testing.T) {
	_, svc := seedTwoAccruals(t)

	bal, err := svc.Balance(context.Background(), "t1", "alice", 2025)

	require.NoError(t, err)
	assert.Equal(t, "7.5", bal.Hours.String())
	assert.Equal(t, "1", bal.Days.String())
}

func TestService_History(t *testing.T) {
	_, svc := seedTwoAccruals(t)
	ctx := context.Background()

	all, err := svc.History(ctx, "t1", "alice", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	first, err := svc.History(ctx, "t1", "alice", 1, 0)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	past, err := svc.History(ctx, "t1", "alice", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, past)

	other, err := svc.History(ctx, "t2", "alice", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestService_Expiring(t *testing.T) {
	_, svc := seedTwoAccruals(t)
	ctx := context.Background()

	// Only the June accrual lapses in the 30 days from 2025-11-15
	out, err := svc.Expiring(ctx, "t1", "alice", generic.NewDate(2025, 11, 15), 30)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "2025-12-08", out.Records[0].ExpiryDate.String())
	assert.Equal(t, "5", out.TotalHours.String())
	assert.Equal(t, "0.7", out.TotalDays.String())

	// Both within 90 days of 2025-09-09, soonest first
	out, err = svc.Expiring(ctx, "t1", "alice", generic.NewDate(2025, 9, 9), 90)
	require.NoError(t, err)
	require.Len(t, out.Records, 2)
	assert.Equal(t, "2025-09-09", out.Records[0].ExpiryDate.String())
	assert.Equal(t, "7.5", out.TotalHours.String())
}

func TestService_ExpiringValidatesWindow(t *testing.T) {
	svc := toil.NewService(newTransactor(t), toil.NewLedger())

	for _, days := range []int{0, -1, 91} {
		_, err := svc.Expiring(context.Background(), "t1", "alice", generic.NewDate(2025, 1, 1), days)
		assert.Equal(t, generic.KindBadRequest, generic.KindOf(err), "days=%d", days)
	}
}

func TestService_SweepClampsSpentHours(t *testing.T) {
	// GIVEN: 7.5h accrued and 6h already spent
	tx, svc := seedTwoAccruals(t)
	ctx := context.Background()
	require.NoError(t, tx.InTx(ctx, func(s toil.Store) error {
		_, err := svc.Ledger.Debit(ctx, s, posting("6"))
		return err
	}))

	// WHEN: Sweeping after the March accrual lapsed
	result, err := svc.Sweep(ctx, "t1", generic.NewDate(2025, 10, 1))

	// THEN: The March record expires, only the 1.5h left is debited and
	// the balance stops at zero
	require.NoError(t, err)
	assert.Equal(t, 1, result.MarkedExpired)
	assert.Equal(t, 1, result.UsersAffected)
	require.Len(t, result.Expired, 1)
	assert.Equal(t, "1.5", result.Expired[0].HoursExpired.String())
	assert.Equal(t, "2025-09-09", result.Expired[0].ExpiryDate.String())
	assert.True(t, balanceOf(t, tx, 2025).IsZero())

	// And the expired record no longer counts as expiring
	out, err := svc.Expiring(ctx, "t1", "alice", generic.NewDate(2025, 9, 1), 30)
	require.NoError(t, err)
	assert.Empty(t, out.Records)
}

func TestService_SweepDebitsFullAccrual(t *testing.T) {
	tx, svc := seedTwoAccruals(t)

	result, err := svc.Sweep(context.Background(), "t1", generic.NewDate(2025, 9, 9))

	require.NoError(t, err)
	assert.Equal(t, 1, result.MarkedExpired)
	assert.Equal(t, "5", balanceOf(t, tx, 2025).String())
}

func TestService_SweepWithoutBalanceRowWritesNoBalance(t *testing.T) {
	// GIVEN: A due accrual record whose balance year has no row
	tx := newTransactor(t)
	ctx := context.Background()
	require.NoError(t, tx.InTx(ctx, func(s toil.Store) error {
		return s.InsertAccrual(ctx, toil.AccrualRecord{
			ID: "acc-1", TenantID: "t1", UserID: "alice", SubmissionID: "sub-1",
			WeekEnding:   generic.NewDate(2024, 3, 10),
			HoursAccrued: generic.NewHours(2), LoggedHours: generic.NewHours(39.5),
			ContractedHours: generic.NewHours(37.5), BalanceYear: 2024,
			AccrualDate: time.Now(), ExpiryDate: generic.NewDate(2024, 9, 10), CreatedAt: time.Now(),
		})
	}))
	svc := toil.NewService(tx, toil.NewLedger())

	// WHEN: Sweeping
	result, err := svc.Sweep(ctx, "t1", generic.NewDate(2025, 1, 1))

	// THEN: The record expires with nothing debited and no row is created
	require.NoError(t, err)
	assert.Equal(t, 1, result.MarkedExpired)
	require.Len(t, result.Expired, 1)
	assert.True(t, result.Expired[0].HoursExpired.IsZero())
	require.NoError(t, tx.InTx(ctx, func(s toil.Store) error {
		bal, err := s.GetBalance(ctx, "t1", "alice", 2024)
		require.NoError(t, err)
		assert.Nil(t, bal)
		return nil
	}))
}

func TestService_SweepIsIdempotent(t *testing.T) {
	tx, svc := seedTwoAccruals(t)
	ctx := context.Background()
	today := generic.NewDate(2026, 1, 1)

	first, err := svc.Sweep(ctx, "", today)
	require.NoError(t, err)
	assert.Equal(t, 2, first.MarkedExpired)
	assert.True(t, balanceOf(t, tx, 2025).IsZero())

	second, err := svc.Sweep(ctx, "", today)
	require.NoError(t, err)
	assert.Zero(t, second.MarkedExpired)
	assert.Zero(t, second.UsersAffected)
	assert.Empty(t, second.Expired)
}

func TestService_SweepIsTenantScoped(t *testing.T) {
	tx, svc := seedTwoAccruals(t)

	result, err := svc.Sweep(context.Background(), "t2", generic.NewDate(2026, 1, 1))

	require.NoError(t, err)
	assert.Zero(t, result.MarkedExpired)
	assert.Equal(t, "7.5", balanceOf(t, tx, 2025).String())
}
