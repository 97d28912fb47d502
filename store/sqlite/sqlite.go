/*
Package sqlite provides a SQLite-backed implementation of timesheet.TxStore.

PURPOSE:
  Persists time entries, submissions, users, TOIL balances, capacity,
  accrual history and the activity log. The same schema ports to
  PostgreSQL with minor dialect changes.

KEY TABLES:
  time_entries:          Hours per user per date, optional clock range
  timesheet_submissions: Weekly submissions and their review state
  leave_balances:        One row per (tenant, user, year), versioned
  staff_capacity:        Contracted weekly hours, effective-dated
  toil_accrual_history:  Overtime credited per approved submission
  users:                 Directory data and per-user settings
  activity_logs:         Append-only audit trail

INDEXES:
  - idx_time_entries_user_date: Validator reads (hot path)
  - idx_submissions_active: At most one pending/resubmitted submission
    per (tenant, user, week_start)
  - idx_accrual_submission: At most one accrual per submission
  - idx_accrual_expiry: Expiry sweep

CONCURRENCY:
  The pool holds a single connection and transactions start with
  BEGIN IMMEDIATE (_txlock=immediate), so transactions never interleave.
  A check-then-insert sequence inside WithTx cannot race another one. Every
  method of the transaction-scoped store uses the *sql.Tx; none touches
  the pool, which would block on the connection the transaction holds.

ENCODING:
  Dates are TEXT YYYY-MM-DD, timestamps TEXT in a fixed-width UTC layout
  so they sort lexically, hours TEXT decimals, clock times INTEGER
  seconds since midnight.

USAGE:
  store, err := sqlite.New("./data/timesheets.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - timesheet/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/timesheet"
	"github.com/practicehub/timesheet-engine/toil"
	"github.com/shopspring/decimal"
)

// timeLayout is fixed width so stored timestamps order correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements timesheet.TxStore using SQLite.
type Store struct {
	db *sql.DB
}

var _ timesheet.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serializes transactions, and keeps a single shared
	// database for ":memory:".
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'staff',
		min_weekly_hours TEXT,
		locale TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS timesheet_submissions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		week_start_date TEXT NOT NULL,
		week_end_date TEXT NOT NULL,
		total_hours TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'resubmitted', 'approved', 'rejected')),
		submitted_at TEXT NOT NULL,
		reviewed_by TEXT,
		reviewed_at TEXT,
		reviewer_comments TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: One active submission per user and week
	CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_active
		ON timesheet_submissions(tenant_id, user_id, week_start_date)
		WHERE status IN ('pending', 'resubmitted');

	CREATE INDEX IF NOT EXISTS idx_submissions_week
		ON timesheet_submissions(tenant_id, user_id, week_start_date, submitted_at DESC);
	CREATE INDEX IF NOT EXISTS idx_submissions_status
		ON timesheet_submissions(tenant_id, status);

	CREATE TABLE IF NOT EXISTS time_entries (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		start_sec INTEGER,
		end_sec INTEGER,
		hours TEXT NOT NULL,
		billable BOOLEAN NOT NULL DEFAULT TRUE,
		work_type TEXT NOT NULL DEFAULT 'WORK' CHECK (work_type IN ('WORK', 'TOIL')),
		status TEXT NOT NULL DEFAULT 'draft',
		submission_id TEXT REFERENCES timesheet_submissions(id) ON DELETE SET NULL,
		description TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		client_id TEXT NOT NULL DEFAULT '',
		task_id TEXT NOT NULL DEFAULT '',
		service_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (start_sec IS NULL OR end_sec IS NULL OR end_sec > start_sec)
	);

	CREATE INDEX IF NOT EXISTS idx_time_entries_user_date
		ON time_entries(tenant_id, user_id, date);
	CREATE INDEX IF NOT EXISTS idx_time_entries_submission
		ON time_entries(submission_id) WHERE submission_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS leave_balances (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		annual_entitlement TEXT NOT NULL,
		annual_used TEXT NOT NULL,
		carried_over TEXT NOT NULL,
		sick_used TEXT NOT NULL,
		toil_balance TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (tenant_id, user_id, year)
	);

	CREATE TABLE IF NOT EXISTS staff_capacity (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		weekly_hours TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_capacity_user
		ON staff_capacity(tenant_id, user_id, effective_from DESC);

	CREATE TABLE IF NOT EXISTS toil_accrual_history (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		submission_id TEXT,
		week_ending TEXT NOT NULL,
		hours_accrued TEXT NOT NULL,
		logged_hours TEXT NOT NULL,
		contracted_hours TEXT NOT NULL,
		balance_year INTEGER NOT NULL,
		accrual_date TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		expired BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: Accrual runs once per submission
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accrual_submission
		ON toil_accrual_history(submission_id) WHERE submission_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_accrual_user
		ON toil_accrual_history(tenant_id, user_id, accrual_date DESC);
	CREATE INDEX IF NOT EXISTS idx_accrual_expiry
		ON toil_accrual_history(expired, expiry_date);

	CREATE TABLE IF NOT EXISTS activity_logs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		old_values TEXT,
		new_values TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_entity
		ON activity_logs(tenant_id, entity_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all rows. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"activity_logs", "toil_accrual_history", "staff_capacity", "leave_balances",
		"time_entries", "timesheet_submissions", "users",
	}
	return s.withSQLTx(ctx, func(tx *sql.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// TRANSACTIONS (timesheet.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(timesheet.Store) error) error {
	return s.withSQLTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

func (s *Store) withSQLTx(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the transaction-scoped timesheet.Store.
type txStore struct {
	tx *sql.Tx
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

const entryColumns = `id, tenant_id, user_id, date, start_sec, end_sec, hours, billable, work_type,
	status, submission_id, description, notes, client_id, task_id, service_id, created_at, updated_at`

func (ts *txStore) GetEntry(ctx context.Context, tenantID, id string) (*timesheet.TimeEntry, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM time_entries WHERE tenant_id = ? AND id = ?",
		tenantID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query time entry: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (ts *txStore) InsertEntry(ctx context.Context, e timesheet.TimeEntry) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO time_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.UserID, e.Date.String(),
		clockArg(e.StartTime), clockArg(e.EndTime),
		e.Hours.String(), e.Billable, string(e.WorkType), string(e.Status),
		nullString(e.SubmissionID),
		e.Description, e.Notes, e.ClientID, e.TaskID, e.ServiceID,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert time entry: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateEntry(ctx context.Context, e timesheet.TimeEntry) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE time_entries SET
			date = ?, start_sec = ?, end_sec = ?, hours = ?, billable = ?, work_type = ?,
			status = ?, submission_id = ?, description = ?, notes = ?, client_id = ?,
			task_id = ?, service_id = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		e.Date.String(), clockArg(e.StartTime), clockArg(e.EndTime),
		e.Hours.String(), e.Billable, string(e.WorkType), string(e.Status),
		nullString(e.SubmissionID), e.Description, e.Notes, e.ClientID,
		e.TaskID, e.ServiceID, formatTime(e.UpdatedAt),
		e.TenantID, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update time entry: %w", err)
	}
	return requireRow(res)
}

func (ts *txStore) DeleteEntry(ctx context.Context, tenantID, id string) error {
	res, err := ts.tx.ExecContext(ctx,
		"DELETE FROM time_entries WHERE tenant_id = ? AND id = ?", tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete time entry: %w", err)
	}
	return requireRow(res)
}

func (ts *txStore) ListEntries(ctx context.Context, f timesheet.EntryFilter) ([]timesheet.TimeEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		where = append(where, cond)
		args = append(args, arg)
	}
	if f.TenantID != "" {
		add("tenant_id = ?", f.TenantID)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.From != nil {
		add("date >= ?", f.From.String())
	}
	if f.To != nil {
		add("date <= ?", f.To.String())
	}
	if f.ClientID != "" {
		add("client_id = ?", f.ClientID)
	}
	if f.Billable != nil {
		add("billable = ?", *f.Billable)
	}
	if f.SubmissionID != "" {
		add("submission_id = ?", f.SubmissionID)
	}

	query := "SELECT " + entryColumns + " FROM time_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, created_at DESC"
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := ts.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query time entries: %w", err)
	}
	return scanEntries(rows)
}

func (ts *txStore) LinkEntries(ctx context.Context, tenantID, userID string, week generic.Week, submissionID string) (int, error) {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE time_entries SET submission_id = ?, status = ?, updated_at = ?
		WHERE tenant_id = ? AND user_id = ? AND date >= ? AND date <= ?`,
		submissionID, string(timesheet.EntrySubmitted), formatTime(time.Now()),
		tenantID, userID, week.Start.String(), week.End.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to link time entries: %w", err)
	}
	return affected(res)
}

func (ts *txStore) SetEntryStatusBySubmission(ctx context.Context, tenantID, submissionID string, status timesheet.EntryStatus) (int, error) {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE time_entries SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND submission_id = ?`,
		string(status), formatTime(time.Now()), tenantID, submissionID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update time entry status: %w", err)
	}
	return affected(res)
}

func (ts *txStore) UnlinkEntries(ctx context.Context, tenantID, submissionID string) (int, error) {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE time_entries SET submission_id = NULL, status = ?, updated_at = ?
		WHERE tenant_id = ? AND submission_id = ?`,
		string(timesheet.EntryRejected), formatTime(time.Now()), tenantID, submissionID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to unlink time entries: %w", err)
	}
	return affected(res)
}

func scanEntries(rows *sql.Rows) ([]timesheet.TimeEntry, error) {
	defer rows.Close()

	var entries []timesheet.TimeEntry
	for rows.Next() {
		var (
			e                    timesheet.TimeEntry
			date, hours          string
			startSec, endSec     sql.NullInt64
			workType, status     string
			submissionID         sql.NullString
			createdAt, updatedAt string
		)
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.UserID, &date, &startSec, &endSec, &hours,
			&e.Billable, &workType, &status, &submissionID,
			&e.Description, &e.Notes, &e.ClientID, &e.TaskID, &e.ServiceID,
			&createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time entry: %w", err)
		}
		if e.Date, err = generic.ParseDate(date); err != nil {
			return nil, err
		}
		if e.Hours, err = generic.ParseHours(hours); err != nil {
			return nil, err
		}
		e.StartTime = clockValue(startSec)
		e.EndTime = clockValue(endSec)
		e.WorkType = timesheet.WorkType(workType)
		e.Status = timesheet.EntryStatus(status)
		e.SubmissionID = submissionID.String
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SUBMISSIONS
// =============================================================================

const submissionColumns = `id, tenant_id, user_id, week_start_date, week_end_date, total_hours, status,
	submitted_at, reviewed_by, reviewed_at, reviewer_comments, created_at, updated_at`

func (ts *txStore) GetSubmission(ctx context.Context, tenantID, id string) (*timesheet.Submission, error) {
	return ts.querySubmission(ctx,
		"SELECT "+submissionColumns+" FROM timesheet_submissions WHERE tenant_id = ? AND id = ?",
		tenantID, id)
}

func (ts *txStore) LatestSubmission(ctx context.Context, tenantID, userID string, weekStart generic.Date) (*timesheet.Submission, error) {
	return ts.querySubmission(ctx, `
		SELECT `+submissionColumns+` FROM timesheet_submissions
		WHERE tenant_id = ? AND user_id = ? AND week_start_date = ?
		ORDER BY submitted_at DESC, created_at DESC
		LIMIT 1`,
		tenantID, userID, weekStart.String())
}

func (ts *txStore) querySubmission(ctx context.Context, query string, args ...any) (*timesheet.Submission, error) {
	rows, err := ts.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submission: %w", err)
	}
	subs, err := scanSubmissions(rows)
	if err != nil || len(subs) == 0 {
		return nil, err
	}
	return &subs[0], nil
}

func (ts *txStore) InsertSubmission(ctx context.Context, s timesheet.Submission) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO timesheet_submissions (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TenantID, s.UserID, s.WeekStart.String(), s.WeekEnd.String(),
		s.TotalHours.String(), string(s.Status), formatTime(s.SubmittedAt),
		nullString(s.ReviewedBy), nullTime(s.ReviewedAt), nullString(s.ReviewerComments),
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicateSubmission
	}
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateSubmission(ctx context.Context, s timesheet.Submission, from timesheet.SubmissionStatus) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE timesheet_submissions SET
			status = ?, total_hours = ?, reviewed_by = ?, reviewed_at = ?,
			reviewer_comments = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?`,
		string(s.Status), s.TotalHours.String(), nullString(s.ReviewedBy), nullTime(s.ReviewedAt),
		nullString(s.ReviewerComments), formatTime(s.UpdatedAt),
		s.TenantID, s.ID, string(from),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicateSubmission
	}
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func (ts *txStore) ListSubmissions(ctx context.Context, tenantID string, statuses ...timesheet.SubmissionStatus) ([]timesheet.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM timesheet_submissions WHERE tenant_id = ?"
	args := []any{tenantID}
	if len(statuses) > 0 {
		query += " AND status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY submitted_at DESC"

	rows, err := ts.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	return scanSubmissions(rows)
}

func scanSubmissions(rows *sql.Rows) ([]timesheet.Submission, error) {
	defer rows.Close()

	var subs []timesheet.Submission
	for rows.Next() {
		var (
			s                         timesheet.Submission
			weekStart, weekEnd, total string
			status, submittedAt       string
			reviewedBy, reviewedAt    sql.NullString
			comments                  sql.NullString
			createdAt, updatedAt      string
		)
		err := rows.Scan(
			&s.ID, &s.TenantID, &s.UserID, &weekStart, &weekEnd, &total, &status,
			&submittedAt, &reviewedBy, &reviewedAt, &comments, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		if s.WeekStart, err = generic.ParseDate(weekStart); err != nil {
			return nil, err
		}
		if s.WeekEnd, err = generic.ParseDate(weekEnd); err != nil {
			return nil, err
		}
		if s.TotalHours, err = generic.ParseHours(total); err != nil {
			return nil, err
		}
		if s.Status, err = timesheet.ParseSubmissionStatus(status); err != nil {
			return nil, fmt.Errorf("failed to scan submission %s: %w", s.ID, err)
		}
		s.SubmittedAt = parseTime(submittedAt)
		s.ReviewedBy = reviewedBy.String
		if reviewedAt.Valid {
			t := parseTime(reviewedAt.String)
			s.ReviewedAt = &t
		}
		s.ReviewerComments = comments.String
		s.CreatedAt = parseTime(createdAt)
		s.UpdatedAt = parseTime(updatedAt)
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// =============================================================================
// USERS
// =============================================================================

func (ts *txStore) GetUser(ctx context.Context, tenantID, id string) (*timesheet.User, error) {
	var (
		u                    timesheet.User
		minHours             sql.NullString
		createdAt, updatedAt string
	)
	err := ts.tx.QueryRowContext(ctx, `
		SELECT tenant_id, id, email, first_name, last_name, role, min_weekly_hours, locale,
		       created_at, updated_at
		FROM users WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	).Scan(&u.TenantID, &u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &minHours,
		&u.Locale, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if minHours.Valid && minHours.String != "" {
		h, err := generic.ParseHours(minHours.String)
		if err != nil {
			return nil, err
		}
		u.MinWeeklyHours = &h
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func (ts *txStore) SaveUser(ctx context.Context, u timesheet.User) error {
	var minHours sql.NullString
	if u.MinWeeklyHours != nil {
		minHours = sql.NullString{String: u.MinWeeklyHours.String(), Valid: true}
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := u.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO users (tenant_id, id, email, first_name, last_name, role, min_weekly_hours,
		                   locale, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			role = excluded.role,
			min_weekly_hours = excluded.min_weekly_hours,
			locale = excluded.locale,
			updated_at = excluded.updated_at`,
		u.TenantID, u.ID, u.Email, u.FirstName, u.LastName, u.Role, minHours, u.Locale,
		formatTime(created), formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// =============================================================================
// ACTIVITY LOG
// =============================================================================

func (ts *txStore) AppendActivity(ctx context.Context, a timesheet.ActivityLog) error {
	oldJSON, err := marshalValues(a.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalValues(a.NewValues)
	if err != nil {
		return err
	}
	_, err = ts.tx.ExecContext(ctx, `
		INSERT INTO activity_logs (id, tenant_id, entity_type, entity_id, action, description,
		                           user_id, old_values, new_values, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.EntityType, a.EntityID, a.Action, a.Description,
		a.UserID, oldJSON, newJSON, formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

func (ts *txStore) ListActivity(ctx context.Context, tenantID, entityID string) ([]timesheet.ActivityLog, error) {
	rows, err := ts.tx.QueryContext(ctx, `
		SELECT id, tenant_id, entity_type, entity_id, action, description, user_id,
		       old_values, new_values, created_at
		FROM activity_logs
		WHERE tenant_id = ? AND entity_id = ?
		ORDER BY created_at ASC, rowid ASC`,
		tenantID, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}
	defer rows.Close()

	var logs []timesheet.ActivityLog
	for rows.Next() {
		var (
			a                timesheet.ActivityLog
			oldJSON, newJSON sql.NullString
			createdAt        string
		)
		if err := rows.Scan(&a.ID, &a.TenantID, &a.EntityType, &a.EntityID, &a.Action,
			&a.Description, &a.UserID, &oldJSON, &newJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		if oldJSON.Valid {
			if err := json.Unmarshal([]byte(oldJSON.String), &a.OldValues); err != nil {
				return nil, fmt.Errorf("failed to decode old values of activity log %s: %w", a.ID, err)
			}
		}
		if newJSON.Valid {
			if err := json.Unmarshal([]byte(newJSON.String), &a.NewValues); err != nil {
				return nil, fmt.Errorf("failed to decode new values of activity log %s: %w", a.ID, err)
			}
		}
		a.CreatedAt = parseTime(createdAt)
		logs = append(logs, a)
	}
	return logs, rows.Err()
}

// =============================================================================
// TOIL BALANCES (toil.Store interface)
// =============================================================================

func (ts *txStore) GetBalance(ctx context.Context, tenantID, userID string, year int) (*toil.LeaveBalance, error) {
	var (
		b                                 toil.LeaveBalance
		entitlement, used, carried, sick  string
		toilBalance, createdAt, updatedAt string
	)
	err := ts.tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, year, annual_entitlement, annual_used, carried_over,
		       sick_used, toil_balance, version, created_at, updated_at
		FROM leave_balances
		WHERE tenant_id = ? AND user_id = ? AND year = ?`,
		tenantID, userID, year,
	).Scan(&b.ID, &b.TenantID, &b.UserID, &b.Year, &entitlement, &used, &carried,
		&sick, &toilBalance, &b.Version, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query leave balance: %w", err)
	}

	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{entitlement, &b.AnnualEntitlement},
		{used, &b.AnnualUsed},
		{carried, &b.CarriedOver},
		{sick, &b.SickUsed},
	} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return nil, fmt.Errorf("invalid leave balance value %q: %w", f.raw, err)
		}
	}
	if b.ToilBalance, err = generic.ParseHours(toilBalance); err != nil {
		return nil, err
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (ts *txStore) InsertBalance(ctx context.Context, b toil.LeaveBalance) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO leave_balances (id, tenant_id, user_id, year, annual_entitlement, annual_used,
		                            carried_over, sick_used, toil_balance, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.TenantID, b.UserID, b.Year,
		b.AnnualEntitlement.String(), b.AnnualUsed.String(), b.CarriedOver.String(),
		b.SickUsed.String(), b.ToilBalance.String(), b.Version,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrConcurrentModification
	}
	if err != nil {
		return fmt.Errorf("failed to insert leave balance: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateToilBalance(ctx context.Context, b toil.LeaveBalance) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE leave_balances
		SET toil_balance = ?, version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND user_id = ? AND year = ? AND version = ?`,
		b.ToilBalance.String(), formatTime(b.UpdatedAt),
		b.TenantID, b.UserID, b.Year, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update TOIL balance: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// CAPACITY
// =============================================================================

func (ts *txStore) GetCapacity(ctx context.Context, tenantID, userID string, asOf generic.Date) (*toil.Capacity, error) {
	var (
		c                          toil.Capacity
		effectiveFrom, weeklyHours string
		createdAt                  string
	)
	err := ts.tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, effective_from, weekly_hours, notes, created_at
		FROM staff_capacity
		WHERE tenant_id = ? AND user_id = ? AND effective_from <= ?
		ORDER BY effective_from DESC, created_at DESC
		LIMIT 1`,
		tenantID, userID, asOf.String(),
	).Scan(&c.ID, &c.TenantID, &c.UserID, &effectiveFrom, &weeklyHours, &c.Notes, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query capacity: %w", err)
	}
	if c.EffectiveFrom, err = generic.ParseDate(effectiveFrom); err != nil {
		return nil, err
	}
	if c.WeeklyHours, err = generic.ParseHours(weeklyHours); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (ts *txStore) InsertCapacity(ctx context.Context, c toil.Capacity) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO staff_capacity (id, tenant_id, user_id, effective_from, weekly_hours, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.UserID, c.EffectiveFrom.String(), c.WeeklyHours.String(),
		c.Notes, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert capacity: %w", err)
	}
	return nil
}

// =============================================================================
// ACCRUAL HISTORY
// =============================================================================

const accrualColumns = `id, tenant_id, user_id, submission_id, week_ending, hours_accrued, logged_hours,
	contracted_hours, balance_year, accrual_date, expiry_date, expired, created_at`

func (ts *txStore) InsertAccrual(ctx context.Context, r toil.AccrualRecord) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO toil_accrual_history (`+accrualColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.UserID, nullString(r.SubmissionID), r.WeekEnding.String(),
		r.HoursAccrued.String(), r.LoggedHours.String(), r.ContractedHours.String(),
		r.BalanceYear, formatTime(r.AccrualDate), r.ExpiryDate.String(), r.Expired,
		formatTime(r.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicateAccrual
	}
	if err != nil {
		return fmt.Errorf("failed to insert accrual record: %w", err)
	}
	return nil
}

func (ts *txStore) ListAccruals(ctx context.Context, f toil.AccrualFilter) ([]toil.AccrualRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		where = append(where, cond)
		args = append(args, arg)
	}
	if f.TenantID != "" {
		add("tenant_id = ?", f.TenantID)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.Expired != nil {
		add("expired = ?", *f.Expired)
	}
	if f.ExpiryFrom != nil {
		add("expiry_date >= ?", f.ExpiryFrom.String())
	}
	if f.ExpiryTo != nil {
		add("expiry_date <= ?", f.ExpiryTo.String())
	}

	query := "SELECT " + accrualColumns + " FROM toil_accrual_history"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.SortByExpiry {
		query += " ORDER BY expiry_date ASC, accrual_date ASC"
	} else {
		query += " ORDER BY accrual_date DESC"
	}
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := ts.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accrual history: %w", err)
	}
	defer rows.Close()

	var records []toil.AccrualRecord
	for rows.Next() {
		var (
			r                               toil.AccrualRecord
			submissionID                    sql.NullString
			weekEnding, accrued, logged     string
			contracted, accrualDate, expiry string
			createdAt                       string
		)
		err := rows.Scan(&r.ID, &r.TenantID, &r.UserID, &submissionID, &weekEnding,
			&accrued, &logged, &contracted, &r.BalanceYear, &accrualDate, &expiry,
			&r.Expired, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan accrual record: %w", err)
		}
		r.SubmissionID = submissionID.String
		if r.WeekEnding, err = generic.ParseDate(weekEnding); err != nil {
			return nil, err
		}
		if r.ExpiryDate, err = generic.ParseDate(expiry); err != nil {
			return nil, err
		}
		if r.HoursAccrued, err = generic.ParseHours(accrued); err != nil {
			return nil, err
		}
		if r.LoggedHours, err = generic.ParseHours(logged); err != nil {
			return nil, err
		}
		if r.ContractedHours, err = generic.ParseHours(contracted); err != nil {
			return nil, err
		}
		r.AccrualDate = parseTime(accrualDate)
		r.CreatedAt = parseTime(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (ts *txStore) MarkAccrualExpired(ctx context.Context, tenantID, id string) (bool, error) {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE toil_accrual_history SET expired = TRUE
		WHERE tenant_id = ? AND id = ? AND expired = FALSE`,
		tenantID, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to expire accrual record: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func clockArg(c *generic.ClockTime) sql.NullInt64 {
	if c == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*c), Valid: true}
}

func clockValue(v sql.NullInt64) *generic.ClockTime {
	if !v.Valid {
		return nil
	}
	c := generic.ClockTime(v.Int64)
	return &c
}

func marshalValues(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode activity values: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	} else if offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

func requireRow(res sql.Result) error {
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrNotFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
