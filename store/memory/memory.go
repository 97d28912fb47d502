// Package memory provides an in-memory timesheet.TxStore for tests and
// local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/timesheet"
	"github.com/practicehub/timesheet-engine/toil"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps everything in maps. WithTx holds a single lock for the whole
// transaction, so transactions are serialized, and restores a snapshot
// if fn fails.
type Store struct {
	mu   sync.Mutex
	data state
}

type balanceKey struct {
	TenantID string
	UserID   string
	Year     int
}

type userKey struct {
	TenantID string
	UserID   string
}

type state struct {
	entries     map[string]timesheet.TimeEntry
	submissions map[string]timesheet.Submission
	users       map[userKey]timesheet.User
	balances    map[balanceKey]toil.LeaveBalance
	capacity    []toil.Capacity
	accruals    map[string]toil.AccrualRecord
	activity    []timesheet.ActivityLog
}

func newState() state {
	return state{
		entries:     make(map[string]timesheet.TimeEntry),
		submissions: make(map[string]timesheet.Submission),
		users:       make(map[userKey]timesheet.User),
		balances:    make(map[balanceKey]toil.LeaveBalance),
		accruals:    make(map[string]toil.AccrualRecord),
	}
}

func New() *Store {
	return &Store{data: newState()}
}

var _ timesheet.TxStore = (*Store)(nil)

// Reset drops all data.
func (m *Store) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newState()
	return nil
}

// WithTx executes fn within a transaction, simulated with a snapshot and
// rollback on error.
func (m *Store) WithTx(ctx context.Context, fn func(timesheet.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&txView{data: &m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.submissions {
		c.submissions[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.accruals {
		c.accruals[k] = v
	}
	c.capacity = append([]toil.Capacity(nil), s.capacity...)
	c.activity = append([]timesheet.ActivityLog(nil), s.activity...)
	return c
}

// txView is the Store handed to WithTx callers. The lock is already held.
type txView struct {
	data *state
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

func (v *txView) GetEntry(_ context.Context, tenantID, id string) (*timesheet.TimeEntry, error) {
	e, ok := v.data.entries[id]
	if !ok || e.TenantID != tenantID {
		return nil, nil
	}
	return &e, nil
}

func (v *txView) InsertEntry(_ context.Context, e timesheet.TimeEntry) error {
	v.data.entries[e.ID] = e
	return nil
}

func (v *txView) UpdateEntry(_ context.Context, e timesheet.TimeEntry) error {
	cur, ok := v.data.entries[e.ID]
	if !ok || cur.TenantID != e.TenantID {
		return generic.ErrNotFound
	}
	v.data.entries[e.ID] = e
	return nil
}

func (v *txView) DeleteEntry(_ context.Context, tenantID, id string) error {
	cur, ok := v.data.entries[id]
	if !ok || cur.TenantID != tenantID {
		return generic.ErrNotFound
	}
	delete(v.data.entries, id)
	return nil
}

func (v *txView) ListEntries(_ context.Context, f timesheet.EntryFilter) ([]timesheet.TimeEntry, error) {
	var out []timesheet.TimeEntry
	for _, e := range v.data.entries {
		if matchEntry(e, f) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

func matchEntry(e timesheet.TimeEntry, f timesheet.EntryFilter) bool {
	switch {
	case f.TenantID != "" && e.TenantID != f.TenantID:
		return false
	case f.UserID != "" && e.UserID != f.UserID:
		return false
	case f.From != nil && e.Date.Before(*f.From):
		return false
	case f.To != nil && e.Date.After(*f.To):
		return false
	case f.ClientID != "" && e.ClientID != f.ClientID:
		return false
	case f.Billable != nil && e.Billable != *f.Billable:
		return false
	case f.SubmissionID != "" && e.SubmissionID != f.SubmissionID:
		return false
	}
	return true
}

func (v *txView) LinkEntries(_ context.Context, tenantID, userID string, week generic.Week, submissionID string) (int, error) {
	n := 0
	for id, e := range v.data.entries {
		if e.TenantID == tenantID && e.UserID == userID && week.Contains(e.Date) {
			e.SubmissionID = submissionID
			e.Status = timesheet.EntrySubmitted
			v.data.entries[id] = e
			n++
		}
	}
	return n, nil
}

func (v *txView) SetEntryStatusBySubmission(_ context.Context, tenantID, submissionID string, status timesheet.EntryStatus) (int, error) {
	n := 0
	for id, e := range v.data.entries {
		if e.TenantID == tenantID && e.SubmissionID == submissionID {
			e.Status = status
			v.data.entries[id] = e
			n++
		}
	}
	return n, nil
}

func (v *txView) UnlinkEntries(_ context.Context, tenantID, submissionID string) (int, error) {
	n := 0
	for id, e := range v.data.entries {
		if e.TenantID == tenantID && e.SubmissionID == submissionID {
			e.SubmissionID = ""
			e.Status = timesheet.EntryRejected
			v.data.entries[id] = e
			n++
		}
	}
	return n, nil
}

// =============================================================================
// SUBMISSIONS
// =============================================================================

func (v *txView) GetSubmission(_ context.Context, tenantID, id string) (*timesheet.Submission, error) {
	s, ok := v.data.submissions[id]
	if !ok || s.TenantID != tenantID {
		return nil, nil
	}
	return &s, nil
}

func (v *txView) LatestSubmission(_ context.Context, tenantID, userID string, weekStart generic.Date) (*timesheet.Submission, error) {
	var latest *timesheet.Submission
	for _, s := range v.data.submissions {
		if s.TenantID != tenantID || s.UserID != userID || !s.WeekStart.Equal(weekStart) {
			continue
		}
		if latest == nil || s.SubmittedAt.After(latest.SubmittedAt) {
			latest = &s
		}
	}
	return latest, nil
}

func (v *txView) InsertSubmission(_ context.Context, s timesheet.Submission) error {
	if s.Status.IsActive() {
		for _, cur := range v.data.submissions {
			if cur.TenantID == s.TenantID && cur.UserID == s.UserID &&
				cur.WeekStart.Equal(s.WeekStart) && cur.Status.IsActive() {
				return generic.ErrDuplicateSubmission
			}
		}
	}
	v.data.submissions[s.ID] = s
	return nil
}

func (v *txView) UpdateSubmission(_ context.Context, s timesheet.Submission, from timesheet.SubmissionStatus) error {
	cur, ok := v.data.submissions[s.ID]
	if !ok || cur.TenantID != s.TenantID {
		return generic.ErrNotFound
	}
	if cur.Status != from {
		return generic.ErrConcurrentModification
	}
	v.data.submissions[s.ID] = s
	return nil
}

func (v *txView) ListSubmissions(_ context.Context, tenantID string, statuses ...timesheet.SubmissionStatus) ([]timesheet.Submission, error) {
	want := make(map[timesheet.SubmissionStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []timesheet.Submission
	for _, s := range v.data.submissions {
		if s.TenantID == tenantID && (len(want) == 0 || want[s.Status]) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}

// =============================================================================
// USERS AND AUDIT
// =============================================================================

func (v *txView) GetUser(_ context.Context, tenantID, id string) (*timesheet.User, error) {
	u, ok := v.data.users[userKey{TenantID: tenantID, UserID: id}]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (v *txView) SaveUser(_ context.Context, u timesheet.User) error {
	k := userKey{TenantID: u.TenantID, UserID: u.ID}
	if cur, ok := v.data.users[k]; ok && !cur.CreatedAt.IsZero() {
		u.CreatedAt = cur.CreatedAt
	}
	v.data.users[k] = u
	return nil
}

func (v *txView) AppendActivity(_ context.Context, a timesheet.ActivityLog) error {
	v.data.activity = append(v.data.activity, a)
	return nil
}

func (v *txView) ListActivity(_ context.Context, tenantID, entityID string) ([]timesheet.ActivityLog, error) {
	var out []timesheet.ActivityLog
	for _, a := range v.data.activity {
		if a.TenantID == tenantID && a.EntityID == entityID {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// TOIL (toil.Store)
// =============================================================================

func (v *txView) GetBalance(_ context.Context, tenantID, userID string, year int) (*toil.LeaveBalance, error) {
	b, ok := v.data.balances[balanceKey{TenantID: tenantID, UserID: userID, Year: year}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (v *txView) InsertBalance(_ context.Context, b toil.LeaveBalance) error {
	k := balanceKey{TenantID: b.TenantID, UserID: b.UserID, Year: b.Year}
	if _, ok := v.data.balances[k]; ok {
		return generic.ErrConcurrentModification
	}
	v.data.balances[k] = b
	return nil
}

func (v *txView) UpdateToilBalance(_ context.Context, b toil.LeaveBalance) error {
	k := balanceKey{TenantID: b.TenantID, UserID: b.UserID, Year: b.Year}
	cur, ok := v.data.balances[k]
	if !ok || cur.Version != b.Version {
		return generic.ErrConcurrentModification
	}
	cur.ToilBalance = b.ToilBalance
	cur.UpdatedAt = b.UpdatedAt
	cur.Version++
	v.data.balances[k] = cur
	return nil
}

func (v *txView) GetCapacity(_ context.Context, tenantID, userID string, asOf generic.Date) (*toil.Capacity, error) {
	var best *toil.Capacity
	for i := range v.data.capacity {
		c := v.data.capacity[i]
		if c.TenantID != tenantID || c.UserID != userID || c.EffectiveFrom.After(asOf) {
			continue
		}
		if best == nil || c.EffectiveFrom.After(best.EffectiveFrom) ||
			(c.EffectiveFrom.Equal(best.EffectiveFrom) && c.CreatedAt.After(best.CreatedAt)) {
			best = &c
		}
	}
	return best, nil
}

func (v *txView) InsertCapacity(_ context.Context, c toil.Capacity) error {
	v.data.capacity = append(v.data.capacity, c)
	return nil
}

func (v *txView) InsertAccrual(_ context.Context, r toil.AccrualRecord) error {
	if r.SubmissionID != "" {
		for _, cur := range v.data.accruals {
			if cur.SubmissionID == r.SubmissionID {
				return generic.ErrDuplicateAccrual
			}
		}
	}
	v.data.accruals[r.ID] = r
	return nil
}

func (v *txView) ListAccruals(_ context.Context, f toil.AccrualFilter) ([]toil.AccrualRecord, error) {
	var out []toil.AccrualRecord
	for _, r := range v.data.accruals {
		switch {
		case f.TenantID != "" && r.TenantID != f.TenantID:
			continue
		case f.UserID != "" && r.UserID != f.UserID:
			continue
		case f.Expired != nil && r.Expired != *f.Expired:
			continue
		case f.ExpiryFrom != nil && r.ExpiryDate.Before(*f.ExpiryFrom):
			continue
		case f.ExpiryTo != nil && r.ExpiryDate.After(*f.ExpiryTo):
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.SortByExpiry {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].AccrualDate.After(out[j].AccrualDate)
	})
	return page(out, f.Limit, f.Offset), nil
}

func (v *txView) MarkAccrualExpired(_ context.Context, tenantID, id string) (bool, error) {
	r, ok := v.data.accruals[id]
	if !ok || r.TenantID != tenantID || r.Expired {
		return false, nil
	}
	r.Expired = true
	v.data.accruals[id] = r
	return true, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
