/*
workflow.go - Weekly submission, approval and rejection

PURPOSE:
  Moves a user's week through the submission state machine (see
  types.go) and applies the side effects of each transition to the
  linked time entries and the TOIL balance.

TRANSITIONS AND EFFECTS:
  Submit   none -> pending, rejected -> resubmitted
           Snapshots the week's total, links the week's entries and marks
           them submitted.
  Approve  pending|resubmitted -> approved
           Marks linked entries approved and credits overtime as TOIL.
  Reject   pending|resubmitted -> rejected
           Unlinks the entries so they can be edited. The TOIL balance is
           not touched.

  Each transition is one store transaction, including its audit row.
  Emails go out after commit. A failed email is logged and never undoes
  the transition.

BULK:
  BulkApprove and BulkReject check the role and comments once, then run
  each id as its own transition in parallel. Failures are reported per
  id.
*/
package timesheet

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/toil"
	"golang.org/x/sync/errgroup"
)

// DefaultMinWeeklyHours is the submission minimum when neither the user
// nor the tenant configuration sets one.
var DefaultMinWeeklyHours = generic.MustParseHours("37.5")

// MaxCommentLength bounds reviewer comments, in characters.
const MaxCommentLength = 1000

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Notice is what a notifier needs to tell a user about a review.
type Notice struct {
	Submission Submission
	User       User
	Reviewer   User
	Comments   string
}

// Notifier delivers review outcomes. Called after commit.
type Notifier interface {
	SubmissionApproved(ctx context.Context, n Notice) error
	SubmissionRejected(ctx context.Context, n Notice) error
}

// NopNotifier drops every notice.
type NopNotifier struct{}

func (NopNotifier) SubmissionApproved(context.Context, Notice) error { return nil }
func (NopNotifier) SubmissionRejected(context.Context, Notice) error { return nil }

// =============================================================================
// WORKFLOW
// =============================================================================

type WorkflowConfig struct {
	// MinWeeklyHours applies to users without their own minimum.
	MinWeeklyHours generic.Hours

	// BulkConcurrency bounds parallel transitions in bulk operations.
	BulkConcurrency int
}

// Workflow runs submission transitions.
type Workflow struct {
	store    TxStore
	accruer  *toil.Accruer
	notifier Notifier
	cfg      WorkflowConfig
	now      func() time.Time
}

func NewWorkflow(store TxStore, accruer *toil.Accruer, notifier Notifier, cfg WorkflowConfig) *Workflow {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if !cfg.MinWeeklyHours.IsPositive() {
		cfg.MinWeeklyHours = DefaultMinWeeklyHours
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 4
	}
	return &Workflow{
		store:    store,
		accruer:  accruer,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Submit sends the actor's week for approval.
func (w *Workflow) Submit(ctx context.Context, actor Actor, weekStart, weekEnd generic.Date) (_ *Submission, err error) {
	ctx, span := startSpan(ctx, "timesheet.Submit", actor)
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}
	week, err := generic.NewWeek(weekStart, weekEnd)
	if err != nil {
		return nil, err
	}

	var sub Submission
	err = w.store.WithTx(ctx, func(st Store) error {
		minimum, err := w.minimumFor(ctx, st, actor)
		if err != nil {
			return err
		}

		entries, err := st.ListEntries(ctx, EntryFilter{
			TenantID: actor.TenantID,
			UserID:   actor.UserID,
			From:     &week.Start,
			To:       &week.End,
		})
		if err != nil {
			return fmt.Errorf("failed to load week entries: %w", err)
		}
		total := Summarize(entries).TotalHours
		if total.LessThan(minimum) {
			return generic.BadRequest("minimum %s hours required for submission, %s logged", minimum, total).
				With("total_hours", total).
				With("minimum_hours", minimum)
		}

		latest, err := st.LatestSubmission(ctx, actor.TenantID, actor.UserID, week.Start)
		if err != nil {
			return fmt.Errorf("failed to load submission: %w", err)
		}
		from := StatusNone
		if latest != nil {
			from = latest.Status
		}
		switch {
		case from.IsActive():
			return generic.BadRequest("this week has already been submitted")
		case from == StatusApproved:
			return generic.BadRequest("this week has already been approved")
		}
		to := StatusPending
		if from == StatusRejected {
			to = StatusResubmitted
		}
		if !CanTransition(from, to) {
			return generic.Conflict("cannot submit a week in status %q", from)
		}

		now := w.now().UTC()
		sub = Submission{
			ID:          uuid.NewString(),
			TenantID:    actor.TenantID,
			UserID:      actor.UserID,
			WeekStart:   week.Start,
			WeekEnd:     week.End,
			TotalHours:  total,
			Status:      to,
			SubmittedAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := st.InsertSubmission(ctx, sub); err != nil {
			if generic.KindOf(err) == generic.KindConflict {
				return generic.BadRequest("this week has already been submitted")
			}
			return fmt.Errorf("failed to insert submission: %w", err)
		}
		linked, err := st.LinkEntries(ctx, actor.TenantID, actor.UserID, week, sub.ID)
		if err != nil {
			return fmt.Errorf("failed to link entries: %w", err)
		}

		action := ActionSubmitted
		if to == StatusResubmitted {
			action = ActionResubmitted
		}
		return appendActivity(ctx, st, now, actor, EntitySubmission, sub.ID, action,
			fmt.Sprintf("Submitted week %s with %sh across %d entries", week, total, linked),
			nil, submissionSnapshot(sub))
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Workflow] User %s submitted week %s (%sh, %s)", actor.UserID, week, sub.TotalHours, sub.Status)
	return &sub, nil
}

// Approve approves a pending or resubmitted submission and credits any
// overtime as TOIL.
func (w *Workflow) Approve(ctx context.Context, actor Actor, id string) (_ *Submission, err error) {
	ctx, span := startSpan(ctx, "timesheet.Approve", actor)
	defer func() { endSpan(span, err) }()

	if err := requireReviewer(actor); err != nil {
		return nil, err
	}

	var notice Notice
	err = w.store.WithTx(ctx, func(st Store) error {
		sub, from, err := w.transition(ctx, st, actor, id, StatusApproved, "")
		if err != nil {
			return err
		}
		if _, err := st.SetEntryStatusBySubmission(ctx, actor.TenantID, sub.ID, EntryApproved); err != nil {
			return fmt.Errorf("failed to approve entries: %w", err)
		}
		if w.accruer != nil {
			if _, err := w.accruer.Accrue(ctx, st, toil.AccrualInput{
				TenantID:     sub.TenantID,
				UserID:       sub.UserID,
				SubmissionID: sub.ID,
				WeekEnding:   sub.WeekEnd,
				LoggedHours:  sub.TotalHours,
			}); err != nil {
				return err
			}
		}
		if err := appendActivity(ctx, st, *sub.ReviewedAt, actor, EntitySubmission, sub.ID, ActionApproved,
			fmt.Sprintf("Approved week %s to %s", sub.WeekStart, sub.WeekEnd),
			map[string]any{"status": string(from)}, submissionSnapshot(*sub)); err != nil {
			return err
		}
		notice, err = w.notice(ctx, st, actor, *sub, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := w.notifier.SubmissionApproved(ctx, notice); err != nil {
		log.Printf("[Workflow] Failed to send approval notice for submission %s: %v", id, err)
	}
	return &notice.Submission, nil
}

// Reject rejects a pending or resubmitted submission and releases its
// entries for editing.
func (w *Workflow) Reject(ctx context.Context, actor Actor, id, comments string) (_ *Submission, err error) {
	ctx, span := startSpan(ctx, "timesheet.Reject", actor)
	defer func() { endSpan(span, err) }()

	if err := requireReviewer(actor); err != nil {
		return nil, err
	}
	comments, err = validateComments(comments)
	if err != nil {
		return nil, err
	}

	var notice Notice
	err = w.store.WithTx(ctx, func(st Store) error {
		sub, from, err := w.transition(ctx, st, actor, id, StatusRejected, comments)
		if err != nil {
			return err
		}
		if _, err := st.UnlinkEntries(ctx, actor.TenantID, sub.ID); err != nil {
			return fmt.Errorf("failed to unlink entries: %w", err)
		}
		if err := appendActivity(ctx, st, *sub.ReviewedAt, actor, EntitySubmission, sub.ID, ActionRejected,
			fmt.Sprintf("Rejected week %s to %s", sub.WeekStart, sub.WeekEnd),
			map[string]any{"status": string(from)}, submissionSnapshot(*sub)); err != nil {
			return err
		}
		notice, err = w.notice(ctx, st, actor, *sub, comments)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := w.notifier.SubmissionRejected(ctx, notice); err != nil {
		log.Printf("[Workflow] Failed to send rejection notice for submission %s: %v", id, err)
	}
	return &notice.Submission, nil
}

// transition loads the submission, checks the move to status and writes
// the review fields. Returns the updated submission and its prior status.
func (w *Workflow) transition(ctx context.Context, st Store, actor Actor, id string, to SubmissionStatus, comments string) (*Submission, SubmissionStatus, error) {
	sub, err := st.GetSubmission(ctx, actor.TenantID, id)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load submission: %w", err)
	}
	if sub == nil {
		return nil, "", generic.NotFound("submission")
	}
	from := sub.Status
	if !CanTransition(from, to) {
		return nil, "", generic.Conflict("submission is already %s", from).
			With("status", string(from))
	}

	now := w.now().UTC()
	sub.Status = to
	sub.ReviewedBy = actor.UserID
	sub.ReviewedAt = &now
	sub.UpdatedAt = now
	if to == StatusRejected {
		sub.ReviewerComments = comments
	}
	if err := st.UpdateSubmission(ctx, *sub, from); err != nil {
		return nil, "", err
	}
	return sub, from, nil
}

func (w *Workflow) notice(ctx context.Context, st Store, actor Actor, sub Submission, comments string) (Notice, error) {
	n := Notice{Submission: sub, Comments: comments}
	user, err := st.GetUser(ctx, sub.TenantID, sub.UserID)
	if err != nil {
		return n, fmt.Errorf("failed to load submitter: %w", err)
	}
	if user != nil {
		n.User = *user
	} else {
		n.User = User{ID: sub.UserID, TenantID: sub.TenantID}
	}
	reviewer, err := st.GetUser(ctx, actor.TenantID, actor.UserID)
	if err != nil {
		return n, fmt.Errorf("failed to load reviewer: %w", err)
	}
	if reviewer != nil {
		n.Reviewer = *reviewer
	} else {
		n.Reviewer = User{ID: actor.UserID, TenantID: actor.TenantID}
	}
	return n, nil
}

// =============================================================================
// BULK OPERATIONS
// =============================================================================

// BulkFailure is one id a bulk operation could not process.
type BulkFailure struct {
	ID      string
	Kind    generic.Kind
	Message string
}

// BulkResult reports a bulk operation. Count is the number of submissions
// that changed status.
type BulkResult struct {
	Count    int
	Failures []BulkFailure
}

func (w *Workflow) BulkApprove(ctx context.Context, actor Actor, ids []string) (BulkResult, error) {
	if err := requireReviewer(actor); err != nil {
		return BulkResult{}, err
	}
	return w.bulk(ctx, ids, func(ctx context.Context, id string) error {
		_, err := w.Approve(ctx, actor, id)
		return err
	})
}

func (w *Workflow) BulkReject(ctx context.Context, actor Actor, ids []string, comments string) (BulkResult, error) {
	if err := requireReviewer(actor); err != nil {
		return BulkResult{}, err
	}
	comments, err := validateComments(comments)
	if err != nil {
		return BulkResult{}, err
	}
	return w.bulk(ctx, ids, func(ctx context.Context, id string) error {
		_, err := w.Reject(ctx, actor, id, comments)
		return err
	})
}

func (w *Workflow) bulk(ctx context.Context, ids []string, fn func(context.Context, string) error) (BulkResult, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return BulkResult{}, generic.BadRequest("at least one submission id is required")
	}

	var (
		mu     sync.Mutex
		result BulkResult
		g      errgroup.Group
	)
	g.SetLimit(w.cfg.BulkConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := fn(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, BulkFailure{
					ID:      id,
					Kind:    generic.KindOf(err),
					Message: err.Error(),
				})
				return nil
			}
			result.Count++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].ID < result.Failures[j].ID
	})
	if len(result.Failures) > 0 {
		log.Printf("[Workflow] Bulk operation: %d succeeded, %d failed", result.Count, len(result.Failures))
	}
	return result, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// =============================================================================
// QUERIES
// =============================================================================

// PendingApprovals lists the tenant's submissions awaiting review, newest
// first.
func (w *Workflow) PendingApprovals(ctx context.Context, actor Actor) ([]PendingSubmission, error) {
	if err := requireReviewer(actor); err != nil {
		return nil, err
	}
	var out []PendingSubmission
	err := w.store.WithTx(ctx, func(st Store) error {
		subs, err := st.ListSubmissions(ctx, actor.TenantID, StatusPending, StatusResubmitted)
		if err != nil {
			return err
		}
		users := make(map[string]*User)
		for _, sub := range subs {
			u, ok := users[sub.UserID]
			if !ok {
				if u, err = st.GetUser(ctx, actor.TenantID, sub.UserID); err != nil {
					return err
				}
				users[sub.UserID] = u
			}
			p := PendingSubmission{Submission: sub}
			if u != nil {
				p.UserName = u.FullName()
				p.UserEmail = u.Email
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// Status returns the actor's latest submission for the week starting on
// weekStart, or nil.
func (w *Workflow) Status(ctx context.Context, actor Actor, weekStart generic.Date) (*Submission, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	var sub *Submission
	err := w.store.WithTx(ctx, func(st Store) error {
		var err error
		sub, err = st.LatestSubmission(ctx, actor.TenantID, actor.UserID, weekStart)
		return err
	})
	return sub, err
}

// Get returns one submission. Staff only see their own.
func (w *Workflow) Get(ctx context.Context, actor Actor, id string) (*Submission, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	var sub *Submission
	err := w.store.WithTx(ctx, func(st Store) error {
		var err error
		if sub, err = st.GetSubmission(ctx, actor.TenantID, id); err != nil {
			return err
		}
		if sub == nil {
			return generic.NotFound("submission")
		}
		if sub.UserID != actor.UserID && !actor.IsManager() {
			return generic.Forbidden("submission belongs to another user")
		}
		return nil
	})
	return sub, err
}

// Activity returns the audit trail of an entity, oldest first. Staff only
// see rows they wrote.
func (w *Workflow) Activity(ctx context.Context, actor Actor, entityID string) ([]ActivityLog, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if entityID == "" {
		return nil, generic.BadRequest("entity_id is required")
	}
	var logs []ActivityLog
	err := w.store.WithTx(ctx, func(st Store) error {
		all, err := st.ListActivity(ctx, actor.TenantID, entityID)
		if err != nil {
			return err
		}
		for _, a := range all {
			if actor.IsManager() || a.UserID == actor.UserID {
				logs = append(logs, a)
			}
		}
		return nil
	})
	return logs, err
}

// =============================================================================
// HELPERS
// =============================================================================

func requireReviewer(actor Actor) error {
	if err := actor.validate(); err != nil {
		return err
	}
	if !actor.IsManager() {
		return generic.Forbidden("only managers can review timesheets")
	}
	return nil
}

func validateComments(comments string) (string, error) {
	comments = strings.TrimSpace(comments)
	n := utf8.RuneCountInString(comments)
	if n == 0 {
		return "", generic.BadRequest("comments are required")
	}
	if n > MaxCommentLength {
		return "", generic.BadRequest("comments must be at most %d characters", MaxCommentLength).
			With("length", n)
	}
	return comments, nil
}

func (w *Workflow) minimumFor(ctx context.Context, st Store, actor Actor) (generic.Hours, error) {
	user, err := st.GetUser(ctx, actor.TenantID, actor.UserID)
	if err != nil {
		return generic.Hours{}, fmt.Errorf("failed to load user settings: %w", err)
	}
	if user != nil && user.MinWeeklyHours != nil && user.MinWeeklyHours.IsPositive() {
		return *user.MinWeeklyHours, nil
	}
	return w.cfg.MinWeeklyHours, nil
}

func submissionSnapshot(s Submission) map[string]any {
	snap := map[string]any{
		"status":          string(s.Status),
		"week_start_date": s.WeekStart.String(),
		"week_end_date":   s.WeekEnd.String(),
		"total_hours":     s.TotalHours.String(),
	}
	if s.ReviewedBy != "" {
		snap["reviewed_by"] = s.ReviewedBy
	}
	if s.ReviewerComments != "" {
		snap["reviewer_comments"] = s.ReviewerComments
	}
	return snap
}
