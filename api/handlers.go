/*
handlers.go - HTTP API handlers for the timesheet engine

PURPOSE:
  Exposes time entries, weekly submissions and TOIL balances via REST.
  Handlers parse the request, resolve the caller, delegate to the
  timesheet and toil services and serialize the result.

ENDPOINTS:
  Time entries:
    GET    /api/time-entries               List (user_id, start_date, end_date, client_id, billable)
    POST   /api/time-entries               Create
    GET    /api/time-entries/summary       Totals over start_date..end_date
    GET    /api/time-entries/{id}          Get
    PATCH  /api/time-entries/{id}          Update
    DELETE /api/time-entries/{id}          Delete

  Submissions:
    POST   /api/submissions                Submit a week
    GET    /api/submissions/status         Latest submission for week_start
    GET    /api/submissions/pending        Awaiting review (managers)
    GET    /api/submissions/{id}           Get
    POST   /api/submissions/{id}/approve   Approve
    POST   /api/submissions/{id}/reject    Reject with comments
    POST   /api/submissions/bulk-approve   Approve many
    POST   /api/submissions/bulk-reject    Reject many

  TOIL:
    GET    /api/toil/balance               Balance for year (default current)
    GET    /api/toil/history               Accrual history
    GET    /api/toil/expiring              Accruals expiring within days

  Admin:
    PUT    /api/admin/users/{id}           Upsert user settings
    POST   /api/admin/capacity             Add a capacity record
    POST   /api/admin/toil/expire          Run the expiry sweep for the tenant
    POST   /api/admin/tokens               Mint a bearer token

ERROR HANDLING:
  Service errors carry a generic.Kind which writeError maps to a status:
  - 400: BAD_REQUEST
  - 401: UNAUTHORIZED
  - 403: FORBIDDEN
  - 404: NOT_FOUND
  - 409: CONFLICT
  - 412: PRECONDITION_FAILED
  - 500: anything else (message hidden, error logged)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Caller identity
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/timesheet"
	"github.com/practicehub/timesheet-engine/toil"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is a transactional store that can also be wiped, so demo
// scenarios can start from nothing.
type Backend interface {
	timesheet.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Backend
	Entries  *timesheet.EntryService
	Workflow *timesheet.Workflow
	Toil     *toil.Service

	// JWTSecret signs tokens minted by /api/admin/tokens.
	JWTSecret string

	today func() generic.Date

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(store Backend, entries *timesheet.EntryService, workflow *timesheet.Workflow, toilSvc *toil.Service) *Handler {
	return &Handler{
		Store:    store,
		Entries:  entries,
		Workflow: workflow,
		Toil:     toilSvc,
		today:    generic.Today,
	}
}

// =============================================================================
// TIME ENTRY HANDLERS
// =============================================================================

// ListEntries returns the caller's entries, or another user's for managers.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := timesheet.EntryFilter{
		UserID:   q.Get("user_id"),
		ClientID: q.Get("client_id"),
	}
	var err error
	if f.From, err = optionalDate(q.Get("start_date"), "start_date"); err != nil {
		writeError(w, err)
		return
	}
	if f.To, err = optionalDate(q.Get("end_date"), "end_date"); err != nil {
		writeError(w, err)
		return
	}
	if raw := q.Get("billable"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, generic.BadRequest("billable must be true or false"))
			return
		}
		f.Billable = &b
	}
	if f.Limit, f.Offset, err = pagination(q.Get("limit"), q.Get("offset")); err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.Entries.List(r.Context(), ActorFromContext(r.Context()), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// CreateEntry records a new time entry for the caller.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	workType, err := timesheet.ParseWorkType(req.WorkType)
	if err != nil {
		writeError(w, err)
		return
	}
	start, err := optionalClock(req.StartTime, "start_time")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := optionalClock(req.EndTime, "end_time")
	if err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.Entries.Create(r.Context(), ActorFromContext(r.Context()), timesheet.EntryInput{
		Date:        req.Date,
		StartTime:   start,
		EndTime:     end,
		Hours:       req.Hours,
		Billable:    req.Billable,
		WorkType:    workType,
		Description: req.Description,
		Notes:       req.Notes,
		ClientID:    req.ClientID,
		TaskID:      req.TaskID,
		ServiceID:   req.ServiceID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// GetEntry returns a single entry.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Entries.Get(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(*entry))
}

// UpdateEntry applies a partial update.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req UpdateEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	patch := timesheet.EntryPatch{
		Date:        req.Date,
		Hours:       req.Hours,
		Billable:    req.Billable,
		Description: req.Description,
		Notes:       req.Notes,
		ClientID:    req.ClientID,
		TaskID:      req.TaskID,
		ServiceID:   req.ServiceID,
	}
	// An empty start_time or end_time clears both clock times.
	var err error
	if req.StartTime != nil {
		if patch.StartTime, err = optionalClock(*req.StartTime, "start_time"); err != nil {
			writeError(w, err)
			return
		}
		patch.ClearTimes = patch.StartTime == nil
	}
	if req.EndTime != nil {
		if patch.EndTime, err = optionalClock(*req.EndTime, "end_time"); err != nil {
			writeError(w, err)
			return
		}
		patch.ClearTimes = patch.ClearTimes || patch.EndTime == nil
	}
	if req.WorkType != nil {
		wt, err := timesheet.ParseWorkType(*req.WorkType)
		if err != nil {
			writeError(w, err)
			return
		}
		patch.WorkType = &wt
	}

	entry, err := h.Entries.Update(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(*entry))
}

// DeleteEntry removes an entry, refunding TOIL if it was TOIL.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.Entries.Delete(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSummary returns totals over a date range.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := requiredDate(q.Get("start_date"), "start_date")
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := requiredDate(q.Get("end_date"), "end_date")
	if err != nil {
		writeError(w, err)
		return
	}

	sum, err := h.Entries.Summary(r.Context(), ActorFromContext(r.Context()), from, to, q.Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryDTO{
		TotalHours:       sum.TotalHours,
		BillableHours:    sum.BillableHours,
		NonBillableHours: sum.NonBillableHours,
		EntryCount:       sum.EntryCount,
		DaysWorked:       sum.DaysWorked,
		UniqueClients:    sum.UniqueClients,
	})
}

// =============================================================================
// SUBMISSION HANDLERS
// =============================================================================

// SubmitWeek sends the caller's week for approval.
func (h *Handler) SubmitWeek(w http.ResponseWriter, r *http.Request) {
	var req SubmitWeekRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sub, err := h.Workflow.Submit(r.Context(), ActorFromContext(r.Context()), req.WeekStartDate, req.WeekEndDate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionDTO(*sub))
}

// GetSubmissionStatus returns the latest submission for a week, or null.
func (h *Handler) GetSubmissionStatus(w http.ResponseWriter, r *http.Request) {
	weekStart, err := requiredDate(r.URL.Query().Get("week_start"), "week_start")
	if err != nil {
		writeError(w, err)
		return
	}
	sub, err := h.Workflow.Status(r.Context(), ActorFromContext(r.Context()), weekStart)
	if err != nil {
		writeError(w, err)
		return
	}
	if sub == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionDTO(*sub))
}

// ListPendingSubmissions returns the tenant's submissions awaiting review.
func (h *Handler) ListPendingSubmissions(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Workflow.PendingApprovals(r.Context(), ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]PendingSubmissionDTO, len(pending))
	for i, p := range pending {
		dtos[i] = PendingSubmissionDTO{
			SubmissionDTO: toSubmissionDTO(p.Submission),
			UserName:      p.UserName,
			UserEmail:     p.UserEmail,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSubmission returns a single submission.
func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Workflow.Get(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionDTO(*sub))
}

func (h *Handler) ApproveSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Workflow.Approve(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionDTO(*sub))
}

func (h *Handler) RejectSubmission(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sub, err := h.Workflow.Reject(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"), req.Comments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionDTO(*sub))
}

func (h *Handler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.Workflow.BulkApprove(r.Context(), ActorFromContext(r.Context()), req.SubmissionIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBulkResultDTO(result))
}

func (h *Handler) BulkReject(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.Workflow.BulkReject(r.Context(), ActorFromContext(r.Context()), req.SubmissionIDs, req.Comments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBulkResultDTO(result))
}

func toBulkResultDTO(result timesheet.BulkResult) BulkResultDTO {
	dto := BulkResultDTO{Processed: result.Count, Failures: []BulkFailureDTO{}}
	for _, f := range result.Failures {
		dto.Failures = append(dto.Failures, BulkFailureDTO{ID: f.ID, Error: string(f.Kind), Message: f.Message})
	}
	return dto
}

// =============================================================================
// TOIL HANDLERS
// =============================================================================

// GetToilBalance returns the TOIL balance for a year (default current).
func (h *Handler) GetToilBalance(w http.ResponseWriter, r *http.Request) {
	actor, userID, err := targetUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	year := h.today().Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		if year, err = strconv.Atoi(raw); err != nil || year < 1900 || year > 9999 {
			writeError(w, generic.BadRequest("invalid year %q", raw))
			return
		}
	}

	bal, err := h.Toil.Balance(r.Context(), actor.TenantID, userID, year)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToilBalanceDTO{UserID: bal.UserID, Year: bal.Year, Hours: bal.Hours, Days: bal.Days})
}

// GetToilHistory lists accrual records, newest first.
func (h *Handler) GetToilHistory(w http.ResponseWriter, r *http.Request) {
	actor, userID, err := targetUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, offset, err := pagination(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := h.Toil.History(r.Context(), actor.TenantID, userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccrualDTOs(records))
}

// GetExpiringToil lists accruals expiring within days (default 30).
func (h *Handler) GetExpiringToil(w http.ResponseWriter, r *http.Request) {
	actor, userID, err := targetUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		if days, err = strconv.Atoi(raw); err != nil {
			writeError(w, generic.BadRequest("days must be a number"))
			return
		}
	}

	out, err := h.Toil.Expiring(r.Context(), actor.TenantID, userID, h.today(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpiringDTO{
		Accruals:   toAccrualDTOs(out.Records),
		TotalHours: out.TotalHours,
		TotalDays:  out.TotalDays,
	})
}

// targetUser returns the user a TOIL query is about. Only managers may ask
// about someone else.
func targetUser(r *http.Request) (timesheet.Actor, string, error) {
	actor := ActorFromContext(r.Context())
	if actor.TenantID == "" || actor.UserID == "" {
		return actor, "", generic.Unauthorized("authentication required")
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" || userID == actor.UserID {
		return actor, actor.UserID, nil
	}
	if !actor.IsManager() {
		return actor, "", generic.Forbidden("cannot view another user's TOIL")
	}
	return actor, userID, nil
}

// =============================================================================
// ACTIVITY HANDLERS
// =============================================================================

// ListActivity returns the audit trail of one entity.
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Workflow.Activity(r.Context(), ActorFromContext(r.Context()), r.URL.Query().Get("entity_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityDTOs(logs))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func requireAdmin(r *http.Request) (timesheet.Actor, error) {
	actor := ActorFromContext(r.Context())
	if actor.TenantID == "" || actor.UserID == "" {
		return actor, generic.Unauthorized("authentication required")
	}
	if !actor.IsAdmin() {
		return actor, generic.Forbidden("admin role required")
	}
	return actor, nil
}

// PutUser creates or replaces a user's directory data.
func (h *Handler) PutUser(w http.ResponseWriter, r *http.Request) {
	actor, err := requireAdmin(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req UserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.MinWeeklyHours != nil && req.MinWeeklyHours.IsNegative() {
		writeError(w, generic.BadRequest("min_weekly_hours must not be negative"))
		return
	}

	now := time.Now().UTC()
	user := timesheet.User{
		ID:             chi.URLParam(r, "id"),
		TenantID:       actor.TenantID,
		Email:          strings.TrimSpace(req.Email),
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Role:           req.Role,
		MinWeeklyHours: req.MinWeeklyHours,
		Locale:         req.Locale,
		UpdatedAt:      now,
	}
	if user.Role == "" {
		user.Role = timesheet.RoleStaff
	}
	err = h.Store.WithTx(r.Context(), func(st timesheet.Store) error {
		existing, err := st.GetUser(r.Context(), actor.TenantID, user.ID)
		if err != nil {
			return err
		}
		user.CreatedAt = now
		if existing != nil {
			user.CreatedAt = existing.CreatedAt
		}
		return st.SaveUser(r.Context(), user)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// CreateCapacity adds a contracted-hours record for a user.
func (h *Handler) CreateCapacity(w http.ResponseWriter, r *http.Request) {
	actor, err := requireAdmin(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req CapacityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		writeError(w, generic.BadRequest("user_id is required"))
		return
	}
	if req.EffectiveFrom.IsZero() {
		writeError(w, generic.BadRequest("effective_from is required"))
		return
	}
	if !req.WeeklyHours.IsPositive() || req.WeeklyHours.GreaterThan(generic.NewHoursFromInt(168)) {
		writeError(w, generic.BadRequest("weekly_hours must be between 0 and 168"))
		return
	}

	c := toil.Capacity{
		ID:            uuid.NewString(),
		TenantID:      actor.TenantID,
		UserID:        req.UserID,
		EffectiveFrom: req.EffectiveFrom,
		WeeklyHours:   req.WeeklyHours,
		Notes:         req.Notes,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.Store.WithTx(r.Context(), func(st timesheet.Store) error {
		return st.InsertCapacity(r.Context(), c)
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CapacityDTO{
		ID:            c.ID,
		UserID:        c.UserID,
		EffectiveFrom: c.EffectiveFrom,
		WeeklyHours:   c.WeeklyHours,
		Notes:         c.Notes,
	})
}

// ExpireToil runs the expiry sweep for the caller's tenant.
func (h *Handler) ExpireToil(w http.ResponseWriter, r *http.Request) {
	actor, err := requireAdmin(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ExpireRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	asOf := h.today()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}

	result, err := h.Toil.Sweep(r.Context(), actor.TenantID, asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepResultDTO(result))
}

func toSweepResultDTO(result toil.SweepResult) SweepResultDTO {
	dto := SweepResultDTO{
		MarkedExpired: result.MarkedExpired,
		UsersAffected: result.UsersAffected,
		Expired:       []ExpiredAccrualDTO{},
	}
	for _, e := range result.Expired {
		dto.Expired = append(dto.Expired, ExpiredAccrualDTO{
			ID:           e.ID,
			UserID:       e.UserID,
			HoursExpired: e.HoursExpired,
			ExpiryDate:   e.ExpiryDate,
		})
	}
	return dto
}

// CreateToken mints a bearer token for a user of the caller's tenant.
func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	actor, err := requireAdmin(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.JWTSecret == "" {
		writeError(w, generic.BadRequest("token signing is not configured"))
		return
	}
	var req TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		writeError(w, generic.BadRequest("user_id is required"))
		return
	}
	if req.Role == "" {
		req.Role = timesheet.RoleStaff
	}

	ttl := 24 * time.Hour
	token, err := GenerateToken(h.JWTSecret, timesheet.Actor{TenantID: actor.TenantID, UserID: req.UserID, Role: req.Role}, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TokenDTO{Token: token, ExpiresAt: formatTimestamp(time.Now().Add(ttl))})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func statusFor(kind generic.Kind) int {
	switch kind {
	case generic.KindBadRequest:
		return http.StatusBadRequest
	case generic.KindUnauthorized:
		return http.StatusUnauthorized
	case generic.KindForbidden:
		return http.StatusForbidden
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindConflict:
		return http.StatusConflict
	case generic.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := generic.KindOf(err)
	resp := ErrorResponse{Error: string(kind), Message: err.Error()}

	var kinded *generic.Error
	var shortage *generic.InsufficientBalanceError
	switch {
	case errors.As(err, &kinded):
		resp.Message = kinded.Message
		resp.Details = kinded.Details
	case errors.As(err, &shortage):
		resp.Details = map[string]any{
			"available": shortage.Available,
			"requested": shortage.Requested,
			"shortfall": shortage.Shortfall(),
		}
	}
	if !generic.IsClientError(err) {
		log.Printf("[API] Internal error: %v", err)
		resp.Message = "internal error"
		resp.Details = nil
	}
	if generic.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusFor(kind), resp)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &generic.Error{Kind: generic.KindBadRequest, Message: "invalid request body", Err: err}
	}
	return nil
}

func requiredDate(raw, field string) (generic.Date, error) {
	if raw == "" {
		return generic.Date{}, generic.BadRequest("%s is required", field)
	}
	d, err := generic.ParseDate(raw)
	if err != nil {
		return generic.Date{}, generic.BadRequest("invalid %s %q (use YYYY-MM-DD)", field, raw)
	}
	return d, nil
}

func optionalDate(raw, field string) (*generic.Date, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := requiredDate(raw, field)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalClock(raw, field string) (*generic.ClockTime, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	c, err := generic.ParseClock(raw)
	if err != nil {
		return nil, generic.BadRequest("invalid %s: %v", field, err)
	}
	return &c, nil
}

func pagination(rawLimit, rawOffset string) (int, int, error) {
	var limit, offset int
	var err error
	if rawLimit != "" {
		if limit, err = strconv.Atoi(rawLimit); err != nil || limit < 0 {
			return 0, 0, generic.BadRequest("invalid limit %q", rawLimit)
		}
	}
	if rawOffset != "" {
		if offset, err = strconv.Atoi(rawOffset); err != nil || offset < 0 {
			return 0, 0, generic.BadRequest("invalid offset %q", rawOffset)
		}
	}
	return limit, offset, nil
}
