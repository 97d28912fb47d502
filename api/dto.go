/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

Hours are JSON numbers (strings are accepted on input), dates are
YYYY-MM-DD, clock times are HH:MM and timestamps are RFC 3339.

Validation is done in the services, not in DTOs. Request types only
parse.
*/
package api

import (
	"time"

	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/timesheet"
	"github.com/practicehub/timesheet-engine/toil"
)

// =============================================================================
// TIME ENTRIES
// =============================================================================

type TimeEntryDTO struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Date         generic.Date  `json:"date"`
	StartTime    string        `json:"start_time,omitempty"`
	EndTime      string        `json:"end_time,omitempty"`
	Hours        generic.Hours `json:"hours"`
	Billable     bool          `json:"billable"`
	WorkType     string        `json:"work_type"`
	Status       string        `json:"status"`
	SubmissionID string        `json:"submission_id,omitempty"`
	Description  string        `json:"description,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	ClientID     string        `json:"client_id,omitempty"`
	TaskID       string        `json:"task_id,omitempty"`
	ServiceID    string        `json:"service_id,omitempty"`
	CreatedAt    string        `json:"created_at"`
	UpdatedAt    string        `json:"updated_at"`
}

type CreateEntryRequest struct {
	Date        generic.Date  `json:"date"`
	StartTime   string        `json:"start_time"`
	EndTime     string        `json:"end_time"`
	Hours       generic.Hours `json:"hours"`
	Billable    *bool         `json:"billable"`
	WorkType    string        `json:"work_type"`
	Description string        `json:"description"`
	Notes       string        `json:"notes"`
	ClientID    string        `json:"client_id"`
	TaskID      string        `json:"task_id"`
	ServiceID   string        `json:"service_id"`
}

// UpdateEntryRequest changes only the fields present in the body.
type UpdateEntryRequest struct {
	Date        *generic.Date  `json:"date"`
	StartTime   *string        `json:"start_time"`
	EndTime     *string        `json:"end_time"`
	Hours       *generic.Hours `json:"hours"`
	Billable    *bool          `json:"billable"`
	WorkType    *string        `json:"work_type"`
	Description *string        `json:"description"`
	Notes       *string        `json:"notes"`
	ClientID    *string        `json:"client_id"`
	TaskID      *string        `json:"task_id"`
	ServiceID   *string        `json:"service_id"`
}

type SummaryDTO struct {
	TotalHours       generic.Hours `json:"total_hours"`
	BillableHours    generic.Hours `json:"billable_hours"`
	NonBillableHours generic.Hours `json:"non_billable_hours"`
	EntryCount       int           `json:"entry_count"`
	DaysWorked       int           `json:"days_worked"`
	UniqueClients    int           `json:"unique_clients"`
}

// =============================================================================
// SUBMISSIONS
// =============================================================================

type SubmissionDTO struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	WeekStartDate    generic.Date  `json:"week_start_date"`
	WeekEndDate      generic.Date  `json:"week_end_date"`
	TotalHours       generic.Hours `json:"total_hours"`
	Status           string        `json:"status"`
	SubmittedAt      string        `json:"submitted_at"`
	ReviewedBy       string        `json:"reviewed_by,omitempty"`
	ReviewedAt       string        `json:"reviewed_at,omitempty"`
	ReviewerComments string        `json:"reviewer_comments,omitempty"`
}

type PendingSubmissionDTO struct {
	SubmissionDTO
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

type SubmitWeekRequest struct {
	WeekStartDate generic.Date `json:"week_start_date"`
	WeekEndDate   generic.Date `json:"week_end_date"`
}

type RejectRequest struct {
	Comments string `json:"comments"`
}

type BulkRequest struct {
	SubmissionIDs []string `json:"submission_ids"`
	Comments      string   `json:"comments,omitempty"`
}

type BulkFailureDTO struct {
	ID      string `json:"id"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type BulkResultDTO struct {
	Processed int              `json:"processed"`
	Failures  []BulkFailureDTO `json:"failures"`
}

// =============================================================================
// TOIL
// =============================================================================

type ToilBalanceDTO struct {
	UserID string        `json:"user_id"`
	Year   int           `json:"year"`
	Hours  generic.Hours `json:"balance_hours"`
	Days   generic.Hours `json:"balance_days"`
}

type AccrualDTO struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	SubmissionID    string        `json:"submission_id"`
	WeekEnding      generic.Date  `json:"week_ending"`
	HoursAccrued    generic.Hours `json:"hours_accrued"`
	LoggedHours     generic.Hours `json:"logged_hours"`
	ContractedHours generic.Hours `json:"contracted_hours"`
	AccrualDate     string        `json:"accrual_date"`
	ExpiryDate      generic.Date  `json:"expiry_date"`
	Expired         bool          `json:"expired"`
}

type ExpiringDTO struct {
	Accruals   []AccrualDTO  `json:"accruals"`
	TotalHours generic.Hours `json:"total_hours"`
	TotalDays  generic.Hours `json:"total_days"`
}

type ExpiredAccrualDTO struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	HoursExpired generic.Hours `json:"hours_expired"`
	ExpiryDate   generic.Date  `json:"expiry_date"`
}

type SweepResultDTO struct {
	MarkedExpired int                 `json:"marked_expired"`
	UsersAffected int                 `json:"users_affected"`
	Expired       []ExpiredAccrualDTO `json:"expired"`
}

// =============================================================================
// ADMIN
// =============================================================================

type UserRequest struct {
	Email          string         `json:"email"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	Role           string         `json:"role"`
	MinWeeklyHours *generic.Hours `json:"min_weekly_hours"`
	Locale         string         `json:"locale"`
}

type UserDTO struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	Role           string         `json:"role"`
	MinWeeklyHours *generic.Hours `json:"min_weekly_hours,omitempty"`
	Locale         string         `json:"locale,omitempty"`
}

type CapacityRequest struct {
	UserID        string        `json:"user_id"`
	EffectiveFrom generic.Date  `json:"effective_from"`
	WeeklyHours   generic.Hours `json:"weekly_hours"`
	Notes         string        `json:"notes"`
}

type CapacityDTO struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	EffectiveFrom generic.Date  `json:"effective_from"`
	WeeklyHours   generic.Hours `json:"weekly_hours"`
	Notes         string        `json:"notes,omitempty"`
}

type ExpireRequest struct {
	// AsOf defaults to today.
	AsOf *generic.Date `json:"as_of"`
}

type TokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type TokenDTO struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// =============================================================================
// ACTIVITY
// =============================================================================

type ActivityDTO struct {
	ID          string         `json:"id"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	UserID      string         `json:"user_id"`
	OldValues   map[string]any `json:"old_values,omitempty"`
	NewValues   map[string]any `json:"new_values,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// =============================================================================
// MISC
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toEntryDTO(e timesheet.TimeEntry) TimeEntryDTO {
	dto := TimeEntryDTO{
		ID:           e.ID,
		UserID:       e.UserID,
		Date:         e.Date,
		Hours:        e.Hours,
		Billable:     e.Billable,
		WorkType:     string(e.WorkType),
		Status:       string(e.Status),
		SubmissionID: e.SubmissionID,
		Description:  e.Description,
		Notes:        e.Notes,
		ClientID:     e.ClientID,
		TaskID:       e.TaskID,
		ServiceID:    e.ServiceID,
		CreatedAt:    formatTimestamp(e.CreatedAt),
		UpdatedAt:    formatTimestamp(e.UpdatedAt),
	}
	if e.StartTime != nil {
		dto.StartTime = e.StartTime.String()
	}
	if e.EndTime != nil {
		dto.EndTime = e.EndTime.String()
	}
	return dto
}

func toEntryDTOs(entries []timesheet.TimeEntry) []TimeEntryDTO {
	dtos := make([]TimeEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toSubmissionDTO(s timesheet.Submission) SubmissionDTO {
	dto := SubmissionDTO{
		ID:               s.ID,
		UserID:           s.UserID,
		WeekStartDate:    s.WeekStart,
		WeekEndDate:      s.WeekEnd,
		TotalHours:       s.TotalHours,
		Status:           string(s.Status),
		SubmittedAt:      formatTimestamp(s.SubmittedAt),
		ReviewedBy:       s.ReviewedBy,
		ReviewerComments: s.ReviewerComments,
	}
	if s.ReviewedAt != nil {
		dto.ReviewedAt = formatTimestamp(*s.ReviewedAt)
	}
	return dto
}

func toAccrualDTOs(records []toil.AccrualRecord) []AccrualDTO {
	dtos := make([]AccrualDTO, len(records))
	for i, r := range records {
		dtos[i] = AccrualDTO{
			ID:              r.ID,
			UserID:          r.UserID,
			SubmissionID:    r.SubmissionID,
			WeekEnding:      r.WeekEnding,
			HoursAccrued:    r.HoursAccrued,
			LoggedHours:     r.LoggedHours,
			ContractedHours: r.ContractedHours,
			AccrualDate:     formatTimestamp(r.AccrualDate),
			ExpiryDate:      r.ExpiryDate,
			Expired:         r.Expired,
		}
	}
	return dtos
}

func toUserDTO(u timesheet.User) UserDTO {
	return UserDTO{
		ID:             u.ID,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Role:           u.Role,
		MinWeeklyHours: u.MinWeeklyHours,
		Locale:         u.Locale,
	}
}

func toActivityDTOs(logs []timesheet.ActivityLog) []ActivityDTO {
	dtos := make([]ActivityDTO, len(logs))
	for i, a := range logs {
		dtos[i] = ActivityDTO{
			ID:          a.ID,
			EntityType:  a.EntityType,
			EntityID:    a.EntityID,
			Action:      a.Action,
			Description: a.Description,
			UserID:      a.UserID,
			OldValues:   a.OldValues,
			NewValues:   a.NewValues,
			CreatedAt:   formatTimestamp(a.CreatedAt),
		}
	}
	return dtos
}
