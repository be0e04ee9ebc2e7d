package controlapi

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/guregu/null/v5"

	"github.com/rafaeljc/booker/internal/ruleengine"
	"github.com/rafaeljc/booker/internal/store"
)

// validate checks the shape of request payloads. Domain checks (slot order,
// rule documents, duplicate resources) belong to the admission service and
// the rule compiler.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so details match the payload the client sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// -----------------------------------------------------------------------------
// Resource types and resources
// -----------------------------------------------------------------------------

type ResourceType struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateResourceTypeRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1000"`
}

func (r *CreateResourceTypeRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
}

type Resource struct {
	ID             int64          `json:"id"`
	ResourceTypeID int64          `json:"resource_type_id"`
	ResourceType   string         `json:"resource_type"`
	Name           string         `json:"name"`
	Active         bool           `json:"active"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CreateResourceRequest defines the payload of POST /resources.
// Active defaults to true when omitted.
type CreateResourceRequest struct {
	ResourceTypeID int64          `json:"resource_type_id" validate:"required,gt=0"`
	Name           string         `json:"name" validate:"required,max=255"`
	Active         *bool          `json:"active"`
	Metadata       map[string]any `json:"metadata"`
}

func (r *CreateResourceRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
}

// -----------------------------------------------------------------------------
// Rules
// -----------------------------------------------------------------------------

type Rule struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	TargetType  string          `json:"target_type"`
	IsHard      bool            `json:"is_hard"`
	IsActive    bool            `json:"is_active"`
	Weight      null.Float      `json:"weight"`
	SortOrder   int             `json:"sort_order"`
	Condition   json.RawMessage `json:"condition"`
	Action      json.RawMessage `json:"action"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CreateRuleRequest defines the payload of POST /rules. IsActive defaults to
// true when omitted; a missing condition always matches.
type CreateRuleRequest struct {
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description"`
	TargetType  string          `json:"target_type" validate:"required,oneof=booking resource pair"`
	IsHard      bool            `json:"is_hard"`
	IsActive    *bool           `json:"is_active"`
	Weight      null.Float      `json:"weight"`
	SortOrder   int             `json:"sort_order"`
	Condition   json.RawMessage `json:"condition"`
	Action      json.RawMessage `json:"action"`
}

func (r *CreateRuleRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.TargetType = strings.ToLower(strings.TrimSpace(r.TargetType))
}

// UpdateRuleRequest defines the payload of PATCH /rules/{id}. Nil fields are
// left unchanged. Weight and Condition are raw so that an explicit null clears
// them while an absent key does not.
type UpdateRuleRequest struct {
	Name        *string         `json:"name" validate:"omitnil,min=1,max=255"`
	Description *string         `json:"description"`
	TargetType  *string         `json:"target_type" validate:"omitnil,oneof=booking resource pair"`
	IsHard      *bool           `json:"is_hard"`
	IsActive    *bool           `json:"is_active"`
	Weight      json.RawMessage `json:"weight"`
	SortOrder   *int            `json:"sort_order"`
	Condition   json.RawMessage `json:"condition"`
	Action      json.RawMessage `json:"action"`
}

// -----------------------------------------------------------------------------
// Bookings
// -----------------------------------------------------------------------------

type Assignment struct {
	ResourceID int64       `json:"resource_id" validate:"required,gt=0"`
	Role       null.String `json:"role"`
}

type Booking struct {
	ID         int64          `json:"id"`
	Title      string         `json:"title"`
	UserID     int64          `json:"user_id"`
	Date       string         `json:"date"`
	StartTime  string         `json:"start_time"`
	EndTime    string         `json:"end_time"`
	Location   null.String    `json:"location"`
	Attributes map[string]any `json:"attributes"`
	Resources  []Assignment   `json:"resources"`
	Cancelled  bool           `json:"cancelled"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// BookingRequest is the payload of POST /bookings and PUT /bookings/{id}.
type BookingRequest struct {
	Title      string         `json:"title" validate:"max=255"`
	UserID     int64          `json:"user_id" validate:"required,gt=0"`
	Date       string         `json:"date" validate:"required"`
	StartTime  string         `json:"start_time" validate:"required"`
	EndTime    string         `json:"end_time" validate:"required"`
	Location   null.String    `json:"location"`
	Attributes map[string]any `json:"attributes"`
	Resources  []Assignment   `json:"resources" validate:"required,min=1,dive"`
}

func (r *BookingRequest) Sanitize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Date = strings.TrimSpace(r.Date)
	r.StartTime = strings.TrimSpace(r.StartTime)
	r.EndTime = strings.TrimSpace(r.EndTime)
	if r.Location.Valid {
		r.Location.String = strings.ToLower(strings.TrimSpace(r.Location.String))
	}
}

// PreviewRequest is a booking proposal evaluated without writes.
// ExcludeBookingID previews an update of an existing booking.
type PreviewRequest struct {
	BookingRequest
	ExcludeBookingID int64 `json:"exclude_booking_id" validate:"gte=0"`
}

type CancelRequest struct {
	Reason      string `json:"reason" validate:"max=1000"`
	CancelledBy string `json:"cancelled_by" validate:"max=255"`
}

type RescheduleRequest struct {
	Date          string      `json:"date" validate:"required"`
	StartTime     string      `json:"start_time" validate:"required"`
	EndTime       string      `json:"end_time" validate:"required"`
	Location      null.String `json:"location"`
	Reason        string      `json:"reason" validate:"max=1000"`
	RescheduledBy string      `json:"rescheduled_by" validate:"max=255"`
}

func (r *RescheduleRequest) Sanitize() {
	r.Date = strings.TrimSpace(r.Date)
	r.StartTime = strings.TrimSpace(r.StartTime)
	r.EndTime = strings.TrimSpace(r.EndTime)
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Location.Valid {
		r.Location.String = strings.ToLower(strings.TrimSpace(r.Location.String))
	}
}

// AdmissionResponse is returned by every accepted booking write.
type AdmissionResponse struct {
	Booking     Booking                `json:"booking"`
	Score       float64                `json:"score"`
	SoftMatches []ruleengine.SoftMatch `json:"soft_matches"`
	Alerts      []ruleengine.Alert     `json:"alerts"`
}

type PreviewResponse struct {
	Conflicts      []Conflict             `json:"conflicts"`
	Score          float64                `json:"score"`
	SoftMatches    []ruleengine.SoftMatch `json:"soft_matches"`
	HardViolations []ruleengine.Match     `json:"hard_violations"`
	Alerts         []ruleengine.Alert     `json:"alerts"`
	Blocked        bool                   `json:"blocked"`
}

// Conflict is one existing booking colliding with a proposal on one resource.
type Conflict struct {
	BookingID  int64  `json:"booking_id"`
	Title      string `json:"title"`
	UserID     int64  `json:"user_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	ResourceID int64  `json:"resource_id"`
}

type Cancellation struct {
	ID          int64     `json:"id"`
	BookingID   int64     `json:"booking_id"`
	Reason      string    `json:"reason"`
	CancelledBy string    `json:"cancelled_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type Slot struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type Reschedule struct {
	ID            int64     `json:"id"`
	BookingID     int64     `json:"booking_id"`
	From          Slot      `json:"from"`
	To            Slot      `json:"to"`
	Reason        string    `json:"reason"`
	RescheduledBy string    `json:"rescheduled_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// -----------------------------------------------------------------------------
// Resource requests
// -----------------------------------------------------------------------------

type ResourceRequest struct {
	ID          int64          `json:"id"`
	ResourceID  int64          `json:"resource_id"`
	RequesterID int64          `json:"requester_id"`
	Title       string         `json:"title"`
	Date        string         `json:"date"`
	StartTime   string         `json:"start_time"`
	EndTime     string         `json:"end_time"`
	Note        string         `json:"note"`
	Attributes  map[string]any `json:"attributes"`
	Status      string         `json:"status"`
	BookingID   null.Int       `json:"booking_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type CreateRequestRequest struct {
	ResourceID  int64          `json:"resource_id" validate:"required,gt=0"`
	RequesterID int64          `json:"requester_id" validate:"required,gt=0"`
	Title       string         `json:"title" validate:"max=255"`
	Date        string         `json:"date" validate:"required"`
	StartTime   string         `json:"start_time" validate:"required"`
	EndTime     string         `json:"end_time" validate:"required"`
	Note        string         `json:"note" validate:"max=1000"`
	Attributes  map[string]any `json:"attributes"`
}

func (r *CreateRequestRequest) Sanitize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Date = strings.TrimSpace(r.Date)
	r.StartTime = strings.TrimSpace(r.StartTime)
	r.EndTime = strings.TrimSpace(r.EndTime)
	r.Note = strings.TrimSpace(r.Note)
}

// ApprovalResponse is returned by POST /requests/{id}/approve.
type ApprovalResponse struct {
	Request         ResourceRequest        `json:"request"`
	Booking         Booking                `json:"booking"`
	AlreadyApproved bool                   `json:"already_approved"`
	Score           float64                `json:"score"`
	SoftMatches     []ruleengine.SoftMatch `json:"soft_matches"`
	Alerts          []ruleengine.Alert     `json:"alerts"`
}

// -----------------------------------------------------------------------------
// Envelopes
// -----------------------------------------------------------------------------

// PaginatedResponse wraps list endpoints using offset pagination.
type PaginatedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse is the body of every non-2xx response. Conflicts is set only
// for overlapping bookings.
type ErrorResponse struct {
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Details   []ErrorDetail `json:"details,omitempty"`
	Conflicts []Conflict    `json:"conflicts,omitempty"`
}

// RuleViolationResponse is the 422 body. Both lists are always present,
// empty when nothing matched.
type RuleViolationResponse struct {
	ErrorResponse
	Violations []ruleengine.Match `json:"violations"`
	Alerts     []ruleengine.Alert `json:"alerts"`
}

// ErrorDetail describes one invalid field.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// -----------------------------------------------------------------------------
// Mapping
// -----------------------------------------------------------------------------

func toResourceType(t store.ResourceType) ResourceType {
	return ResourceType{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func toResource(r store.Resource) Resource {
	return Resource{
		ID:             r.ID,
		ResourceTypeID: r.TypeID,
		ResourceType:   r.TypeName,
		Name:           r.Name,
		Active:         r.Active,
		Metadata:       nonNilMap(r.Metadata),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toRule(r store.Rule) Rule {
	action := r.ActionJSON
	if len(action) == 0 {
		action = json.RawMessage(`{}`)
	}
	condition := r.ConditionJSON
	if len(condition) == 0 {
		condition = json.RawMessage(`null`)
	}
	return Rule{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		TargetType:  string(r.TargetType),
		IsHard:      r.IsHard,
		IsActive:    r.IsActive,
		Weight:      r.Weight,
		SortOrder:   r.SortOrder,
		Condition:   condition,
		Action:      action,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toBooking(b store.Booking) Booking {
	resources := make([]Assignment, len(b.Resources))
	for i, link := range b.Resources {
		resources[i] = Assignment{ResourceID: link.ResourceID, Role: link.Role}
	}
	return Booking{
		ID:         b.ID,
		Title:      b.Title,
		UserID:     b.UserID,
		Date:       b.Date,
		StartTime:  b.StartTime,
		EndTime:    b.EndTime,
		Location:   b.Location,
		Attributes: nonNilMap(b.Attributes),
		Resources:  resources,
		Cancelled:  b.Cancelled,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func toConflicts(cs []store.ConflictingBooking) []Conflict {
	out := make([]Conflict, len(cs))
	for i, c := range cs {
		out[i] = Conflict{
			BookingID:  c.BookingID,
			Title:      c.Title,
			UserID:     c.UserID,
			Date:       c.Date,
			StartTime:  c.StartTime,
			EndTime:    c.EndTime,
			ResourceID: c.ResourceID,
		}
	}
	return out
}

func toCancellation(c store.Cancellation) Cancellation {
	return Cancellation{
		ID:          c.ID,
		BookingID:   c.BookingID,
		Reason:      c.Reason,
		CancelledBy: c.CancelledBy,
		CreatedAt:   c.CreatedAt,
	}
}

func toReschedule(r store.Reschedule) Reschedule {
	return Reschedule{
		ID:            r.ID,
		BookingID:     r.BookingID,
		From:          Slot{Date: r.From.Date, StartTime: r.From.Start, EndTime: r.From.End},
		To:            Slot{Date: r.To.Date, StartTime: r.To.Start, EndTime: r.To.End},
		Reason:        r.Reason,
		RescheduledBy: r.RescheduledBy,
		CreatedAt:     r.CreatedAt,
	}
}

func toResourceRequest(r store.ResourceRequest) ResourceRequest {
	return ResourceRequest{
		ID:          r.ID,
		ResourceID:  r.ResourceID,
		RequesterID: r.RequesterID,
		Title:       r.Title,
		Date:        r.Date,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Note:        r.Note,
		Attributes:  nonNilMap(r.Attributes),
		Status:      r.Status,
		BookingID:   r.BookingID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// evaluationLists returns the result lists with nil replaced by empty slices,
// so they encode as [] instead of null.
func evaluationLists(res ruleengine.Result) ([]ruleengine.SoftMatch, []ruleengine.Alert, []ruleengine.Match) {
	soft := res.SoftMatches
	if soft == nil {
		soft = []ruleengine.SoftMatch{}
	}
	alerts := res.Alerts
	if alerts == nil {
		alerts = []ruleengine.Alert{}
	}
	hard := res.HardViolations
	if hard == nil {
		hard = []ruleengine.Match{}
	}
	return soft, alerts, hard
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
