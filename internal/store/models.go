package store

import (
	"time"

	"github.com/guregu/null/v5"

	"github.com/rafaeljc/booker/internal/conflict"
	"github.com/rafaeljc/booker/internal/ruleengine"
)

// ResourceType mirrors the 'resource_types' table.
type ResourceType struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Resource mirrors the 'resources' table joined with its type name.
type Resource struct {
	ID        int64
	TypeID    int64
	TypeName  string
	Name      string
	Active    bool
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Facts returns the resource as seen by rules.
func (r Resource) Facts() ruleengine.Resource {
	return ruleengine.Resource{
		ID:       r.ID,
		Name:     r.Name,
		TypeID:   r.TypeID,
		TypeName: r.TypeName,
		Active:   r.Active,
		Metadata: r.Metadata,
	}
}

// Rule mirrors the 'rules' table.
type Rule struct {
	ruleengine.Rule
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Booking locations.
const (
	LocationClassroom = "classroom"
	LocationZoom      = "zoom"
)

// BookingResource is one resource link of a booking with its optional role.
type BookingResource struct {
	ResourceID int64
	Role       null.String
}

// Booking mirrors the 'bookings' table with its resource links.
// Date is YYYY-MM-DD and times are HH:MM:SS.
type Booking struct {
	ID         int64
	Title      string
	UserID     int64
	Date       string
	StartTime  string
	EndTime    string
	Location   null.String
	Attributes map[string]any
	Resources  []BookingResource
	Cancelled  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Slot returns the booking's date and time range.
func (b Booking) Slot() conflict.Slot {
	return conflict.Slot{Date: b.Date, Start: b.StartTime, End: b.EndTime}
}

// ResourceIDs returns the linked resource ids in position order.
func (b Booking) ResourceIDs() []int64 {
	ids := make([]int64, len(b.Resources))
	for i, r := range b.Resources {
		ids[i] = r.ResourceID
	}
	return ids
}

// Cancellation mirrors the 'booking_cancellations' table.
type Cancellation struct {
	ID          int64
	BookingID   int64
	Reason      string
	CancelledBy string
	CreatedAt   time.Time
}

// Reschedule mirrors the 'booking_reschedules' table.
type Reschedule struct {
	ID            int64
	BookingID     int64
	From          conflict.Slot
	To            conflict.Slot
	Reason        string
	RescheduledBy string
	CreatedAt     time.Time
}

// Request statuses.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// ResourceRequest mirrors the 'resource_requests' table.
type ResourceRequest struct {
	ID          int64
	ResourceID  int64
	RequesterID int64
	Title       string
	Date        string
	StartTime   string
	EndTime     string
	Note        string
	Attributes  map[string]any
	Status      string
	BookingID   null.Int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Announcement mirrors the 'announcements' outbox table.
type Announcement struct {
	ID           int64
	BookingID    null.Int
	Title        string
	Message      string
	CourseName   string
	SenderName   string
	TargetUserID null.Int
	CreatedAt    time.Time
	DispatchedAt null.Time
}

// ConflictingBooking is one live booking row colliding with a proposed slot on
// one resource.
type ConflictingBooking struct {
	BookingID  int64
	Title      string
	UserID     int64
	Date       string
	StartTime  string
	EndTime    string
	ResourceID int64
}
