package broker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"

	"github.com/rafaeljc/booker/internal/store"
)

// eventNamespace scopes the name-based ids of announcement events.
var eventNamespace = uuid.MustParse("6f1c2b9e-4d0a-5b7e-9a43-1e2f0c7d8b51")

// Event is the envelope pushed to the queue and published on the channel.
type Event struct {
	ID             string    `json:"id"`
	AnnouncementID int64     `json:"announcement_id"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	CourseName     string    `json:"course_name"`
	SenderName     string    `json:"sender_name"`
	TargetUserID   null.Int  `json:"target_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewEvent wraps an announcement. The event id is derived from the
// announcement id, so a republished announcement carries the same id and
// consumers can drop it.
func NewEvent(a store.Announcement) Event {
	return Event{
		ID:             EventID(a.ID).String(),
		AnnouncementID: a.ID,
		Title:          a.Title,
		Message:        a.Message,
		CourseName:     a.CourseName,
		SenderName:     a.SenderName,
		TargetUserID:   a.TargetUserID,
		CreatedAt:      a.CreatedAt.UTC(),
	}
}

// EventID returns the stable event id of an announcement.
func EventID(announcementID int64) uuid.UUID {
	return uuid.NewSHA1(eventNamespace, []byte(strconv.FormatInt(announcementID, 10)))
}

// Encode returns the wire form of the event.
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", e.ID, err)
	}
	return b, nil
}

// DecodeEvent parses a queue or channel payload.
func DecodeEvent(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return Event{}, fmt.Errorf("event id is not a uuid: %w", err)
	}
	return e, nil
}
