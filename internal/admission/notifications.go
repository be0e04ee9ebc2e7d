package admission

import (
	"fmt"
	"strings"

	"github.com/guregu/null/v5"

	"github.com/rafaeljc/booker/internal/conflict"
	"github.com/rafaeljc/booker/internal/store"
)

const (
	titleCancelled   = "Class cancelled"
	titleRescheduled = "Class rescheduled"
)

// label is how a booking is named in notifications.
func label(b store.Booking) string {
	if t := strings.TrimSpace(b.Title); t != "" {
		return t
	}
	return fmt.Sprintf("booking #%d", b.ID)
}

// CancellationMessage renders the announcement text of a cancellation.
func CancellationMessage(b store.Booking, reason string) string {
	msg := fmt.Sprintf("%s: %s on %s %s - %s.", titleCancelled, label(b), b.Date, b.StartTime, b.EndTime)
	if r := strings.TrimSpace(reason); r != "" {
		msg += fmt.Sprintf(" Reason: %s.", r)
	}
	return msg
}

// RescheduleMessage renders the announcement text of a reschedule from the
// old slot to the booking's current slot.
func RescheduleMessage(b store.Booking, from conflict.Slot, reason string) string {
	msg := fmt.Sprintf("%s: %s moved from %s %s - %s to %s %s - %s.",
		titleRescheduled, label(b),
		from.Date, from.Start, from.End,
		b.Date, b.StartTime, b.EndTime,
	)
	if r := strings.TrimSpace(reason); r != "" {
		msg += fmt.Sprintf(" Reason: %s.", r)
	}
	if loc := locationName(b.Location); loc != "" {
		msg += fmt.Sprintf(" Location: %s.", loc)
	}
	return msg
}

func locationName(loc null.String) string {
	switch loc.String {
	case store.LocationClassroom:
		return "Classroom"
	case store.LocationZoom:
		return "Zoom"
	}
	return ""
}

func announcement(b store.Booking, title, message, actor string) store.Announcement {
	return store.Announcement{
		BookingID:    null.IntFrom(b.ID),
		Title:        title,
		Message:      message,
		CourseName:   label(b),
		SenderName:   actor,
		TargetUserID: null.IntFrom(b.UserID),
	}
}
