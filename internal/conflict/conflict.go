// Package conflict decides whether a proposed booking slot collides with
// existing bookings. Slots are half-open [start, end) wall clock intervals on
// a calendar date; touching slots do not conflict.
package conflict

import (
	"fmt"
	"regexp"
	"slices"
	"time"
)

// Slot is a date plus a half-open time range, as normalized wall clock strings.
type Slot struct {
	Date  string // YYYY-MM-DD
	Start string // HH:MM:SS
	End   string // HH:MM:SS
}

// Booking is an existing booking as seen by the detector.
type Booking struct {
	ID          int64
	Slot        Slot
	ResourceIDs []int64
	Cancelled   bool
}

// Query describes a proposed slot on a set of resources.
// ExcludeID, when non-zero, names the booking being replaced.
type Query struct {
	ResourceIDs []int64
	Slot        Slot
	ExcludeID   int64
}

var (
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern = regexp.MustCompile(`^(\d{2}):(\d{2})(?::(\d{2}))?$`)
)

// NormalizeDate validates a YYYY-MM-DD calendar date.
func NormalizeDate(s string) (string, error) {
	if !datePattern.MatchString(s) {
		return "", fmt.Errorf("date %q must be formatted as YYYY-MM-DD", s)
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return "", fmt.Errorf("date %q is not a calendar date", s)
	}
	return s, nil
}

// NormalizeTime accepts HH:MM or HH:MM:SS and returns HH:MM:SS, so that
// normalized times compare correctly as strings.
func NormalizeTime(s string) (string, error) {
	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("time %q must be formatted as HH:MM or HH:MM:SS", s)
	}
	sec := m[3]
	if sec == "" {
		sec = "00"
	}
	out := m[1] + ":" + m[2] + ":" + sec
	if _, err := time.Parse(time.TimeOnly, out); err != nil {
		return "", fmt.Errorf("time %q is out of range", s)
	}
	return out, nil
}

// NewSlot normalizes and validates a slot. End must be after start.
func NewSlot(date, start, end string) (Slot, error) {
	d, err := NormalizeDate(date)
	if err != nil {
		return Slot{}, err
	}
	s, err := NormalizeTime(start)
	if err != nil {
		return Slot{}, err
	}
	e, err := NormalizeTime(end)
	if err != nil {
		return Slot{}, err
	}
	if e <= s {
		return Slot{}, fmt.Errorf("end time %s must be after start time %s", e, s)
	}
	return Slot{Date: d, Start: s, End: e}, nil
}

// Overlaps reports whether two slots intersect: same date and
// a.Start < b.End && b.Start < a.End.
func Overlaps(a, b Slot) bool {
	return a.Date == b.Date && a.Start < b.End && b.Start < a.End
}

// Conflicts returns the live bookings that collide with q, in input order.
func Conflicts(q Query, existing []Booking) []Booking {
	var out []Booking
	for _, b := range existing {
		if b.Cancelled || (q.ExcludeID != 0 && b.ID == q.ExcludeID) {
			continue
		}
		if !sharesResource(q.ResourceIDs, b.ResourceIDs) {
			continue
		}
		if Overlaps(q.Slot, b.Slot) {
			out = append(out, b)
		}
	}
	return out
}

func sharesResource(a, b []int64) bool {
	for _, id := range a {
		if slices.Contains(b, id) {
			return true
		}
	}
	return false
}
