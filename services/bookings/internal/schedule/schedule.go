// Package schedule holds the facility's drop-off and pick-up windows.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
)

// Window is a half-open [Start, End) interval in minutes after local midnight.
type Window struct {
	Start int `json:"-"`
	End   int `json:"-"`
}

func (w Window) ID() string {
	return formatClock(w.Start) + "-" + formatClock(w.End)
}

// Label is the display form shown in the booking UI.
func (w Window) Label() string {
	return formatClock(w.Start) + "–" + formatClock(w.End)
}

// Contains reports whether a slot starting at minute m fits in the window at 1-minute granularity.
func (w Window) Contains(m int) bool {
	return m >= w.Start && m <= w.End-1
}

// IsPM reports whether the window starts after noon.
func (w Window) IsPM() bool {
	return w.Start >= 12*60
}

var (
	morningWeekday  = Window{Start: 8 * 60, End: 10 * 60}
	morningSaturday = Window{Start: 9 * 60, End: 11 * 60}
	evening         = Window{Start: 16 * 60, End: 18 * 60}
)

// WindowsFor returns the ordered windows for the civil date of day.
// The facility is open every day of the week.
func WindowsFor(day time.Time) []Window {
	switch day.Weekday() {
	case time.Sunday:
		return []Window{evening}
	case time.Saturday:
		return []Window{morningSaturday, evening}
	default:
		return []Window{morningWeekday, evening}
	}
}

// WindowsForDate is WindowsFor on a YYYY-MM-DD string. Malformed input yields no windows.
func WindowsForDate(date string) []Window {
	day, err := domain.ParseDate(date)
	if err != nil {
		return nil
	}
	return WindowsFor(day)
}

// IsSlotValid accepts a start time inside a window, an exact window range, or an
// exact window label. Anything else is rejected.
func IsSlotValid(day time.Time, slot string) bool {
	_, ok := match(day, slot)
	return ok
}

// CanonicalSlot maps a slot string to the id of the window it falls in, which is the
// ledger slot for that booking. Empty and ALL_DAY map to ALL_DAY.
func CanonicalSlot(day time.Time, slot string) (string, error) {
	s := strings.TrimSpace(slot)
	if s == "" || strings.EqualFold(s, domain.SlotAllDay) {
		return domain.SlotAllDay, nil
	}
	w, ok := match(day, s)
	if !ok {
		return "", &domain.ValidationError{
			Field:   "slot",
			Message: fmt.Sprintf("%q is not an open window on %s", slot, day.Weekday()),
			Err:     domain.ErrInvalidSlot,
		}
	}
	return w.ID(), nil
}

// LedgerSlot returns the capacity slot a booking of service on day claims.
// Slotted services need an open window; the rest only accept ALL_DAY or no slot.
func LedgerSlot(service domain.ServiceKey, day time.Time, slot string) (string, error) {
	s := strings.TrimSpace(slot)
	daily := s == "" || strings.EqualFold(s, domain.SlotAllDay)
	if !service.Slotted() {
		if !daily {
			return "", &domain.ValidationError{
				Field:   "slot",
				Message: fmt.Sprintf("%s is booked per day and takes no slot", service),
				Err:     domain.ErrInvalidSlot,
			}
		}
		return domain.SlotAllDay, nil
	}
	if daily {
		return "", &domain.ValidationError{
			Field:   "slot",
			Message: fmt.Sprintf("%s needs a drop-off window", service),
			Err:     domain.ErrInvalidSlot,
		}
	}
	return CanonicalSlot(day, s)
}

// WindowFor returns the window a slot falls in.
func WindowFor(day time.Time, slot string) (Window, bool) {
	return match(day, slot)
}

// EnumerateSlots lists slot start times at step granularity. A slot must end before
// its window closes, so the last start is End-step.
func EnumerateSlots(day time.Time, step time.Duration) []string {
	stepMin := int(step / time.Minute)
	if stepMin <= 0 {
		return nil
	}
	var out []string
	for _, w := range WindowsFor(day) {
		for m := w.Start; m <= w.End-stepMin; m += stepMin {
			out = append(out, formatClock(m))
		}
	}
	return out
}

func match(day time.Time, slot string) (Window, bool) {
	s := strings.TrimSpace(slot)
	windows := WindowsFor(day)

	if m, ok := parseClock(s); ok {
		for _, w := range windows {
			if w.Contains(m) {
				return w, true
			}
		}
		return Window{}, false
	}

	if start, end, found := strings.Cut(s, "-"); found {
		a, okA := parseClock(start)
		b, okB := parseClock(end)
		if !okA || !okB {
			return Window{}, false
		}
		for _, w := range windows {
			if w.Start == a && w.End == b {
				return w, true
			}
		}
		return Window{}, false
	}

	for _, w := range windows {
		if s == w.Label() {
			return w, true
		}
	}
	return Window{}, false
}

// parseClock accepts strict HH:mm.
func parseClock(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func formatClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
