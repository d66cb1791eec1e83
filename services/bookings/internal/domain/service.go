package domain

import (
	"fmt"
	"strings"
	"time"
)

// ServiceKey identifies a bookable capacity bucket.
type ServiceKey string

const (
	ServiceDaycare       ServiceKey = "daycare"
	ServiceBoardingSmall ServiceKey = "boarding:small"
	ServiceBoardingLarge ServiceKey = "boarding:large"
	ServiceTrial         ServiceKey = "trial"

	// AggregateBoarding is a display label for small+large. It is never a ledger key.
	AggregateBoarding = "boarding"
)

// ServiceKeys lists every ledger key in display order.
var ServiceKeys = []ServiceKey{ServiceDaycare, ServiceBoardingSmall, ServiceBoardingLarge, ServiceTrial}

func ParseServiceKey(s string) (ServiceKey, error) {
	switch k := ServiceKey(strings.ToLower(strings.TrimSpace(s))); k {
	case ServiceDaycare, ServiceBoardingSmall, ServiceBoardingLarge, ServiceTrial:
		return k, nil
	default:
		return "", &ValidationError{Field: "service", Message: fmt.Sprintf("unknown service %q", s)}
	}
}

func (k ServiceKey) IsBoarding() bool {
	return k == ServiceBoardingSmall || k == ServiceBoardingLarge
}

// RequiresTrial reports whether the dog must have completed a trial day first.
func (k ServiceKey) RequiresTrial() bool {
	return k != ServiceTrial
}

// Slotted reports whether capacity for the service is tracked per drop-off window.
// Every other service has a single ALL_DAY bucket per date.
func (k ServiceKey) Slotted() bool {
	return k == ServiceTrial
}

// SlotAllDay is the slot of capacity that is tracked per day rather than per window.
const SlotAllDay = "ALL_DAY"

const DateLayout = "2006-01-02"

// ParseDate parses a civil date into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Message: "date must be YYYY-MM-DD"}
	}
	return d, nil
}

// Day truncates t to the civil day it falls on in its own location, as UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// CapacityKey addresses one capacity counter.
type CapacityKey struct {
	Service ServiceKey
	Date    time.Time
	Slot    string
}

func NewCapacityKey(service ServiceKey, date time.Time, slot string) CapacityKey {
	if slot == "" {
		slot = SlotAllDay
	}
	return CapacityKey{Service: service, Date: Day(date), Slot: slot}
}

func (k CapacityKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Service, FormatDate(k.Date), k.Slot)
}
