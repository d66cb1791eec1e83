package domain

import "time"

// CapacityOverride replaces the service default for every date in [DateStart, DateEnd].
type CapacityOverride struct {
	Service   ServiceKey `json:"service"`
	DateStart time.Time  `json:"date_start"`
	DateEnd   time.Time  `json:"date_end"`
	Slot      string     `json:"slot"`
	Capacity  int        `json:"capacity"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Covers reports whether the override applies to date.
func (o CapacityOverride) Covers(date time.Time) bool {
	d := Day(date)
	return !d.Before(Day(o.DateStart)) && !d.After(Day(o.DateEnd))
}

// CapacityLine is a capacity/consumption snapshot for one bucket.
type CapacityLine struct {
	Capacity  int `json:"capacity"`
	Consumed  int `json:"consumed"`
	Available int `json:"available"`
}

func NewCapacityLine(capacity, consumed int) CapacityLine {
	return CapacityLine{Capacity: capacity, Consumed: consumed, Available: Available(capacity, consumed)}
}

// Add sums two lines. Availability is summed per bucket, not recomputed.
func (l CapacityLine) Add(o CapacityLine) CapacityLine {
	return CapacityLine{
		Capacity:  l.Capacity + o.Capacity,
		Consumed:  l.Consumed + o.Consumed,
		Available: l.Available + o.Available,
	}
}

// Available is max(0, capacity - consumed).
func Available(capacity, consumed int) int {
	if consumed >= capacity {
		return 0
	}
	return capacity - consumed
}

// CapacityOverview is the per-date admin report.
type CapacityOverview struct {
	Date     string                  `json:"date"`
	Slot     string                  `json:"slot"`
	Services map[string]CapacityLine `json:"services"`
}
