package domain

import "time"

type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldConfirmed HoldStatus = "confirmed"
	HoldReleased  HoldStatus = "released"
	HoldExpired   HoldStatus = "expired"
	HoldCancelled HoldStatus = "cancelled"
)

// Live reports whether the hold still consumes capacity.
func (s HoldStatus) Live() bool {
	return s == HoldActive || s == HoldConfirmed
}

// Hold represents one unit of capacity claimed for a limited time.
type Hold struct {
	ID             string     `json:"id"`
	IdempotencyKey string     `json:"-"`
	Service        ServiceKey `json:"service"`
	Date           time.Time  `json:"date"`
	Slot           string     `json:"slot"`
	UserEmail      string     `json:"user_email"`
	DogID          string     `json:"dog_id,omitempty"`
	Status         HoldStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (h Hold) Key() CapacityKey {
	return NewCapacityKey(h.Service, h.Date, h.Slot)
}

// ExpiredAt reports whether an active hold is past its TTL at now.
func (h Hold) ExpiredAt(now time.Time) bool {
	return h.Status == HoldActive && h.ExpiresAt.Before(now)
}
