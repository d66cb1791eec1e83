package domain

import "time"

type BookingStatus string

const (
	BookingPendingPayment BookingStatus = "pending_payment"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingPaymentFailed  BookingStatus = "payment_failed"
	BookingCanceled       BookingStatus = "cancelled"
)

// Booking is a hold converted into a paid reservation. Pricing is the snapshot
// taken at checkout and is never recomputed.
type Booking struct {
	ID              string        `json:"id"`
	HoldID          string        `json:"hold_id"`
	Service         ServiceKey    `json:"service"`
	Date            time.Time     `json:"date"`
	Slot            string        `json:"slot"`
	UserEmail       string        `json:"user_email"`
	DogID           string        `json:"dog_id,omitempty"`
	Status          BookingStatus `json:"status"`
	Pricing         PriceSnapshot `json:"pricing"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// PriceSnapshot is the audit copy of a pricing result attached to a booking.
type PriceSnapshot struct {
	Total       string `json:"total"`
	Currency    string `json:"currency"`
	Model       string `json:"model"`
	Nights      int    `json:"nights,omitempty"`
	PerNight    string `json:"per_night,omitempty"`
	PMSurcharge string `json:"pm_surcharge,omitempty"`
	AmountCents int64  `json:"amount_cents"`
}
