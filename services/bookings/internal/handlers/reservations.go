package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/pricing"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/service"
)

type createReservationRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Service        string `json:"service"`
	Date           string `json:"date"`
	Slot           string `json:"slot"`
	UserEmail      string `json:"user_email"`
	DogID          string `json:"dog_id"`
}

type reservationResponse struct {
	ReservationID string            `json:"reservation_id"`
	Status        domain.HoldStatus `json:"status"`
	Service       domain.ServiceKey `json:"service"`
	Date          string            `json:"date"`
	Slot          string            `json:"slot"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

func toReservation(hold domain.Hold) reservationResponse {
	return reservationResponse{
		ReservationID: hold.ID,
		Status:        hold.Status,
		Service:       hold.Service,
		Date:          domain.FormatDate(hold.Date),
		Slot:          hold.Slot,
		ExpiresAt:     hold.ExpiresAt,
	}
}

// CreateReservation places a hold. The Idempotency-Key header wins over the body field.
func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		req.IdempotencyKey = key
	}

	date, err := domain.ParseDate(req.Date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	hold, err := h.holds.CreateHold(r.Context(), service.CreateHoldInput{
		IdempotencyKey: req.IdempotencyKey,
		Service:        domain.ServiceKey(req.Service),
		Date:           date,
		Slot:           req.Slot,
		UserEmail:      req.UserEmail,
		DogID:          req.DogID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservation(hold))
}

func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	hold, err := h.holds.GetHold(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if hold == nil {
		writeServiceError(w, r, domain.ErrHoldNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toReservation(*hold))
}

// ReleaseReservation always answers 200; unknown or finished holds are ignored.
func (h *Handlers) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.holds.ReleaseHold(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"reservation_id": id})
}

type stayRequest struct {
	DogCount          *int   `json:"dog_count"`
	CheckIn           string `json:"checkin"`
	CheckOut          string `json:"checkout"`
	CheckoutTimeLabel string `json:"checkout_time_label"`
	PickupWindow      string `json:"pickup_window"`
}

// toInput requires dog_count; a missing or non-positive count is rejected.
func (s stayRequest) toInput(loc *time.Location) (pricing.BoardingInput, error) {
	in := pricing.BoardingInput{
		CheckoutTimeLabel: s.CheckoutTimeLabel,
		PickupWindow:      pricing.PickupWindow(s.PickupWindow),
	}
	if s.DogCount == nil || *s.DogCount < 1 {
		return in, domain.Invalid("dog_count", domain.ErrInvalidDogCount)
	}
	in.DogCount = *s.DogCount
	var err error
	if in.CheckIn, err = parseStamp("checkin", s.CheckIn, loc); err != nil {
		return in, err
	}
	if in.CheckOut, err = parseStamp("checkout", s.CheckOut, loc); err != nil {
		return in, err
	}
	return in, nil
}

type checkoutRequest struct {
	Model string `json:"model"`
	stayRequest
}

type checkoutResponse struct {
	BookingID    string               `json:"booking_id"`
	Status       domain.BookingStatus `json:"status"`
	ClientSecret string               `json:"client_secret,omitempty"`
	Pricing      domain.PriceSnapshot `json:"pricing"`
}

// Checkout prices the hold and opens a payment intent for it.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	holdID := chi.URLParam(r, "id")
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	model, err := h.modelOrDefault(req.Model)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	hold, err := h.holds.GetHold(r.Context(), holdID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if hold == nil {
		writeServiceError(w, r, domain.ErrHoldNotFound)
		return
	}

	in := service.CheckoutInput{Model: model}
	if hold.Service.IsBoarding() {
		if in.Boarding, err = req.toInput(h.loc); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	res, err := h.bookings.Checkout(r.Context(), holdID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{
		BookingID:    res.Booking.ID,
		Status:       res.Booking.Status,
		ClientSecret: res.ClientSecret,
		Pricing:      res.Booking.Pricing,
	})
}
