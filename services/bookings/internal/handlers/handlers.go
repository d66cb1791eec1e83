package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/pawstay-bookings/pkg/auth"
	mw "github.com/diagnosis/pawstay-bookings/pkg/middleware"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/payments"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/pricing"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/service"
)

const maxBodyBytes = 64 << 10

type Handlers struct {
	capacity     service.CapacityService
	holds        service.HoldService
	bookings     service.BookingService
	dogs         service.DogService
	engine       *pricing.Engine
	gateway      payments.Gateway
	loc          *time.Location
	defaultModel pricing.Model
}

// Deps wires the handlers to their services. Gateway may be nil when payments
// are not configured.
type Deps struct {
	Capacity     service.CapacityService
	Holds        service.HoldService
	Bookings     service.BookingService
	Dogs         service.DogService
	Engine       *pricing.Engine
	Gateway      payments.Gateway
	Location     *time.Location
	DefaultModel pricing.Model
}

func New(d Deps) *Handlers {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	model := d.DefaultModel
	if model == "" {
		model = pricing.ModelHoursV1
	}
	return &Handlers{
		capacity:     d.Capacity,
		holds:        d.Holds,
		bookings:     d.Bookings,
		dogs:         d.Dogs,
		engine:       d.Engine,
		gateway:      d.Gateway,
		loc:          loc,
		defaultModel: model,
	}
}

// Routes mounts the booking API. Admin routes require an admin bearer token
// signed with adminSecret; limiter guards reservation creation and may be nil.
func (h *Handlers) Routes(r chi.Router, adminSecret string, limiter *mw.RateLimiter) {
	r.Route("/availability", func(r chi.Router) {
		r.Get("/", h.GetAvailability)
		r.Get("/slots", h.GetSlots)
	})

	r.Route("/reservations", func(r chi.Router) {
		if limiter != nil {
			r.With(limiter.Middleware).Post("/", h.CreateReservation)
		} else {
			r.Post("/", h.CreateReservation)
		}
		r.Get("/{id}", h.GetReservation)
		r.Post("/{id}/release", h.ReleaseReservation)
		r.Post("/{id}/checkout", h.Checkout)
	})

	r.Post("/pricing/quote", h.Quote)
	r.Get("/dogs/{id}/eligibility", h.GetEligibility)
	r.Post("/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(adminSecret, auth.RoleAdmin))

		r.Get("/capacity/defaults", h.ListDefaults)
		r.Put("/capacity/defaults", h.SetDefaults)
		r.Get("/capacity/overview", h.Overview)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/capacity", h.ListOverrides)
			r.Post("/capacity", h.SetOverride)
			r.Delete("/capacity", h.ClearOverride)
			r.Post("/capacity/reconcile", h.Reconcile)
			r.Get("/bookings/{id}", h.GetBooking)
			r.Post("/bookings/{id}/cancel", h.CancelBooking)
			r.Post("/dogs/{id}/trial-completed", h.RecordTrialCompleted)
		})
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.NewValidationError("body", "invalid JSON: %v", err)
	}
	return nil
}

// dateParam parses a required YYYY-MM-DD query parameter.
func dateParam(r *http.Request, name string) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return time.Time{}, domain.NewValidationError(name, "%s is required (YYYY-MM-DD)", name)
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		return time.Time{}, domain.NewValidationError(name, "%s must be YYYY-MM-DD", name)
	}
	return d, nil
}

// parseStamp accepts RFC3339 or a facility-local "2006-01-02T15:04".
func parseStamp(field, v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, domain.NewValidationError(field, "%s is required", field)
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", v, loc); err == nil {
		return t, nil
	}
	return time.Time{}, domain.NewValidationError(field, "%s must be RFC3339 or YYYY-MM-DDTHH:mm", field)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, domain.NewValidationError(name, "%s must be a positive integer", name)
	}
	return n, nil
}

func (h *Handlers) modelOrDefault(s string) (pricing.Model, error) {
	if strings.TrimSpace(s) == "" {
		return h.defaultModel, nil
	}
	return pricing.ParseModel(s)
}
