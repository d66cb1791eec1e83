package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/pawstay-bookings/pkg/auth"
	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
)

func (h *Handlers) ListDefaults(w http.ResponseWriter, r *http.Request) {
	defaults, err := h.capacity.ListDefaults(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, defaults)
}

// SetDefaults replaces default capacities for the services named in the body.
func (h *Handlers) SetDefaults(w http.ResponseWriter, r *http.Request) {
	var req map[string]int
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if len(req) == 0 {
		writeServiceError(w, r, domain.NewValidationError("body", "at least one service capacity is required"))
		return
	}
	defaults := make(map[domain.ServiceKey]int, len(req))
	for k, v := range req {
		service, err := domain.ParseServiceKey(k)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		defaults[service] = v
	}

	if err := h.capacity.SetDefaults(r.Context(), defaults); err != nil {
		writeServiceError(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "Default capacities updated", "by", adminEmail(r), "services", len(defaults))
	h.ListDefaults(w, r)
}

// Overview reports per-service capacity plus the boarding aggregate for a date.
func (h *Handlers) Overview(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, "date")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	overview, err := h.capacity.Overview(r.Context(), date, r.URL.Query().Get("slot"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

type overrideRequest struct {
	Service   string `json:"service"`
	DateStart string `json:"date_start"`
	DateEnd   string `json:"date_end"`
	Slot      string `json:"slot"`
	Capacity  *int   `json:"capacity,omitempty"`
}

func (o overrideRequest) parse() (domain.CapacityOverride, error) {
	start, err := domain.ParseDate(o.DateStart)
	if err != nil {
		return domain.CapacityOverride{}, domain.NewValidationError("date_start", "date_start must be YYYY-MM-DD")
	}
	end := start
	if strings.TrimSpace(o.DateEnd) != "" {
		if end, err = domain.ParseDate(o.DateEnd); err != nil {
			return domain.CapacityOverride{}, domain.NewValidationError("date_end", "date_end must be YYYY-MM-DD")
		}
	}
	out := domain.CapacityOverride{
		Service:   domain.ServiceKey(strings.ToLower(strings.TrimSpace(o.Service))),
		DateStart: start,
		DateEnd:   end,
		Slot:      strings.TrimSpace(o.Slot),
	}
	if o.Capacity != nil {
		out.Capacity = *o.Capacity
	}
	return out, nil
}

func (h *Handlers) ListOverrides(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, "date")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	overrides, err := h.capacity.ListOverrides(r.Context(), date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if overrides == nil {
		overrides = []domain.CapacityOverride{}
	}
	writeJSON(w, http.StatusOK, overrides)
}

func (h *Handlers) SetOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.Capacity == nil {
		writeServiceError(w, r, domain.NewValidationError("capacity", "capacity is required"))
		return
	}
	o, err := req.parse()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.capacity.SetOverride(r.Context(), o); err != nil {
		writeServiceError(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "Override saved by admin", "by", adminEmail(r))
	writeJSON(w, http.StatusOK, req)
}

// ClearOverride accepts the override tuple as a JSON body or query parameters.
// It answers 200 whether or not an override existed.
func (h *Handlers) ClearOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	if req.Service == "" {
		req.Service = q.Get("service")
	}
	if req.DateStart == "" {
		req.DateStart = q.Get("date_start")
	}
	if req.DateEnd == "" {
		req.DateEnd = q.Get("date_end")
	}
	if req.Slot == "" {
		req.Slot = q.Get("slot")
	}

	o, err := req.parse()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	cleared, err := h.capacity.ClearOverride(r.Context(), o.Service, o.DateStart, o.DateEnd, o.Slot)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

// Reconcile recomputes the day's counters from live holds.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, "date")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	adjustments, err := h.capacity.Reconcile(r.Context(), date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "Counters reconciled", "by", adminEmail(r),
		"date", domain.FormatDate(date), "adjusted", len(adjustments))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":        domain.FormatDate(date),
		"adjustments": adjustments,
	})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelBooking refunds a confirmed booking and frees its unit.
func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	b, err := h.bookings.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func adminEmail(r *http.Request) string {
	if c := auth.ClaimsFrom(r.Context()); c != nil {
		return c.Email
	}
	return ""
}
