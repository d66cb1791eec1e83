package handlers

import (
	"net/http"
	"time"

	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/schedule"
)

type availabilityResponse struct {
	Service   domain.ServiceKey `json:"service"`
	Date      string            `json:"date"`
	Slot      string            `json:"slot"`
	Remaining int               `json:"remaining"`
}

// GetAvailability reports the units left for a service on a date and, for
// windowed services, a slot.
func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	service, err := domain.ParseServiceKey(q.Get("service"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	date, err := dateParam(r, "date")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	slot, err := schedule.LedgerSlot(service, date, q.Get("slot"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	remaining, err := h.capacity.GetAvailable(r.Context(), domain.NewCapacityKey(service, date, slot))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		Service:   service,
		Date:      domain.FormatDate(date),
		Slot:      slot,
		Remaining: remaining,
	})
}

type windowDTO struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	Slots []string `json:"slots"`
}

type slotsResponse struct {
	Date    string      `json:"date"`
	Step    int         `json:"step_minutes"`
	Windows []windowDTO `json:"windows"`
}

// GetSlots lists the day's windows with slot start times at step minutes (default 30).
func (h *Handlers) GetSlots(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, "date")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	step, err := intParam(r, "step", 30)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	all := schedule.EnumerateSlots(date, time.Duration(step)*time.Minute)
	resp := slotsResponse{Date: domain.FormatDate(date), Step: step, Windows: []windowDTO{}}
	for _, win := range schedule.WindowsFor(date) {
		dto := windowDTO{ID: win.ID(), Label: win.Label(), Slots: []string{}}
		for _, s := range all {
			if got, ok := schedule.WindowFor(date, s); ok && got == win {
				dto.Slots = append(dto.Slots, s)
			}
		}
		resp.Windows = append(resp.Windows, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}
