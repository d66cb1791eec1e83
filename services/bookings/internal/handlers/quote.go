package handlers

import (
	"net/http"

	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/pricing"
)

type quoteRequest struct {
	Service string `json:"service"`
	Model   string `json:"model"`
	stayRequest
}

// Quote prices a service without reserving anything.
func (h *Handlers) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	service, err := domain.ParseServiceKey(req.Service)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	model, err := h.modelOrDefault(req.Model)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var in pricing.BoardingInput
	if service.IsBoarding() {
		if in, err = req.toInput(h.loc); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	res, err := h.engine.Quote(service, in, model)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
