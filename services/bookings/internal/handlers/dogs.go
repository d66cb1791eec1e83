package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) GetEligibility(w http.ResponseWriter, r *http.Request) {
	e, err := h.dogs.Eligibility(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type trialCompletedRequest struct {
	CompletedAt string `json:"completed_at"`
}

// RecordTrialCompleted stamps a dog's trial day. Without completed_at the current time is used.
func (h *Handlers) RecordTrialCompleted(w http.ResponseWriter, r *http.Request) {
	var req trialCompletedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	var at time.Time
	if req.CompletedAt != "" {
		var err error
		if at, err = parseStamp("completed_at", req.CompletedAt, h.loc); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	e, err := h.dogs.RecordTrialCompleted(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
