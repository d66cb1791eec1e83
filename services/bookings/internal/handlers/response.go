package handlers

import (
	"errors"
	"net/http"

	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/payments"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

const (
	CodeFullyBooked    = "FULLY_BOOKED"
	CodeInvalidInput   = "INVALID_INPUT"
	CodeNotFound       = "NOT_FOUND"
	CodeTrialRequired  = "TRIAL_REQUIRED"
	CodeConflict       = "CONFLICT"
	CodeUnavailable    = "PAYMENTS_UNAVAILABLE"
	CodeInternalError  = "INTERNAL_ERROR"
	msgFullyBooked     = "Fully booked, please choose another date or slot"
	msgInternalFailure = "Something went wrong, please try again later"
)

func writeError(w http.ResponseWriter, statusCode int, message, code string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// writeServiceError maps domain errors to responses. Anything unrecognised is
// logged with request context and reported generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrCapacityFull):
		writeError(w, http.StatusConflict, msgFullyBooked, CodeFullyBooked)
	case errors.Is(err, domain.ErrTrialRequired):
		writeError(w, http.StatusConflict, err.Error(), CodeTrialRequired)
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Message, Code: CodeInvalidInput, Field: ve.Field})
	case errors.Is(err, domain.ErrModelNotConfigured):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidInput, Field: "model"})
	case errors.Is(err, domain.ErrHoldNotFound),
		errors.Is(err, domain.ErrBookingNotFound),
		errors.Is(err, domain.ErrDogNotFound):
		writeError(w, http.StatusNotFound, err.Error(), CodeNotFound)
	case errors.Is(err, domain.ErrHoldNotActive),
		errors.Is(err, domain.ErrHoldNotConfirmed),
		errors.Is(err, domain.ErrBookingNotConfirmed),
		errors.Is(err, domain.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, err.Error(), CodeConflict)
	case errors.Is(err, payments.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "Payments are not available", CodeUnavailable)
	default:
		logger.ErrorContext(r.Context(), "Request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternalFailure, CodeInternalError)
	}
}
