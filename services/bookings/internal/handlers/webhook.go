package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/payments"
)

// PaymentWebhook receives provider callbacks. Events for unknown intents are
// acknowledged so the provider stops retrying; processing failures return 500
// so it retries.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		writeServiceError(w, r, payments.ErrNotConfigured)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable body", CodeInvalidInput)
		return
	}

	event, err := h.gateway.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrEventIgnored):
		w.WriteHeader(http.StatusOK)
		return
	case errors.Is(err, payments.ErrInvalidSignature):
		logger.WarnContext(r.Context(), "Webhook rejected, bad signature")
		writeError(w, http.StatusBadRequest, "Invalid signature", CodeInvalidInput)
		return
	case err != nil:
		writeServiceError(w, r, err)
		return
	}

	ctx := r.Context()
	switch event.Type {
	case payments.EventPaymentSucceeded:
		err = h.bookings.HandlePaymentSucceeded(ctx, event.IntentID)
	case payments.EventPaymentFailed:
		err = h.bookings.HandlePaymentFailed(ctx, event.IntentID, event.Reason)
	}
	if errors.Is(err, domain.ErrBookingNotFound) {
		logger.WarnContext(ctx, "Webhook for unknown payment intent", "event_id", event.ID, "intent_id", event.IntentID)
		err = nil
	}
	if err != nil {
		logger.ErrorContext(ctx, "Webhook processing failed", "event_id", event.ID, "type", event.Type, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternalFailure, CodeInternalError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
