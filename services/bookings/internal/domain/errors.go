package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityFull is the expected "fully booked" outcome, not a fault.
	ErrCapacityFull = errors.New("fully booked")

	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrIdempotencyConflict    = errors.New("idempotency key already used")
	ErrHoldNotFound           = errors.New("hold not found")
	ErrHoldNotActive          = errors.New("hold is not active")
	ErrHoldNotConfirmed       = errors.New("hold is not confirmed")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrBookingNotConfirmed    = errors.New("booking is not confirmed")
	ErrDogNotFound            = errors.New("dog not found")
	ErrTrialRequired          = errors.New("dog must complete a trial day first")
	ErrOverrideNotFound       = errors.New("capacity override not found")
	ErrModelNotConfigured     = errors.New("pricing model not configured")

	ErrInvalidSlot      = errors.New("invalid slot")
	ErrInvalidDogCount  = errors.New("dog count must be at least 1")
	ErrInvalidStayRange = errors.New("checkout must be after checkin")
)

// ValidationError is a field-specific input error, rejected before any mutation.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid wraps a sentinel with the offending field.
func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Message: err.Error(), Err: err}
}

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
