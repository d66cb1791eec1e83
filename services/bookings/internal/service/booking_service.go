package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/pawstay-bookings/pkg/clock"
	"github.com/diagnosis/pawstay-bookings/pkg/events"
	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/payments"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/pricing"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/repository"
)

// BookingService turns an active hold into a paid booking.
type BookingService interface {
	Checkout(ctx context.Context, holdID string, in CheckoutInput) (*CheckoutResult, error)
	HandlePaymentSucceeded(ctx context.Context, intentID string) error
	HandlePaymentFailed(ctx context.Context, intentID, reason string) error
	Cancel(ctx context.Context, bookingID, reason string) (*domain.Booking, error)
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
}

// CheckoutInput names the pricing model explicitly. Boarding is ignored for flat services.
type CheckoutInput struct {
	Model    pricing.Model
	Boarding pricing.BoardingInput
}

type CheckoutResult struct {
	Booking      domain.Booking `json:"booking"`
	ClientSecret string         `json:"client_secret"`
}

type bookingService struct {
	bookings repository.BookingRepository
	holds    HoldService
	engine   *pricing.Engine
	gateway  payments.Gateway
	bus      events.Publisher
	clock    clock.Clock
	loc      *time.Location
}

func NewBookingService(
	bookings repository.BookingRepository,
	holds HoldService,
	engine *pricing.Engine,
	gateway payments.Gateway,
	bus events.Publisher,
	clk clock.Clock,
	loc *time.Location,
) BookingService {
	if loc == nil {
		loc = time.UTC
	}
	return &bookingService{
		bookings: bookings,
		holds:    holds,
		engine:   engine,
		gateway:  gateway,
		bus:      bus,
		clock:    clk,
		loc:      loc,
	}
}

func (s *bookingService) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := retryRead(ctx, func() (*domain.Booking, error) { return s.bookings.GetByID(ctx, id) })
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, domain.ErrBookingNotFound
	}
	return b, nil
}

func (s *bookingService) Checkout(ctx context.Context, holdID string, in CheckoutInput) (*CheckoutResult, error) {
	ctx = logger.WithHold(ctx, holdID)
	if s.gateway == nil {
		return nil, payments.ErrNotConfigured
	}

	hold, err := s.holds.GetHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, domain.ErrHoldNotFound
	}

	existing, err := retryRead(ctx, func() (*domain.Booking, error) { return s.bookings.GetByHoldID(ctx, holdID) })
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.resume(ctx, *existing)
	}
	if hold.Status != domain.HoldActive {
		return nil, domain.ErrHoldNotActive
	}

	if hold.Service.IsBoarding() {
		checkin := domain.Day(in.Boarding.CheckIn.In(s.loc))
		if !checkin.Equal(hold.Date) {
			return nil, domain.NewValidationError("checkin", "checkin must be on the reserved date %s", domain.FormatDate(hold.Date))
		}
	}
	quote, err := s.engine.Quote(hold.Service, in.Boarding, in.Model)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	booking := domain.Booking{
		ID:        uuid.NewString(),
		HoldID:    hold.ID,
		Service:   hold.Service,
		Date:      hold.Date,
		Slot:      hold.Slot,
		UserEmail: hold.UserEmail,
		DogID:     hold.DogID,
		Status:    domain.BookingPendingPayment,
		Pricing:   quote.Snapshot(),
		CreatedAt: now,
	}

	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		AmountCents:    quote.AmountCents(),
		Currency:       quote.Currency,
		IdempotencyKey: "checkout-" + hold.ID,
		Email:          hold.UserEmail,
		Metadata: map[string]string{
			"booking_id": booking.ID,
			"hold_id":    hold.ID,
			"service":    string(hold.Service),
			"model":      string(quote.Model),
		},
	})
	if err != nil {
		return nil, err
	}
	booking.PaymentIntentID = intent.ID

	if err := s.bookings.Create(ctx, booking); err != nil {
		if errors.Is(err, domain.ErrIdempotencyConflict) {
			if b, _ := s.bookings.GetByHoldID(ctx, holdID); b != nil {
				return s.resume(ctx, *b)
			}
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	logger.InfoContext(ctx, "Checkout started", "booking_id", booking.ID, "intent_id", intent.ID,
		"total", booking.Pricing.Total, "model", booking.Pricing.Model)
	publish(ctx, s.bus, events.PaymentIntentCreated, events.PaymentEvent{
		BookingID: booking.ID,
		HoldID:    hold.ID,
		IntentID:  intent.ID,
		Amount:    booking.Pricing.AmountCents,
		Currency:  booking.Pricing.Currency,
	})
	return &CheckoutResult{Booking: booking, ClientSecret: intent.ClientSecret}, nil
}

// resume returns an existing checkout. The stored price snapshot is never recomputed.
func (s *bookingService) resume(ctx context.Context, b domain.Booking) (*CheckoutResult, error) {
	out := &CheckoutResult{Booking: b}
	if b.Status != domain.BookingPendingPayment || b.PaymentIntentID == "" {
		return out, nil
	}
	intent, err := s.gateway.GetIntent(ctx, b.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	out.ClientSecret = intent.ClientSecret
	return out, nil
}

// HandlePaymentSucceeded confirms the hold and booking. If the hold was already
// swept the unit may have been resold, so the payment is refunded instead.
func (s *bookingService) HandlePaymentSucceeded(ctx context.Context, intentID string) error {
	b, err := s.bookings.GetByPaymentIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if b == nil {
		return domain.ErrBookingNotFound
	}
	ctx = logger.WithHold(ctx, b.HoldID)
	if b.Status != domain.BookingPendingPayment {
		logger.DebugContext(ctx, "Payment success ignored", "booking_id", b.ID, "status", b.Status)
		return nil
	}

	if err := s.holds.ConfirmHold(ctx, b.HoldID); err != nil {
		return err
	}
	hold, err := s.holds.GetHold(ctx, b.HoldID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if hold == nil || hold.Status != domain.HoldConfirmed {
		logger.WarnContext(ctx, "Payment arrived after hold ended, refunding", "booking_id", b.ID)
		if _, err := s.gateway.Refund(ctx, intentID); err != nil {
			return err
		}
		if _, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingPendingPayment, domain.BookingCanceled, now); err != nil {
			return err
		}
		publish(ctx, s.bus, events.PaymentRefunded, paymentEvent(*b))
		publish(ctx, s.bus, events.BookingCanceled, bookingEvent(*b, "hold_expired", now))
		return nil
	}

	moved, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingPendingPayment, domain.BookingConfirmed, now)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	logger.InfoContext(ctx, "Booking confirmed", "booking_id", b.ID)
	publish(ctx, s.bus, events.PaymentCaptured, paymentEvent(*b))
	publish(ctx, s.bus, events.BookingConfirmed, bookingEvent(*b, "", now))
	return nil
}

func (s *bookingService) HandlePaymentFailed(ctx context.Context, intentID, reason string) error {
	b, err := s.bookings.GetByPaymentIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if b == nil {
		return domain.ErrBookingNotFound
	}
	ctx = logger.WithHold(ctx, b.HoldID)

	moved, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingPendingPayment, domain.BookingPaymentFailed, s.clock.Now())
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	s.holds.ReleaseHold(ctx, b.HoldID)
	logger.InfoContext(ctx, "Payment failed, hold released", "booking_id", b.ID, "reason", reason)
	publish(ctx, s.bus, events.PaymentFailed, paymentEvent(*b))
	return nil
}

// Cancel refunds a confirmed booking and gives its unit back.
func (s *bookingService) Cancel(ctx context.Context, bookingID, reason string) (*domain.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithHold(ctx, b.HoldID)
	switch b.Status {
	case domain.BookingCanceled:
		return b, nil
	case domain.BookingConfirmed:
	default:
		return nil, domain.ErrBookingNotConfirmed
	}

	// The hold must still be confirmed before money moves. A cancelled hold means an
	// earlier attempt already refunded and released, so only the booking is left.
	hold, err := s.holds.GetHold(ctx, b.HoldID)
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, domain.ErrHoldNotFound
	}
	refunded := hold.Status == domain.HoldCancelled
	if hold.Status != domain.HoldConfirmed && !refunded {
		logger.WarnContext(ctx, "Cancel refused, hold is not confirmed", "booking_id", b.ID, "hold_status", hold.Status)
		return nil, domain.ErrHoldNotConfirmed
	}

	if !refunded && b.PaymentIntentID != "" && s.gateway != nil {
		refundID, err := s.gateway.Refund(ctx, b.PaymentIntentID)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "Booking refunded", "booking_id", b.ID, "refund_id", refundID)
		publish(ctx, s.bus, events.PaymentRefunded, paymentEvent(*b))
	}

	if err := s.holds.CancelConfirmed(ctx, b.HoldID); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if _, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingConfirmed, domain.BookingCanceled, now); err != nil {
		return nil, err
	}
	b.Status = domain.BookingCanceled
	b.UpdatedAt = now

	publish(ctx, s.bus, events.BookingCanceled, bookingEvent(*b, reason, now))
	return b, nil
}

func paymentEvent(b domain.Booking) events.PaymentEvent {
	return events.PaymentEvent{
		BookingID: b.ID,
		HoldID:    b.HoldID,
		IntentID:  b.PaymentIntentID,
		Amount:    b.Pricing.AmountCents,
		Currency:  b.Pricing.Currency,
	}
}

func bookingEvent(b domain.Booking, reason string, at time.Time) events.BookingEvent {
	return events.BookingEvent{
		BookingID:  b.ID,
		HoldID:     b.HoldID,
		ServiceKey: string(b.Service),
		Date:       domain.FormatDate(b.Date),
		Slot:       b.Slot,
		UserEmail:  b.UserEmail,
		Total:      b.Pricing.Total,
		Currency:   b.Pricing.Currency,
		Model:      b.Pricing.Model,
		Reason:     reason,
		OccurredAt: at,
	}
}
