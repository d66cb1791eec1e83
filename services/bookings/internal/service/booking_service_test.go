package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/pawstay-bookings/pkg/events"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/payments"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/pricing"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/testutil"
)

type bookingFixture struct {
	*fixture
	bookingRepo *testutil.BookingRepo
	gateway     *testutil.FakeGateway
	bookings    BookingService
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	f := &bookingFixture{
		fixture:     newFixture(t),
		bookingRepo: testutil.NewBookingRepo(),
		gateway:     testutil.NewFakeGateway(),
	}
	f.bookings = NewBookingService(f.bookingRepo, f.holds, pricing.NewEngine(time.UTC, nil),
		f.gateway, f.bus, f.clock, time.UTC)
	return f
}

func (f *bookingFixture) checkout(t *testing.T, service domain.ServiceKey) (domain.Hold, *CheckoutResult) {
	t.Helper()
	h, err := f.holds.CreateHold(context.Background(), holdInput("idem-"+string(service), service))
	require.NoError(t, err)
	res, err := f.bookings.Checkout(context.Background(), h.ID, CheckoutInput{Model: pricing.ModelHoursV1})
	require.NoError(t, err)
	return h, res
}

func TestCheckout_SnapshotsPrice(t *testing.T) {
	f := newBookingFixture(t)
	h, res := f.checkout(t, domain.ServiceDaycare)

	assert.Equal(t, domain.BookingPendingPayment, res.Booking.Status)
	assert.Equal(t, "20.00", res.Booking.Pricing.Total)
	assert.Equal(t, "EUR", res.Booking.Pricing.Currency)
	assert.Equal(t, "hours_v1", res.Booking.Pricing.Model)
	assert.EqualValues(t, 2000, res.Booking.Pricing.AmountCents)
	assert.Equal(t, "pi_checkout-"+h.ID, res.Booking.PaymentIntentID)
	assert.Equal(t, res.Booking.PaymentIntentID+"_secret", res.ClientSecret)
	require.Len(t, f.gateway.Created, 1)
	assert.EqualValues(t, 2000, f.gateway.Created[0].AmountCents)
}

func TestCheckout_ResumesExistingBooking(t *testing.T) {
	f := newBookingFixture(t)
	h, first := f.checkout(t, domain.ServiceDaycare)

	again, err := f.bookings.Checkout(context.Background(), h.ID, CheckoutInput{Model: pricing.ModelHoursV1})
	require.NoError(t, err)
	assert.Equal(t, first.Booking.ID, again.Booking.ID)
	assert.Equal(t, first.ClientSecret, again.ClientSecret)
	assert.Len(t, f.gateway.Created, 1)
}

func TestCheckout_Boarding(t *testing.T) {
	f := newBookingFixture(t)
	h, err := f.holds.CreateHold(context.Background(), holdInput("board", domain.ServiceBoardingSmall))
	require.NoError(t, err)

	mismatch := CheckoutInput{Model: pricing.ModelHoursV1, Boarding: pricing.BoardingInput{
		DogCount: 1,
		CheckIn:  monday.AddDate(0, 0, 1).Add(10 * time.Hour),
		CheckOut: monday.AddDate(0, 0, 3).Add(10 * time.Hour),
	}}
	_, err = f.bookings.Checkout(context.Background(), h.ID, mismatch)
	assert.True(t, domain.IsValidation(err), "got %v", err)

	stay := CheckoutInput{Model: pricing.ModelHoursV1, Boarding: pricing.BoardingInput{
		DogCount:     1,
		CheckIn:      monday.Add(10 * time.Hour),
		CheckOut:     monday.AddDate(0, 0, 1).Add(18 * time.Hour),
		PickupWindow: pricing.PickupPM,
	}}
	res, err := f.bookings.Checkout(context.Background(), h.ID, stay)
	require.NoError(t, err)
	assert.Equal(t, "60.00", res.Booking.Pricing.Total)
	assert.Equal(t, 2, res.Booking.Pricing.Nights)
	assert.Equal(t, "10.00", res.Booking.Pricing.PMSurcharge)
}

func TestCheckout_Rejections(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	_, err := f.bookings.Checkout(ctx, "missing", CheckoutInput{Model: pricing.ModelHoursV1})
	assert.ErrorIs(t, err, domain.ErrHoldNotFound)

	h, err := f.holds.CreateHold(ctx, holdInput("k", domain.ServiceDaycare))
	require.NoError(t, err)
	_, err = f.bookings.Checkout(ctx, h.ID, CheckoutInput{Model: pricing.ModelCalendarV2})
	assert.ErrorIs(t, err, domain.ErrModelNotConfigured)

	f.holds.ReleaseHold(ctx, h.ID)
	_, err = f.bookings.Checkout(ctx, h.ID, CheckoutInput{Model: pricing.ModelHoursV1})
	assert.ErrorIs(t, err, domain.ErrHoldNotActive)
	assert.Empty(t, f.gateway.Created)

	noGateway := NewBookingService(f.bookingRepo, f.holds, pricing.NewEngine(time.UTC, nil), nil, f.bus, f.clock, time.UTC)
	_, err = noGateway.Checkout(ctx, h.ID, CheckoutInput{Model: pricing.ModelHoursV1})
	assert.ErrorIs(t, err, payments.ErrNotConfigured)
}

func TestPaymentSucceeded_ConfirmsHoldAndBooking(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	h, res := f.checkout(t, domain.ServiceDaycare)

	require.NoError(t, f.bookings.HandlePaymentSucceeded(ctx, res.Booking.PaymentIntentID))
	require.NoError(t, f.bookings.HandlePaymentSucceeded(ctx, res.Booking.PaymentIntentID), "duplicate webhook")

	b, err := f.bookings.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
	got, err := f.holds.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldConfirmed, got.Status)
	assert.Equal(t, 1, f.capRepo.Consumed(key(domain.ServiceDaycare)))

	confirmed := 0
	for _, s := range f.bus.Subjects() {
		if s == events.BookingConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)
}

func TestPaymentSucceeded_AfterExpiryRefunds(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	_, res := f.checkout(t, domain.ServiceDaycare)

	f.clock.Advance(time.Hour)
	n, err := f.holds.SweepExpired(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, f.bookings.HandlePaymentSucceeded(ctx, res.Booking.PaymentIntentID))

	assert.Equal(t, []string{res.Booking.PaymentIntentID}, f.gateway.Refunds)
	b, err := f.bookings.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCanceled, b.Status)
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)), "expired unit is not reclaimed")
}

func TestPaymentSucceeded_UnknownIntent(t *testing.T) {
	f := newBookingFixture(t)
	err := f.bookings.HandlePaymentSucceeded(context.Background(), "pi_unknown")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestPaymentFailed_ReleasesHold(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	h, res := f.checkout(t, domain.ServiceDaycare)

	require.NoError(t, f.bookings.HandlePaymentFailed(ctx, res.Booking.PaymentIntentID, "card_declined"))
	require.NoError(t, f.bookings.HandlePaymentFailed(ctx, res.Booking.PaymentIntentID, "card_declined"))

	b, err := f.bookings.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPaymentFailed, b.Status)
	got, err := f.holds.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldReleased, got.Status)
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)))
}

func TestCancel_RefundsAndReleases(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	h, res := f.checkout(t, domain.ServiceDaycare)

	_, err := f.bookings.Cancel(ctx, res.Booking.ID, "owner request")
	assert.ErrorIs(t, err, domain.ErrBookingNotConfirmed, "pending bookings cannot be cancelled")

	require.NoError(t, f.bookings.HandlePaymentSucceeded(ctx, res.Booking.PaymentIntentID))
	b, err := f.bookings.Cancel(ctx, res.Booking.ID, "owner request")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCanceled, b.Status)

	again, err := f.bookings.Cancel(ctx, res.Booking.ID, "owner request")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCanceled, again.Status)

	assert.Equal(t, []string{res.Booking.PaymentIntentID}, f.gateway.Refunds)
	got, err := f.holds.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCancelled, got.Status)
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)))
	assert.Contains(t, f.bus.Subjects(), events.BookingCanceled)
}

func TestCancel_RefundFailureKeepsBooking(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	_, res := f.checkout(t, domain.ServiceDaycare)
	require.NoError(t, f.bookings.HandlePaymentSucceeded(ctx, res.Booking.PaymentIntentID))

	f.gateway.RefundErr = errors.New("stripe down")
	_, err := f.bookings.Cancel(ctx, res.Booking.ID, "")
	require.Error(t, err)

	b, err := f.bookings.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
	assert.Equal(t, 1, f.capRepo.Consumed(key(domain.ServiceDaycare)))
}

func TestCancel_ChecksHoldBeforeRefund(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	h, res := f.checkout(t, domain.ServiceDaycare)
	require.NoError(t, f.bookings.HandlePaymentSucceeded(ctx, res.Booking.PaymentIntentID))

	ok, err := f.holdRepo.Transition(ctx, h.ID, domain.HoldConfirmed, domain.HoldReleased, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 2; i++ {
		_, err = f.bookings.Cancel(ctx, res.Booking.ID, "")
		assert.ErrorIs(t, err, domain.ErrHoldNotConfirmed)
	}
	assert.Empty(t, f.gateway.Refunds, "no refund while the hold is not confirmed")

	b, err := f.bookings.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
}

func TestCancel_ResumesAfterHoldCancelled(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	h, res := f.checkout(t, domain.ServiceDaycare)
	require.NoError(t, f.bookings.HandlePaymentSucceeded(ctx, res.Booking.PaymentIntentID))
	require.NoError(t, f.holds.CancelConfirmed(ctx, h.ID))

	b, err := f.bookings.Cancel(ctx, res.Booking.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCanceled, b.Status)
	assert.Empty(t, f.gateway.Refunds, "the earlier attempt already refunded")
}
