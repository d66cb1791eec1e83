package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/pawstay-bookings/pkg/events"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/testutil"
)

func TestCreateHold_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.holds.CreateHold(ctx, holdInput("idem-1", domain.ServiceDaycare))
	require.NoError(t, err)
	second, err := f.holds.CreateHold(ctx, holdInput("idem-1", domain.ServiceDaycare))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.capRepo.Consumed(key(domain.ServiceDaycare)))
	assert.Equal(t, "owner@pawstay.test", first.UserEmail)
	assert.Equal(t, domain.SlotAllDay, first.Slot)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), first.ExpiresAt)
}

func TestCreateHold_ReplayIgnoresStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.holds.CreateHold(ctx, holdInput("idem-1", domain.ServiceDaycare))
	require.NoError(t, err)
	f.holds.ReleaseHold(ctx, h.ID)

	again, err := f.holds.CreateHold(ctx, holdInput("idem-1", domain.ServiceDaycare))
	require.NoError(t, err)
	assert.Equal(t, h.ID, again.ID)
	assert.Equal(t, domain.HoldReleased, again.Status)
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)))
}

func TestCreateHold_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]struct{}{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := f.holds.CreateHold(ctx, holdInput("same-key", domain.ServiceDaycare))
			if err != nil {
				t.Errorf("create hold: %v", err)
				return
			}
			mu.Lock()
			ids[h.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, f.capRepo.Consumed(key(domain.ServiceDaycare)), "losing inserts give their unit back")
}

func TestCreateHold_Full(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trial := func(idem string) CreateHoldInput {
		in := holdInput(idem, domain.ServiceTrial)
		in.Slot = "08:00"
		return in
	}
	for i := 0; i < 4; i++ {
		_, err := f.holds.CreateHold(ctx, trial(string(rune('a'+i))))
		require.NoError(t, err)
	}

	_, err := f.holds.CreateHold(ctx, trial("overflow"))
	assert.ErrorIs(t, err, domain.ErrCapacityFull)

	h, err := f.holdRepo.FindByIdempotencyKey(ctx, "overflow")
	require.NoError(t, err)
	assert.Nil(t, h, "no hold is created when full")
	assert.Equal(t, 4, f.capRepo.Consumed(windowKey(domain.ServiceTrial, "08:00-10:00")))
}

func TestCreateHold_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sunday := monday.AddDate(0, 0, -1)

	tests := []struct {
		name string
		in   CreateHoldInput
	}{
		{"missing key", CreateHoldInput{Service: domain.ServiceDaycare, Date: monday, UserEmail: "a@b.co"}},
		{"unknown service", CreateHoldInput{IdempotencyKey: "k", Service: "boarding", Date: monday, UserEmail: "a@b.co"}},
		{"missing date", CreateHoldInput{IdempotencyKey: "k", Service: domain.ServiceDaycare, UserEmail: "a@b.co"}},
		{"bad email", CreateHoldInput{IdempotencyKey: "k", Service: domain.ServiceDaycare, Date: monday, UserEmail: "nope"}},
		{"closed slot", CreateHoldInput{IdempotencyKey: "k", Service: domain.ServiceTrial, Date: sunday, Slot: "10:00", UserEmail: "a@b.co"}},
		{"window on a daily service", CreateHoldInput{IdempotencyKey: "k", Service: domain.ServiceDaycare, Date: monday, Slot: "08:00", UserEmail: "a@b.co"}},
		{"trial without window", CreateHoldInput{IdempotencyKey: "k", Service: domain.ServiceTrial, Date: monday, UserEmail: "a@b.co"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.holds.CreateHold(ctx, tt.in)
			assert.True(t, domain.IsValidation(err), "got %v", err)
		})
	}
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)))
}

func TestCreateHold_SlotIsCanonicalWindow(t *testing.T) {
	f := newFixture(t)
	in := holdInput("k", domain.ServiceTrial)
	in.Slot = "16:45"

	h, err := f.holds.CreateHold(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "16:00-18:00", h.Slot)
	assert.Equal(t, 1, f.capRepo.Consumed(windowKey(domain.ServiceTrial, "16:00-18:00")))
}

func TestCreateHold_DailyCapacityIsOneBucket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.capacity.SetOverride(ctx, domain.CapacityOverride{
		Service: domain.ServiceDaycare, DateStart: monday, DateEnd: monday, Capacity: 2,
	}))

	sold := 0
	for i, slot := range []string{"", "08:00", "", "16:00", "16:00-18:00", "ALL_DAY", ""} {
		in := holdInput(fmt.Sprintf("day-%d", i), domain.ServiceDaycare)
		in.Slot = slot
		if _, err := f.holds.CreateHold(ctx, in); err == nil {
			sold++
		}
	}

	assert.Equal(t, 2, sold)
	assert.Equal(t, 2, f.capRepo.Consumed(key(domain.ServiceDaycare)))
	for _, w := range []string{"08:00-10:00", "16:00-18:00"} {
		assert.Zero(t, f.capRepo.Consumed(windowKey(domain.ServiceDaycare, w)))
	}
	avail, err := f.capacity.GetAvailable(ctx, key(domain.ServiceDaycare))
	require.NoError(t, err)
	assert.Zero(t, avail)
}

func TestCreateHold_CompensatesOnInsertFailure(t *testing.T) {
	f := newFixture(t)
	f.holdRepo.InsertErr = errors.New("disk full")

	_, err := f.holds.CreateHold(context.Background(), holdInput("k", domain.ServiceDaycare))
	require.Error(t, err)
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)))
}

func TestCreateHold_TrialGate(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	completed := time.Date(2025, 10, 17, 14, 0, 0, 0, loc)
	dogs := testutil.NewDogRepo(
		domain.Dog{ID: "rex", OwnerEmail: "owner@pawstay.test"},
		domain.Dog{ID: "luna", OwnerEmail: "owner@pawstay.test", TrialCompletedAt: &completed},
	)
	f := newFixture(t, WithTrialGate(dogs, loc))
	ctx := context.Background()

	in := holdInput("rex-daycare", domain.ServiceDaycare)
	in.DogID = "rex"
	_, err = f.holds.CreateHold(ctx, in)
	assert.ErrorIs(t, err, domain.ErrTrialRequired)
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)))

	in = holdInput("rex-trial", domain.ServiceTrial)
	in.Slot = "08:00"
	in.DogID = "rex"
	_, err = f.holds.CreateHold(ctx, in)
	assert.NoError(t, err, "trial days need no prior trial")

	in = holdInput("luna-boarding", domain.ServiceBoardingSmall)
	in.DogID = "luna"
	_, err = f.holds.CreateHold(ctx, in)
	assert.NoError(t, err)

	in = holdInput("stranger", domain.ServiceDaycare)
	in.DogID = "unknown"
	_, err = f.holds.CreateHold(ctx, in)
	assert.NoError(t, err, "unknown dogs are not gated")
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.holds.CreateHold(ctx, holdInput("k", domain.ServiceDaycare))
	require.NoError(t, err)
	require.Equal(t, 1, f.capRepo.Consumed(key(domain.ServiceDaycare)))

	n, err := f.holds.SweepExpired(ctx, f.clock.Now().Add(9*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "not yet expired")

	f.clock.Advance(11 * time.Minute)
	n, err = f.holds.SweepExpired(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.holds.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldExpired, got.Status)
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)))

	n, err = f.holds.SweepExpired(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "second sweep is a no-op")
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)))
	assert.Contains(t, f.bus.Subjects(), events.HoldExpired)
}

func TestSweepExpired_DrainsInBatches(t *testing.T) {
	f := newFixture(t, WithSweepBatchSize(2))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.holds.CreateHold(ctx, holdInput(string(rune('a'+i)), domain.ServiceDaycare))
		require.NoError(t, err)
	}
	f.clock.Advance(time.Hour)

	n, err := f.holds.SweepExpired(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)))
}

func TestSweepExpired_ConcurrentSweepsReleaseOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := f.holds.CreateHold(ctx, holdInput(string(rune('a'+i)), domain.ServiceDaycare))
		require.NoError(t, err)
	}
	// One unrelated live hold keeps the floor from hiding a double release.
	f.clock.Advance(5 * time.Minute)
	_, err := f.holds.CreateHold(ctx, holdInput("late", domain.ServiceDaycare))
	require.NoError(t, err)
	now := f.clock.Now().Add(6 * time.Minute)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.holds.SweepExpired(ctx, now)
			if err != nil {
				t.Errorf("sweep: %v", err)
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, total)
	assert.Equal(t, 1, f.capRepo.Consumed(key(domain.ServiceDaycare)))
}

func TestConfirmHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.holds.CreateHold(ctx, holdInput("k", domain.ServiceDaycare))
	require.NoError(t, err)
	require.NoError(t, f.holds.ConfirmHold(ctx, h.ID))
	require.NoError(t, f.holds.ConfirmHold(ctx, h.ID), "duplicate confirm is a no-op")
	require.NoError(t, f.holds.ConfirmHold(ctx, "missing"))

	f.clock.Advance(time.Hour)
	n, err := f.holds.SweepExpired(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "confirmed holds are never swept")
	assert.Equal(t, 1, f.capRepo.Consumed(key(domain.ServiceDaycare)), "confirm does not touch capacity")
}

func TestReleaseHold_BestEffort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep, err := f.holds.CreateHold(ctx, holdInput("keep", domain.ServiceDaycare))
	require.NoError(t, err)
	h, err := f.holds.CreateHold(ctx, holdInput("drop", domain.ServiceDaycare))
	require.NoError(t, err)

	f.holds.ReleaseHold(ctx, h.ID)
	f.holds.ReleaseHold(ctx, h.ID)
	f.holds.ReleaseHold(ctx, "does-not-exist")

	assert.Equal(t, 1, f.capRepo.Consumed(key(domain.ServiceDaycare)), "released exactly once")

	require.NoError(t, f.holds.ConfirmHold(ctx, keep.ID))
	f.holds.ReleaseHold(ctx, keep.ID)
	assert.Equal(t, 1, f.capRepo.Consumed(key(domain.ServiceDaycare)), "confirmed holds need CancelConfirmed")
}

func TestReleaseHold_AfterTTLBeforeSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.holds.CreateHold(ctx, holdInput("k", domain.ServiceDaycare))
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)

	f.holds.ReleaseHold(ctx, h.ID)
	n, err := f.holds.SweepExpired(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)))
}

func TestCancelConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.holds.CreateHold(ctx, holdInput("k", domain.ServiceDaycare))
	require.NoError(t, err)
	assert.ErrorIs(t, f.holds.CancelConfirmed(ctx, h.ID), domain.ErrHoldNotConfirmed)

	require.NoError(t, f.holds.ConfirmHold(ctx, h.ID))
	require.NoError(t, f.holds.CancelConfirmed(ctx, h.ID))
	require.NoError(t, f.holds.CancelConfirmed(ctx, h.ID), "repeat cancel is a no-op")

	got, err := f.holds.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldCancelled, got.Status)
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceDaycare)))

	assert.ErrorIs(t, f.holds.CancelConfirmed(ctx, "missing"), domain.ErrHoldNotFound)
}
