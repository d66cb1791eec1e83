package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/diagnosis/pawstay-bookings/pkg/events"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/testutil"
)

func TestCapacity_OverviewAggregatesBoarding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ov, err := f.capacity.Overview(ctx, monday, "")
	require.NoError(t, err)
	assert.Equal(t, 18, ov.Services[domain.AggregateBoarding].Capacity)
	assert.Equal(t, 20, ov.Services["daycare"].Capacity)

	require.NoError(t, f.capacity.Reserve(ctx, key(domain.ServiceBoardingSmall), 1))
	ov, err = f.capacity.Overview(ctx, monday, "")
	require.NoError(t, err)
	assert.Equal(t, domain.CapacityLine{Capacity: 18, Consumed: 1, Available: 17}, ov.Services[domain.AggregateBoarding])
}

func TestCapacity_OverviewSumsTrialWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.capacity.Reserve(ctx, windowKey(domain.ServiceTrial, "08:00-10:00"), 3))
	require.NoError(t, f.capacity.Reserve(ctx, windowKey(domain.ServiceTrial, "16:00-18:00"), 1))

	ov, err := f.capacity.Overview(ctx, monday, "")
	require.NoError(t, err)
	assert.Equal(t, domain.CapacityLine{Capacity: 8, Consumed: 4, Available: 4}, ov.Services["trial"])
	assert.Equal(t, domain.SlotAllDay, ov.Slot)

	ov, err = f.capacity.Overview(ctx, monday, "08:30")
	require.NoError(t, err)
	assert.Equal(t, "08:00-10:00", ov.Slot)
	assert.Equal(t, domain.CapacityLine{Capacity: 4, Consumed: 3, Available: 1}, ov.Services["trial"])
	assert.Equal(t, 20, ov.Services["daycare"].Capacity, "daily services ignore the window")

	_, err = f.capacity.Overview(ctx, monday, "12:00")
	assert.ErrorIs(t, err, domain.ErrInvalidSlot)
}

func TestCapacity_OverrideAppliesToItsDateOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tuesday := monday.AddDate(0, 0, 1)

	require.NoError(t, f.capacity.SetOverride(ctx, domain.CapacityOverride{
		Service: domain.ServiceDaycare, DateStart: monday, DateEnd: monday, Capacity: 12,
	}))

	ov, err := f.capacity.Overview(ctx, monday, "")
	require.NoError(t, err)
	assert.Equal(t, 12, ov.Services["daycare"].Capacity)

	ov, err = f.capacity.Overview(ctx, tuesday, "")
	require.NoError(t, err)
	assert.Equal(t, 20, ov.Services["daycare"].Capacity)

	cleared, err := f.capacity.ClearOverride(ctx, domain.ServiceDaycare, monday, monday, "")
	require.NoError(t, err)
	assert.True(t, cleared)

	got, err := f.capacity.GetCapacity(ctx, key(domain.ServiceDaycare))
	require.NoError(t, err)
	assert.Equal(t, 20, got, "clearing reverts immediately")

	cleared, err = f.capacity.ClearOverride(ctx, domain.ServiceDaycare, monday, monday, "")
	require.NoError(t, err)
	assert.False(t, cleared)

	assert.Equal(t, []string{events.CapacityOverrideSet, events.CapacityOverrideCleared}, f.bus.Subjects())
}

func TestCapacity_OverrideRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.capacity.SetOverride(ctx, domain.CapacityOverride{
		Service: domain.ServiceDaycare, DateStart: monday, DateEnd: monday.AddDate(0, 0, 2), Capacity: 0,
	}))

	for d := 0; d < 4; d++ {
		got, err := f.capacity.GetCapacity(ctx, domain.NewCapacityKey(domain.ServiceDaycare, monday.AddDate(0, 0, d), ""))
		require.NoError(t, err)
		if d < 3 {
			assert.Equal(t, 0, got, "day %d", d)
		} else {
			assert.Equal(t, 20, got)
		}
	}
	assert.ErrorIs(t, f.capacity.Reserve(ctx, key(domain.ServiceDaycare), 1), domain.ErrCapacityFull)
}

func TestCapacity_OverrideValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.capacity.SetOverride(ctx, domain.CapacityOverride{
		Service: domain.ServiceDaycare, DateStart: monday, DateEnd: monday, Slot: "10:00-12:00", Capacity: 3,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSlot)

	err = f.capacity.SetOverride(ctx, domain.CapacityOverride{
		Service: domain.ServiceDaycare, DateStart: monday, DateEnd: monday.AddDate(0, 0, -1), Capacity: 3,
	})
	assert.True(t, domain.IsValidation(err))

	err = f.capacity.SetOverride(ctx, domain.CapacityOverride{
		Service: "boarding", DateStart: monday, DateEnd: monday, Capacity: 3,
	})
	assert.True(t, domain.IsValidation(err))

	err = f.capacity.SetOverride(ctx, domain.CapacityOverride{
		Service: domain.ServiceDaycare, DateStart: monday, DateEnd: monday, Slot: "16:00-18:00", Capacity: 3,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSlot, "daycare is booked per day")

	err = f.capacity.SetOverride(ctx, domain.CapacityOverride{
		Service: domain.ServiceTrial, DateStart: monday, DateEnd: monday, Capacity: 3,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSlot, "trial capacity is per window")

	require.NoError(t, f.capacity.SetOverride(ctx, domain.CapacityOverride{
		Service: domain.ServiceTrial, DateStart: monday, DateEnd: monday, Slot: "16:00-18:00", Capacity: 3,
	}))
}

func TestCapacity_SetDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.capacity.SetDefaults(ctx, map[domain.ServiceKey]int{domain.ServiceDaycare: 25}))
	defaults, err := f.capacity.ListDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, defaults[domain.ServiceDaycare])
	assert.Equal(t, 8, defaults[domain.ServiceBoardingLarge], "unset services fall back to configuration")

	assert.True(t, domain.IsValidation(f.capacity.SetDefaults(ctx, map[domain.ServiceKey]int{domain.ServiceDaycare: -1})))
	assert.True(t, domain.IsValidation(f.capacity.SetDefaults(ctx, map[domain.ServiceKey]int{"kennel": 3})))
}

func TestCapacity_ReserveAndRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key(domain.ServiceTrial)

	for i := 0; i < 4; i++ {
		require.NoError(t, f.capacity.Reserve(ctx, k, 1))
	}
	assert.ErrorIs(t, f.capacity.Reserve(ctx, k, 1), domain.ErrCapacityFull)
	assert.Equal(t, 4, f.capRepo.Consumed(k), "a refused reserve does not mutate")

	avail, err := f.capacity.GetAvailable(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 0, avail)

	for i := 0; i < 6; i++ {
		require.NoError(t, f.capacity.Release(ctx, k, 1))
	}
	assert.Equal(t, 0, f.capRepo.Consumed(k), "release floors at zero")
}

func TestCapacity_AvailableNeverNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key(domain.ServiceDaycare)

	require.NoError(t, f.capacity.Reserve(ctx, k, 5))
	require.NoError(t, f.capacity.SetOverride(ctx, domain.CapacityOverride{
		Service: domain.ServiceDaycare, DateStart: monday, DateEnd: monday, Capacity: 2,
	}))
	avail, err := f.capacity.GetAvailable(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 0, avail)
}

func TestCapacity_LastUnitRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.capacity.SetOverride(ctx, domain.CapacityOverride{
		Service: domain.ServiceDaycare, DateStart: monday, DateEnd: monday, Capacity: 1,
	}))
	k := key(domain.ServiceDaycare)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		ok    atomic.Int32
		full  atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			switch err := f.capacity.Reserve(ctx, k, 1); {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrCapacityFull):
				full.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), full.Load())
	assert.Equal(t, 1, f.capRepo.Consumed(k))
}

func TestCapacity_ManyConcurrentReservers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key(domain.ServiceBoardingLarge)

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.capacity.Reserve(ctx, k, 1) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), ok.Load())
	assert.Equal(t, 8, f.capRepo.Consumed(k))
}

func TestCapacity_ConsumedNeverExceedsCapacity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()
		capacity := rapid.IntRange(0, 6).Draw(t, "capacity")
		k := key(domain.ServiceDaycare)
		if err := f.capacity.SetOverride(ctx, domain.CapacityOverride{
			Service: domain.ServiceDaycare, DateStart: monday, DateEnd: monday, Capacity: capacity,
		}); err != nil {
			t.Fatalf("set override: %v", err)
		}

		model := 0
		ops := rapid.SliceOfN(rapid.IntRange(-2, 3), 1, 40).Draw(t, "ops")
		for _, op := range ops {
			switch {
			case op > 0:
				err := f.capacity.Reserve(ctx, k, op)
				if model+op <= capacity {
					if err != nil {
						t.Fatalf("reserve %d at %d/%d: %v", op, model, capacity, err)
					}
					model += op
				} else if !errors.Is(err, domain.ErrCapacityFull) {
					t.Fatalf("expected full at %d+%d/%d, got %v", model, op, capacity, err)
				}
			case op < 0:
				if err := f.capacity.Release(ctx, k, -op); err != nil {
					t.Fatalf("release: %v", err)
				}
				model = max(model+op, 0)
			}

			consumed := f.capRepo.Consumed(k)
			if consumed != model {
				t.Fatalf("consumed %d, model %d", consumed, model)
			}
			if consumed > capacity || consumed < 0 {
				t.Fatalf("consumed %d outside [0, %d]", consumed, capacity)
			}
		}
	})
}

func TestCapacity_ReadsAreRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key(domain.ServiceDaycare)
	require.NoError(t, f.capacity.Reserve(ctx, k, 2))

	transient := errors.New("connection reset")
	f.capRepo.GetConsumedErrs = []error{transient, transient}
	got, err := f.capacity.GetConsumed(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	f.capRepo.GetConsumedErrs = []error{transient, transient, transient}
	_, err = f.capacity.GetConsumed(ctx, k)
	assert.ErrorIs(t, err, transient)
}

func TestCapacity_ReconcileFromLiveHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.holds.CreateHold(ctx, holdInput("k1", domain.ServiceDaycare))
	require.NoError(t, err)
	require.NoError(t, f.holds.ConfirmHold(ctx, h.ID))
	_, err = f.holds.CreateHold(ctx, holdInput("k2", domain.ServiceDaycare))
	require.NoError(t, err)

	// Simulate a crash after reserve: counters drift upwards.
	require.NoError(t, f.capacity.Reserve(ctx, key(domain.ServiceDaycare), 3))
	require.NoError(t, f.capacity.Reserve(ctx, key(domain.ServiceTrial), 1))

	adj, err := f.capacity.Reconcile(ctx, monday)
	require.NoError(t, err)
	assert.Len(t, adj, 2)
	assert.Equal(t, 2, f.capRepo.Consumed(key(domain.ServiceDaycare)))
	assert.Equal(t, 0, f.capRepo.Consumed(key(domain.ServiceTrial)))

	adj, err = f.capacity.Reconcile(ctx, monday)
	require.NoError(t, err)
	assert.Empty(t, adj)
}

func TestCapacity_ReconcileRequiresHoldCounter(t *testing.T) {
	svc := NewCapacityService(testutil.NewCapacityRepo(), nil)
	_, err := svc.Reconcile(context.Background(), monday)
	assert.Error(t, err)
}
