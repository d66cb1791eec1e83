package service

import (
	"time"

	"github.com/diagnosis/pawstay-bookings/pkg/clock"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/testutil"
)

// monday is a weekday with two open windows.
var monday = time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)

var testDefaults = map[string]int{
	"daycare":        20,
	"boarding:small": 10,
	"boarding:large": 8,
	"trial":          4,
}

type fixture struct {
	capRepo  *testutil.CapacityRepo
	holdRepo *testutil.HoldRepo
	bus      *testutil.RecordingBus
	clock    *clock.Fake
	capacity CapacityService
	holds    HoldService
}

// newFixture accepts *testing.T and *rapid.T.
func newFixture(t interface{ Helper() }, opts ...HoldOption) *fixture {
	t.Helper()
	f := &fixture{
		capRepo:  testutil.NewCapacityRepo(),
		holdRepo: testutil.NewHoldRepo(),
		bus:      &testutil.RecordingBus{},
		clock:    clock.NewFake(time.Date(2025, 10, 18, 9, 0, 0, 0, time.UTC)),
	}
	f.capacity = NewCapacityService(f.capRepo, f.holdRepo,
		WithFallbackDefaults(testDefaults),
		WithCapacityEvents(f.bus),
		WithCapacityClock(f.clock),
	)
	opts = append([]HoldOption{WithHoldTTL(10 * time.Minute), WithHoldEvents(f.bus)}, opts...)
	f.holds = NewHoldService(f.holdRepo, f.capacity, f.clock, opts...)
	return f
}

func key(service domain.ServiceKey) domain.CapacityKey {
	return domain.NewCapacityKey(service, monday, domain.SlotAllDay)
}

func windowKey(service domain.ServiceKey, window string) domain.CapacityKey {
	return domain.NewCapacityKey(service, monday, window)
}

func holdInput(idem string, service domain.ServiceKey) CreateHoldInput {
	return CreateHoldInput{
		IdempotencyKey: idem,
		Service:        service,
		Date:           monday,
		UserEmail:      "Owner@PawStay.test",
	}
}
