package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
)

var (
	sunday   = time.Date(2025, 10, 19, 0, 0, 0, 0, time.UTC)
	monday   = time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)
	saturday = time.Date(2025, 10, 25, 0, 0, 0, 0, time.UTC)
)

func ids(ws []Window) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.ID())
	}
	return out
}

func TestWindowsFor(t *testing.T) {
	assert.Equal(t, []string{"16:00-18:00"}, ids(WindowsFor(sunday)))
	assert.Equal(t, []string{"09:00-11:00", "16:00-18:00"}, ids(WindowsFor(saturday)))
	assert.Equal(t, []string{"08:00-10:00", "16:00-18:00"}, ids(WindowsFor(monday)))

	for d := 0; d < 7; d++ {
		assert.NotEmpty(t, WindowsFor(monday.AddDate(0, 0, d)), "open every day")
	}
}

func TestWindowsForDate_Malformed(t *testing.T) {
	assert.Empty(t, WindowsForDate("20-10-2025"))
	assert.Empty(t, WindowsForDate(""))
	assert.Len(t, WindowsForDate("2025-10-19"), 1)
}

func TestIsSlotValid(t *testing.T) {
	tests := []struct {
		name string
		day  time.Time
		slot string
		want bool
	}{
		{"sunday morning start", sunday, "10:00", false},
		{"sunday evening start", sunday, "16:00", true},
		{"sunday evening range", sunday, "16:00-18:00", true},
		{"sunday evening label", sunday, "16:00–18:00", true},
		{"start inside window", sunday, "17:59", true},
		{"start at window close", sunday, "18:00", false},
		{"partial range", sunday, "16:00-17:00", false},
		{"weekday morning", monday, "08:30", true},
		{"saturday uses later morning", saturday, "08:30", false},
		{"saturday morning range", saturday, "09:00-11:00", true},
		{"unknown format", monday, "8am", false},
		{"bad clock", monday, "25:00", false},
		{"empty", monday, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSlotValid(tt.day, tt.slot))
		})
	}
}

func TestEnumerateSlots(t *testing.T) {
	got := EnumerateSlots(sunday, 30*time.Minute)
	assert.Equal(t, []string{"16:00", "16:30", "17:00", "17:30"}, got)

	all := EnumerateSlots(monday, time.Minute)
	assert.Len(t, all, 240)
	assert.Equal(t, "09:59", all[119])

	assert.Nil(t, EnumerateSlots(monday, 0))
}

func TestCanonicalSlot(t *testing.T) {
	got, err := CanonicalSlot(monday, "08:45")
	require.NoError(t, err)
	assert.Equal(t, "08:00-10:00", got)

	got, err = CanonicalSlot(monday, "")
	require.NoError(t, err)
	assert.Equal(t, domain.SlotAllDay, got)

	_, err = CanonicalSlot(sunday, "10:00")
	assert.ErrorIs(t, err, domain.ErrInvalidSlot)
	assert.True(t, domain.IsValidation(err))
}

func TestWindow_IsPM(t *testing.T) {
	assert.False(t, morningWeekday.IsPM())
	assert.True(t, evening.IsPM())
}

func TestLedgerSlot(t *testing.T) {
	tests := []struct {
		name    string
		service domain.ServiceKey
		slot    string
		want    string
		invalid bool
	}{
		{"daycare is daily", domain.ServiceDaycare, "", domain.SlotAllDay, false},
		{"daycare explicit all day", domain.ServiceDaycare, "all_day", domain.SlotAllDay, false},
		{"daycare rejects a window", domain.ServiceDaycare, "08:00", "", true},
		{"boarding rejects a window", domain.ServiceBoardingLarge, "16:00-18:00", "", true},
		{"trial maps to its window", domain.ServiceTrial, "08:15", "08:00-10:00", false},
		{"trial needs a window", domain.ServiceTrial, "", "", true},
		{"trial rejects all day", domain.ServiceTrial, domain.SlotAllDay, "", true},
		{"trial closed window", domain.ServiceTrial, "12:00", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LedgerSlot(tt.service, monday, tt.slot)
			if tt.invalid {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidSlot)
				assert.True(t, domain.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
