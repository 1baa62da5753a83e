package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func mondaySchedule() *Schedule {
	return &Schedule{
		ID:         1,
		TimeOfDay:  "09:00",
		Weekdays:   map[time.Weekday]bool{time.Monday: true},
		AmountUSDT: decimal.NewFromInt(50),
		Mode:       ModeGlobal,
		Active:     true,
	}
}

func TestScheduleDueAt(t *testing.T) {
	s := mondaySchedule()
	loc := time.UTC

	monday := time.Date(2025, 9, 29, 9, 0, 10, 0, loc) // within 15s window
	due, err := s.DueAt(monday)
	require.NoError(t, err)
	require.True(t, due)

	late := time.Date(2025, 9, 29, 9, 0, 16, 0, loc)
	due, err = s.DueAt(late)
	require.NoError(t, err)
	require.False(t, due)

	tuesday := time.Date(2025, 9, 30, 9, 0, 0, 0, loc)
	due, err = s.DueAt(tuesday)
	require.NoError(t, err)
	require.False(t, due)
}

func TestScheduleInactiveNeverDue(t *testing.T) {
	s := mondaySchedule()
	s.Active = false
	for day := 0; day < 7; day++ {
		now := time.Date(2025, 9, 29+day, 9, 0, 0, 0, time.UTC)
		due, err := s.DueAt(now)
		require.NoError(t, err)
		require.False(t, due)
	}
}

func TestScheduleMalformedTime(t *testing.T) {
	s := mondaySchedule()
	s.TimeOfDay = "25:99"
	_, err := s.DueAt(time.Date(2025, 9, 29, 9, 0, 0, 0, time.UTC))
	require.Error(t, err)
}

func TestParseWeekdaysRoundTrip(t *testing.T) {
	days, err := ParseWeekdays("mon, Wed ,fri")
	require.NoError(t, err)
	require.True(t, days[time.Monday])
	require.True(t, days[time.Wednesday])
	require.True(t, days[time.Friday])
	require.False(t, days[time.Sunday])
	require.Equal(t, "mon,wed,fri", WeekdaysCSV(days))

	_, err = ParseWeekdays("funday")
	require.Error(t, err)
}

func TestFireMarkerIncludesScheduleIDDateAndTime(t *testing.T) {
	s := mondaySchedule()
	now := time.Date(2025, 9, 29, 9, 0, 3, 0, time.UTC)
	require.Equal(t, "1 2025-09-29 09:00", s.FireMarker(now))

	other := mondaySchedule()
	other.ID = 2
	require.NotEqual(t, s.FireMarker(now), other.FireMarker(now))
}
