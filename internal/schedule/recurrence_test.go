package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextOccurrence(t *testing.T) {
	base := time.Date(2024, 1, 31, 9, 30, 0, 0, time.UTC)
	cases := []struct {
		r    Recurrence
		want time.Time
		ok   bool
	}{
		{RecurrenceDaily, time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC), true},
		{RecurrenceWeekly, time.Date(2024, 2, 7, 9, 30, 0, 0, time.UTC), true},
		// Feb 31 2024 normalizes to Mar 2 (leap year).
		{RecurrenceMonthly, time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC), true},
		{RecurrenceNone, time.Time{}, false},
		{Recurrence("hourly"), time.Time{}, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.r), func(t *testing.T) {
			got, ok := NextOccurrence(base, tc.r)
			require.Equal(t, tc.ok, ok)
			require.True(t, tc.want.Equal(got), "got %s want %s", got, tc.want)
		})
	}
}

func TestNextAfter_SkipsMissedPeriods(t *testing.T) {
	scheduled := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	now := time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC)
	got, ok := nextAfter(scheduled, now, RecurrenceDaily)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 5, 4, 8, 0, 0, 0, time.UTC), got)

	got, ok = nextAfter(scheduled, scheduled, RecurrenceWeekly)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 5, 8, 8, 0, 0, 0, time.UTC), got)

	_, ok = nextAfter(scheduled, now, RecurrenceNone)
	require.False(t, ok)
}

func TestNextAfter_FarPastLandsInFuture(t *testing.T) {
	scheduled := time.Date(1990, 3, 10, 6, 0, 0, 0, time.UTC)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	cases := map[Recurrence]time.Time{
		RecurrenceDaily:   time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC),
		RecurrenceMonthly: time.Date(2026, 11, 10, 6, 0, 0, 0, time.UTC),
	}
	for r, want := range cases {
		got, ok := nextAfter(scheduled, now, r)
		require.True(t, ok)
		require.Equal(t, want, got, string(r))
	}

	got, ok := nextAfter(scheduled, now, RecurrenceWeekly)
	require.True(t, ok)
	require.True(t, got.After(now))
	require.LessOrEqual(t, got.Sub(now), 7*24*time.Hour)
	require.Equal(t, scheduled.Weekday(), got.Weekday())
}

func TestNextAfter_MonthEndKeepsAnchorDay(t *testing.T) {
	scheduled := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	now := time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC)
	got, ok := nextAfter(scheduled, now, RecurrenceMonthly)
	require.True(t, ok)
	// Jan 31 + 3 months normalizes to May 1.
	require.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), got)
}

func TestParseRecurrence(t *testing.T) {
	for in, want := range map[string]Recurrence{"": RecurrenceNone, "none": RecurrenceNone, "daily": RecurrenceDaily, "weekly": RecurrenceWeekly, "monthly": RecurrenceMonthly} {
		got, err := ParseRecurrence(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseRecurrence("yearly")
	require.ErrorIs(t, err, ErrInvalidRecurrence)
}
