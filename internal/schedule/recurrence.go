package schedule

import "time"

// NextOccurrence returns base advanced by one recurrence period. Months are
// added on the calendar, so Jan 31 + 1 month normalizes into March the way
// time.AddDate does. Unknown or empty tags report false.
func NextOccurrence(base time.Time, r Recurrence) (time.Time, bool) {
	switch r {
	case RecurrenceDaily:
		return base.AddDate(0, 0, 1), true
	case RecurrenceWeekly:
		return base.AddDate(0, 0, 7), true
	case RecurrenceMonthly:
		return base.AddDate(0, 1, 0), true
	}
	return time.Time{}, false
}

// nextAfter returns the first occurrence of scheduled's cadence that is
// after now. A row that ran very late therefore skips the periods it missed.
// Occurrences are counted from scheduled, so month-end days do not drift.
func nextAfter(scheduled, now time.Time, r Recurrence) (time.Time, bool) {
	now = now.In(scheduled.Location())
	var (
		at func(k int) time.Time
		k  int
	)
	switch r {
	case RecurrenceDaily, RecurrenceWeekly:
		days := 1
		if r == RecurrenceWeekly {
			days = 7
		}
		at = func(k int) time.Time { return scheduled.AddDate(0, 0, k*days) }
		k = int(now.Sub(scheduled) / (time.Duration(days) * 24 * time.Hour))
	case RecurrenceMonthly:
		at = func(k int) time.Time { return scheduled.AddDate(0, k, 0) }
		k = (now.Year()-scheduled.Year())*12 + int(now.Month()) - int(scheduled.Month())
	default:
		return time.Time{}, false
	}
	// The estimate is within one period; back off by one for DST and month lengths.
	k = max(k-1, 1)
	next := at(k)
	for !next.After(now) {
		k++
		next = at(k)
	}
	return next, true
}
