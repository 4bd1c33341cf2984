package credits

import (
	"fmt"
	"time"
)

// MonthsElapsed returns the number of whole calendar months between from
// and now, preserving the anniversary day-of-month across months and
// clamping to the last day of shorter months.
//
// For example, with from = Jan 31:
//   - Feb 27 -> 0
//   - Feb 28 -> 1 (Jan 31 + 1 month clamps to Feb 28)
//   - Mar 31 -> 2
func MonthsElapsed(from, now time.Time) int {
	f := from.UTC()
	n := now.UTC()
	if !n.After(f) {
		// Clock skew / future baseline: nothing has elapsed.
		return 0
	}

	originalDay := f.Day()
	months := 0
	for {
		next := addMonthsSafeWithDay(f, months+1, originalDay)
		if next.After(n) {
			return months
		}
		months++
	}
}

// ResetCycleKey synthesizes the idempotency key for one sweep cycle of one
// subscription. Keyed on the calendar month of the sweep, so running the
// sweep any number of times within the same month applies at most one
// grant.
func ResetCycleKey(subscriptionID string, now time.Time) string {
	return fmt.Sprintf("reset:%s:%s", subscriptionID, now.UTC().Format("2006-01"))
}

// addMonthsSafeWithDay adds months while preserving the target day-of-month
// when possible. If the target day doesn't exist in the result month
// (e.g. Feb 31), it uses the last day of that month.
func addMonthsSafeWithDay(base time.Time, months, targetDay int) time.Time {
	year, month, _ := base.Date()
	targetDate := time.Date(year, month+time.Month(months), 1,
		base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())

	// day=0 of month+1 is the last day of month.
	lastDay := time.Date(targetDate.Year(), targetDate.Month()+1, 0, 0, 0, 0, 0, targetDate.Location()).Day()

	actualDay := targetDay
	if actualDay > lastDay {
		actualDay = lastDay
	}

	return time.Date(targetDate.Year(), targetDate.Month(), actualDay,
		base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())
}
