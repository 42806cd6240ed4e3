package terms

import "time"

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddMonths advances t by months. The month index wraps with an explicit
// year carry, so 14 months is one year and two months. A day that does not
// exist in the target month is clamped to its last day (Jan 31 + 1 = Feb 28).
func AddMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()

	index := int(month) - 1 + months
	year += floorDiv(index, 12)
	month = time.Month(index - floorDiv(index, 12)*12 + 1)

	if last := daysIn(year, month); day > last {
		day = last
	}

	hour, minute, sec := t.Clock()
	return time.Date(year, month, day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
