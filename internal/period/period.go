// Package period implements the calendar arithmetic behind billing schedules:
// counting whole billing periods in a date range and stepping a billing date
// forward by whole months with an explicit short-month clamp.
//
// All functions operate on calendar dates in UTC. Time-of-day components are
// dropped on input so results are stable regardless of the caller's location.
package period

import "time"

// Unit is the length of a billing period in calendar months.
type Unit int

const (
	Month   Unit = 1
	Quarter Unit = 3
	Year    Unit = 12
)

// Date normalizes t to midnight UTC of its calendar date.
func Date(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// WholeMonthsBetween returns the number of complete months from start to end,
// ignoring any day remainder. A month is complete when start advanced by that
// many months, clamped to the target month's length, does not pass end.
// It returns a negative value when end precedes start.
func WholeMonthsBetween(start, end time.Time) int {
	start, end = Date(start), Date(end)
	if end.Before(start) {
		return -WholeMonthsBetween(end, start)
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()-start.Month())
	if AddMonthsClamped(start, months, start.Day()).After(end) {
		months--
	}
	return months
}

// Count returns how many periods of unit begin within [start, end]. A range
// where end precedes start holds no periods.
func Count(unit Unit, start, end time.Time) int {
	if unit <= 0 || start.IsZero() || end.IsZero() {
		return 0
	}
	if Date(end).Before(Date(start)) {
		return 0
	}
	return WholeMonthsBetween(start, end)/int(unit) + 1
}

// AdjustToDay moves date to day within the same month, clamped to the month's last day.
// A non-positive day keeps the date's own day.
func AdjustToDay(date time.Time, day int) time.Time {
	date = Date(date)
	if day <= 0 {
		return date
	}
	last := DaysIn(date.Year(), date.Month())
	if day > last {
		day = last
	}
	return time.Date(date.Year(), date.Month(), day, 0, 0, 0, 0, time.UTC)
}

// AddMonthsClamped advances date by months and places the result on anchorDay,
// clamped to the target month's last day. The anchor is reapplied on every call,
// so a schedule anchored on the 31st lands on Feb 28 and returns to Mar 31
// instead of drifting.
func AddMonthsClamped(date time.Time, months, anchorDay int) time.Time {
	date = Date(date)
	if anchorDay <= 0 {
		anchorDay = date.Day()
	}
	first := time.Date(date.Year(), date.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	return AdjustToDay(first, anchorDay)
}

// Step advances date by one period of unit, anchored on anchorDay.
func Step(date time.Time, unit Unit, anchorDay int) time.Time {
	return AddMonthsClamped(date, int(unit), anchorDay)
}

// Sequence lists the billing dates from start, adjusted to anchorDay, stepping
// by unit while the date is on or before end.
func Sequence(start, end time.Time, unit Unit, anchorDay int) []time.Time {
	if unit <= 0 || start.IsZero() || end.IsZero() {
		return nil
	}
	end = Date(end)
	current := AdjustToDay(start, anchorDay)
	anchor := anchorDay
	if anchor <= 0 {
		anchor = current.Day()
	}

	var out []time.Time
	for !current.After(end) {
		out = append(out, current)
		current = Step(current, unit, anchor)
	}
	return out
}

// AddDays adds whole calendar days to date.
func AddDays(date time.Time, days int) time.Time {
	return Date(date).AddDate(0, 0, days)
}

// DaysBetween returns the signed number of calendar days from start to end.
func DaysBetween(start, end time.Time) int {
	return int(Date(end).Sub(Date(start)).Hours() / 24)
}
