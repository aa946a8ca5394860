package generic

import (
	"time"
)

// =============================================================================
// DATE HELPERS - Calendar arithmetic that never reads the wall clock
// =============================================================================

// All helpers compute in the location of their input so that a cycle resolved
// for a Saigon-local timestamp has Saigon-local boundaries.

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfMonth returns the first instant of t's month.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampedDate returns day `day` of the month, clamped to the month's last day.
// ClampedDate(2024, February, 31, loc) is 2024-02-29.
func ClampedDate(year int, month time.Month, day int, loc *time.Location) time.Time {
	// Normalize month overflow first (month 13 = January next year).
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := DaysInMonth(first.Year(), first.Month())
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, loc)
}

// ParseDate parses a YYYY-MM-DD date (or a full RFC3339 timestamp) in UTC.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// FormatDate formats t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
