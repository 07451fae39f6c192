// Package calendar decides whether persisted step state still belongs to the current local day.
package calendar

import "time"

// DateLayout is the persisted calendar-date format (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// Clock abstracts the local clock so tests can pin "today".
type Clock interface {
	Now() time.Time
}

// SystemClock reads the local wall clock.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always reports the same instant.
type FixedClock time.Time

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time { return time.Time(c) }

// Format renders t as a calendar-date string in t's own location.
func Format(t time.Time) string {
	return t.Format(DateLayout)
}

// Today formats the clock's current local date.
func Today(clock Clock) string {
	if clock == nil {
		clock = SystemClock{}
	}
	return Format(clock.Now())
}

// SameDay reports whether storedDate is still today. An empty stored date (first run) never is.
func SameDay(storedDate, today string) bool {
	if storedDate == "" {
		return false
	}
	return storedDate == today
}
