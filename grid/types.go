package grid

import (
	"time"
)

// Day is a single cell of the calendar grid. It is derived data: regenerating
// the owning Month recomputes every Day from scratch.
//
// IsToday is a snapshot taken at generation time. A Month generated yesterday
// still reports yesterday's date as today; callers that need a fresh value
// must regenerate the month.
type Day struct {
	Date           time.Time // midnight UTC
	DayNumber      int       // 1..31
	WeekdayLabel   string    // "Monday"
	WeekdayIndex   int       // Monday = 0 .. Sunday = 6
	InMonthLabel   string    // short month name, e.g. "Jun"
	IsCurrentMonth bool
	IsToday        bool
}

// Week is a run of exactly 7 contiguous days, Monday through Sunday.
type Week struct {
	Start      time.Time // always a Monday
	End        time.Time // Start + 6 days
	WeekNumber int       // ISO 8601 week number
	Year       int
	MonthKey   string // "YYYY-MM" of the month this week is attributed to
	MonthLabel string // full month name, e.g. "June"
	Days       []Day
}

// Month is the full grid for one calendar month. Days spans every week that
// touches the month, so it may begin or end with up to 6 days belonging to
// the adjacent months (those carry IsCurrentMonth == false).
//
// Invariant: len(Days) is a multiple of 7, and every Week.Days is a
// contiguous 7-day slice of Days.
type Month struct {
	ID          string    // "YYYY-MM"
	Date        time.Time // first day of the month, midnight UTC
	Name        string    // "June 2025"
	MonthNumber int       // 0-indexed, January = 0
	Year        int
	Days        []Day
	Weeks       []Week
}

// Contains reports whether date falls inside the month's grid, including
// the padding days pulled in from adjacent months.
func (m Month) Contains(date time.Time) bool {
	if len(m.Days) == 0 {
		return false
	}
	d := Truncate(date)
	first := m.Days[0].Date
	last := m.Days[len(m.Days)-1].Date
	return !d.Before(first) && !d.After(last)
}
