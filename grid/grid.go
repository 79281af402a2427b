// Package grid generates the day/week/month structure of a calendar view.
// It is pure computation: no I/O, no stored state, and no item data. The
// structures it produces are merged with cached items by the caller.
package grid

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// Truncate normalizes t to midnight UTC, keeping only the calendar date.
func Truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfMonth returns the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EndOfMonth returns the last day of t's month.
func EndOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}

// StartOfWeek returns the Monday on or before t. Weeks always start on
// Monday; this is a fixed policy, not a locale setting.
func StartOfWeek(t time.Time) time.Time {
	t = Truncate(t)
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	return t.AddDate(0, 0, -offset)
}

// EndOfWeek returns the Sunday on or after t.
func EndOfWeek(t time.Time) time.Time {
	return StartOfWeek(t).AddDate(0, 0, 6)
}

// AddMonths shifts t by n calendar months, anchored at the first of the
// month so that day-of-month overflow can never skip a month.
func AddMonths(t time.Time, n int) time.Time {
	return time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
}

// MonthID formats the "YYYY-MM" identifier used by Month.ID and Week.MonthKey.
func MonthID(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

// ParseMonthID is the inverse of MonthID.
func ParseMonthID(id string) (year int, month time.Month, err error) {
	var m int
	if _, err = fmt.Sscanf(id, "%d-%d", &year, &m); err != nil {
		return 0, 0, fmt.Errorf("invalid month id %q: %w", id, err)
	}
	if m < 1 || m > 12 {
		return 0, 0, fmt.Errorf("invalid month id %q: month out of range", id)
	}
	return year, time.Month(m), nil
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// SameMonth reports whether a and b fall in the same calendar month.
func SameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// GenerateMonth produces the grid for the month containing anchor, with
// IsToday snapshotted against the current wall-clock date.
func GenerateMonth(anchor time.Time) Month {
	return GenerateMonthAt(anchor, time.Now())
}

// GenerateMonthAt is GenerateMonth with an explicit "today", for callers
// that need deterministic output.
func GenerateMonthAt(anchor, today time.Time) Month {
	anchor = Truncate(anchor)
	monthStart := StartOfMonth(anchor)

	days := generateDays(anchor, today)
	weeks := buildWeeks(days)

	return Month{
		ID:          MonthID(anchor.Year(), anchor.Month()),
		Date:        monthStart,
		Name:        monthStart.Format("January 2006"),
		MonthNumber: int(anchor.Month()) - 1,
		Year:        anchor.Year(),
		Days:        days,
		Weeks:       weeks,
	}
}

// generateDays enumerates every date from the Monday on/before the first of
// the month through the Sunday on/after the last.
func generateDays(anchor, today time.Time) []Day {
	gridStart := StartOfWeek(StartOfMonth(anchor))
	gridEnd := EndOfWeek(EndOfMonth(anchor))

	n := int(gridEnd.Sub(gridStart)/day) + 1
	days := make([]Day, 0, n)
	for d := gridStart; !d.After(gridEnd); d = d.AddDate(0, 0, 1) {
		days = append(days, Day{
			Date:           d,
			DayNumber:      d.Day(),
			WeekdayLabel:   d.Format("Monday"),
			WeekdayIndex:   (int(d.Weekday()) + 6) % 7,
			InMonthLabel:   d.Format("Jan"),
			IsCurrentMonth: SameMonth(d, anchor),
			IsToday:        SameDay(d, today),
		})
	}
	return days
}

// buildWeeks partitions days into 7-day runs. A week that straddles a month
// boundary is attributed to the month of its first in-month day; a week with
// no in-month day falls back to the date six days past the grid start. The
// fallback can't actually occur for grids produced by generateDays, whose
// weeks all touch the anchor month; it only matters for day slices built
// some other way.
func buildWeeks(days []Day) []Week {
	weeks := make([]Week, 0, len(days)/7)
	for i := 0; i+7 <= len(days); i += 7 {
		chunk := days[i : i+7 : i+7]

		attrib := days[0].Date.AddDate(0, 0, 6)
		for _, d := range chunk {
			if d.IsCurrentMonth {
				attrib = d.Date
				break
			}
		}

		start := chunk[0].Date
		_, isoWeek := start.ISOWeek()

		weeks = append(weeks, Week{
			Start:      start,
			End:        chunk[6].Date,
			WeekNumber: isoWeek,
			Year:       start.Year(),
			MonthKey:   MonthID(attrib.Year(), attrib.Month()),
			MonthLabel: attrib.Format("January"),
			Days:       chunk,
		})
	}
	return weeks
}

// WeekDayNames are the column headers of the grid, in rendering order.
var WeekDayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
