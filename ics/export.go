// Package ics renders calendar items as an iCalendar document, suitable for
// download or interchange with other calendar software.
package ics

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"tempocal/storage"
)

const productID = "-//tempocal//Calendar Export//EN"

// Export builds a VCALENDAR containing one VEVENT per scheduled item.
// Unscheduled items have no date to anchor an event on and are skipped.
func Export(calendarName string, items []storage.Item) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	if calendarName != "" {
		cal.Props.SetText(ical.PropName, calendarName)
	}

	for _, item := range items {
		event := exportEvent(item)
		if event != nil {
			cal.Children = append(cal.Children, event)
		}
	}
	return cal
}

// Encode renders the calendar for the given items as an iCalendar string.
func Encode(calendarName string, items []storage.Item) (string, error) {
	cal := Export(calendarName, items)

	var buf strings.Builder
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.String(), nil
}

func exportEvent(item storage.Item) *ical.Component {
	date, ok := item.Date.Get()
	if !ok {
		return nil
	}

	event := ical.NewComponent(ical.CompEvent)
	event.Props.SetText(ical.PropUID, item.ID.String())
	event.Props.SetText(ical.PropSummary, item.Title)
	if item.Description != "" {
		event.Props.SetText(ical.PropDescription, item.Description)
	}
	if item.Location != "" {
		event.Props.SetText(ical.PropLocation, item.Location)
	}

	if tod, timed := item.ScheduledAt.Get(); timed {
		event.Props.SetDateTime(ical.PropDateTimeStart, tod.At(date, time.UTC))
	} else {
		// All-day events carry a bare DATE value.
		start := ical.NewProp(ical.PropDateTimeStart)
		start.SetValueType(ical.ValueDate)
		start.Value = date.Time(time.UTC).Format("20060102")
		event.Props.Set(start)
	}

	if item.RRule != "" {
		event.Props.SetText(ical.PropRecurrenceRule, item.RRule)
	}
	if item.Status == storage.StatusCompleted {
		event.Props.SetText(ical.PropStatus, "COMPLETED")
	}

	stamp := item.UpdatedAt
	if stamp.IsZero() {
		stamp = item.CreatedAt
	}
	if stamp.IsZero() {
		stamp = time.Now()
	}
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp)

	return event
}
