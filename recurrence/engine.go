// Package recurrence expands repeating items into concrete dates at query
// time. Recurring items stay single rows in the backing store and occupy one
// month bucket at most; the expansion here is purely a read-side view, so
// the cache's one-bucket-per-item invariant is never touched.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"tempocal/storage"
)

// Engine performs recurrence expansion, with an optional bounded cache of
// expansion results.
type Engine struct {
	config Config
	cache  *resultCache
}

// NewEngine creates a recurrence engine with the given configuration.
func NewEngine(config Config) *Engine {
	e := &Engine{config: config}
	if config.CacheEnabled {
		e.cache = newResultCache(config.Cache)
	}
	return e
}

// Close releases the engine's cache resources.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// ExpandInRange returns every date on which the item occurs within
// [rangeStart, rangeEnd] inclusive, in ascending order.
//
// A non-recurring item yields its own date if it falls in the range. A
// recurring item is expanded from its date (the rule anchor) through the
// range, capped at MaxOccurrences; items past the cap are silently dropped,
// matching how far any month-sized window can reasonably reach.
// An unscheduled item yields nothing: a rule with no anchor has no
// occurrences.
func (e *Engine) ExpandInRange(item storage.Item, rangeStart, rangeEnd storage.Date) ([]storage.Date, error) {
	anchor, ok := item.Date.Get()
	if !ok {
		return nil, nil
	}

	if item.RRule == "" {
		if anchor.Before(rangeStart) || anchor.After(rangeEnd) {
			return nil, nil
		}
		return []storage.Date{anchor}, nil
	}

	if e.cache != nil {
		if dates, found := e.cache.Get(item.RRule, anchor, rangeStart, rangeEnd); found {
			return dates, nil
		}
	}

	dates, err := e.expandRRule(item.RRule, anchor, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Set(item.RRule, anchor, rangeStart, rangeEnd, dates)
	}
	return dates, nil
}

// expandRRule parses and expands the rule anchored at the item's date.
func (e *Engine) expandRRule(rruleStr string, anchor, rangeStart, rangeEnd storage.Date) ([]storage.Date, error) {
	dtstart := anchor.Time(time.UTC).Format("20060102T150405Z")
	fullRRule := fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, rruleStr)

	ruleSet, err := rrule.StrToRRuleSet(fullRRule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE %q: %w", rruleStr, err)
	}

	// Between is inclusive of start, exclusive of end, so push the end one
	// day out to keep the date range inclusive on both sides.
	occurrences := ruleSet.Between(
		rangeStart.Time(time.UTC),
		rangeEnd.AddDays(1).Time(time.UTC),
		true,
	)

	max := e.config.MaxOccurrences
	if max > 0 && len(occurrences) > max {
		occurrences = occurrences[:max]
	}

	dates := make([]storage.Date, 0, len(occurrences))
	for _, occ := range occurrences {
		dates = append(dates, storage.DateOf(occ.UTC()))
	}
	return dates, nil
}

// OccurrencesForMonth merges plain and recurring items into a per-day view
// of one month. Plain items land on their own date; recurring items land on
// every expansion date inside the month. The per-day slices preserve the
// input item order.
func (e *Engine) OccurrencesForMonth(items []storage.Item, year int, month time.Month) (map[storage.Date][]storage.Item, error) {
	start, end := storage.MonthRange(year, month)

	byDay := make(map[storage.Date][]storage.Item)
	for _, item := range items {
		dates, err := e.ExpandInRange(item, start, end)
		if err != nil {
			return nil, fmt.Errorf("expanding item %s: %w", item.ID, err)
		}
		for _, d := range dates {
			byDay[d] = append(byDay[d], item)
		}
	}
	return byDay, nil
}
