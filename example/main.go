// Command example seeds an in-memory store with sample calendars and walks
// through the engine's lifecycle: initial viewport load, scroll expansion,
// mutations, recurrence expansion and an iCalendar export.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"tempocal/engine"
	"tempocal/grid"
	"tempocal/ics"
	"tempocal/recurrence"
	"tempocal/storage"
	"tempocal/storage/memory"
	"tempocal/viewport"
)

var alice = uuid.New()

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx := context.Background()

	store, personal := setupStorage()
	eng := engine.New(store, alice, engine.DefaultConfig, logger)

	events, cancel := eng.Subscribe()
	defer cancel()
	go func() {
		for ev := range events {
			logger.Info("engine event", "type", ev.Type, "months", ev.MonthKeys)
		}
	}()

	ctrl := viewport.New(eng, engine.DefaultConfig, logger, func(req viewport.ScrollRequest) {
		logger.Info("scroll request", "month", req.MonthID, "day", req.Day, "smooth", req.Smooth)
	})

	anchor := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
	if err := ctrl.Init(ctx, anchor); err != nil {
		log.Fatalf("viewport init failed: %v", err)
	}
	ctrl.Settle()

	months := ctrl.Months()
	fmt.Printf("Viewport covers %s through %s (%d months)\n",
		months[0].ID, months[len(months)-1].ID, len(months))

	printMonth(eng, 2025, time.June)

	// Scrolling near the bottom edge appends more months.
	ctrl.OnScroll(ctx, bottomEdgeMetrics(ctrl.Months()))
	months = ctrl.Months()
	fmt.Printf("After scrolling down: %s through %s (%d months)\n",
		months[0].ID, months[len(months)-1].ID, len(months))

	// Jumping far outside the rendered range extends the viewport to cover
	// the target month.
	if err := ctrl.GoToDate(ctx, time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)); err != nil {
		log.Fatalf("go to date failed: %v", err)
	}
	ctrl.Settle()
	fmt.Printf("After jump: current month is %s\n", ctrl.CurrentMonthLabel())

	// Mutations go through the backend first; the cache is patched from the
	// confirmed row.
	created, err := eng.CreateItem(ctx, storage.ItemDraft{
		CalendarID:  personal,
		Title:       "Quarterly review",
		Date:        mo.Some(storage.NewDate(2025, time.June, 27)),
		ScheduledAt: mo.Some(storage.TimeOfDay{Hour: 14, Minute: 0}),
		Status:      storage.StatusPending,
	})
	if err != nil {
		log.Fatalf("create failed: %v", err)
	}
	fmt.Printf("Created %q on %s\n", created.Title, created.Date.MustGet())

	moved := storage.ItemDraft{
		CalendarID: created.CalendarID,
		Title:      created.Title,
		Date:       mo.Some(storage.NewDate(2025, time.July, 4)),
		Status:     created.Status,
	}
	updated, err := eng.UpdateItem(ctx, created.ID, moved, created)
	if err != nil {
		log.Fatalf("update failed: %v", err)
	}
	fmt.Printf("Moved %q to %s\n", updated.Title, updated.Date.MustGet())

	printMonth(eng, 2025, time.June)

	fmt.Printf("Backlog holds %d unscheduled item(s)\n", len(eng.Unscheduled()))

	exportMonth(eng, 2025, time.June)
}

// setupStorage seeds calendars and items for the demo user. Returns the
// store and Alice's personal calendar id.
func setupStorage() (*memory.Store, uuid.UUID) {
	store := memory.New()

	personal := storage.Calendar{ID: uuid.New(), OwnerID: alice, Name: "Personal"}
	team := storage.Calendar{ID: uuid.New(), OwnerID: uuid.New(), Name: "Team", IsShared: true}
	store.AddCalendar(personal)
	store.AddCalendar(team, alice)

	seed := func(calendarID uuid.UUID, title, isoDate, rule string) {
		item := storage.NewMockItem(calendarID, title, isoDate)
		item.CreatedBy = alice
		item.RRule = rule
		store.SeedItem(item)
	}

	seed(personal.ID, "Dentist", "2025-06-10", "")
	seed(personal.ID, "Yoga class", "2025-06-02", "FREQ=WEEKLY;BYDAY=MO")
	seed(personal.ID, "Read that book", "", "")
	seed(team.ID, "Sprint planning", "2025-06-16", "")
	seed(team.ID, "Release day", "2025-06-27", "")
	seed(team.ID, "Offsite", "2025-08-20", "")

	return store, personal.ID
}

// printMonth renders one month's grid with per-day item counts, expanding
// recurring items into their June occurrences.
func printMonth(eng *engine.Engine, year int, month time.Month) {
	items, ok := eng.GetCachedMonth(year, month)
	if !ok {
		fmt.Printf("%d-%d not cached\n", year, month)
		return
	}

	rec := recurrence.NewEngine(recurrence.DisabledCacheConfig)
	defer rec.Close()
	byDay, err := rec.OccurrencesForMonth(items, year, month)
	if err != nil {
		log.Fatalf("recurrence expansion failed: %v", err)
	}

	m := grid.GenerateMonth(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
	fmt.Printf("\n%s\n", m.Name)
	for _, name := range grid.WeekDayNames {
		fmt.Printf("%4s", name)
	}
	fmt.Println()
	for _, week := range m.Weeks {
		for _, day := range week.Days {
			marker := " "
			if n := len(byDay[storage.DateOf(day.Date)]); n > 0 && day.IsCurrentMonth {
				marker = fmt.Sprintf("%d", n)
			}
			fmt.Printf(" %2d%s", day.DayNumber, marker)
		}
		fmt.Println()
	}
	fmt.Println()
}

// exportMonth prints the month's items as an iCalendar document.
func exportMonth(eng *engine.Engine, year int, month time.Month) {
	items, ok := eng.GetCachedMonth(year, month)
	if !ok {
		return
	}
	out, err := ics.Encode("Alice's calendar", items)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	fmt.Println(out)
}

// bottomEdgeMetrics fabricates scroll metrics sitting near the bottom of the
// rendered range, the position a UI would report after the user scrolls down.
func bottomEdgeMetrics(months []grid.Month) viewport.Metrics {
	const sectionHeight = 800
	sections := make([]viewport.Section, len(months))
	for i, m := range months {
		sections[i] = viewport.Section{
			MonthID: m.ID,
			Top:     float64(i * sectionHeight),
			Bottom:  float64((i + 1) * sectionHeight),
		}
	}
	total := float64(len(months) * sectionHeight)
	const viewportHeight = 600
	return viewport.Metrics{
		Top:            total - viewportHeight - 500,
		Height:         total,
		ViewportHeight: viewportHeight,
		Sections:       sections,
	}
}
