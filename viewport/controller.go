// Package viewport drives an infinite-scroll calendar view over a growing
// ordered list of rendered months. It owns no item data: it asks the grid
// package for structure and the engine for cache population, and reports
// scroll targets back to the UI through a callback.
//
// The controller is a state machine: scroll events are ignored until the
// initial anchor scroll has settled, and again while a programmatic (smooth)
// scroll is animating, so that neither is mistaken for user scrolling and
// fed back into the expansion logic.
package viewport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"tempocal/engine"
	"tempocal/grid"
)

// State is the controller lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateLoadingInitial
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoadingInitial:
		return "loading-initial"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Section reports where one rendered month sits in the scrollable content,
// in content-space pixels.
type Section struct {
	MonthID string // grid.Month.ID, "YYYY-MM"
	Top     float64
	Bottom  float64
}

// Metrics is a snapshot of the scrollable region, taken by the UI on every
// scroll event.
type Metrics struct {
	Top            float64 // scroll offset from the top of the content
	Height         float64 // total content height
	ViewportHeight float64
	Sections       []Section
}

// distanceFromBottom is how far the viewport's bottom edge is from the end
// of the content.
func (m Metrics) distanceFromBottom() float64 {
	return m.Height - m.Top - m.ViewportHeight
}

// ScrollRequest asks the UI to move the viewport to a month (and optionally
// a specific day within it). Smooth requests animate; the controller
// suppresses its own scroll listener for the settle delay while they play.
type ScrollRequest struct {
	MonthID string
	Day     time.Time // zero when the whole month is the target
	Smooth  bool
}

// Controller implements the viewport state machine.
type Controller struct {
	engine *engine.Engine
	cfg    engine.Config
	logger *slog.Logger
	clock  func() time.Time

	// onScroll is called when the controller needs the UI to move the
	// viewport. Never called with the mutex held.
	onScroll func(ScrollRequest)

	mu                  sync.Mutex
	state               State
	settleAt            time.Time // scroll events before this are layout noise
	programmaticUntil   time.Time
	months              []grid.Month
	anchor              time.Time
	currentYear         int
	currentMonth        time.Month
	selectedDay         time.Time
	hasSelection        bool
	topCooldownUntil    time.Time
	bottomCooldownUntil time.Time
}

// New creates a Controller. A nil logger discards log output; handler may be
// nil if the UI polls Months instead of reacting to scroll requests.
func New(eng *engine.Engine, cfg engine.Config, logger *slog.Logger, handler func(ScrollRequest)) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if handler == nil {
		handler = func(ScrollRequest) {}
	}
	return &Controller{
		engine:   eng,
		cfg:      cfg,
		logger:   logger,
		clock:    time.Now,
		onScroll: handler,
		state:    StateUninitialized,
	}
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Months returns a snapshot of the rendered month list.
func (c *Controller) Months() []grid.Month {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]grid.Month, len(c.months))
	copy(out, c.months)
	return out
}

// Init renders InitialSpan months on each side of anchor, loads the anchor
// month in the foreground and the rest best-effort, and asks the UI for an
// instant (non-smooth) scroll to the anchor. The controller flips to ready
// once Settle is called or the settle delay elapses, whichever comes first;
// until then scroll events are ignored so the first layout paint is not
// mistaken for user scrolling.
//
// Init fails only if the anchor month itself cannot be loaded; sibling
// months that fail to load still render (empty) so scrolling never sticks.
func (c *Controller) Init(ctx context.Context, anchor time.Time) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		c.logger.Warn("viewport already initialized")
		return nil
	}
	c.state = StateLoadingInitial
	c.mu.Unlock()

	anchor = grid.Truncate(anchor)

	if err := c.engine.EnsureMonth(ctx, anchor.Year(), anchor.Month()); err != nil {
		c.mu.Lock()
		c.state = StateUninitialized
		c.mu.Unlock()
		return fmt.Errorf("loading anchor month: %w", err)
	}

	months := make([]grid.Month, 0, 2*c.cfg.InitialSpan+1)
	for i := -c.cfg.InitialSpan; i <= c.cfg.InitialSpan; i++ {
		date := grid.AddMonths(anchor, i)
		if i != 0 {
			if err := c.engine.EnsureMonth(ctx, date.Year(), date.Month()); err != nil {
				c.logger.Warn("initial month load failed, rendering empty",
					"month", grid.MonthID(date.Year(), date.Month()),
					"error", err)
			}
		}
		months = append(months, grid.GenerateMonth(date))
	}

	c.engine.PrefetchAdjacent(anchor.Year(), anchor.Month())

	c.mu.Lock()
	c.months = months
	c.anchor = anchor
	c.currentYear = anchor.Year()
	c.currentMonth = anchor.Month()
	c.state = StateReady
	c.settleAt = c.clock().Add(c.cfg.SettleDelay)
	c.mu.Unlock()

	c.onScroll(ScrollRequest{
		MonthID: grid.MonthID(anchor.Year(), anchor.Month()),
		Day:     anchor,
		Smooth:  false,
	})
	return nil
}

// Settle marks the initial layout (or a programmatic scroll) as finished,
// re-enabling the scroll listener immediately instead of waiting out the
// settle delay.
func (c *Controller) Settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleAt = time.Time{}
	c.programmaticUntil = time.Time{}
}

// scrollSuppressed reports whether scroll events are currently ignored.
func (c *Controller) scrollSuppressed(now time.Time) bool {
	if c.state != StateReady {
		return true
	}
	if now.Before(c.settleAt) {
		return true
	}
	return now.Before(c.programmaticUntil)
}

// OnScroll processes one scroll event. When the viewport is within
// EdgeThresholdPx of either content edge and that direction's cooldown has
// elapsed, the rendered list is expanded by ExpandBatch months in that
// direction; the cooldown then blocks further same-direction expansions so
// one gesture cannot fire a runaway series. The current-month indicator is
// recomputed on every processed event.
func (c *Controller) OnScroll(ctx context.Context, m Metrics) {
	now := c.clock()

	c.mu.Lock()
	if c.scrollSuppressed(now) {
		c.mu.Unlock()
		return
	}

	expandUp := m.Top < c.cfg.EdgeThresholdPx && !now.Before(c.topCooldownUntil)
	expandDown := m.distanceFromBottom() < c.cfg.EdgeThresholdPx && !now.Before(c.bottomCooldownUntil)
	if expandUp {
		c.topCooldownUntil = now.Add(c.cfg.ExpandCooldown)
	}
	if expandDown {
		c.bottomCooldownUntil = now.Add(c.cfg.ExpandCooldown)
	}
	c.updateCurrentMonthLocked(m)
	c.mu.Unlock()

	if expandUp {
		c.OnNearTop(ctx)
	}
	if expandDown {
		c.OnNearBottom(ctx)
	}
}

// OnNearTop prepends ExpandBatch months before the earliest rendered month.
// Exposed so a UI with its own edge detection can drive expansion directly.
func (c *Controller) OnNearTop(ctx context.Context) {
	c.expand(ctx, -1)
}

// OnNearBottom appends ExpandBatch months after the latest rendered month.
func (c *Controller) OnNearBottom(ctx context.Context) {
	c.expand(ctx, 1)
}

// expand grows the rendered list by ExpandBatch months in the given
// direction (-1 up, +1 down). Months whose data fails to load are still
// rendered so the scroll region keeps growing; their buckets stay absent
// for RetryMonth.
func (c *Controller) expand(ctx context.Context, direction int) {
	c.mu.Lock()
	if len(c.months) == 0 {
		c.mu.Unlock()
		return
	}
	var edge time.Time
	if direction < 0 {
		edge = c.months[0].Date
	} else {
		edge = c.months[len(c.months)-1].Date
	}
	c.mu.Unlock()

	batch := make([]grid.Month, 0, c.cfg.ExpandBatch)
	for i := 1; i <= c.cfg.ExpandBatch; i++ {
		date := grid.AddMonths(edge, i*direction)
		if err := c.engine.EnsureMonth(ctx, date.Year(), date.Month()); err != nil {
			c.logger.Warn("expansion month load failed, rendering empty",
				"month", grid.MonthID(date.Year(), date.Month()),
				"error", err)
		}
		batch = append(batch, grid.GenerateMonth(date))
	}

	c.mu.Lock()
	if direction < 0 {
		// Batch was generated moving away from the edge; prepend reversed
		// to keep the list ascending.
		reversed := make([]grid.Month, 0, len(batch)+len(c.months))
		for i := len(batch) - 1; i >= 0; i-- {
			reversed = append(reversed, batch[i])
		}
		c.months = append(reversed, c.months...)
	} else {
		c.months = append(c.months, batch...)
	}
	count := len(c.months)
	c.mu.Unlock()

	c.logger.Debug("viewport expanded",
		"direction", direction,
		"batch", c.cfg.ExpandBatch,
		"rendered_months", count)
}

// RetryMonth re-attempts the fetch for a month that rendered empty after a
// failed load. Backs the UI's retry affordance.
func (c *Controller) RetryMonth(ctx context.Context, year int, month time.Month) error {
	return c.engine.EnsureMonth(ctx, year, month)
}

// updateCurrentMonthLocked recomputes which rendered month the viewport is
// "in": the first section whose bottom edge clears the viewport top by more
// than the header bias. That section is not necessarily the topmost visible
// one when a month straddles the fold.
func (c *Controller) updateCurrentMonthLocked(m Metrics) {
	const headerBias = 150

	for _, s := range m.Sections {
		if s.Bottom-m.Top > headerBias {
			year, month, err := grid.ParseMonthID(s.MonthID)
			if err != nil {
				c.logger.Warn("unparseable section id", "id", s.MonthID)
				return
			}
			if year != c.currentYear || month != c.currentMonth {
				c.currentYear = year
				c.currentMonth = month
				c.engine.PrefetchAdjacent(year, month)
			}
			return
		}
	}
}

// CurrentMonth returns the month the viewport is currently in.
func (c *Controller) CurrentMonth() (int, time.Month) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentYear, c.currentMonth
}

// CurrentMonthLabel is the "June 2025" header label.
func (c *Controller) CurrentMonthLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Date(c.currentYear, c.currentMonth, 1, 0, 0, 0, 0, time.UTC).Format("January 2006")
}

// GoToDate navigates to a specific date. If the date is outside the
// rendered range the list is first expanded toward it (explicitly, rather
// than waiting for edge detection), then the UI is asked for a smooth
// scroll; the scroll listener stays suppressed until the animation settles.
func (c *Controller) GoToDate(ctx context.Context, date time.Time) error {
	date = grid.Truncate(date)

	if err := c.extendToCover(ctx, date); err != nil {
		return err
	}
	if err := c.engine.EnsureMonth(ctx, date.Year(), date.Month()); err != nil {
		return err
	}
	c.engine.PrefetchAdjacent(date.Year(), date.Month())

	c.mu.Lock()
	c.currentYear = date.Year()
	c.currentMonth = date.Month()
	c.programmaticUntil = c.clock().Add(c.cfg.SettleDelay)
	c.mu.Unlock()

	c.onScroll(ScrollRequest{
		MonthID: grid.MonthID(date.Year(), date.Month()),
		Day:     date,
		Smooth:  true,
	})
	return nil
}

// GoToToday navigates back to the wall-clock date.
func (c *Controller) GoToToday(ctx context.Context) error {
	return c.GoToDate(ctx, c.clock())
}

// NextMonth navigates one month forward from the current indicator.
func (c *Controller) NextMonth(ctx context.Context) error {
	year, month := c.CurrentMonth()
	next := grid.AddMonths(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), 1)
	return c.GoToDate(ctx, next)
}

// PreviousMonth navigates one month back from the current indicator.
func (c *Controller) PreviousMonth(ctx context.Context) error {
	year, month := c.CurrentMonth()
	prev := grid.AddMonths(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), -1)
	return c.GoToDate(ctx, prev)
}

// extendToCover grows the rendered list batch by batch until date falls
// inside it. Structural generation only; month data loads through the
// normal expansion path.
func (c *Controller) extendToCover(ctx context.Context, date time.Time) error {
	for {
		c.mu.Lock()
		if len(c.months) == 0 {
			c.mu.Unlock()
			return fmt.Errorf("viewport not initialized")
		}
		first := c.months[0].Date
		last := c.months[len(c.months)-1]
		c.mu.Unlock()

		if date.Before(first) {
			c.expand(ctx, -1)
			continue
		}
		if !last.Contains(date) && date.After(last.Date) {
			c.expand(ctx, 1)
			continue
		}
		return nil
	}
}

// SelectDay marks a day as selected (for the day-summary pane).
func (c *Controller) SelectDay(date time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedDay = grid.Truncate(date)
	c.hasSelection = true
}

// ClearSelectedDay drops the selection.
func (c *Controller) ClearSelectedDay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedDay = time.Time{}
	c.hasSelection = false
}

// SelectedDay returns the selected day, if any.
func (c *Controller) SelectedDay() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedDay, c.hasSelection
}

// MoveSelection shifts the selection by a number of days (keyboard
// navigation: ±1 for left/right, ±7 for up/down) and navigates to the new
// day, expanding the rendered range if the move crossed out of it. With no
// current selection the move starts from today.
func (c *Controller) MoveSelection(ctx context.Context, days int) error {
	c.mu.Lock()
	base := c.selectedDay
	if !c.hasSelection {
		base = grid.Truncate(c.clock())
	}
	c.mu.Unlock()

	target := base.AddDate(0, 0, days)
	c.SelectDay(target)
	return c.GoToDate(ctx, target)
}

// Reset returns the controller to uninitialized, dropping the rendered
// list. Used on sign-out together with Engine.ResetAll.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateUninitialized
	c.months = nil
	c.anchor = time.Time{}
	c.selectedDay = time.Time{}
	c.hasSelection = false
	c.settleAt = time.Time{}
	c.programmaticUntil = time.Time{}
	c.topCooldownUntil = time.Time{}
	c.bottomCooldownUntil = time.Time{}
	now := c.clock()
	c.currentYear = now.Year()
	c.currentMonth = now.Month()
}
