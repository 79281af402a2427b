package engine

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config tunes the engine and the viewport controller built on top of it.
type Config struct {
	// InitialSpan is how many months to render on each side of the anchor
	// on first load.
	InitialSpan int `env:"TEMPOCAL_INITIAL_SPAN"`
	// ExpandBatch is how many months an edge-triggered expansion adds.
	ExpandBatch int `env:"TEMPOCAL_EXPAND_BATCH"`
	// EdgeThresholdPx is the distance from a scroll edge, in pixels, below
	// which an expansion is requested.
	EdgeThresholdPx float64 `env:"TEMPOCAL_EDGE_THRESHOLD_PX"`
	// ExpandCooldown is the minimum delay between two expansions in the
	// same direction, so a single scroll gesture cannot fire a runaway
	// series of them.
	ExpandCooldown time.Duration `env:"TEMPOCAL_EXPAND_COOLDOWN"`
	// SettleDelay is how long after the initial anchor scroll (or a
	// programmatic scroll) the scroll listener stays suppressed.
	SettleDelay time.Duration `env:"TEMPOCAL_SETTLE_DELAY"`
	// MaxCachedMonths caps the month cache; LRU buckets beyond the cap are
	// evicted. 0 disables eviction.
	MaxCachedMonths int `env:"TEMPOCAL_MAX_CACHED_MONTHS"`
	// PrefetchEnabled toggles best-effort adjacent-month prefetching.
	PrefetchEnabled bool `env:"TEMPOCAL_PREFETCH"`
}

// DefaultConfig provides sensible defaults for production use. The scroll
// numbers match the reference UI: 1000px edge threshold, 500ms expansion
// cooldown, 400ms settle delay.
var DefaultConfig = Config{
	InitialSpan:     4,
	ExpandBatch:     3,
	EdgeThresholdPx: 1000,
	ExpandCooldown:  500 * time.Millisecond,
	SettleDelay:     400 * time.Millisecond,
	MaxCachedMonths: 24,
	PrefetchEnabled: true,
}

// ConfigFromEnv returns DefaultConfig overridden by any TEMPOCAL_* environment
// variables that are set.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing engine config from environment: %w", err)
	}
	return cfg, nil
}
