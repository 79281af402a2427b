package recurrence

import (
	"time"
)

// CacheConfig holds configuration for the expansion result cache
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries before cleanup
	CleanupInterval time.Duration // How often to run cleanup
}

// DefaultCacheConfig provides sensible defaults for result caching
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// Config holds configuration options for the recurrence engine
type Config struct {
	CacheEnabled bool
	Cache        CacheConfig

	// MaxOccurrences caps a single expansion so a dense rule over a wide
	// range cannot balloon; 0 means unlimited.
	MaxOccurrences int
}

// DefaultConfig provides sensible defaults for production use
var DefaultConfig = Config{
	CacheEnabled:   true,
	Cache:          DefaultCacheConfig,
	MaxOccurrences: 100,
}

// DisabledCacheConfig turns off result caching entirely
var DisabledCacheConfig = Config{
	CacheEnabled:   false,
	MaxOccurrences: 100,
}
