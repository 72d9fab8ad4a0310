package config

import "time"

// CacheConfig controls the Redis read-through cache for member display
// fields.  Member profiles change rarely, while the pending listing and
// every issuance look them up, so a short TTL keeps MySQL reads down
// without serving noticeably stale names.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadCacheConfig reads CACHE_* variables, falling back to defaults.
func LoadCacheConfig() CacheConfig {
	c := CacheConfig{
		Enabled: envBool("CACHE_ENABLED", true),
		TTL:     envDur("CACHE_TTL", 5*time.Minute),
		Prefix:  envStr("CACHE_PREFIX", "cache"),
	}
	if c.TTL <= 0 {
		c.TTL = time.Minute
	}
	return c
}
