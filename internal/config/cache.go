package config

import "time"

// CacheConfig controls the Redis response cache wrapped around the
// static seat-map layout endpoint. Only GET responses are cached; the
// live availability snapshot and the stream are never cached because
// their whole point is freshness. When Enabled is false or no Redis
// client is available the middleware passes requests straight through.
type CacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// Layouts only change when a floor plan is re-published, so the default
// TTL is generous.
func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		TTL:          envDur("CACHE_TTL", 5*time.Minute),
		Prefix:       envStr("CACHE_PREFIX", "cache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1048576),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	return cfg
}
