package config

import "time"

// HoldConfig bounds the hold lifecycle and the realtime stream. TTLs
// outside [MinTTL, MaxTTL] are clamped by the manager, MaxLifetime caps
// how far extensions can push a hold, and the sweep settings bound how
// long an expired hold can linger before its seats free up.
type HoldConfig struct {
	DefaultTTL        time.Duration // applied when a request carries no TTL
	MinTTL            time.Duration
	MaxTTL            time.Duration
	MaxLifetime       time.Duration // cap on CreatedAt..ExpiresAt across extensions
	SweepInterval     time.Duration
	SweepBatch        int
	MaxActivePerOwner int // active holds one owner may have per event, 0 = unlimited
	MaxSeatsPerHold   int
	StreamQueueSize   int // buffered deltas per stream subscriber
}

// LoadHoldConfig reads the hold tuning knobs, falling back to the
// defaults of a typical box-office checkout flow.
func LoadHoldConfig() HoldConfig {
	cfg := HoldConfig{
		DefaultTTL:        envDur("HOLD_TTL_DEFAULT", 90*time.Second),
		MinTTL:            envDur("HOLD_TTL_MIN", 30*time.Second),
		MaxTTL:            envDur("HOLD_TTL_MAX", 15*time.Minute),
		MaxLifetime:       envDur("HOLD_MAX_LIFETIME", 30*time.Minute),
		SweepInterval:     envDur("HOLD_SWEEP_INTERVAL", 20*time.Second),
		SweepBatch:        envInt("HOLD_SWEEP_BATCH", 256),
		MaxActivePerOwner: envInt("HOLD_MAX_ACTIVE_PER_OWNER", 4),
		MaxSeatsPerHold:   envInt("HOLD_MAX_SEATS", 10),
		StreamQueueSize:   envInt("STREAM_QUEUE_SIZE", 64),
	}
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = time.Second
	}
	if cfg.MaxTTL < cfg.MinTTL {
		cfg.MaxTTL = cfg.MinTTL
	}
	if cfg.DefaultTTL < cfg.MinTTL {
		cfg.DefaultTTL = cfg.MinTTL
	}
	if cfg.DefaultTTL > cfg.MaxTTL {
		cfg.DefaultTTL = cfg.MaxTTL
	}
	if cfg.MaxLifetime < cfg.MaxTTL {
		cfg.MaxLifetime = cfg.MaxTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 20 * time.Second
	}
	if cfg.SweepBatch < 1 {
		cfg.SweepBatch = 1
	}
	return cfg
}
