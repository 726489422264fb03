package redis

import "time"

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	// Password overrides any password carried in the URL when set
	Password string

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// RowTTL is refreshed on every write to a room or its roster
	RowTTL time.Duration

	// DialTimeout bounds the initial connection check
	DialTimeout time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:          "redis://localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		RowTTL:       48 * time.Hour,
		DialTimeout:  5 * time.Second,
	}
}
