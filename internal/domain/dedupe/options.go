package dedupe

import "time"

type config struct {
	ttl             time.Duration
	cleanupInterval time.Duration
}

// Option applies a configuration option to the InMemoryDeduper.
type Option func(*config)

// WithTTL sets how long an id is remembered. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCleanupInterval sets how often expired ids are purged.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}
