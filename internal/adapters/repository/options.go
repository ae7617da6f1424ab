package repository

import "time"

// DefaultTTL is how long an untouched session is kept by expiring backends.
const DefaultTTL = 24 * time.Hour

type options struct {
	ttl time.Duration
}

// Option configures a store backend.
type Option func(*options)

// WithTTL sets the session expiry for the memory and redis backends.
// Zero or negative keeps the default.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
