// Package dedupe makes activity posts idempotent on a client supplied event id.
package dedupe

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Deduper records seen event IDs to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the seen list, allowing it to be retried.
	// Used when an event was marked as seen but the journal refused it.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// cacheDeduper keeps ids in a go-cache with a TTL, so memory is bounded by
// the activity rate over the TTL window.
type cacheDeduper struct {
	c   *cache.Cache
	ttl time.Duration
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	cfg := config{
		ttl:             30 * time.Minute,
		cleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &cacheDeduper{
		c:   cache.New(cfg.ttl, cfg.cleanupInterval),
		ttl: cfg.ttl,
	}
}

func (d *cacheDeduper) SeenAndRecord(_ context.Context, id string) bool {
	// Add fails when a live entry exists, which makes check-and-set atomic.
	return d.c.Add(id, struct{}{}, cache.DefaultExpiration) != nil
}

func (d *cacheDeduper) Unrecord(_ context.Context, id string) {
	d.c.Delete(id)
}

func (d *cacheDeduper) Size() int64 {
	return int64(d.c.ItemCount())
}
